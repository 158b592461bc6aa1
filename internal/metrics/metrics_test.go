package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRegistered(t *testing.T) {
	// promauto registers automatically, so we just verify the metrics
	// exist by writing a value and collecting it.
	FramesReceived.WithLabelValues("eth0", "arp").Inc()
	ARPPacketsReceived.WithLabelValues("eth0", "request").Inc()
	ARPRepliesSent.WithLabelValues("eth0").Inc()
	ARPRequestsSent.WithLabelValues("eth0").Inc()
	FrameDecodeErrors.WithLabelValues("eth0").Inc()
	BindingsActive.Set(3)
	BindingsExpired.Inc()
	BindingsLearned.Inc()
	CommandsHandled.WithLabelValues("SHOW").Inc()
	CommandDuration.WithLabelValues("RES").Observe(0.05)
	ResolveTimeouts.Inc()

	if got := testutil.ToFloat64(BindingsActive); got != 3 {
		t.Errorf("BindingsActive = %v, want 3", got)
	}
	if got := testutil.ToFloat64(BindingsExpired); got != 1 {
		t.Errorf("BindingsExpired = %v, want 1", got)
	}
	if got := testutil.ToFloat64(ResolveTimeouts); got != 1 {
		t.Errorf("ResolveTimeouts = %v, want 1", got)
	}
}

func TestMetricsNamespace(t *testing.T) {
	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	for _, mf := range mfs {
		name := mf.GetName()
		if strings.HasPrefix(name, "go_") ||
			strings.HasPrefix(name, "process_") ||
			strings.HasPrefix(name, "promhttp_") {
			continue
		}
		if !strings.HasPrefix(name, "arpd_") {
			t.Errorf("metric %q does not have arpd_ prefix", name)
		}
	}
}
