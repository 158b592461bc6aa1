// Package metrics defines all Prometheus metrics for arpd.
// All metrics use the "arpd_" prefix.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "arpd"

// --- ARP data-plane metrics ---

var (
	// FramesReceived counts inbound Ethernet frames per interface, by
	// whether they were ARP or discarded for a different EtherType.
	FramesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_received_total",
		Help:      "Total Ethernet frames received, by interface and class.",
	}, []string{"iface", "class"})

	// ARPPacketsReceived counts decoded ARP packets by interface and opcode.
	ARPPacketsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "arp_packets_received_total",
		Help:      "Total ARP packets received, by interface and opcode.",
	}, []string{"iface", "opcode"})

	// ARPRepliesSent counts ARP replies emitted by interface.
	ARPRepliesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "arp_replies_sent_total",
		Help:      "Total ARP replies sent, by interface.",
	}, []string{"iface"})

	// ARPRequestsSent counts ARP requests emitted by interface.
	ARPRequestsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "arp_requests_sent_total",
		Help:      "Total ARP requests sent, by interface.",
	}, []string{"iface"})

	// FrameDecodeErrors counts per-frame decode failures, by interface.
	FrameDecodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frame_decode_errors_total",
		Help:      "Total frame decode errors, by interface.",
	}, []string{"iface"})
)

// --- Cache metrics ---

var (
	// BindingsActive is a gauge of the current binding count.
	BindingsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "bindings_active",
		Help:      "Number of bindings currently in the cache.",
	})

	// BindingsExpired counts bindings evicted by the aging sweep.
	BindingsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bindings_expired_total",
		Help:      "Total bindings evicted by TTL expiry.",
	})

	// BindingsLearned counts bindings added as a side effect of an ARP reply.
	BindingsLearned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bindings_learned_total",
		Help:      "Total bindings learned from ARP replies.",
	})
)

// --- Control-plane metrics ---

var (
	// CommandsHandled counts control-plane commands by type code.
	CommandsHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commands_handled_total",
		Help:      "Total control-plane commands handled, by command type.",
	}, []string{"type"})

	// CommandDuration tracks control-plane command handling latency.
	CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "command_duration_seconds",
		Help:      "Control-plane command handling duration in seconds.",
		Buckets:   []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 3, 5},
	}, []string{"type"})

	// ResolveTimeouts counts RES commands that timed out waiting for a reply.
	ResolveTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "resolve_timeouts_total",
		Help:      "Total RES commands that timed out without a binding.",
	})
)
