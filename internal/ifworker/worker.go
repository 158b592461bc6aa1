// Package ifworker implements one reader/writer per owned Ethernet
// interface: it decodes inbound ARP frames, answers requests for cached
// IPs, learns bindings from replies, and can originate requests on demand.
package ifworker

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/arpd/arpd/internal/cache"
	"github.com/arpd/arpd/internal/metrics"
	"github.com/arpd/arpd/pkg/arpwire"
)

const readBufferSize = 2048

// Worker owns one raw socket and the Iface descriptor for an interface.
// It may be called from any goroutine to send (ResolveIP); sends are
// serialized with sendMu so two outgoing frames never interleave.
type Worker struct {
	Iface *Iface

	cache  *cache.Cache
	sock   rawSocket
	sendMu sync.Mutex
	logger *slog.Logger
}

// New opens a raw socket on the named interface, populates its Iface
// descriptor from the OS, and returns a Worker ready to Run.
func New(name string, c *cache.Cache, logger *slog.Logger) (*Worker, error) {
	if logger == nil {
		logger = slog.Default()
	}

	nif, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("ifworker: looking up interface %s: %w", name, err)
	}

	sock, err := openRawSocket(nif)
	if err != nil {
		return nil, fmt.Errorf("ifworker: opening raw socket on %s: %w", name, err)
	}

	iface := &Iface{
		Name:  nif.Name,
		Index: nif.Index,
		MAC:   nif.HardwareAddr,
	}
	iface.mtu = nif.MTU
	if iface.mtu == 0 {
		iface.mtu = DefaultMTU
	}

	ip, mask, err := firstIPv4(nif)
	if err != nil {
		sock.Close()
		return nil, fmt.Errorf("ifworker: reading addresses for %s: %w", name, err)
	}
	iface.ip = ip
	iface.netmask = mask

	w := &Worker{
		Iface:  iface,
		cache:  c,
		sock:   sock,
		logger: logger.With("iface", name),
	}
	w.logger.Info("interface worker bound",
		"mac", iface.MAC, "ip", iface.ip, "netmask", net.IP(iface.netmask), "mtu", iface.mtu)
	return w, nil
}

// NewForTesting assembles a Worker around an already-built Iface and a
// caller-supplied socket (typically a fake), bypassing interface lookup
// and raw-socket creation entirely.
func NewForTesting(iface *Iface, c *cache.Cache, sock RawSocket, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{Iface: iface, cache: c, sock: sock, logger: logger}
}

func firstIPv4(nif *net.Interface) (net.IP, net.IPMask, error) {
	addrs, err := nif.Addrs()
	if err != nil {
		return nil, nil, err
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4, ipNet.Mask, nil
		}
	}
	return nil, nil, fmt.Errorf("no IPv4 address configured")
}

// Run blocks reading frames from the raw socket until ctx is cancelled.
// Receive errors are logged and the reader continues. ctx is checked
// before each read and after a failed read, so cancellation takes effect
// only once the blocking read returns.
func (w *Worker) Run(ctx context.Context) error {
	buf := make([]byte, readBufferSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := w.sock.ReadFrame(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			w.logger.Error("reading frame", "error", err)
			continue
		}
		if n == 0 {
			continue
		}

		w.Iface.addRXStats(n)
		w.processFrame(buf[:n])
	}
}

// Close releases the worker's raw socket.
func (w *Worker) Close() error {
	return w.sock.Close()
}

// processFrame decodes one inbound Ethernet frame and, if it carries a
// processable ARP packet, acts on it (steps 1-5).
func (w *Worker) processFrame(raw []byte) {
	frame, err := arpwire.Decode(raw)
	if err != nil {
		if err == arpwire.ErrNotARP {
			metrics.FramesReceived.WithLabelValues(w.Iface.Name, "non-arp").Inc()
			return
		}
		metrics.FrameDecodeErrors.WithLabelValues(w.Iface.Name).Inc()
		w.logger.Debug("dropping frame", "error", err)
		return
	}
	metrics.FramesReceived.WithLabelValues(w.Iface.Name, "arp").Inc()

	if !frame.ARP.IsEthernetIPv4() {
		// Only hardware_type=Ethernet, protocol_type=IPv4, hl=6, pl=4 is
		// processed; everything else is silently dropped (step 3).
		return
	}

	switch frame.ARP.Op {
	case arpwire.OpRequest:
		metrics.ARPPacketsReceived.WithLabelValues(w.Iface.Name, "request").Inc()
		w.handleRequest(frame)
	case arpwire.OpReply:
		metrics.ARPPacketsReceived.WithLabelValues(w.Iface.Name, "reply").Inc()
		w.handleReply(frame)
	default:
		// other opcodes are discarded
	}
}

func (w *Worker) handleRequest(frame *arpwire.Frame) {
	binding, ok := w.cache.FindByIP(frame.ARP.TargetProto)
	if !ok {
		// The daemon does not answer for addresses it has never seen —
		// including its own IP, unless something has explicitly added it.
		return
	}

	reply := arpwire.EncodeReply(binding.MAC, binding.IP, frame.ARP.SenderHW, frame.ARP.SenderProto)
	if err := w.send(reply); err != nil {
		w.logger.Error("sending ARP reply", "target_ip", binding.IP, "error", err)
		return
	}
	metrics.ARPRepliesSent.WithLabelValues(w.Iface.Name).Inc()
}

func (w *Worker) handleReply(frame *arpwire.Frame) {
	// Learn from replies, even unsolicited ones — permissive and matches
	// classic ARP cache behaviour.
	w.cache.AddDefault(frame.ARP.SenderProto, frame.ARP.SenderHW)
	metrics.BindingsLearned.Inc()
}

// ResolveIP originates an ARP request for ip, broadcast on this
// interface. It does not wait for a reply — the control-plane server
// polls the cache separately.
func (w *Worker) ResolveIP(ip net.IP) error {
	req := arpwire.EncodeRequest(w.Iface.MAC, w.Iface.IP(), ip)
	if err := w.send(req); err != nil {
		return err
	}
	metrics.ARPRequestsSent.WithLabelValues(w.Iface.Name).Inc()
	return nil
}

// send transmits a single raw frame, serialized against concurrent sends
// on this worker's socket.
func (w *Worker) send(frame []byte) error {
	w.sendMu.Lock()
	defer w.sendMu.Unlock()
	if err := w.sock.WriteFrame(frame); err != nil {
		return err
	}
	w.Iface.addTXStats(len(frame))
	return nil
}

// String is used for log context only.
func (w *Worker) String() string {
	return w.Iface.Name + "#" + strconv.Itoa(w.Iface.Index)
}
