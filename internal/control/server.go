// Package control implements the daemon's TCP command server: one
// connection, one command, one response, close.
package control

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/arpd/arpd/internal/audit"
	"github.com/arpd/arpd/internal/cache"
	"github.com/arpd/arpd/internal/ifworker"
	"github.com/arpd/arpd/internal/metrics"
	"github.com/arpd/arpd/pkg/ctlwire"
)

// resolveTimeoutIterations and resolvePollInterval bound how long RES
// waits for a reply: poll every 10ms for up to 300 iterations (~3s).
const (
	resolveTimeoutIterations = 300
	resolvePollInterval      = 10 * time.Millisecond
)

// readBufSize bounds a single read: the largest known command is
// command_hdr + config_hdr, both fixed-size, so one read always suffices.
const readBufSize = 256

// Server is the control-plane accept loop.
type Server struct {
	cache    *cache.Cache
	registry *ifworker.Registry
	audit    *audit.Log
	logger   *slog.Logger
}

// New builds a Server bound to the given cache and interface registry.
// auditLog may be nil, in which case commands are not recorded.
func New(c *cache.Cache, registry *ifworker.Registry, auditLog *audit.Log, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cache: c, registry: registry, audit: auditLog, logger: logger}
}

// Serve accepts connections on ln until it is closed, handling each one
// synchronously to completion before accepting the next.
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	buf := make([]byte, readBufSize)
	n, err := conn.Read(buf)
	if err != nil {
		s.logger.Debug("reading command", "error", err)
		return
	}
	buf = buf[:n]

	cmd, err := ctlwire.DecodeCommand(buf)
	if err != nil {
		s.logger.Debug("decoding command", "error", err)
		return
	}

	start := time.Now()
	resp := s.dispatch(cmd, buf[ctlwire.CommandHdrLen:])
	metrics.CommandDuration.WithLabelValues(commandName(cmd.Type)).Observe(time.Since(start).Seconds())
	metrics.CommandsHandled.WithLabelValues(commandName(cmd.Type)).Inc()

	if _, err := conn.Write(ctlwire.EncodeResponse(resp)); err != nil {
		s.logger.Debug("writing response", "error", err)
	}
}

func (s *Server) dispatch(cmd ctlwire.CommandFrame, trailer []byte) ctlwire.ResponseFrame {
	switch cmd.Type {
	case ctlwire.SHOW:
		return s.handleShow()
	case ctlwire.RES:
		return s.handleRes(cmd)
	case ctlwire.ADD:
		return s.handleAdd(cmd)
	case ctlwire.DEL:
		return s.handleDel(cmd)
	case ctlwire.TTL:
		return s.handleTTL(cmd)
	case ctlwire.IFShow:
		return s.handleIfShow()
	case ctlwire.IFConfig:
		return s.handleIfConfig(trailer)
	case ctlwire.IFMtu:
		return s.handleIfMtu(trailer)
	case ctlwire.AUDIT:
		return s.handleAudit(cmd)
	default:
		// Unknown type: empty payload of the same type code.
		return ctlwire.ResponseFrame{Type: cmd.Type}
	}
}

func (s *Server) handleShow() ctlwire.ResponseFrame {
	bindings := s.cache.Snapshot()
	records := make([]ctlwire.BindingRecord, len(bindings))
	for i, b := range bindings {
		records[i] = bindingToRecord(b)
	}
	return ctlwire.ResponseFrame{Type: ctlwire.SHOW, Payload: ctlwire.EncodeBindingRecords(records)}
}

func (s *Server) handleRes(cmd ctlwire.CommandFrame) ctlwire.ResponseFrame {
	target := uint32ToIP(cmd.IP)

	w := s.registry.WorkerForIP(target)
	if w == nil {
		return ctlwire.ResponseFrame{Type: ctlwire.RES}
	}

	if err := w.ResolveIP(target); err != nil {
		s.logger.Error("sending resolve request", "ip", target, "error", err)
		return ctlwire.ResponseFrame{Type: ctlwire.RES}
	}

	ticker := time.NewTicker(resolvePollInterval)
	defer ticker.Stop()
	for i := 0; i < resolveTimeoutIterations; i++ {
		<-ticker.C
		if b, ok := s.cache.FindByIP(target); ok {
			return ctlwire.ResponseFrame{Type: ctlwire.RES, Payload: ctlwire.EncodeBindingRecords([]ctlwire.BindingRecord{bindingToRecord(b)})}
		}
	}

	metrics.ResolveTimeouts.Inc()
	return ctlwire.ResponseFrame{Type: ctlwire.RES}
}

func (s *Server) handleAdd(cmd ctlwire.CommandFrame) ctlwire.ResponseFrame {
	ip := uint32ToIP(cmd.IP)
	ttl := wireToTTL(cmd.TTL)
	s.cache.Add(ip, cmd.MAC(), ttl)
	s.recordAudit("ADD", ip, cmd.MAC(), ttl, "ok")
	return ctlwire.ResponseFrame{Type: ctlwire.ADD}
}

func (s *Server) handleDel(cmd ctlwire.CommandFrame) ctlwire.ResponseFrame {
	ip := uint32ToIP(cmd.IP)
	if s.cache.Remove(ip) {
		s.recordAudit("DEL", ip, nil, 0, "ok")
		return ctlwire.ResponseFrame{Type: ctlwire.DEL}
	}
	s.recordAudit("DEL", ip, nil, 0, "not_found")
	return ctlwire.ResponseFrame{Type: ctlwire.DELNotFound}
}

func (s *Server) handleTTL(cmd ctlwire.CommandFrame) ctlwire.ResponseFrame {
	ttl := wireToTTL(cmd.TTL)
	s.cache.SetDefaultTTL(ttl)
	s.recordAudit("TTL", nil, nil, ttl, "ok")
	return ctlwire.ResponseFrame{Type: ctlwire.TTL}
}

func (s *Server) recordAudit(command string, ip net.IP, mac net.HardwareAddr, ttl int32, result string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Append(command, ip, mac, ttl, result); err != nil {
		s.logger.Error("writing audit record", "command", command, "error", err)
	}
}

func (s *Server) handleIfShow() ctlwire.ResponseFrame {
	workers := s.registry.All()
	records := make([]ctlwire.IfaceRecord, len(workers))
	for i, w := range workers {
		rxPkts, rxBytes, txPkts, txBytes := w.Iface.Stats()
		records[i] = ctlwire.IfaceRecord{
			TTL:     -1, // unused by the daemon's own interface descriptor
			MTU:     int32(w.Iface.MTU()),
			Ifname:  ctlwire.NewIfname(w.Iface.Name),
			MAC:     macArray(w.Iface.MAC),
			IP:      ipToUint32(w.Iface.IP()),
			RXPkts:  rxPkts,
			RXBytes: rxBytes,
			TXPkts:  txPkts,
			TXBytes: txBytes,
			Index:   int32(w.Iface.Index),
			Netmask: maskToUint32(w.Iface.Netmask()),
		}
	}
	return ctlwire.ResponseFrame{Type: ctlwire.IFShow, Payload: ctlwire.EncodeIfaceRecords(records)}
}

func (s *Server) handleIfConfig(trailer []byte) ctlwire.ResponseFrame {
	cfg, err := ctlwire.DecodeConfigHeader(trailer)
	if err != nil {
		s.logger.Debug("decoding IF_CONFIG trailer", "error", err)
		return ctlwire.ResponseFrame{Type: ctlwire.IFConfig}
	}
	w := s.registry.WorkerByName(ctlwire.IfnameString(cfg.Ifname))
	if w == nil {
		return ctlwire.ResponseFrame{Type: ctlwire.IFConfig}
	}
	w.Iface.SetIPNetmask(uint32ToIP(cfg.IPOrMtu), uint32ToMask(cfg.Mask))
	return ctlwire.ResponseFrame{Type: ctlwire.IFConfig}
}

func (s *Server) handleIfMtu(trailer []byte) ctlwire.ResponseFrame {
	cfg, err := ctlwire.DecodeConfigHeader(trailer)
	if err != nil {
		s.logger.Debug("decoding IF_MTU trailer", "error", err)
		return ctlwire.ResponseFrame{Type: ctlwire.IFMtu}
	}
	w := s.registry.WorkerByName(ctlwire.IfnameString(cfg.Ifname))
	if w == nil {
		return ctlwire.ResponseFrame{Type: ctlwire.IFMtu}
	}
	w.Iface.SetMTU(int(cfg.IPOrMtu))
	return ctlwire.ResponseFrame{Type: ctlwire.IFMtu}
}

// handleAudit serves AUDIT: cmd.IP filters by binding IP (0 means no
// filter) and cmd.TTL caps the result count (0 means audit.Log's default).
// Returns an empty payload if no audit log is configured.
func (s *Server) handleAudit(cmd ctlwire.CommandFrame) ctlwire.ResponseFrame {
	if s.audit == nil {
		return ctlwire.ResponseFrame{Type: ctlwire.AUDIT}
	}

	params := audit.QueryParams{Limit: int(cmd.TTL)}
	if cmd.IP != 0 {
		params.IP = uint32ToIP(cmd.IP).String()
	}

	records, err := s.audit.Query(params)
	if err != nil {
		s.logger.Error("querying audit log", "error", err)
		return ctlwire.ResponseFrame{Type: ctlwire.AUDIT}
	}

	out := make([]ctlwire.AuditRecord, len(records))
	for i, rec := range records {
		out[i] = auditRecordToWire(rec)
	}
	return ctlwire.ResponseFrame{Type: ctlwire.AUDIT, Payload: ctlwire.EncodeAuditRecords(out)}
}

func auditRecordToWire(rec audit.Record) ctlwire.AuditRecord {
	var ip uint32
	var mac [6]byte
	if rec.IP != "" {
		ip = ipToUint32(net.ParseIP(rec.IP))
	}
	if rec.MAC != "" {
		if parsed, err := net.ParseMAC(rec.MAC); err == nil {
			copy(mac[:], parsed)
		}
	}
	ts, err := time.Parse(time.RFC3339Nano, rec.Timestamp)
	if err != nil {
		ts = time.Unix(0, 0)
	}
	return ctlwire.AuditRecord{
		ID:      rec.ID,
		Unix:    ts.Unix(),
		Command: rec.Command,
		Result:  rec.Result,
		IP:      ip,
		TTL:     uint32(rec.TTL),
		MAC:     mac,
	}
}

func bindingToRecord(b cache.Binding) ctlwire.BindingRecord {
	return ctlwire.BindingRecord{IP: ipToUint32(b.IP), TTL: ttlToWire(b.TTL), MAC: macArray(b.MAC)}
}

func macArray(mac net.HardwareAddr) [6]byte {
	var out [6]byte
	copy(out[:], mac)
	return out
}

// ipToUint32 and uint32ToIP share one fixed convention (little-endian over
// the four octets) so a round trip through the wire is lossless. This only
// requires internal consistency, not a specific network byte order, since
// client and daemon always run on the same host.
func ipToUint32(ip net.IP) uint32 {
	ip4 := ip.To4()
	if ip4 == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(ip4)
}

func uint32ToIP(v uint32) net.IP {
	ip := make(net.IP, 4)
	binary.LittleEndian.PutUint32(ip, v)
	return ip
}

func maskToUint32(mask net.IPMask) uint32 {
	if len(mask) != 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(mask)
}

func uint32ToMask(v uint32) net.IPMask {
	mask := make(net.IPMask, 4)
	binary.LittleEndian.PutUint32(mask, v)
	return mask
}

// ttlToWire and wireToTTL translate between the cache's signed in-memory
// TTL (-1 = permanent) and the command protocol's unsigned wire field,
// which reserves TTLPermanent as its permanent sentinel.
func ttlToWire(ttl int32) uint32 {
	if ttl == cache.Permanent {
		return ctlwire.TTLPermanent
	}
	return uint32(ttl)
}

func wireToTTL(v uint32) int32 {
	if v == ctlwire.TTLPermanent {
		return cache.Permanent
	}
	return int32(v)
}

func commandName(t uint16) string {
	switch t {
	case ctlwire.SHOW:
		return "SHOW"
	case ctlwire.RES:
		return "RES"
	case ctlwire.ADD:
		return "ADD"
	case ctlwire.DEL:
		return "DEL"
	case ctlwire.TTL:
		return "TTL"
	case ctlwire.IFShow:
		return "IF_SHOW"
	case ctlwire.IFConfig:
		return "IF_CONFIG"
	case ctlwire.IFMtu:
		return "IF_MTU"
	case ctlwire.AUDIT:
		return "AUDIT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", t)
	}
}
