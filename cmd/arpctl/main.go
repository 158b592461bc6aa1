// arpctl — command-line client for arpd's control-plane protocol.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/arpd/arpd/internal/audit"
	"github.com/arpd/arpd/internal/config"
	"github.com/arpd/arpd/pkg/ctlwire"
)

func main() {
	addr := flag.String("addr", config.DefaultControlAddr, "arpd control-plane address")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "arpctl: connecting to %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer conn.Close()

	switch args[0] {
	case "show":
		runShow(conn)
	case "res":
		runRes(conn, args[1:])
	case "add":
		runAdd(conn, args[1:])
	case "del":
		runDel(conn, args[1:])
	case "ttl":
		runTTL(conn, args[1:])
	case "audit":
		runAudit(conn, args[1:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: arpctl [-addr host:port] show|res <ip>|add <ip> <mac> <ttl>|del <ip>|ttl <seconds>|audit [-ip x] [-limit n] [-csv]")
}

func send(conn net.Conn, cmd ctlwire.CommandFrame, trailer []byte) ctlwire.ResponseFrame {
	payload := append(ctlwire.EncodeCommand(cmd), trailer...)
	if _, err := conn.Write(payload); err != nil {
		fmt.Fprintf(os.Stderr, "arpctl: writing command: %v\n", err)
		os.Exit(1)
	}
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "arpctl: reading response: %v\n", err)
		os.Exit(1)
	}
	resp, err := ctlwire.DecodeResponse(buf[:n])
	if err != nil {
		fmt.Fprintf(os.Stderr, "arpctl: decoding response: %v\n", err)
		os.Exit(1)
	}
	return resp
}

func runShow(conn net.Conn) {
	resp := send(conn, ctlwire.CommandFrame{Type: ctlwire.SHOW}, nil)
	records, err := ctlwire.DecodeBindingRecords(resp.Payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "arpctl: %v\n", err)
		os.Exit(1)
	}
	for _, r := range records {
		fmt.Printf("%-15s %-17s %s\n", ipString(r.IP), macString(r.MAC), ttlString(r.TTL))
	}
}

func runRes(conn net.Conn, args []string) {
	if len(args) != 1 {
		usage()
		os.Exit(2)
	}
	ip := net.ParseIP(args[0]).To4()
	if ip == nil {
		fmt.Fprintf(os.Stderr, "arpctl: invalid IP %q\n", args[0])
		os.Exit(1)
	}
	resp := send(conn, ctlwire.CommandFrame{Type: ctlwire.RES, IP: ipToUint32(ip)}, nil)
	records, err := ctlwire.DecodeBindingRecords(resp.Payload)
	if err != nil || len(records) == 0 {
		fmt.Println("unresolved")
		return
	}
	r := records[0]
	fmt.Printf("%-15s %-17s %s\n", ipString(r.IP), macString(r.MAC), ttlString(r.TTL))
}

func runAdd(conn net.Conn, args []string) {
	if len(args) != 3 {
		usage()
		os.Exit(2)
	}
	ip := net.ParseIP(args[0]).To4()
	if ip == nil {
		fmt.Fprintf(os.Stderr, "arpctl: invalid IP %q\n", args[0])
		os.Exit(1)
	}
	mac, err := net.ParseMAC(args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "arpctl: invalid MAC %q: %v\n", args[1], err)
		os.Exit(1)
	}
	ttl, err := parseTTL(args[2])
	if err != nil {
		fmt.Fprintf(os.Stderr, "arpctl: invalid TTL %q: %v\n", args[2], err)
		os.Exit(1)
	}
	cmd := ctlwire.CommandFrame{Type: ctlwire.ADD, IP: ipToUint32(ip), TTL: ttl}
	cmd.SetMAC(mac)
	send(conn, cmd, nil)
}

func runDel(conn net.Conn, args []string) {
	if len(args) != 1 {
		usage()
		os.Exit(2)
	}
	ip := net.ParseIP(args[0]).To4()
	if ip == nil {
		fmt.Fprintf(os.Stderr, "arpctl: invalid IP %q\n", args[0])
		os.Exit(1)
	}
	resp := send(conn, ctlwire.CommandFrame{Type: ctlwire.DEL, IP: ipToUint32(ip)}, nil)
	if resp.Type == ctlwire.DELNotFound {
		fmt.Println("not found")
		os.Exit(1)
	}
}

func runTTL(conn net.Conn, args []string) {
	if len(args) != 1 {
		usage()
		os.Exit(2)
	}
	ttl, err := parseTTL(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "arpctl: invalid TTL %q: %v\n", args[0], err)
		os.Exit(1)
	}
	send(conn, ctlwire.CommandFrame{Type: ctlwire.TTL, TTL: ttl}, nil)
}

// runAudit queries the daemon's audit trail, optionally filtered by IP and
// capped at -limit records, printing a table or, with -csv, the same
// records via audit.WriteCSV.
func runAudit(conn net.Conn, args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	ip := fs.String("ip", "", "filter by binding IP")
	limit := fs.Int("limit", 0, "maximum records to return (0 = server default)")
	csv := fs.Bool("csv", false, "output as CSV")
	fs.Parse(args)

	cmd := ctlwire.CommandFrame{Type: ctlwire.AUDIT, TTL: uint32(*limit)}
	if *ip != "" {
		parsed := net.ParseIP(*ip).To4()
		if parsed == nil {
			fmt.Fprintf(os.Stderr, "arpctl: invalid IP %q\n", *ip)
			os.Exit(1)
		}
		cmd.IP = ipToUint32(parsed)
	}

	resp := send(conn, cmd, nil)
	wireRecs, err := ctlwire.DecodeAuditRecords(resp.Payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "arpctl: %v\n", err)
		os.Exit(1)
	}

	records := make([]audit.Record, len(wireRecs))
	for i, r := range wireRecs {
		records[i] = auditRecordFromWire(r)
	}

	if *csv {
		if err := audit.WriteCSV(os.Stdout, records); err != nil {
			fmt.Fprintf(os.Stderr, "arpctl: writing CSV: %v\n", err)
			os.Exit(1)
		}
		return
	}

	for _, rec := range records {
		fmt.Printf("%-6d %-25s %-10s %-15s %-17s %-10s %s\n",
			rec.ID, rec.Timestamp, rec.Command, rec.IP, rec.MAC, ttlString(uint32(rec.TTL)), rec.Result)
	}
}

func auditRecordFromWire(r ctlwire.AuditRecord) audit.Record {
	var ip, mac string
	if r.IP != 0 {
		ip = ipString(r.IP)
	}
	if r.MAC != ([6]byte{}) {
		mac = macString(r.MAC)
	}
	return audit.Record{
		ID:        r.ID,
		Timestamp: time.Unix(r.Unix, 0).UTC().Format(time.RFC3339Nano),
		Command:   r.Command,
		IP:        ip,
		MAC:       mac,
		TTL:       int32(r.TTL),
		Result:    r.Result,
	}
}

// parseTTL accepts "permanent" or a non-negative integer number of seconds.
func parseTTL(s string) (uint32, error) {
	if s == "permanent" {
		return ctlwire.TTLPermanent, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("must be a non-negative integer or \"permanent\"")
	}
	return uint32(v), nil
}

func ipToUint32(ip net.IP) uint32 {
	return binary.LittleEndian.Uint32(ip)
}

func ipString(v uint32) string {
	b := make(net.IP, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b.String()
}

func macString(b [6]byte) string {
	mac := net.HardwareAddr(b[:])
	return mac.String()
}

func ttlString(ttl uint32) string {
	if ttl == ctlwire.TTLPermanent {
		return "permanent"
	}
	return strconv.Itoa(int(ttl))
}
