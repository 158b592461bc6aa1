// xifconfig — command-line client for arpd's interface introspection and
// configuration commands (IF_SHOW, IF_CONFIG, IF_MTU).
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/arpd/arpd/internal/config"
	"github.com/arpd/arpd/pkg/ctlwire"
)

func main() {
	addr := flag.String("addr", config.DefaultControlAddr, "arpd control-plane address")
	flag.Parse()
	args := flag.Args()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "xifconfig: connecting to %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer conn.Close()

	switch len(args) {
	case 0:
		runShow(conn)
	case 3:
		runConfig(conn, args[0], args[1], args[2])
	case 2:
		runMTU(conn, args[0], args[1])
	default:
		fmt.Fprintln(os.Stderr, "usage: xifconfig | xifconfig <if> <ip> <mask> | xifconfig <if> <mtu>")
		os.Exit(2)
	}
}

func send(conn net.Conn, cmd ctlwire.CommandFrame, trailer []byte) ctlwire.ResponseFrame {
	payload := append(ctlwire.EncodeCommand(cmd), trailer...)
	if _, err := conn.Write(payload); err != nil {
		fmt.Fprintf(os.Stderr, "xifconfig: writing command: %v\n", err)
		os.Exit(1)
	}
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "xifconfig: reading response: %v\n", err)
		os.Exit(1)
	}
	resp, err := ctlwire.DecodeResponse(buf[:n])
	if err != nil {
		fmt.Fprintf(os.Stderr, "xifconfig: decoding response: %v\n", err)
		os.Exit(1)
	}
	return resp
}

func runShow(conn net.Conn) {
	resp := send(conn, ctlwire.CommandFrame{Type: ctlwire.IFShow}, nil)
	records, err := ctlwire.DecodeIfaceRecords(resp.Payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "xifconfig: %v\n", err)
		os.Exit(1)
	}
	for _, r := range records {
		name := ctlwire.IfnameString(r.Ifname)
		mac := net.HardwareAddr(r.MAC[:])
		fmt.Printf("%-10s mac=%-17s ip=%-15s mask=%-15s mtu=%d rx=%d/%d tx=%d/%d\n",
			name, mac, uint32ToIP(r.IP), uint32ToIP(r.Netmask), r.MTU, r.RXPkts, r.RXBytes, r.TXPkts, r.TXBytes)
	}
}

func runConfig(conn net.Conn, ifname, ipStr, maskStr string) {
	ip := net.ParseIP(ipStr).To4()
	if ip == nil {
		fmt.Fprintf(os.Stderr, "xifconfig: invalid IP %q\n", ipStr)
		os.Exit(1)
	}
	mask := net.ParseIP(maskStr).To4()
	if mask == nil {
		fmt.Fprintf(os.Stderr, "xifconfig: invalid mask %q\n", maskStr)
		os.Exit(1)
	}
	cfg := ctlwire.ConfigHeader{
		Ifname:  ctlwire.NewIfname(ifname),
		IPOrMtu: binary.LittleEndian.Uint32(ip),
		Mask:    binary.LittleEndian.Uint32(mask),
	}
	send(conn, ctlwire.CommandFrame{Type: ctlwire.IFConfig}, ctlwire.EncodeConfigHeader(cfg))
}

func runMTU(conn net.Conn, ifname, mtuStr string) {
	mtu, err := strconv.Atoi(mtuStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "xifconfig: invalid MTU %q: %v\n", mtuStr, err)
		os.Exit(1)
	}
	cfg := ctlwire.ConfigHeader{Ifname: ctlwire.NewIfname(ifname), IPOrMtu: uint32(mtu)}
	send(conn, ctlwire.CommandFrame{Type: ctlwire.IFMtu}, ctlwire.EncodeConfigHeader(cfg))
}

func uint32ToIP(v uint32) net.IP {
	ip := make(net.IP, 4)
	binary.LittleEndian.PutUint32(ip, v)
	return ip
}
