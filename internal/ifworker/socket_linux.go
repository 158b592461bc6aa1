//go:build linux

package ifworker

import (
	"fmt"
	"net"

	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

// linuxRawSocket is an AF_PACKET/SOCK_RAW socket bound to one interface
// with protocol ETH_P_ALL, matching the original daemon's socket(AF_PACKET,
// SOCK_RAW, htons(ETH_P_ALL)) + SO_BINDTODEVICE-equivalent bind. A kernel
// BPF filter (attachARPFilter) keeps only ARP frames; the worker still
// checks the EtherType again when it decodes each frame. Grounded
// on golang.org/x/sys/unix's use in gopacket's afpacket package for the
// same AF_PACKET primitives.
type linuxRawSocket struct {
	fd int
}

func openRawSocket(iface *net.Interface) (rawSocket, error) {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("opening AF_PACKET socket: %w", err)
	}

	addr := unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  iface.Index,
	}
	if err := unix.Bind(fd, &addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("binding socket to interface %s: %w", iface.Name, err)
	}

	if err := attachARPFilter(fd); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("attaching ARP BPF filter on %s: %w", iface.Name, err)
	}

	return &linuxRawSocket{fd: fd}, nil
}

// attachARPFilter installs a classic BPF program that keeps only frames
// whose EtherType (offset 12, 2 bytes) is 0x0806, so non-ARP traffic is
// dropped by the kernel instead of being copied into user space and
// decoded just to be discarded. Built with golang.org/x/net/bpf, the same
// assembler gopacket's afpacket package uses for AF_PACKET filtering.
func attachARPFilter(fd int) error {
	raw, err := bpf.Assemble([]bpf.Instruction{
		bpf.LoadAbsolute{Off: 12, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(unix.ETH_P_ARP), SkipFalse: 1},
		bpf.RetConstant{Val: 1 << 16},
		bpf.RetConstant{Val: 0},
	})
	if err != nil {
		return fmt.Errorf("assembling BPF program: %w", err)
	}

	filters := make([]unix.SockFilter, len(raw))
	for i, ins := range raw {
		filters[i] = unix.SockFilter{Code: ins.Op, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	prog := unix.SockFprog{
		Len:    uint16(len(filters)),
		Filter: &filters[0],
	}
	return unix.SetsockoptSockFprog(fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, &prog)
}

func (s *linuxRawSocket) ReadFrame(buf []byte) (int, error) {
	n, _, err := unix.Recvfrom(s.fd, buf, 0)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *linuxRawSocket) WriteFrame(frame []byte) error {
	addr := unix.SockaddrLinklayer{Halen: 6}
	copy(addr.Addr[:6], frame[0:6])
	return unix.Sendto(s.fd, frame, 0, &addr)
}

func (s *linuxRawSocket) Close() error {
	return unix.Close(s.fd)
}

// htons converts a value from host to network byte order — needed here
// because unix.Socket's protocol argument must already be big-endian on
// little-endian hosts (mirrors the original's htons(ETH_P_ALL) call).
func htons(v int) uint16 {
	u := uint16(v)
	return u<<8&0xff00 | u>>8&0xff
}
