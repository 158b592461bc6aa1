// Package arpwire encodes and decodes Ethernet/ARP frames (RFC 826).
package arpwire

import (
	"encoding/binary"
	"errors"
	"net"
)

// EtherType and ARP protocol constants, RFC 826 / IEEE 802.3.
const (
	EtherTypeARP = 0x0806

	HTypeEthernet = 1
	PTypeIPv4     = 0x0800

	OpRequest = 1
	OpReply   = 2

	// EthHeaderLen is the fixed 14-byte Ethernet header: dst(6) + src(6) + ethertype(2).
	EthHeaderLen = 14

	// arpPrefixLen is the fixed 8-byte ARP prefix shared by every hardware/protocol
	// combination: hardware_type(2) + protocol_type(2) + hl(1) + pl(1) + opcode(2).
	arpPrefixLen = 8
)

var (
	Broadcast = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	ZeroMAC   = net.HardwareAddr{0x00, 0x00, 0x00, 0x00, 0x00, 0x00}

	ErrTooShort      = errors.New("arpwire: frame too short")
	ErrNotARP        = errors.New("arpwire: not an ARP ethertype")
	ErrUnsupportedHW = errors.New("arpwire: unsupported hardware/protocol combination")
)

// Packet is a decoded ARP payload. SenderHW/TargetHW and SenderProto/TargetProto
// are sliced to HLen/PLen bytes respectively — callers that need fixed
// Ethernet/IPv4 semantics should check HLen == 6 && PLen == 4 first (the
// daemon only processes that combination, per RFC 826 over Ethernet/IPv4).
type Packet struct {
	HType       uint16
	PType       uint16
	HLen        uint8
	PLen        uint8
	Op          uint16
	SenderHW    net.HardwareAddr
	SenderProto net.IP
	TargetHW    net.HardwareAddr
	TargetProto net.IP
}

// Frame is a decoded Ethernet frame carrying an ARP payload.
type Frame struct {
	DstMAC net.HardwareAddr
	SrcMAC net.HardwareAddr
	ARP    Packet
}

// Decode parses an Ethernet frame and, if it carries ARP, the ARP payload.
// It honours the hl/pl fields to locate the four variable-length address
// fields rather than assuming 6/4, per RFC 826 — but the caller (the
// interface worker) only acts on frames where HLen==6 and PLen==4
// (hardware_type=Ethernet, protocol_type=IPv4); other combinations decode
// successfully here and are rejected by the caller.
func Decode(raw []byte) (*Frame, error) {
	if len(raw) < EthHeaderLen {
		return nil, ErrTooShort
	}

	f := &Frame{
		DstMAC: append(net.HardwareAddr{}, raw[0:6]...),
		SrcMAC: append(net.HardwareAddr{}, raw[6:12]...),
	}
	ethType := binary.BigEndian.Uint16(raw[12:14])
	if ethType != EtherTypeARP {
		return nil, ErrNotARP
	}

	if len(raw) < EthHeaderLen+arpPrefixLen {
		return nil, ErrTooShort
	}
	arp := raw[EthHeaderLen:]

	hlen := arp[4]
	plen := arp[5]
	total := arpPrefixLen + 2*int(hlen) + 2*int(plen)
	if len(arp) < total {
		return nil, ErrTooShort
	}

	off := arpPrefixLen
	senderHW := arp[off : off+int(hlen)]
	off += int(hlen)
	senderProto := arp[off : off+int(plen)]
	off += int(plen)
	targetHW := arp[off : off+int(hlen)]
	off += int(hlen)
	targetProto := arp[off : off+int(plen)]

	f.ARP = Packet{
		HType:       binary.BigEndian.Uint16(arp[0:2]),
		PType:       binary.BigEndian.Uint16(arp[2:4]),
		HLen:        hlen,
		PLen:        plen,
		Op:          binary.BigEndian.Uint16(arp[6:8]),
		SenderHW:    append(net.HardwareAddr{}, senderHW...),
		SenderProto: append(net.IP{}, senderProto...),
		TargetHW:    append(net.HardwareAddr{}, targetHW...),
		TargetProto: append(net.IP{}, targetProto...),
	}
	return f, nil
}

// IsEthernetIPv4 reports whether a decoded packet uses Ethernet hardware
// addressing and IPv4 protocol addressing with the expected lengths — the
// only combination this daemon processes.
func (p *Packet) IsEthernetIPv4() bool {
	return p.HType == HTypeEthernet && p.PType == PTypeIPv4 && p.HLen == 6 && p.PLen == 4
}

// EncodeReply builds a full Ethernet+ARP reply frame: opcode=2, sender
// hw/proto = the advertised binding, target hw/proto = the requester.
func EncodeReply(senderMAC net.HardwareAddr, senderIP net.IP, targetMAC net.HardwareAddr, targetIP net.IP) []byte {
	return encode(targetMAC, senderMAC, OpReply, senderMAC, senderIP, targetMAC, targetIP)
}

// EncodeRequest builds a full Ethernet+ARP request frame: opcode=1,
// broadcast destination, target hw = all-zero, sender = the querying
// interface's own identity.
func EncodeRequest(srcMAC net.HardwareAddr, srcIP net.IP, targetIP net.IP) []byte {
	return encode(Broadcast, srcMAC, OpRequest, srcMAC, srcIP, ZeroMAC, targetIP)
}

func encode(dstEther, srcEther net.HardwareAddr, op uint16, senderHW net.HardwareAddr, senderIP net.IP, targetHW net.HardwareAddr, targetIP net.IP) []byte {
	senderIP4 := senderIP.To4()
	targetIP4 := targetIP.To4()

	frame := make([]byte, EthHeaderLen+arpPrefixLen+6+4+6+4)
	copy(frame[0:6], dstEther)
	copy(frame[6:12], srcEther)
	binary.BigEndian.PutUint16(frame[12:14], EtherTypeARP)

	arp := frame[EthHeaderLen:]
	binary.BigEndian.PutUint16(arp[0:2], HTypeEthernet)
	binary.BigEndian.PutUint16(arp[2:4], PTypeIPv4)
	arp[4] = 6
	arp[5] = 4
	binary.BigEndian.PutUint16(arp[6:8], op)
	copy(arp[8:14], senderHW)
	copy(arp[14:18], senderIP4)
	copy(arp[18:24], targetHW)
	copy(arp[24:28], targetIP4)

	return frame
}
