// Package packet implements an IPv4/TCP segment codec: parsing an inbound
// IPv4/TCP segment into fields, and building an outbound segment with
// correct IPv4 and TCP checksums.
//
// Only the subset of IPv4/TCP needed by a synthesized server-side TCP peer
// is supported: no options, no fragmentation, IPv4 only. The design —
// fixed-size headers, a pseudo-header checksum helper, a pooled MTU-sized
// scratch buffer for serialization (bufpool.go) — follows the
// header/Serialize/PseudoHeader split of a conventional userspace TUN/TCP
// codec.
package packet

import (
	"encoding/binary"
	"errors"
	"net"
)

// Wire-format constants.
const (
	IPv4HeaderLen = 20
	TCPHeaderLen  = 20 // no options, data offset 5
	MTU           = 1500
	MaxSegmentLen = MTU - IPv4HeaderLen - TCPHeaderLen // 1460, max TCP payload per emitted segment

	DefaultWindow = 65535
	DefaultTTL    = 64

	protoTCP = 6
)

// TCP flag bits, as they appear in byte 13 of the TCP header.
const (
	FlagFIN = 0x01
	FlagSYN = 0x02
	FlagRST = 0x04
	FlagPSH = 0x08
	FlagACK = 0x10
)

// ErrTooShort describes a buffer too short to contain a legal header.
// ParseSegment does not return it: it reports such input through its
// (segment, ok) form, and callers silently drop the datagram.
var ErrTooShort = errors.New("packet: buffer too short")

// TCPSegment is the abstracted form of a parsed inbound IPv4/TCP datagram.
type TCPSegment struct {
	SrcIP   net.IP
	DstIP   net.IP
	SrcPort uint16
	DstPort uint16

	Seq   uint32
	Ack   uint32
	Flags uint8

	Payload []byte
}

func (s *TCPSegment) SYN() bool { return s.Flags&FlagSYN != 0 }
func (s *TCPSegment) ACK() bool { return s.Flags&FlagACK != 0 }
func (s *TCPSegment) FIN() bool { return s.Flags&FlagFIN != 0 }
func (s *TCPSegment) RST() bool { return s.Flags&FlagRST != 0 }

// ParseSegment parses an inbound IPv4 datagram. It returns ok == false,
// meaning the caller should silently drop the datagram, whenever it is not
// a legal IPv4/TCP segment: too short, wrong IP version, not protocol 6, or
// the declared total length is inconsistent with the IHL.
func ParseSegment(data []byte) (seg *TCPSegment, ok bool) {
	if len(data) < IPv4HeaderLen {
		return nil, false
	}

	versionIHL := data[0]
	version := versionIHL >> 4
	ihl := int(versionIHL&0x0F) * 4
	if version != 4 {
		return nil, false
	}

	totalLen := int(binary.BigEndian.Uint16(data[2:4]))
	if totalLen < IPv4HeaderLen || totalLen > len(data) {
		return nil, false
	}
	if totalLen < ihl+IPv4HeaderLen {
		// Under-length relative to its own declared header — not a well
		// formed TCP-bearing datagram we can synthesize against.
		if ihl < IPv4HeaderLen {
			return nil, false
		}
	}

	protocol := data[9]
	if protocol != protoTCP {
		return nil, false
	}
	if ihl < IPv4HeaderLen || totalLen < ihl+TCPHeaderLen {
		return nil, false
	}

	srcIP := net.IP(append([]byte(nil), data[12:16]...))
	dstIP := net.IP(append([]byte(nil), data[16:20]...))

	tcpStart := ihl
	tcpData := data[tcpStart:totalLen]
	if len(tcpData) < TCPHeaderLen {
		return nil, false
	}

	srcPort := binary.BigEndian.Uint16(tcpData[0:2])
	dstPort := binary.BigEndian.Uint16(tcpData[2:4])
	seq := binary.BigEndian.Uint32(tcpData[4:8])
	ack := binary.BigEndian.Uint32(tcpData[8:12])
	dataOffset := int(tcpData[12]>>4) * 4
	flags := tcpData[13]

	if dataOffset < TCPHeaderLen || dataOffset > len(tcpData) {
		return nil, false
	}

	var payload []byte
	if dataOffset < len(tcpData) {
		payload = append([]byte(nil), tcpData[dataOffset:]...)
	}

	return &TCPSegment{
		SrcIP:   srcIP,
		DstIP:   dstIP,
		SrcPort: srcPort,
		DstPort: dstPort,
		Seq:     seq,
		Ack:     ack,
		Flags:   flags,
		Payload: payload,
	}, true
}

// BuildParams describes the fields needed to synthesize one outbound
// IPv4/TCP segment. SrcIP/DstIP/SrcPort/DstPort are from the synthesizer's
// point of view (the Tunnel Endpoint acting as the server peer).
type BuildParams struct {
	SrcIP   net.IP
	DstIP   net.IP
	SrcPort uint16
	DstPort uint16
	Seq     uint32
	Ack     uint32
	Flags   uint8
	Payload []byte
}

// BuildSegment serializes params into a complete, checksummed IPv4/TCP
// datagram ready to be written to the virtual interface.
func BuildSegment(p BuildParams) []byte {
	totalLen := IPv4HeaderLen + TCPHeaderLen + len(p.Payload)
	buf := getBuffer(totalLen)

	ipHeader := buf[:IPv4HeaderLen]
	tcpSegment := buf[IPv4HeaderLen:]

	writeIPv4Header(ipHeader, p.SrcIP, p.DstIP, uint16(totalLen), nextIPID())
	writeTCPHeader(tcpSegment[:TCPHeaderLen], p.SrcPort, p.DstPort, p.Seq, p.Ack, p.Flags)
	if len(p.Payload) > 0 {
		copy(tcpSegment[TCPHeaderLen:], p.Payload)
	}

	putIPv4Checksum(ipHeader)
	putTCPChecksum(p.SrcIP, p.DstIP, tcpSegment)

	return buf
}

func writeIPv4Header(h []byte, src, dst net.IP, totalLen uint16, id uint16) {
	h[0] = 0x45 // version 4, IHL 5 (20 bytes, no options)
	h[1] = 0    // DSCP/ECN
	binary.BigEndian.PutUint16(h[2:4], totalLen)
	binary.BigEndian.PutUint16(h[4:6], id)
	binary.BigEndian.PutUint16(h[6:8], 0x4000) // DF set, MF=0, fragment offset=0
	h[8] = DefaultTTL
	h[9] = protoTCP
	binary.BigEndian.PutUint16(h[10:12], 0) // checksum, filled in later
	copy(h[12:16], src.To4())
	copy(h[16:20], dst.To4())
}

func writeTCPHeader(h []byte, srcPort, dstPort uint16, seq, ack uint32, flags uint8) {
	binary.BigEndian.PutUint16(h[0:2], srcPort)
	binary.BigEndian.PutUint16(h[2:4], dstPort)
	binary.BigEndian.PutUint32(h[4:8], seq)
	binary.BigEndian.PutUint32(h[8:12], ack)
	h[12] = 5 << 4 // data offset 5, no options
	h[13] = flags
	binary.BigEndian.PutUint16(h[14:16], DefaultWindow)
	binary.BigEndian.PutUint16(h[16:18], 0) // checksum, filled in later
	binary.BigEndian.PutUint16(h[18:20], 0) // urgent pointer
}
