package packet

import "encoding/binary"

// sum16 computes the one's-complement 16-bit sum over data, padding a
// trailing odd byte with zero. It does not fold or invert.
func sum16(data []byte) uint32 {
	var sum uint32
	n := len(data)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(binary.BigEndian.Uint16(data[i : i+2]))
	}
	if n%2 == 1 {
		sum += uint32(data[n-1]) << 8
	}
	return sum
}

// foldChecksum folds carries back into the low 16 bits until none remain,
// then returns the one's complement.
func foldChecksum(sum uint32) uint16 {
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return ^uint16(sum)
}

// putIPv4Checksum computes the IPv4 header checksum over the 20-byte
// header with the checksum field zeroed, and writes it at offset 10.
func putIPv4Checksum(header []byte) {
	header[10] = 0
	header[11] = 0
	checksum := foldChecksum(sum16(header))
	binary.BigEndian.PutUint16(header[10:12], checksum)
}

// pseudoHeaderLen is src(4) + dst(4) + zero(1) + protocol(1) + length(2).
const pseudoHeaderLen = 12

// putTCPChecksum computes the TCP checksum over the pseudo-header followed
// by the TCP header+payload (with the TCP checksum field zeroed), and
// writes it at TCP offset 16.
func putTCPChecksum(srcIP, dstIP []byte, tcpSegment []byte) {
	tcpSegment[16] = 0
	tcpSegment[17] = 0

	pseudo := make([]byte, pseudoHeaderLen)
	copy(pseudo[0:4], srcIP4(srcIP))
	copy(pseudo[4:8], srcIP4(dstIP))
	pseudo[8] = 0
	pseudo[9] = protoTCP
	binary.BigEndian.PutUint16(pseudo[10:12], uint16(len(tcpSegment)))

	sum := sum16(pseudo) + sum16(tcpSegment)
	checksum := foldChecksum(sum)
	binary.BigEndian.PutUint16(tcpSegment[16:18], checksum)
}

// srcIP4 normalizes a net.IP (which may be 16-byte form) down to its 4-byte
// IPv4 representation.
func srcIP4(ip []byte) []byte {
	if len(ip) == 4 {
		return ip
	}
	return ip[len(ip)-4:]
}
