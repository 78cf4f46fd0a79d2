package packet

import "encoding/binary"

const (
	ipv4HeaderLen = 20
	udpHeaderLen  = 8
	minPacketLen  = ipv4HeaderLen + udpHeaderLen

	protocolUDP = 17
	dnsPort     = 53

	replyTTL     = 64
	flagDontFrag = 0x4000
)

// Datagram is a decoded IPv4/UDP packet addressed to port 53.
type Datagram struct {
	SourceIP   [4]byte
	DestIP     [4]byte
	SourcePort uint16
	DestPort   uint16
	// Payload aliases the input buffer.
	Payload []byte
}

// Decode parses raw[:length] as an IPv4/UDP packet to port 53.
// It returns false for anything else, including truncated input.
func Decode(raw []byte, length int) (*Datagram, bool) {
	if length > len(raw) {
		length = len(raw)
	}
	if length < minPacketLen {
		return nil, false
	}
	if raw[0]>>4 != 4 {
		return nil, false
	}
	if raw[9] != protocolUDP {
		return nil, false
	}

	ihl := int(raw[0]&0x0f) * 4
	if ihl < ipv4HeaderLen || ihl+udpHeaderLen > length {
		return nil, false
	}

	udp := raw[ihl:length]
	destPort := binary.BigEndian.Uint16(udp[2:4])
	if destPort != dnsPort {
		return nil, false
	}

	udpLen := int(binary.BigEndian.Uint16(udp[4:6]))
	if udpLen < udpHeaderLen {
		return nil, false
	}
	payloadEnd := ihl + udpLen
	if payloadEnd > length {
		return nil, false
	}

	d := &Datagram{
		SourcePort: binary.BigEndian.Uint16(udp[0:2]),
		DestPort:   destPort,
		Payload:    raw[ihl+udpHeaderLen : payloadEnd],
	}
	copy(d.SourceIP[:], raw[12:16])
	copy(d.DestIP[:], raw[16:20])
	return d, true
}

// BuildResponsePacket wraps dnsResponse into an IPv4/UDP reply for a query that
// was sent from srcIP:srcPort to dstIP:dstPort. The reply travels the other way.
func BuildResponsePacket(srcIP, dstIP [4]byte, srcPort, dstPort uint16, dnsResponse []byte) []byte {
	total := minPacketLen + len(dnsResponse)
	out := make([]byte, total)

	ip := out[:ipv4HeaderLen]
	ip[0] = 0x45
	binary.BigEndian.PutUint16(ip[2:4], uint16(total))
	binary.BigEndian.PutUint16(ip[6:8], flagDontFrag)
	ip[8] = replyTTL
	ip[9] = protocolUDP
	copy(ip[12:16], dstIP[:])
	copy(ip[16:20], srcIP[:])
	binary.BigEndian.PutUint16(ip[10:12], Checksum(ip))

	udp := out[ipv4HeaderLen:minPacketLen]
	binary.BigEndian.PutUint16(udp[0:2], dstPort)
	binary.BigEndian.PutUint16(udp[2:4], srcPort)
	binary.BigEndian.PutUint16(udp[4:6], uint16(udpHeaderLen+len(dnsResponse)))
	// udp[6:8] stays zero: checksum disabled.

	copy(out[minPacketLen:], dnsResponse)
	return out
}

// BuildReply is BuildResponsePacket addressed as a reply to d.
func (d *Datagram) BuildReply(dnsResponse []byte) []byte {
	return BuildResponsePacket(d.SourceIP, d.DestIP, d.SourcePort, d.DestPort, dnsResponse)
}

// Checksum computes the RFC 1071 internet checksum of header. The checksum
// field must be zero when computing a new value.
func Checksum(header []byte) uint16 {
	var sum uint32
	n := len(header)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(header[i])<<8 | uint32(header[i+1])
	}
	if n%2 == 1 {
		sum += uint32(header[n-1]) << 8
	}
	for sum>>16 != 0 {
		sum = sum&0xffff + sum>>16
	}
	return ^uint16(sum)
}
