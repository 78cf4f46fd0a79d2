package packet

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/miekg/dns"
)

var (
	clientIP   = net.IPv4(10, 53, 0, 2).To4()
	resolverIP = net.IPv4(1, 1, 1, 1).To4()
)

func packQuery(t *testing.T, name string, qtype uint16) []byte {
	t.Helper()
	m := new(dns.Msg)
	m.SetQuestion(name, qtype)
	m.Id = 0xbeef
	b, err := m.Pack()
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	return b
}

// serializeQuery builds a valid IPv4/UDP frame with gopacket.
func serializeQuery(t *testing.T, dstPort uint16, payload []byte) []byte {
	t.Helper()
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    clientIP,
		DstIP:    resolverIP,
	}
	udp := &layers.UDP{
		SrcPort: 40000,
		DstPort: layers.UDPPort(dstPort),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatalf("SetNetworkLayerForChecksum() error = %v", err)
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ip, udp, gopacket.Payload(payload)); err != nil {
		t.Fatalf("SerializeLayers() error = %v", err)
	}
	return buf.Bytes()
}

func TestDecode_ValidQuery(t *testing.T) {
	query := packQuery(t, "example.com.", dns.TypeA)
	raw := serializeQuery(t, 53, query)

	d, ok := Decode(raw, len(raw))
	if !ok {
		t.Fatal("Decode() ok = false, want true")
	}

	if d.SourceIP != [4]byte{10, 53, 0, 2} {
		t.Errorf("SourceIP = %v, want 10.53.0.2", d.SourceIP)
	}
	if d.DestIP != [4]byte{1, 1, 1, 1} {
		t.Errorf("DestIP = %v, want 1.1.1.1", d.DestIP)
	}
	if d.SourcePort != 40000 || d.DestPort != 53 {
		t.Errorf("ports = %d -> %d, want 40000 -> 53", d.SourcePort, d.DestPort)
	}
	if diff := cmp.Diff(query, d.Payload); diff != "" {
		t.Errorf("Payload mismatch (-want +got):\n%s", diff)
	}
}

func TestDecode_Rejects(t *testing.T) {
	query := packQuery(t, "example.com.", dns.TypeA)
	valid := serializeQuery(t, 53, query)

	mutate := func(f func(b []byte) []byte) []byte {
		b := append([]byte(nil), valid...)
		return f(b)
	}

	tests := []struct {
		name   string
		raw    []byte
		length int
	}{
		{"too short", valid[:27], 27},
		{"length below 28", valid, 20},
		{"ipv6 version", mutate(func(b []byte) []byte { b[0] = 0x65; return b }), len(valid)},
		{"tcp protocol", mutate(func(b []byte) []byte { b[9] = 6; return b }), len(valid)},
		{"header length exceeds buffer", mutate(func(b []byte) []byte { b[0] = 0x4f; return b[:40] }), 40},
		{"wrong port", serializeQuery(t, 5353, query), len(valid)},
		{"udp length below 8", mutate(func(b []byte) []byte { binary.BigEndian.PutUint16(b[24:26], 4); return b }), len(valid)},
		{"payload window outside buffer", mutate(func(b []byte) []byte { binary.BigEndian.PutUint16(b[24:26], 2000); return b }), len(valid)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if d, ok := Decode(tt.raw, tt.length); ok {
				t.Errorf("Decode() = %+v, want rejection", d)
			}
		})
	}
}

func TestDecode_HonoursIHL(t *testing.T) {
	query := packQuery(t, "example.com.", dns.TypeA)
	plain := serializeQuery(t, 53, query)

	// Insert 4 bytes of IP options (NOPs) and bump IHL to 6.
	raw := make([]byte, 0, len(plain)+4)
	raw = append(raw, plain[:20]...)
	raw = append(raw, 1, 1, 1, 1)
	raw = append(raw, plain[20:]...)
	raw[0] = 0x46

	d, ok := Decode(raw, len(raw))
	if !ok {
		t.Fatal("Decode() ok = false, want true")
	}
	if diff := cmp.Diff(query, d.Payload); diff != "" {
		t.Errorf("Payload mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildResponsePacket_SwapsAddressing(t *testing.T) {
	query := packQuery(t, "example.com.", dns.TypeA)
	raw := serializeQuery(t, 53, query)
	d, ok := Decode(raw, len(raw))
	if !ok {
		t.Fatal("Decode() failed")
	}

	response := BuildBlockedResponse(d.Payload)
	out := d.BuildReply(response)

	pkt := gopacket.NewPacket(out, layers.LayerTypeIPv4, gopacket.Default)
	if errLayer := pkt.ErrorLayer(); errLayer != nil {
		t.Fatalf("gopacket decode error: %v", errLayer.Error())
	}

	ip := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if !ip.SrcIP.Equal(resolverIP) || !ip.DstIP.Equal(clientIP) {
		t.Errorf("IP %s -> %s, want %s -> %s", ip.SrcIP, ip.DstIP, resolverIP, clientIP)
	}
	if ip.TTL != 64 {
		t.Errorf("TTL = %d, want 64", ip.TTL)
	}
	if ip.Flags&layers.IPv4DontFragment == 0 {
		t.Errorf("Flags = %v, want DF set", ip.Flags)
	}
	if int(ip.Length) != 28+len(response) {
		t.Errorf("Length = %d, want %d", ip.Length, 28+len(response))
	}

	udp := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if udp.SrcPort != 53 || udp.DstPort != 40000 {
		t.Errorf("UDP %d -> %d, want 53 -> 40000", udp.SrcPort, udp.DstPort)
	}
	if udp.Checksum != 0 {
		t.Errorf("UDP checksum = %#04x, want 0", udp.Checksum)
	}
	if int(udp.Length) != 8+len(response) {
		t.Errorf("UDP length = %d, want %d", udp.Length, 8+len(response))
	}

	dnsLayer, ok := pkt.Layer(layers.LayerTypeDNS).(*layers.DNS)
	if !ok {
		t.Fatal("reply has no DNS layer")
	}
	if !dnsLayer.QR || dnsLayer.ID != 0xbeef {
		t.Errorf("DNS QR=%v ID=%#04x, want response with ID 0xbeef", dnsLayer.QR, dnsLayer.ID)
	}

	// Re-verify the header checksum independently.
	header := append([]byte(nil), out[:20]...)
	stored := binary.BigEndian.Uint16(header[10:12])
	header[10], header[11] = 0, 0
	if got := Checksum(header); got != stored {
		t.Errorf("Checksum() = %#04x, stored %#04x", got, stored)
	}
}

func TestChecksum_SelfConsistent(t *testing.T) {
	raw := serializeQuery(t, 53, packQuery(t, "a.example.net.", dns.TypeAAAA))
	header := append([]byte(nil), raw[:20]...)
	want := binary.BigEndian.Uint16(header[10:12])

	header[10], header[11] = 0, 0
	if got := Checksum(header); got != want {
		t.Errorf("Checksum() = %#04x, want %#04x (computed by gopacket)", got, want)
	}
}

func TestChecksum_FoldsCarries(t *testing.T) {
	header := make([]byte, 20)
	for i := range header {
		header[i] = 0xff
	}
	// Ten 0xffff words sum to 0x9fff6, folding to 0xffff, complement 0.
	if got := Checksum(header); got != 0 {
		t.Errorf("Checksum(all ones) = %#04x, want 0", got)
	}
}

func TestParseDomainName(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    string
	}{
		{"lowercases", packQuery(t, "WWW.Example.COM.", dns.TypeA), "www.example.com"},
		{"single label", packQuery(t, "localhost.", dns.TypeA), "localhost"},
		{"too short", make([]byte, 16), ""},
		{"root query", packQuery(t, ".", dns.TypeNS), ""},
		{
			name:    "label too long",
			payload: append(append(make([]byte, 12), 64), make([]byte, 70)...),
			want:    "",
		},
		{
			name:    "label overruns buffer",
			payload: append(make([]byte, 12), 10, 'a', 'b', 'c', 'd', 'e'),
			want:    "",
		},
		{
			name:    "compression pointer",
			payload: append(make([]byte, 12), 0xC0, 0x0C, 0, 1, 0, 1),
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseDomainName(tt.payload); got != tt.want {
				t.Errorf("ParseDomainName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildBlockedResponse(t *testing.T) {
	query := packQuery(t, "ads.example.com.", dns.TypeA)

	resp := BuildBlockedResponse(query)

	msg := new(dns.Msg)
	if err := msg.Unpack(resp); err != nil {
		t.Fatalf("Unpack() error = %v", err)
	}
	if !msg.Response || !msg.RecursionAvailable || msg.Rcode != dns.RcodeSuccess {
		t.Errorf("header = QR:%v RA:%v RCODE:%d, want QR RA NOERROR", msg.Response, msg.RecursionAvailable, msg.Rcode)
	}
	if !msg.RecursionDesired {
		t.Errorf("RD was not preserved")
	}
	if msg.Id != 0xbeef {
		t.Errorf("Id = %#04x, want 0xbeef", msg.Id)
	}
	if len(msg.Answer) != 1 {
		t.Fatalf("len(Answer) = %d, want 1", len(msg.Answer))
	}
	a, ok := msg.Answer[0].(*dns.A)
	if !ok {
		t.Fatalf("Answer[0] = %T, want *dns.A", msg.Answer[0])
	}
	if !a.A.Equal(net.IPv4zero) || a.Hdr.Ttl != 60 || a.Hdr.Name != "ads.example.com." {
		t.Errorf("answer = %v, want ads.example.com. 60 IN A 0.0.0.0", a)
	}

	wantTail := []byte{0xC0, 0x0C, 0, 1, 0, 1, 0, 0, 0, 60, 0, 4, 0, 0, 0, 0}
	if diff := cmp.Diff(wantTail, resp[len(resp)-16:]); diff != "" {
		t.Errorf("answer record mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildBlockedResponse_DropsAdditionalSection(t *testing.T) {
	m := new(dns.Msg)
	m.SetQuestion("example.com.", dns.TypeA)
	m.SetEdns0(1232, false)
	query, err := m.Pack()
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}

	resp := BuildBlockedResponse(query)
	msg := new(dns.Msg)
	if err := msg.Unpack(resp); err != nil {
		t.Fatalf("Unpack() error = %v", err)
	}
	if len(msg.Extra) != 0 || len(msg.Answer) != 1 {
		t.Errorf("Extra=%d Answer=%d, want 0 and 1", len(msg.Extra), len(msg.Answer))
	}
}

func TestBuildBlockedResponse_UnparseableReturnsInput(t *testing.T) {
	tests := [][]byte{
		make([]byte, 10),
		append(make([]byte, 12), 0, 0, 1, 0, 1),
		append(make([]byte, 12), 3, 'c', 'o', 'm', 0, 0), // missing QCLASS
	}

	for i, query := range tests {
		got := BuildBlockedResponse(query)
		if diff := cmp.Diff(query, got); diff != "" {
			t.Errorf("case %d: BuildBlockedResponse() changed input (-want +got):\n%s", i, diff)
		}
	}
}
