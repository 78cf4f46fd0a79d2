package packet

import (
	"encoding/binary"
	"strings"
)

const (
	dnsHeaderLen   = 12
	minQueryLen    = 17
	maxLabelLen    = 63
	qtypeQclassLen = 4

	blockedTTL = 60
)

// blockedAnswer is an A record for the question name (pointer to offset 12)
// resolving to 0.0.0.0.
var blockedAnswer = [16]byte{
	0xC0, 0x0C, // name: pointer to question
	0x00, 0x01, // TYPE A
	0x00, 0x01, // CLASS IN
	0x00, 0x00, 0x00, blockedTTL,
	0x00, 0x04, // RDLENGTH
	0x00, 0x00, 0x00, 0x00,
}

// ParseDomainName returns the lowercased question name of a DNS query, or ""
// when the payload is too short, asks for the root, or has a malformed label.
// Compression pointers end the name as malformed input.
func ParseDomainName(payload []byte) string {
	name, _, ok := walkQuestionName(payload)
	if !ok {
		return ""
	}
	return name
}

// walkQuestionName returns the question name and the offset just past its zero label.
func walkQuestionName(payload []byte) (string, int, bool) {
	if len(payload) < minQueryLen {
		return "", 0, false
	}

	var sb strings.Builder
	pos := dnsHeaderLen
	for {
		if pos >= len(payload) {
			return "", 0, false
		}
		labelLen := int(payload[pos])
		if labelLen == 0 {
			if pos == dnsHeaderLen {
				return "", 0, false
			}
			return strings.ToLower(sb.String()), pos + 1, true
		}
		if labelLen > maxLabelLen || pos+1+labelLen > len(payload) {
			return "", 0, false
		}
		if sb.Len() > 0 {
			sb.WriteByte('.')
		}
		sb.Write(payload[pos+1 : pos+1+labelLen])
		pos += 1 + labelLen
	}
}

// QuestionID returns the DNS transaction ID, or 0 for a short payload.
func QuestionID(payload []byte) uint16 {
	if len(payload) < 2 {
		return 0
	}
	return binary.BigEndian.Uint16(payload[0:2])
}

// BuildBlockedResponse turns query into an answer resolving the question to
// 0.0.0.0. The header and question are kept, QR and RA are set, RCODE is
// cleared and a single answer record is appended. A query whose question
// cannot be parsed is returned unchanged.
func BuildBlockedResponse(query []byte) []byte {
	_, nameEnd, ok := walkQuestionName(query)
	if !ok {
		return query
	}
	questionEnd := nameEnd + qtypeQclassLen
	if questionEnd > len(query) {
		return query
	}

	out := make([]byte, questionEnd, questionEnd+len(blockedAnswer))
	copy(out, query[:questionEnd])

	out[2] |= 0x80
	out[3] = 0x80
	binary.BigEndian.PutUint16(out[6:8], 1)
	// Authority and additional sections are not copied.
	binary.BigEndian.PutUint16(out[8:10], 0)
	binary.BigEndian.PutUint16(out[10:12], 0)

	return append(out, blockedAnswer[:]...)
}
