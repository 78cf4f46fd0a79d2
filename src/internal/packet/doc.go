// Package packet decodes IPv4/UDP frames carrying DNS queries and encodes
// replies back into checksummed IPv4/UDP frames.
//
// Only the pieces needed to answer a query read from a TUN device are
// implemented: a fixed 20-byte outbound IPv4 header, an 8-byte UDP header
// with the checksum disabled, question-name extraction and synthesis of a
// blocked A answer pointing at 0.0.0.0.
//
// Input comes from an untrusted tunnel, so every decoder reports failure by
// returning false or an empty value and never panics on short buffers.
package packet
