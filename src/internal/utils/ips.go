package utils

import (
	"encoding/binary"
	"fmt"
	"net"
)

// IPv4Array converts ip to a fixed 4-byte array.
func IPv4Array(ip net.IP) ([4]byte, error) {
	var out [4]byte
	v4 := ip.To4()
	if v4 == nil {
		return out, fmt.Errorf("not an IPv4 address: %s", ip)
	}
	copy(out[:], v4)
	return out, nil
}

// PeerAddress returns the first address in ipnet other than the network,
// broadcast and local addresses. It is used as the point-to-point peer of a tunnel.
func PeerAddress(local net.IP, ipnet *net.IPNet) (net.IP, error) {
	local4 := local.To4()
	base := ipnet.IP.To4()
	if local4 == nil || base == nil {
		return nil, fmt.Errorf("not an IPv4 network: %s", ipnet)
	}
	ones, bits := ipnet.Mask.Size()
	size := uint32(1) << uint(bits-ones)
	start := binary.BigEndian.Uint32(base)
	self := binary.BigEndian.Uint32(local4)

	for off := uint32(1); off+1 < size; off++ {
		candidate := start + off
		if candidate == self {
			continue
		}
		out := make(net.IP, 4)
		binary.BigEndian.PutUint32(out, candidate)
		return out, nil
	}
	return nil, fmt.Errorf("no free peer address in %s", ipnet)
}
