package filter

import "strings"

// Normalize returns the canonical form of a domain used for storage and
// matching: lowercase with surrounding whitespace, trailing dots and leading
// "*." and "www." markers removed. Stripping repeats until nothing changes,
// so Normalize(Normalize(x)) == Normalize(x).
func Normalize(domain string) string {
	d := strings.ToLower(domain)
	for {
		prev := d
		d = strings.TrimSpace(d)
		d = strings.TrimRight(d, ".")
		d = strings.TrimPrefix(d, "*.")
		d = strings.TrimPrefix(d, "www.")
		if d == prev {
			return d
		}
	}
}

func normalizeCategory(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

// normalizeSet normalizes values, drops blanks and duplicates and keeps first-seen order.
func normalizeSet(values []string, norm func(string) string) ([]string, map[string]struct{}) {
	set := make(map[string]struct{}, len(values))
	ordered := make([]string, 0, len(values))
	for _, v := range values {
		n := norm(v)
		if n == "" {
			continue
		}
		if _, dup := set[n]; dup {
			continue
		}
		set[n] = struct{}{}
		ordered = append(ordered, n)
	}
	return ordered, set
}
