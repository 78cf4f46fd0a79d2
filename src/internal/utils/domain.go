package utils

// DomainSuffixes returns domain and every parent domain, most specific first:
// "a.b.com" yields ["a.b.com", "b.com", "com"]. Looking each suffix up in a
// set gives label-boundary matching, so "example.com" matches
// "sub.example.com" but never "notexample.com".
func DomainSuffixes(domain string) []string {
	if domain == "" {
		return nil
	}
	suffixes := []string{domain}
	for i := 0; i < len(domain); i++ {
		if domain[i] == '.' && i+1 < len(domain) {
			suffixes = append(suffixes, domain[i+1:])
		}
	}
	return suffixes
}
