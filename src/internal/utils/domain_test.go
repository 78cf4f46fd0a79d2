package utils

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDomainSuffixes(t *testing.T) {
	tests := []struct {
		domain string
		want   []string
	}{
		{"", nil},
		{"com", []string{"com"}},
		{"a.b.com", []string{"a.b.com", "b.com", "com"}},
		{"notexample.com", []string{"notexample.com", "com"}},
	}

	for _, tt := range tests {
		t.Run(tt.domain, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, DomainSuffixes(tt.domain)); diff != "" {
				t.Errorf("DomainSuffixes() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
