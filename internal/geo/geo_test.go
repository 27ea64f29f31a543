package geo

import (
	"testing"
)

func TestNoopLookup(t *testing.T) {
	loc := Noop{}.Lookup("8.8.8.8")
	if loc.Country != "" || loc.Region != "" || loc.City != "" {
		t.Errorf("noop lookup = %+v, want zero location", loc)
	}
}

func TestParseIP(t *testing.T) {
	tests := []struct {
		name  string
		input string
		valid bool
	}{
		{"plain v4", "198.51.100.7", true},
		{"v4-mapped v6", "::ffff:198.51.100.7", true},
		{"plain v6", "2001:db8::1", true},
		{"garbage", "not-an-ip", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseIP(tt.input)
			if (got != nil) != tt.valid {
				t.Errorf("parseIP(%q) = %v", tt.input, got)
			}
		})
	}

	if got := parseIP("::ffff:198.51.100.7"); got.String() != "198.51.100.7" {
		t.Errorf("mapped form = %s, want bare v4", got)
	}
}

func TestOpen_MissingDatabase(t *testing.T) {
	if _, err := Open("/nonexistent/geo.mmdb"); err == nil {
		t.Error("expected error for missing database file")
	}
}
