package aisignal

import "testing"

func TestLabelMatcher(t *testing.T) {
	t.Parallel()

	choices := []choice{
		{id: "technical", label: "Technical Issue"},
		{id: "billing", label: "Billing & Payment"},
		{id: "feature_request", label: "Feature Request"},
		{id: "network", label: "Network Problem"},
	}
	m := newLabelMatcher()

	tests := []struct {
		raw    string
		want   string
		wantOK bool
	}{
		{"technical", "technical", true},
		{"  TECHNICAL ", "technical", true},
		{"Technical Issue", "technical", true},
		{"Billing & Payment", "billing", true},
		{"feature-request", "feature_request", true},
		{"Feature Request", "feature_request", true},
		{"billng", "billing", true},
		{"netwrok", "network", true},
		{"astrology", "", false},
		{"প্রযুক্তিগত", "", false},
		{"", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.raw, func(t *testing.T) {
			t.Parallel()
			got, ok := m.match(tc.raw, choices)
			if got != tc.want || ok != tc.wantOK {
				t.Errorf("match(%q) = (%q, %v), want (%q, %v)", tc.raw, got, ok, tc.want, tc.wantOK)
			}
		})
	}
}

func TestCanon(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"Feature Request":   "feature_request",
		"feature-request":   "feature_request",
		"Billing & Payment": "billing_payment",
		"Router/Modem":      "router_modem",
		"  ":                "",
	}
	for in, want := range tests {
		if got := canon(in); got != want {
			t.Errorf("canon(%q) = %q, want %q", in, got, want)
		}
	}
}
