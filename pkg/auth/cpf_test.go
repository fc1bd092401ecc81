package auth

import "testing"

func TestValidCPF(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"529.982.247-25", true},
		{"52998224725", true},
		{"111.444.777-35", true},
		{"529.982.247-24", false},
		{"111.111.111-11", false},
		{"00000000000", false},
		{"1234567890", false},
		{"", false},
		{"abc", false},
	}
	for _, tc := range cases {
		if got := ValidCPF(tc.in); got != tc.want {
			t.Fatalf("ValidCPF(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeCPF(t *testing.T) {
	if got := NormalizeCPF(" 529.982.247-25 "); got != "52998224725" {
		t.Fatalf("unexpected normalized cpf: %q", got)
	}
}
