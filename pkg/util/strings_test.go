package util

import "testing"

func TestMaskAccount(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"12345678", "12****78"},
		{"1234", "****"},
		{"", "****"},
		{"50123456-01", "50*******01"},
	}
	for _, c := range cases {
		if got := MaskAccount(c.in); got != c.want {
			t.Fatalf("MaskAccount(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestFormatWon(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{0, "0"},
		{500, "500"},
		{50000, "50,000"},
		{1234567, "1,234,567"},
		{-98000, "-98,000"},
	}
	for _, c := range cases {
		if got := FormatWon(c.in); got != c.want {
			t.Fatalf("FormatWon(%d) = %q, want %q", c.in, got, c.want)
		}
	}
}
