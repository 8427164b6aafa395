package outreach

import "testing"

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"(202) 456-1111", "+12024561111"},
		{"+1 202 456 1111", "+12024561111"},
		{"  ", ""},
		{"not a phone", "not a phone"},
	}
	for _, tt := range tests {
		if got := NormalizePhone(tt.in); got != tt.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAddressKey(t *testing.T) {
	a := AddressKey("123 North Main Street, Apt. 4")
	b := AddressKey("123 N main st apt 4")
	if a != b {
		t.Fatalf("expected equal keys, got %q vs %q", a, b)
	}
	if a != "123 n main st apt 4" {
		t.Fatalf("unexpected key %q", a)
	}
}

func TestNameKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"John Smith", "john smith"},
		{"JOHN SMITH (Relative 2)", "john smith"},
		{"John  Smith Jr - mobile", "john smith"},
		{"Cher", "cher"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NameKey(tt.in); got != tt.want {
			t.Errorf("NameKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
