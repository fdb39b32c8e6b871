package internal

import "testing"

func TestNewOTPDigits(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := NewOTP(6)
		if err != nil {
			t.Fatalf("NewOTP: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("len(%q) = %d", code, len(code))
		}
		for _, r := range code {
			if r < '0' || r > '9' {
				t.Fatalf("non-digit in %q", code)
			}
		}
	}
	if _, err := NewOTP(4); err == nil {
		t.Fatal("expected short code length to be rejected")
	}
}

func TestHashCodeTrimsWhitespace(t *testing.T) {
	if HashCode(" 123456 ") != HashCode("123456") {
		t.Fatal("expected surrounding whitespace to be ignored")
	}
	if HashCode("123456") == HashCode("123457") {
		t.Fatal("distinct codes must hash differently")
	}
}
