package password

import (
	"errors"
	"testing"
)

func reasonOf(t *testing.T, err error) Reason {
	t.Helper()
	var pe *PolicyError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *PolicyError, got %v", err)
	}
	if !errors.Is(err, ErrPolicy) {
		t.Fatal("expected PolicyError to match ErrPolicy")
	}
	return pe.Reason
}

func TestPolicyRuleOrder(t *testing.T) {
	strong := func(string) int { return 4 }
	p := Policy{Strength: strong}

	cases := []struct {
		in   string
		want Reason
	}{
		{"Ab1!", ReasonTooShort},
		{"short1!", ReasonTooShort},
		{"Short1!xy", ReasonTooShort},
		{"abcdefgh1!", ReasonMissingUpper},
		{"ABCDEFGH1!", ReasonMissingLower},
		{"Abcdefghi!", ReasonMissingDigit},
		{"Abcdefghi1", ReasonMissingSymbol},
	}
	for _, tc := range cases {
		if got := reasonOf(t, p.Validate(tc.in)); got != tc.want {
			t.Fatalf("Validate(%q) reason = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestPolicyStrengthRunsLast(t *testing.T) {
	calls := 0
	p := Policy{Strength: func(string) int { calls++; return 0 }}

	_ = p.Validate("short")
	_ = p.Validate("nouppercase1!")
	if calls != 0 {
		t.Fatalf("strength estimator ran %d times for composition failures", calls)
	}

	if got := reasonOf(t, p.Validate("Abcdefghi1!")); got != ReasonTooWeak {
		t.Fatalf("reason = %s, want %s", got, ReasonTooWeak)
	}
	if calls != 1 {
		t.Fatalf("expected one estimator call, got %d", calls)
	}
}

func TestPolicyAcceptsStrongPassword(t *testing.T) {
	if err := (Policy{}).Validate("Tr4vel!Kettle#Mo0n"); err != nil {
		t.Fatalf("expected strong password to pass, got %v", err)
	}
}

func TestPolicyRejectsGuessablePassword(t *testing.T) {
	if got := reasonOf(t, (Policy{}).Validate("Password1!")); got != ReasonTooWeak {
		t.Fatalf("reason = %s, want %s", got, ReasonTooWeak)
	}
}

func TestPolicySymbolSet(t *testing.T) {
	p := Policy{Strength: func(string) int { return 4 }}
	for _, r := range Symbols {
		if err := p.Validate("Abcdefghi1" + string(r)); err != nil {
			t.Fatalf("symbol %q rejected: %v", r, err)
		}
	}
	if got := reasonOf(t, p.Validate("Abcdefghi1§")); got != ReasonMissingSymbol {
		t.Fatalf("reason = %s, want %s", got, ReasonMissingSymbol)
	}
}
