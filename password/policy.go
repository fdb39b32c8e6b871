package password

import (
	"errors"
	"strings"
	"unicode"

	"github.com/trustelem/zxcvbn"
)

// Symbols is the set of characters that satisfy the symbol rule.
const Symbols = "!@#$%^&*()_+-=[]{};:'\",.<>/?\\|`~"

const (
	DefaultMinLength = 10
	// DefaultMinScore is "fair" on the 0..4 zxcvbn scale.
	DefaultMinScore = 2
)

// Reason identifies which rule rejected a password.
type Reason string

const (
	ReasonTooShort      Reason = "too_short"
	ReasonMissingUpper  Reason = "missing_uppercase"
	ReasonMissingLower  Reason = "missing_lowercase"
	ReasonMissingDigit  Reason = "missing_digit"
	ReasonMissingSymbol Reason = "missing_symbol"
	ReasonTooWeak       Reason = "too_weak"
)

var reasonMessages = map[Reason]string{
	ReasonTooShort:      "password is too short",
	ReasonMissingUpper:  "password must contain an uppercase letter",
	ReasonMissingLower:  "password must contain a lowercase letter",
	ReasonMissingDigit:  "password must contain a digit",
	ReasonMissingSymbol: "password must contain a symbol",
	ReasonTooWeak:       "password is too easy to guess",
}

// ErrPolicy is matched by every *PolicyError.
var ErrPolicy = errors.New("password: policy violation")

// PolicyError carries the first rule that failed.
type PolicyError struct {
	Reason Reason
}

func (e *PolicyError) Error() string {
	if msg, ok := reasonMessages[e.Reason]; ok {
		return msg
	}
	return string(e.Reason)
}

func (e *PolicyError) Is(target error) bool { return target == ErrPolicy }

// StrengthFunc scores a password on the 0..4 scale.
type StrengthFunc func(plain string) int

// Zxcvbn is the default strength estimator.
func Zxcvbn(plain string) int {
	return zxcvbn.PasswordStrength(plain, nil).Score
}

// Policy checks composition rules in a fixed order and the strength floor
// last. Zero values fall back to the defaults.
type Policy struct {
	MinLength int
	MinScore  int
	Strength  StrengthFunc
}

// Validate returns nil or a *PolicyError for the first failed rule. The
// strength estimate only runs once every composition rule has passed.
func (p Policy) Validate(plain string) error {
	minLen := p.MinLength
	if minLen <= 0 {
		minLen = DefaultMinLength
	}
	if len([]rune(plain)) < minLen {
		return &PolicyError{Reason: ReasonTooShort}
	}

	var upper, lower, digit, symbol bool
	for _, r := range plain {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(Symbols, r):
			symbol = true
		}
	}
	switch {
	case !upper:
		return &PolicyError{Reason: ReasonMissingUpper}
	case !lower:
		return &PolicyError{Reason: ReasonMissingLower}
	case !digit:
		return &PolicyError{Reason: ReasonMissingDigit}
	case !symbol:
		return &PolicyError{Reason: ReasonMissingSymbol}
	}

	score := p.Strength
	if score == nil {
		score = Zxcvbn
	}
	minScore := p.MinScore
	if minScore <= 0 {
		minScore = DefaultMinScore
	}
	if score(plain) < minScore {
		return &PolicyError{Reason: ReasonTooWeak}
	}
	return nil
}
