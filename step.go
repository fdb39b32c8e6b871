package tenantauth

import "fmt"

// Step is the verification a step token holder still owes.
type Step uint8

const (
	stepInvalid Step = iota
	// StepOTP accepts only an emailed code.
	StepOTP
	// StepTOTP accepts an authenticator code, or an emailed code when the
	// email fallback is on.
	StepTOTP
	// StepSetup authorizes setting the first password.
	StepSetup
)

func (s Step) String() string {
	switch s {
	case StepOTP:
		return "otp"
	case StepTOTP:
		return "totp"
	case StepSetup:
		return "setup"
	default:
		return "invalid"
	}
}

// ParseStep maps a claim value back to a Step.
func ParseStep(v string) (Step, error) {
	switch v {
	case "otp":
		return StepOTP, nil
	case "totp":
		return StepTOTP, nil
	case "setup":
		return StepSetup, nil
	default:
		return stepInvalid, fmt.Errorf("%w: unknown step %q", ErrTokenInvalid, v)
	}
}
