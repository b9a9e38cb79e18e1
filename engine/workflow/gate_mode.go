package workflow

import (
	"errors"
	"fmt"
)

// GateMode controls how approval steps are settled during unattended runs.
type GateMode string

const (
	GateModeAuto GateMode = "auto"
	GateModeFail GateMode = "fail"
)

var ErrInvalidGateMode = errors.New("invalid gate mode")

func ParseGateMode(s string) (GateMode, error) {
	switch GateMode(s) {
	case GateModeAuto, GateModeFail:
		return GateMode(s), nil
	default:
		return "", fmt.Errorf("%w %q: must be one of [auto fail]", ErrInvalidGateMode, s)
	}
}

func (m GateMode) Validate() error {
	_, err := ParseGateMode(string(m))
	return err
}

// String, Set and Type let GateMode back a command-line flag, so bad values
// fail while flags are parsed.
func (m *GateMode) String() string { return string(*m) }

func (m *GateMode) Set(s string) error {
	mode, err := ParseGateMode(s)
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

func (m *GateMode) Type() string { return "auto|fail" }
