package opt

import (
	"errors"
	"fmt"
)

var (
	// ErrInput marks a malformed model input: mismatched matrix shape, an empty
	// fleet with pending candidates, or a non-positive required parameter.
	ErrInput = errors.New("opt: invalid model input")

	// ErrInfeasible is returned when no assignment satisfies the hard bounds,
	// even with every candidate dropped.
	ErrInfeasible = errors.New("opt: infeasible model")
)

// InputError describes which part of the input was rejected.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("opt: invalid %s: %s", e.Field, e.Reason)
}

func (e *InputError) Unwrap() error { return ErrInput }

func inputErr(field, format string, args ...any) error {
	return &InputError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
