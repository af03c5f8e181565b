package analysis

import (
	"errors"
	"fmt"
	"math"
)

// Sentinels matched by the typed errors below via errors.Is.
var (
	ErrLoad         = errors.New("load error")
	ErrPrecondition = errors.New("precondition failed")
	ErrDegenerate   = errors.New("degenerate computation")
)

// LoadError indicates the input could not be parsed into a rectangular table.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("load %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("load: %v", e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

func (e *LoadError) Is(target error) bool { return target == ErrLoad }

// PreconditionError rejects a configuration before any fitting happens.
type PreconditionError struct {
	Op     string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func (e *PreconditionError) Is(target error) bool { return target == ErrPrecondition }

// DegenerateError reports a division by zero or a non-finite result.
type DegenerateError struct {
	Op     string
	Reason string
}

func (e *DegenerateError) Error() string {
	return fmt.Sprintf("%s: degenerate result: %s", e.Op, e.Reason)
}

func (e *DegenerateError) Is(target error) bool { return target == ErrDegenerate }

// Preconditionf builds a PreconditionError for op.
func Preconditionf(op, format string, args ...any) error {
	return &PreconditionError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// Degeneratef builds a DegenerateError for op.
func Degeneratef(op, format string, args ...any) error {
	return &DegenerateError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// Warning codes.
const (
	WarnDuplicateLevel  = "duplicate_level"
	WarnEmptyAttribute  = "empty_attribute"
	WarnSingleLevel     = "single_level_attribute"
	WarnInadequate      = "adequacy_failed"
	WarnNoInference     = "no_inference"
	WarnSameAttribute   = "same_attribute_selected"
	WarnMissingDropped  = "missing_rows_dropped"
	WarnRotationNotConv = "rotation_not_converged"
)

// Warning is advisory: it is surfaced to the user but never halts a stage.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (w Warning) String() string { return w.Message }

// Finite returns a DegenerateError when v is NaN or infinite.
func Finite(op, what string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Degeneratef(op, "%s is not finite (%v)", what, v)
	}
	return nil
}

// AllFinite checks every value in vs.
func AllFinite(op, what string, vs []float64) error {
	for i, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Degeneratef(op, "%s[%d] is not finite (%v)", what, i, v)
		}
	}
	return nil
}
