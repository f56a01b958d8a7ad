package config

import (
	"fmt"
	"strings"
)

// ValidationError collects every configuration problem so they can be
// reported together.
type ValidationError struct {
	Errors []error
}

func NewValidationError() *ValidationError {
	return &ValidationError{}
}

// Add ignores nil.
func (v *ValidationError) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

func (v *ValidationError) Error() string {
	switch len(v.Errors) {
	case 0:
		return ""
	case 1:
		return v.Errors[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "found %d validation errors:", len(v.Errors))
	for i, err := range v.Errors {
		fmt.Fprintf(&sb, "\n  %d. %v", i+1, err)
	}
	return sb.String()
}

// Unwrap exposes every collected error to errors.Is and errors.As.
func (v *ValidationError) Unwrap() []error {
	return v.Errors
}

// ErrorOrNil returns v when it holds errors, nil otherwise.
func (v *ValidationError) ErrorOrNil() error {
	if v.HasErrors() {
		return v
	}
	return nil
}
