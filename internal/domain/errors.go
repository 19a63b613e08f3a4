package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned (wrapped) when a referenced entity does not exist.
var ErrNotFound = errors.New("not found")

// NotFound wraps ErrNotFound with the entity kind and id.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

// InvalidArgumentError indicates a request value the core cannot act on.
type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e InvalidArgumentError) Error() string {
	if e.Field == "" {
		return "invalid argument: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return InvalidArgumentError{Field: field, Reason: reason}
}

// Validate enforces the construction contract of a snapshot: the scalar
// fields every agent needs must be present.
func (s InstructionSet) Validate() error {
	if s.Background == "" {
		return invalid("instruction.background", "required")
	}
	if s.Goal == "" {
		return invalid("instruction.goal", "required")
	}
	if s.ProactivityLevel == "" {
		return invalid("instruction.proactivity_level", "required")
	}
	for i, fn := range s.AllowedFunctions {
		if fn.Name == "" {
			return invalid(fmt.Sprintf("instruction.allowed_functions[%d].name", i), "required")
		}
	}
	return nil
}
