package rules

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindConflict   Kind = "conflict"
	KindNotFound   Kind = "not_found"
	KindValidation Kind = "validation"
)

// Violation is a business outcome, not a failure of the system. It aborts the
// operation and is returned to the caller as-is.
type Violation struct {
	Kind    Kind
	Message string
	Rule    string
	Field   string
}

func (v *Violation) Error() string {
	if v.Field != "" {
		return fmt.Sprintf("%s: %s: %s", v.Kind, v.Field, v.Message)
	}
	return fmt.Sprintf("%s: %s", v.Kind, v.Message)
}

func Conflict(message string) *Violation {
	return &Violation{Kind: KindConflict, Message: message}
}

func NotFound(message string) *Violation {
	return &Violation{Kind: KindNotFound, Message: message}
}

func Validation(field, message string) *Violation {
	return &Violation{Kind: KindValidation, Field: field, Message: message}
}

func AsViolation(err error) (*Violation, bool) {
	var v *Violation
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}

func IsKind(err error, kind Kind) bool {
	v, ok := AsViolation(err)
	return ok && v.Kind == kind
}
