package agent

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is a coarse classification of run failures.
type Kind string

const (
	KindConfig   Kind = "config"
	KindNotFound Kind = "not_found"
	KindRuntime  Kind = "runtime"
)

// Error wraps a failure with the step that produced it.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsKind reports whether err carries kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}
