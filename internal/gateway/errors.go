package gateway

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors matched by CommandError.Is.
var (
	ErrNonZeroExit = errors.New("gateway: command exited with non-zero status")
	ErrNotFound    = errors.New("gateway: executable not found")
	ErrTimeout     = errors.New("gateway: command timed out")
	ErrCanceled    = errors.New("gateway: command canceled")
)

// Kind classifies why an invocation failed.
type Kind string

const (
	KindNonZeroExit Kind = "non_zero_exit"
	KindNotFound    Kind = "not_found"
	KindTimeout     Kind = "timeout"
	KindCanceled    Kind = "canceled"
)

func (k Kind) sentinel() error {
	switch k {
	case KindNonZeroExit:
		return ErrNonZeroExit
	case KindNotFound:
		return ErrNotFound
	case KindTimeout:
		return ErrTimeout
	case KindCanceled:
		return ErrCanceled
	default:
		return nil
	}
}

// CommandError describes a failed CLI invocation.
type CommandError struct {
	Kind Kind
	// Args are the arguments the CLI was called with, excluding extra args.
	Args []string
	// Detail is trimmed stderr for non-zero exits, empty otherwise.
	Detail string
	// Err is the underlying error from os/exec or the context.
	Err error
}

func (e *CommandError) Error() string {
	var b strings.Builder
	b.WriteString("gateway: ")
	b.WriteString(strings.Join(e.Args, " "))
	b.WriteString(": ")
	b.WriteString(string(e.Kind))
	if e.Detail != "" {
		fmt.Fprintf(&b, ": %s", e.Detail)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, " (%v)", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *CommandError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e.Kind.
func (e *CommandError) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf returns the Kind of err if it wraps a *CommandError.
func KindOf(err error) (Kind, bool) {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}
