// Package swarmerr defines the error kinds shared across the DHT,
// holepunch, and transport layers, wrapped in a single error type in the
// style of a sentinel-plus-wrap error package: construct with Kind.New or
// Kind.Wrap, inspect with errors.Is against the Kind sentinels below.
package swarmerr

import "fmt"

// Kind is a coarse error category, matching §7's error kind list. Kind
// itself implements error so it can be used directly as an errors.Is
// target (swarmerr.Timeout, not a separate ErrTimeout var).
type Kind string

const (
	ParseError          Kind = "parse_error"
	Timeout             Kind = "timeout"
	NoReachableBootstrap Kind = "no_reachable_bootstrap"
	NoCandidateReachable Kind = "no_candidate_reachable"
	HandshakeFailed     Kind = "handshake_failed"
	DecryptFailed       Kind = "decrypt_failed"
	ProtocolError       Kind = "protocol_error"
	Shutdown            Kind = "shutdown"
	Cancelled           Kind = "cancelled"
	Io                  Kind = "io"
)

func (k Kind) Error() string { return string(k) }

// Error wraps a Kind with the operation that failed and, optionally, the
// underlying cause. It implements Unwrap twice over: once to the wrapped
// Kind (so errors.Is(err, swarmerr.Timeout) works) and once to Err (so the
// original cause is still inspectable).
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() []error { return []error{e.Kind, e.Err} }

// New builds an *Error with no wrapped cause.
func (k Kind) New(op string) error { return &Error{Kind: k, Op: op} }

// Wrap builds an *Error carrying err as the underlying cause. Wrap(nil)
// returns nil, so it is safe to call unconditionally on a function's
// return path.
func (k Kind) Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: k, Op: op, Err: err}
}
