// Package xerrors defines the typed error taxonomy shared by every extio
// package. All constructors wrap a sentinel with a captured stack trace via
// godropbox/errors, so callers can both match on the sentinel (errors.Is)
// and print a trace for diagnostics.
package xerrors

import (
	"fmt"

	"github.com/dropbox/godropbox/errors"
)

// Sentinel is a taxonomy member. Errors built by Wrap satisfy
// errors.Is(err, sentinel) because they unwrap to the sentinel.
type Sentinel struct {
	name string
}

func (s *Sentinel) Error() string { return s.name }

var (
	ErrNotFound            = &Sentinel{"not found"}
	ErrPermission          = &Sentinel{"permission denied"}
	ErrIO                  = &Sentinel{"i/o error"}
	ErrFormat              = &Sentinel{"bad stream format"}
	ErrVersion             = &Sentinel{"stream version mismatch"}
	ErrShape               = &Sentinel{"stream shape mismatch"}
	ErrUncleanClose        = &Sentinel{"stream was not closed cleanly"}
	ErrEndOfStream         = &Sentinel{"end of stream"}
	ErrAccess              = &Sentinel{"stream does not support this access mode"}
	ErrResourceExhausted   = &Sentinel{"resource exhausted"}
	ErrCycle               = &Sentinel{"cycle in dependency graph"}
	ErrNoInitiator         = &Sentinel{"phase has no initiator"}
	ErrMultipleInitiators  = &Sentinel{"phase has more than one initiator"}
)

// Wrap builds an error whose message is sentinel's name plus the formatted
// detail (if any), with a captured stack trace, such that
// errors.Is(Wrap(sentinel, format, args...), sentinel) holds.
func Wrap(sentinel *Sentinel, format string, args ...interface{}) error {
	msg := sentinel.name
	if format != "" {
		msg = fmt.Sprintf("%s: %s", sentinel.name, fmt.Sprintf(format, args...))
	}
	return &wrapped{sentinel: sentinel, err: errors.New(msg)}
}

type wrapped struct {
	sentinel *Sentinel
	err      error
}

func (w *wrapped) Error() string { return w.err.Error() }

// Unwrap exposes the sentinel so the standard library's errors.Is/errors.As
// work on values returned by Wrap.
func (w *wrapped) Unwrap() error { return w.sentinel }

// Assert panics with a captured stack trace if cond is false. Reserved for
// programming errors (violated invariants), never for expected I/O or
// user-input failures.
func Assert(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(errors.New(fmt.Sprintf(format, args...)))
	}
}
