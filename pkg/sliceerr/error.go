/*
Copyright 2022 The Numaproj Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package sliceerr classifies the errors raised by the windowing engine. The kind tells the caller
// whether the operator instance must fail (Fatal), whether the error comes from exhausted or failing
// resources (Resource), or whether spilled state may be wrong (DataIntegrity).
package sliceerr

import (
	"errors"
	"fmt"
)

// ErrKind represents the class of the error
type ErrKind int16

const (
	Fatal         ErrKind = iota // configuration or invariant violation, the operator instance must fail
	Resource                     // descriptor/buffer exhaustion or I/O failure
	DataIntegrity                // malformed or corrupted spill data
	Rejected                     // the input was dropped, the operator keeps running
	Unknown                      // Unknown err kind
)

func (ek ErrKind) String() string {
	switch ek {
	case Fatal:
		return "Fatal"
	case Resource:
		return "Resource"
	case DataIntegrity:
		return "DataIntegrity"
	case Rejected:
		return "Rejected"
	case Unknown:
		return "Unknown"
	default:
		return "Unknown"
	}
}

// Error carries the kind of the failure, the operation that failed and the cause.
type Error struct {
	kind ErrKind
	op   string
	msg  string
	err  error
}

// New returns an Error of the given kind.
func New(kind ErrKind, op string, msg string) *Error {
	return &Error{
		kind: kind,
		op:   op,
		msg:  msg,
	}
}

// Wrap wraps err into an Error of the given kind. It returns nil if err is nil.
func Wrap(kind ErrKind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{
		kind: kind,
		op:   op,
		err:  err,
	}
}

func (e *Error) Error() string {
	switch {
	case e.err != nil && e.msg != "":
		return fmt.Sprintf("%s: %s: %s: %v", e.kind, e.op, e.msg, e.err)
	case e.err != nil:
		return fmt.Sprintf("%s: %s: %v", e.kind, e.op, e.err)
	default:
		return fmt.Sprintf("%s: %s: %s", e.kind, e.op, e.msg)
	}
}

func (e *Error) Unwrap() error {
	return e.err
}

// Kind returns the kind of the error.
func (e *Error) Kind() ErrKind {
	return e.kind
}

// Op returns the operation which failed.
func (e *Error) Op() string {
	return e.op
}

// WithCause returns a copy of a sentinel error that also wraps cause. errors.Is matches both
// the sentinel and the cause.
func (e *Error) WithCause(cause error) error {
	return &withCause{sentinel: e, cause: cause}
}

type withCause struct {
	sentinel *Error
	cause    error
}

func (w *withCause) Error() string {
	return fmt.Sprintf("%s: %v", w.sentinel.Error(), w.cause)
}

func (w *withCause) Unwrap() []error {
	return []error{w.sentinel, w.cause}
}

// KindOf returns the kind of the first *Error found in the chain of err, Unknown otherwise.
func KindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return Unknown
}

// IsFatal reports whether err must fail the operator instance.
func IsFatal(err error) bool {
	return err != nil && KindOf(err) == Fatal
}

// IsResource reports whether err is a resource error.
func IsResource(err error) bool {
	return err != nil && KindOf(err) == Resource
}

// IsDataIntegrity reports whether err signals corrupted spill data.
func IsDataIntegrity(err error) bool {
	return err != nil && KindOf(err) == DataIntegrity
}

// Sentinel errors shared by the engine packages.
var (
	ErrNotStarted          = New(Fatal, "handler", "operator handler used before start")
	ErrWorkerThreadsNotSet = New(Fatal, "handler", "number of worker threads not set")
	ErrInvalidWorkerID     = New(Fatal, "handler", "worker id must not be negative")
	ErrSlotNotCreated      = New(Fatal, "slot", "slot was never created")
	ErrSlotKindMismatch    = New(Fatal, "slot", "slice does not hold the requested state kind")
	ErrStoreClosed         = New(Fatal, "slicestore", "slice store state has been deleted")
	ErrUnknownOrigin       = New(Fatal, "watermark", "unknown origin")
	ErrInvalidWindow       = New(Fatal, "window", "invalid window definition")
	ErrLateRecord          = New(Rejected, "slicestore", "all windows of the slice have already been emitted")
	ErrChecksumMismatch    = New(DataIntegrity, "spill", "data checksum not match")
	ErrNoBufferAvailable   = New(Resource, "spill", "no write buffer available")
)
