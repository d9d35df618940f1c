package mql

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKind is the closed set of failures a job lifecycle can end with.
type ErrorKind int8

const (
	// KindTransport means the service could not be reached or rejected the
	// call. It is never retried by the lifecycle.
	KindTransport ErrorKind = iota + 1
	// KindTimeoutExceeded means the client-side polling budget ran out. The
	// job may still be running on the server.
	KindTimeoutExceeded
	// KindJobNotFound means the server does not know the job id.
	KindJobNotFound
	// KindQueryRuntime means the server reported a failed or crashed job.
	KindQueryRuntime
	// KindProtocol means a response broke the paging or status contract,
	// usually a client/server version mismatch.
	KindProtocol
	// KindInvalidState means a stage was invoked out of order.
	KindInvalidState
	// KindCanceled means the caller's context stopped the lifecycle.
	KindCanceled
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport error"
	case KindTimeoutExceeded:
		return "timeout exceeded"
	case KindJobNotFound:
		return "job not found"
	case KindQueryRuntime:
		return "query runtime error"
	case KindProtocol:
		return "protocol error"
	case KindInvalidState:
		return "invalid state"
	case KindCanceled:
		return "canceled"
	}
	return "unknown error"
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrTransport       = &Error{Kind: KindTransport}
	ErrTimeoutExceeded = &Error{Kind: KindTimeoutExceeded}
	ErrJobNotFound     = &Error{Kind: KindJobNotFound}
	ErrQueryRuntime    = &Error{Kind: KindQueryRuntime}
	ErrProtocol        = &Error{Kind: KindProtocol}
	ErrInvalidState    = &Error{Kind: KindInvalidState}
	ErrCanceled        = &Error{Kind: KindCanceled}
)

// Error is returned by every lifecycle stage. JobID is set whenever a job
// exists so server logs can be correlated.
type Error struct {
	Kind ErrorKind

	// JobID is empty only when submission itself failed.
	JobID JobID

	// Op names the stage or transport call that failed, e.g. "get page".
	Op string

	// Message is the server-provided or client-generated explanation.
	Message string

	// Elapsed is the polling time spent, set for KindTimeoutExceeded.
	Elapsed time.Duration

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(" during ")
		b.WriteString(e.Op)
	}
	if e.JobID != "" {
		fmt.Fprintf(&b, " (job %s)", e.JobID)
	}
	if e.Kind == KindTimeoutExceeded {
		fmt.Fprintf(&b, " after %s", e.Elapsed.Round(time.Millisecond))
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.JobID == "" && t.Op == "" && t.Message == "" && t.Err == nil
}

// KindOf returns the ErrorKind of err, or 0 when err is nil or not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// wrapCallError turns a failure of a transport call into an *Error. Errors
// that are already classified pass through with the job id filled in.
func wrapCallError(ctx context.Context, op string, id JobID, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.JobID == "" && id != "" {
			cp := *e
			cp.JobID = id
			return &cp
		}
		return err
	}
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return &Error{Kind: KindCanceled, Op: op, JobID: id, Err: err}
	}
	return &Error{Kind: KindTransport, Op: op, JobID: id, Err: err}
}

func canceledError(op string, id JobID, err error) error {
	return &Error{Kind: KindCanceled, Op: op, JobID: id, Err: err}
}

// ErrorResponse is a non-200 reply from the service.
type ErrorResponse struct {
	StatusCode int

	// Message is the response body, trimmed.
	Message string

	// RequestID echoes the X-Request-Id sent with the call.
	RequestID string
}

func (e *ErrorResponse) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("mql server error (status code: %d)", e.StatusCode)
	}
	return fmt.Sprintf("mql server error: %s (status code: %d)", e.Message, e.StatusCode)
}
