package mql

import (
	"fmt"
	"time"
)

// Classify maps a terminal snapshot to its outcome. It returns (true, nil)
// only for StatusSuccessful; warnings on a successful snapshot are left for
// the caller and never turn into errors.
//
// A snapshot does not record how long it was polled for, so a
// KindTimeoutExceeded error from Classify has a zero Elapsed. Use
// ClassifyAfter when the polling time is known.
func Classify(snapshot *JobStatusSnapshot) (bool, error) {
	return ClassifyAfter(snapshot, 0)
}

// ClassifyAfter is Classify for a snapshot observed after elapsed of
// polling; elapsed is reported on a KindTimeoutExceeded error.
func ClassifyAfter(snapshot *JobStatusSnapshot, elapsed time.Duration) (bool, error) {
	if snapshot == nil {
		return false, &Error{Kind: KindInvalidState, Op: "classify", Message: "no status snapshot"}
	}
	id := snapshot.JobID
	switch snapshot.Status {
	case StatusSuccessful:
		return true, nil
	case StatusFailed, StatusUnhandledException:
		msg := snapshot.ErrorMessage()
		if msg == "" {
			msg = fallbackFailureMessage(snapshot)
		}
		return false, &Error{Kind: KindQueryRuntime, JobID: id, Message: msg}
	case StatusUnknown:
		return false, &Error{
			Kind:    KindJobNotFound,
			JobID:   id,
			Message: "the job id was never valid or has expired from server-side tracking",
		}
	case StatusTimedOut:
		return false, &Error{Kind: KindTimeoutExceeded, JobID: id, Elapsed: elapsed}
	}
	return false, &Error{
		Kind:    KindInvalidState,
		JobID:   id,
		Op:      "classify",
		Message: fmt.Sprintf("job is still %s", snapshot.Status),
	}
}

func fallbackFailureMessage(snapshot *JobStatusSnapshot) string {
	what := "failed"
	if snapshot.Status == StatusUnhandledException {
		what = "crashed with an unhandled exception"
	}
	return fmt.Sprintf("job %s without an error message; the server logs for job id %s have the details",
		what, snapshot.JobID)
}
