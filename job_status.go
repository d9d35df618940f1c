package mql

import (
	"strconv"

	"github.com/transform-data/mql-go/utils"
)

// JobStatus is the lifecycle state of a server-tracked job.
type JobStatus int8

const (
	// StatusPending means the job is accepted but not yet scheduled.
	StatusPending JobStatus = iota
	// StatusRunning means the job is executing.
	StatusRunning
	// StatusSuccessful means the job finished and its output is available.
	StatusSuccessful
	// StatusFailed means the server rejected or failed the job.
	StatusFailed
	// StatusUnhandledException means the job crashed on the server.
	StatusUnhandledException
	// StatusUnknown means the server does not recognize the job id, usually
	// because it expired from server-side tracking.
	StatusUnknown
	// StatusTimedOut is never sent by the server. It marks a job whose client
	// side polling budget ran out.
	StatusTimedOut
)

var jobStatusMap = utils.NewBiMap(map[JobStatus]string{
	StatusPending:            "PENDING",
	StatusRunning:            "RUNNING",
	StatusSuccessful:         "SUCCESSFUL",
	StatusFailed:             "FAILED",
	StatusUnhandledException: "UNHANDLED_EXCEPTION",
	StatusUnknown:            "UNKNOWN",
	StatusTimedOut:           "TIMED_OUT",
})

// IsTerminal reports whether no further transition can follow s.
func (s JobStatus) IsTerminal() bool {
	return s != StatusPending && s != StatusRunning
}

// HasOutcome reports whether s is terminal and carries a success or failure
// verdict. StatusUnknown is terminal without an outcome.
func (s JobStatus) HasOutcome() bool {
	return s.IsTerminal() && s != StatusUnknown
}

func (s JobStatus) String() string {
	if text, ok := jobStatusMap.Lookup(s); ok {
		return text
	}
	return "JobStatus(" + strconv.Itoa(int(s)) + ")"
}

// ParseJobStatus parses the wire form of a status, e.g. "RUNNING".
func ParseJobStatus(str string) (JobStatus, error) {
	return jobStatusMap.Parse("job status", str)
}

// MarshalText implements the encoding.TextMarshaler interface.
func (s JobStatus) MarshalText() ([]byte, error) {
	text, err := jobStatusMap.Format("job status", s)
	return []byte(text), err
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (s *JobStatus) UnmarshalText(text []byte) error {
	var err error
	*s, err = ParseJobStatus(string(text))
	return err
}
