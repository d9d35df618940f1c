package mql

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// BackoffPolicy is the geometric delay between status polls: Seed first,
// multiplied by Factor after each poll, never above Ceiling.
type BackoffPolicy struct {
	Seed    time.Duration
	Factor  float64
	Ceiling time.Duration
}

var (
	// QueryBackoff suits short interactive queries.
	QueryBackoff = BackoffPolicy{Seed: 100 * time.Millisecond, Factor: 1.5, Ceiling: 5 * time.Second}
	// JobBackoff suits materialization and validation jobs, which usually
	// run for minutes.
	JobBackoff = BackoffPolicy{Seed: time.Second, Factor: 1.5, Ceiling: 30 * time.Second}
)

// Next returns the interval that follows d.
func (p BackoffPolicy) Next(d time.Duration) time.Duration {
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	next := time.Duration(float64(d) * factor)
	if p.Ceiling > 0 && next > p.Ceiling {
		next = p.Ceiling
	}
	return next
}

func (p BackoffPolicy) validate() error {
	if p.Seed <= 0 {
		return fmt.Errorf("backoff seed must be positive, got %s", p.Seed)
	}
	if p.Ceiling > 0 && p.Ceiling < p.Seed {
		return fmt.Errorf("backoff ceiling %s is below seed %s", p.Ceiling, p.Seed)
	}
	return nil
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithBackoff overrides the backoff policy used for kind.
func WithBackoff(kind JobKind, policy BackoffPolicy) PollerOption {
	return func(p *Poller) {
		p.policies[kind] = policy
	}
}

// Poller waits for jobs to reach a terminal status.
type Poller struct {
	transport Transport
	policies  map[JobKind]BackoffPolicy
}

// NewPoller creates a Poller over t with QueryBackoff for query jobs and
// JobBackoff for the others.
func NewPoller(t Transport, opts ...PollerOption) *Poller {
	p := &Poller{
		transport: t,
		policies: map[JobKind]BackoffPolicy{
			JobKindQuery:           QueryBackoff,
			JobKindMaterialization: JobBackoff,
			JobKindValidation:      JobBackoff,
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Policy returns the backoff policy used for kind.
func (p *Poller) Policy(kind JobKind) BackoffPolicy {
	return p.policies[kind]
}

func (p *Poller) statusFunc(kind JobKind) func(context.Context, JobID) (*JobStatusSnapshot, error) {
	switch kind {
	case JobKindQuery:
		return p.transport.GetQueryStatus
	case JobKindMaterialization, JobKindValidation:
		return p.transport.GetJobStatus
	}
	return nil
}

// PollUntilTerminal polls the status of id until it is terminal and returns
// that snapshot unmodified; deciding success or failure is left to Classify.
//
// timeout is a wall-clock budget measured from the first poll, zero meaning
// unbounded. When it runs out before a terminal status is seen the result is
// a KindTimeoutExceeded error and the server-side job is left running. ctx is
// checked before every poll and interrupts the sleep between polls; a status
// call already in flight is not interrupted by the budget.
func (p *Poller) PollUntilTerminal(ctx context.Context, kind JobKind, id JobID, timeout time.Duration) (*JobStatusSnapshot, error) {
	const op = "poll status"

	status := p.statusFunc(kind)
	if status == nil {
		return nil, &Error{Kind: KindInvalidState, JobID: id, Op: op, Message: fmt.Sprintf("unsupported job kind %d", kind)}
	}
	policy := p.policies[kind]
	if err := policy.validate(); err != nil {
		return nil, &Error{Kind: KindInvalidState, JobID: id, Op: op, Err: err}
	}
	if id == "" {
		return nil, &Error{Kind: KindInvalidState, Op: op, Message: "empty job id"}
	}

	start := time.Now()
	interval := policy.Seed
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, canceledError(op, id, err)
		}

		snapshot, err := status(ctx, id)
		if err != nil {
			return nil, wrapCallError(ctx, op, id, err)
		}
		if snapshot == nil {
			return nil, &Error{Kind: KindProtocol, JobID: id, Op: op, Message: "empty status response"}
		}
		if snapshot.Status.IsTerminal() {
			log.Debug().Str("job_id", id.String()).Str("kind", kind.String()).
				Str("status", snapshot.Status.String()).Int("polls", attempt).
				Dur("elapsed", time.Since(start)).Msg("job reached terminal status")
			return snapshot, nil
		}

		sleep := interval
		if timeout > 0 {
			elapsed := time.Since(start)
			if elapsed >= timeout {
				return nil, &Error{Kind: KindTimeoutExceeded, JobID: id, Op: op, Elapsed: elapsed}
			}
			if remaining := timeout - elapsed; remaining < sleep {
				sleep = remaining
			}
		}

		log.Debug().Str("job_id", id.String()).Str("status", snapshot.Status.String()).
			Int("attempt", attempt).Dur("interval", sleep).Msg("job not finished, backing off")

		if err := sleepContext(ctx, sleep); err != nil {
			return nil, canceledError(op, id, err)
		}
		interval = policy.Next(interval)
	}
}
