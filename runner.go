package mql

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Runner drives whole job lifecycles: one submission, polling until the job
// is terminal, classification and, for queries, paging. A Runner holds no job
// state, so one Runner can serve many concurrent lifecycles.
//
// Callers that want to detach (submit now, poll or fetch later, possibly in
// another process) can use the stages returned by Submitter, Poller and
// Pager directly with a stored JobID.
type Runner struct {
	submitter *Submitter
	poller    *Poller
	pager     *Pager
	transport Transport
}

// NewRunner creates a Runner whose stages all share t.
func NewRunner(t Transport, opts ...PollerOption) *Runner {
	return &Runner{
		submitter: NewSubmitter(t),
		poller:    NewPoller(t, opts...),
		pager:     NewPager(t),
		transport: t,
	}
}

func (r *Runner) Submitter() *Submitter { return r.submitter }
func (r *Runner) Poller() *Poller       { return r.poller }
func (r *Runner) Pager() *Pager         { return r.pager }

// RunQuery runs a query to completion and returns the assembled table with
// any warnings the server attached to the successful job. The first failing
// stage's error is returned unchanged.
func (r *Runner) RunQuery(ctx context.Context, req *QueryRequest, timeout time.Duration) (*Table, []string, error) {
	id, err := r.submitter.SubmitQuery(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	snapshot, err := r.await(ctx, JobKindQuery, id, timeout)
	if err != nil {
		return nil, nil, err
	}
	table, err := r.pager.FetchAll(ctx, snapshot)
	if err != nil {
		return nil, nil, err
	}
	log.Debug().Str("job_id", id.String()).Int("rows", table.Len()).Int("warnings", len(snapshot.Warnings)).Msg("query complete")
	return table, snapshot.Warnings, nil
}

// RunMaterialization runs a materialization to completion and returns where
// the server wrote it.
func (r *Runner) RunMaterialization(ctx context.Context, req *MaterializationRequest, timeout time.Duration) (*MaterializationLocation, error) {
	id, err := r.submitter.SubmitMaterialization(ctx, req)
	if err != nil {
		return nil, err
	}
	if _, err := r.await(ctx, JobKindMaterialization, id, timeout); err != nil {
		return nil, err
	}
	loc, err := r.Location(ctx, id)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("job_id", id.String()).Str("table", loc.FullName()).Msg("materialization complete")
	return loc, nil
}

// Location returns where a successful materialization job wrote its table.
// It is the detached counterpart of the last stage of RunMaterialization.
func (r *Runner) Location(ctx context.Context, id JobID) (*MaterializationLocation, error) {
	const op = "get materialization location"
	loc, err := r.transport.GetMaterializationLocation(ctx, id)
	if err != nil {
		return nil, wrapCallError(ctx, op, id, err)
	}
	if loc == nil {
		return nil, &Error{Kind: KindProtocol, JobID: id, Op: op, Message: "empty location response"}
	}
	return loc, nil
}

// RunValidation runs a model validation to completion and returns its
// warnings. Validation errors come back as a KindQueryRuntime error.
func (r *Runner) RunValidation(ctx context.Context, req *ValidationRequest, timeout time.Duration) ([]string, error) {
	id, err := r.submitter.SubmitValidation(ctx, req)
	if err != nil {
		return nil, err
	}
	snapshot, err := r.await(ctx, JobKindValidation, id, timeout)
	if err != nil {
		return nil, err
	}
	return snapshot.Warnings, nil
}

// Await polls an already submitted job and classifies its outcome. It is the
// detached counterpart of the Run methods and returns the successful
// snapshot, from which the caller may page results.
func (r *Runner) Await(ctx context.Context, kind JobKind, id JobID, timeout time.Duration) (*JobStatusSnapshot, error) {
	return r.await(ctx, kind, id, timeout)
}

func (r *Runner) await(ctx context.Context, kind JobKind, id JobID, timeout time.Duration) (*JobStatusSnapshot, error) {
	start := time.Now()
	snapshot, err := r.poller.PollUntilTerminal(ctx, kind, id, timeout)
	if err != nil {
		return nil, err
	}
	if ok, err := ClassifyAfter(snapshot, time.Since(start)); !ok {
		return nil, err
	}
	return snapshot, nil
}
