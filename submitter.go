package mql

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Submitter turns requests into job ids with exactly one transport call.
// Submissions are not idempotent, so a failed call is returned as is and
// never retried here.
type Submitter struct {
	transport Transport
}

// NewSubmitter creates a Submitter over t.
func NewSubmitter(t Transport) *Submitter {
	return &Submitter{transport: t}
}

// SubmitQuery submits a tabular query job.
func (s *Submitter) SubmitQuery(ctx context.Context, req *QueryRequest) (JobID, error) {
	if req == nil || len(req.Metrics) == 0 {
		return "", &Error{Kind: KindInvalidState, Op: "submit query", Message: "a query needs at least one metric"}
	}
	id, err := s.transport.SubmitQuery(ctx, req)
	if err != nil {
		return "", wrapCallError(ctx, "submit query", "", err)
	}
	log.Debug().Str("job_id", id.String()).Strs("metrics", req.Metrics).Msg("submitted query")
	return id, nil
}

// SubmitMaterialization submits a materialization job.
func (s *Submitter) SubmitMaterialization(ctx context.Context, req *MaterializationRequest) (JobID, error) {
	if req == nil || req.Name == "" {
		return "", &Error{Kind: KindInvalidState, Op: "submit materialization", Message: "a materialization name is required"}
	}
	id, err := s.transport.SubmitMaterialization(ctx, req)
	if err != nil {
		return "", wrapCallError(ctx, "submit materialization", "", err)
	}
	log.Debug().Str("job_id", id.String()).Str("materialization", req.Name).Msg("submitted materialization")
	return id, nil
}

// SubmitValidation submits a model validation job.
func (s *Submitter) SubmitValidation(ctx context.Context, req *ValidationRequest) (JobID, error) {
	if req == nil {
		return "", &Error{Kind: KindInvalidState, Op: "submit validation", Message: "no validation request"}
	}
	id, err := s.transport.SubmitValidation(ctx, req)
	if err != nil {
		return "", wrapCallError(ctx, "submit validation", "", err)
	}
	log.Debug().Str("job_id", id.String()).Msg("submitted validation")
	return id, nil
}
