package mql

import (
	"context"
)

// Transport issues single remote calls against the query service. Each call
// either completes or fails; retrying a call is the transport's own business,
// never the lifecycle's. *Client is the HTTP implementation.
type Transport interface {
	SubmitQuery(ctx context.Context, req *QueryRequest) (JobID, error)
	SubmitMaterialization(ctx context.Context, req *MaterializationRequest) (JobID, error)
	SubmitValidation(ctx context.Context, req *ValidationRequest) (JobID, error)

	// GetQueryStatus polls a query job.
	GetQueryStatus(ctx context.Context, id JobID) (*JobStatusSnapshot, error)
	// GetJobStatus polls a materialization or validation job.
	GetJobStatus(ctx context.Context, id JobID) (*JobStatusSnapshot, error)

	GetPage(ctx context.Context, id JobID, cursor int) (*ResultPage, error)
	GetMaterializationLocation(ctx context.Context, id JobID) (*MaterializationLocation, error)
}

var _ Transport = (*Client)(nil)
