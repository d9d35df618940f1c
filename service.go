package mql

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// submitResponse is the body returned by every submission endpoint.
type submitResponse struct {
	JobID JobID `json:"jobId"`
}

// statusResponse and pageResponse use pointers for the fields a reply must
// carry, so a missing field is told apart from a zero value.
type statusResponse struct {
	JobID    JobID      `json:"jobId"`
	Status   *JobStatus `json:"status"`
	Error    *string    `json:"error"`
	Warnings []string   `json:"warnings"`
}

type pageResponse struct {
	Columns    []Column `json:"columns"`
	Rows       *[]Row   `json:"rows"`
	NextCursor *int     `json:"nextCursor"`
}

func (c *Client) submit(ctx context.Context, path string, body any, opts ...RequestOption) (JobID, error) {
	req, err := c.NewRequest(http.MethodPost, path, body, opts...)
	if err != nil {
		return "", err
	}
	var out submitResponse
	if _, err := c.Do(ctx, req, &out); err != nil {
		return "", err
	}
	if out.JobID == "" {
		return "", &Error{Kind: KindProtocol, Op: "submit", Message: "server returned an empty job id"}
	}
	return out.JobID, nil
}

// SubmitQuery creates a query job.
//
// Example:
//
//	id, err := client.SubmitQuery(ctx, &mql.QueryRequest{
//	    Metrics:    []string{"bookings"},
//	    Dimensions: []string{"ds"},
//	})
func (c *Client) SubmitQuery(ctx context.Context, req *QueryRequest) (JobID, error) {
	return c.submit(ctx, "v1/queries", req)
}

// SubmitMaterialization creates a materialization job.
func (c *Client) SubmitMaterialization(ctx context.Context, req *MaterializationRequest) (JobID, error) {
	return c.submit(ctx, "v1/materializations", req)
}

// SubmitValidation creates a model validation job.
func (c *Client) SubmitValidation(ctx context.Context, req *ValidationRequest) (JobID, error) {
	return c.submit(ctx, "v1/validations", req)
}

// GetQueryStatus fetches the current status of a query job. A 404 from the
// server is reported as a StatusUnknown snapshot rather than an error.
func (c *Client) GetQueryStatus(ctx context.Context, id JobID) (*JobStatusSnapshot, error) {
	return c.getStatus(ctx, fmt.Sprintf("v1/queries/%s/status", url.PathEscape(string(id))), id)
}

// GetJobStatus fetches the current status of a materialization or
// validation job.
func (c *Client) GetJobStatus(ctx context.Context, id JobID) (*JobStatusSnapshot, error) {
	return c.getStatus(ctx, fmt.Sprintf("v1/jobs/%s/status", url.PathEscape(string(id))), id)
}

func (c *Client) getStatus(ctx context.Context, path string, id JobID) (*JobStatusSnapshot, error) {
	req, err := c.NewRequest(http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var out statusResponse
	if _, err := c.Do(ctx, req, &out); err != nil {
		var errResp *ErrorResponse
		if errors.As(err, &errResp) && errResp.StatusCode == http.StatusNotFound {
			return &JobStatusSnapshot{JobID: id, Status: StatusUnknown}, nil
		}
		return nil, err
	}
	if out.Status == nil {
		return nil, &Error{Kind: KindProtocol, JobID: id, Op: "get status", Message: "status response has no status field"}
	}
	snapshot := &JobStatusSnapshot{JobID: out.JobID, Status: *out.Status, Error: out.Error, Warnings: out.Warnings}
	if snapshot.JobID == "" {
		snapshot.JobID = id
	}
	return snapshot, nil
}

// GetPage fetches the page of a query result starting at cursor. The first
// page is at cursor 0; later cursors come from ResultPage.NextCursor.
func (c *Client) GetPage(ctx context.Context, id JobID, cursor int) (*ResultPage, error) {
	path := fmt.Sprintf("v1/queries/%s/results?cursor=%s", url.PathEscape(string(id)), strconv.Itoa(cursor))
	req, err := c.NewRequest(http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var out pageResponse
	if _, err := c.Do(ctx, req, &out); err != nil {
		return nil, err
	}
	if out.Rows == nil {
		return nil, &Error{Kind: KindProtocol, JobID: id, Op: "get page", Message: fmt.Sprintf("page at cursor %d has no rows field", cursor)}
	}
	return &ResultPage{Columns: out.Columns, Rows: *out.Rows, NextCursor: out.NextCursor}, nil
}

// GetMaterializationLocation returns the table a finished materialization
// wrote to.
func (c *Client) GetMaterializationLocation(ctx context.Context, id JobID) (*MaterializationLocation, error) {
	req, err := c.NewRequest(http.MethodGet, fmt.Sprintf("v1/materializations/%s/location", url.PathEscape(string(id))), nil)
	if err != nil {
		return nil, err
	}
	loc := new(MaterializationLocation)
	if _, err := c.Do(ctx, req, loc); err != nil {
		return nil, err
	}
	if loc.Table == "" {
		return nil, &Error{Kind: KindProtocol, JobID: id, Op: "get materialization location", Message: "server returned an empty table name"}
	}
	return loc, nil
}
