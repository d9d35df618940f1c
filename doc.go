// Package mql provides a Go client library for MQL servers, which evaluate
// metric queries, materializations and model validations as asynchronous
// jobs.
//
// Every job follows the same lifecycle: a single submission returns a job
// id, the status endpoint is polled with geometric backoff until the job is
// terminal, the terminal status is classified, and for queries the result is
// read page by page with a server-issued cursor.
//
// # Getting Started
//
// Create a client and run a query to completion:
//
//	client, err := mql.NewClient("https://api.transformdata.io", apiKey)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	runner := mql.NewRunner(client)
//	table, warnings, err := runner.RunQuery(ctx, &mql.QueryRequest{
//	    Metrics:    []string{"bookings"},
//	    Dimensions: []string{"ds"},
//	}, time.Minute)
//
// # Errors
//
// Every stage reports failures as an *Error whose Kind is one of a fixed
// set. Use errors.Is with the ErrX sentinels, or KindOf:
//
//	switch mql.KindOf(err) {
//	case mql.KindTimeoutExceeded:
//	    // the job may still finish on the server; keep the job id
//	case mql.KindQueryRuntime:
//	    // the server rejected or failed the job
//	}
//
// # Detached Jobs
//
// A job id outlives the process that submitted it, within the server's
// retention window. Submit now and collect later with the individual stages:
//
//	id, err := runner.Submitter().SubmitQuery(ctx, req)
//	// ... later, possibly elsewhere
//	snapshot, err := runner.Await(ctx, mql.JobKindQuery, id, time.Minute)
//	table, err := runner.Pager().FetchAll(ctx, snapshot)
//
// # Authentication
//
// API keys are sent as Bearer tokens. The mqlauth/oauth2 and mqlauth/kerberos
// packages provide RequestOptions for other schemes, and mqltest provides an
// in-process server for tests.
package mql
