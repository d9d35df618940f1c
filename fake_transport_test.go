package mql

import (
	"context"
	"fmt"
	"sync"
)

// fakeTransport scripts transport responses for stage-level tests.
type fakeTransport struct {
	mu sync.Mutex

	submitID  JobID
	submitErr error
	submits   int

	// statuses are returned in order; the last one repeats.
	statuses    []JobStatus
	statusErr   error
	statusCalls int
	statusKinds []string

	pages   map[int]*ResultPage
	pageErr error
	cursors []int

	location *MaterializationLocation
	// nilLocation makes GetMaterializationLocation answer (nil, nil).
	nilLocation bool
}

func (f *fakeTransport) submit() (JobID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return f.submitID, nil
}

func (f *fakeTransport) SubmitQuery(context.Context, *QueryRequest) (JobID, error) {
	return f.submit()
}

func (f *fakeTransport) SubmitMaterialization(context.Context, *MaterializationRequest) (JobID, error) {
	return f.submit()
}

func (f *fakeTransport) SubmitValidation(context.Context, *ValidationRequest) (JobID, error) {
	return f.submit()
}

func (f *fakeTransport) status(kind string, id JobID) (*JobStatusSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	f.statusKinds = append(f.statusKinds, kind)
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	if len(f.statuses) == 0 {
		return nil, fmt.Errorf("no status scripted")
	}
	i := f.statusCalls - 1
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	return &JobStatusSnapshot{JobID: id, Status: f.statuses[i]}, nil
}

func (f *fakeTransport) GetQueryStatus(_ context.Context, id JobID) (*JobStatusSnapshot, error) {
	return f.status("query", id)
}

func (f *fakeTransport) GetJobStatus(_ context.Context, id JobID) (*JobStatusSnapshot, error) {
	return f.status("job", id)
}

func (f *fakeTransport) GetPage(_ context.Context, _ JobID, cursor int) (*ResultPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursors = append(f.cursors, cursor)
	if f.pageErr != nil {
		return nil, f.pageErr
	}
	page, ok := f.pages[cursor]
	if !ok {
		return nil, fmt.Errorf("no page at cursor %d", cursor)
	}
	return page, nil
}

func (f *fakeTransport) GetMaterializationLocation(context.Context, JobID) (*MaterializationLocation, error) {
	if f.nilLocation {
		return nil, nil
	}
	if f.location == nil {
		return nil, fmt.Errorf("no location scripted")
	}
	return f.location, nil
}

func (f *fakeTransport) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls
}

func cursorPtr(n int) *int { return &n }
