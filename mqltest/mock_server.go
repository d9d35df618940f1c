// Package mqltest provides an in-process MQL server for tests.
package mqltest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mql "github.com/transform-data/mql-go"
)

// --- Data Models ---

// MockJobTemplate is the blueprint for jobs created by a matching submission.
//
// Status progression: the first PendingPolls status calls answer PENDING, the
// next RunningPolls answer RUNNING and every later call answers Status
// (SUCCESSFUL when unset).
//
// Paging: Data is served PageSize rows at a time. The cursor is the row
// offset of the page, so cursors run 0, PageSize, 2*PageSize, ... and the
// last page carries no next cursor. A PageSize of zero serves everything in
// one page.
type MockJobTemplate struct {
	PendingPolls int
	RunningPolls int
	Status       mql.JobStatus
	Error        string
	Warnings     []string

	Columns  []mql.Column
	Data     [][]any
	PageSize int

	Location *mql.MaterializationLocation

	// Latency is added to every request for this job.
	Latency time.Duration
}

// MockJob is a live job created from a template.
type MockJob struct {
	ID         mql.JobID
	Kind       mql.JobKind
	Template   *MockJobTemplate
	StatusHits int
	Cursors    []int
}

func (j *MockJob) currentStatus() mql.JobStatus {
	t := j.Template
	switch {
	case j.StatusHits <= t.PendingPolls:
		return mql.StatusPending
	case j.StatusHits <= t.PendingPolls+t.RunningPolls:
		return mql.StatusRunning
	case t.Status == mql.StatusPending:
		// Zero value of JobStatus; the template did not set one.
		return mql.StatusSuccessful
	}
	return t.Status
}

// --- Mock Server Implementation ---

// MockServer simulates the MQL server's job endpoints.
type MockServer struct {
	server *httptest.Server

	templates map[string]*MockJobTemplate
	jobs      map[mql.JobID]*MockJob

	mu sync.Mutex

	apiKey        string
	submitFailure int
	submissions   atomic.Int64
	jobCounter    atomic.Int64
}

// NewMockServer starts a mock server. Close must be called when done.
func NewMockServer() *MockServer {
	m := &MockServer{
		templates: make(map[string]*MockJobTemplate),
		jobs:      make(map[mql.JobID]*MockJob),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/queries", m.handleSubmitQuery)
	mux.HandleFunc("POST /v1/materializations", m.handleSubmitMaterialization)
	mux.HandleFunc("POST /v1/validations", m.handleSubmitValidation)
	mux.HandleFunc("GET /v1/queries/{id}/status", m.handleStatus)
	mux.HandleFunc("GET /v1/jobs/{id}/status", m.handleStatus)
	mux.HandleFunc("GET /v1/queries/{id}/results", m.handleResults)
	mux.HandleFunc("GET /v1/materializations/{id}/location", m.handleLocation)
	mux.HandleFunc("GET /v1/health", m.handleHealth)

	m.server = httptest.NewServer(m.authenticate(mux))
	return m
}

// QueryKey is the template key of a query: its metrics joined by commas.
func QueryKey(metrics ...string) string {
	return "query:" + strings.Join(metrics, ",")
}

// AddQuery registers the template used for queries on metrics.
func (m *MockServer) AddQuery(metrics []string, tmpl *MockJobTemplate) {
	m.addTemplate(QueryKey(metrics...), tmpl)
}

// AddMaterialization registers the template used for the named
// materialization.
func (m *MockServer) AddMaterialization(name string, tmpl *MockJobTemplate) {
	m.addTemplate("materialization:"+name, tmpl)
}

// SetValidation registers the template used for every validation.
func (m *MockServer) SetValidation(tmpl *MockJobTemplate) {
	m.addTemplate("validation", tmpl)
}

func (m *MockServer) addTemplate(key string, tmpl *MockJobTemplate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tmpl.PageSize < 0 {
		tmpl.PageSize = 0
	}
	m.templates[key] = tmpl
}

// RequireAPIKey makes every endpoint answer 401 unless the request carries
// "Authorization: Bearer <key>".
func (m *MockServer) RequireAPIKey(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apiKey = key
}

// FailSubmissions makes every submission answer with the given HTTP status.
// Zero restores normal behavior.
func (m *MockServer) FailSubmissions(statusCode int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitFailure = statusCode
}

// ExpireJob forgets a job, as the real server does after its retention
// window.
func (m *MockServer) ExpireJob(id mql.JobID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
}

// Submissions counts submission requests received, failed ones included.
func (m *MockServer) Submissions() int {
	return int(m.submissions.Load())
}

// StatusCalls returns how many status polls a job has received.
func (m *MockServer) StatusCalls(id mql.JobID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		return j.StatusHits
	}
	return 0
}

// PageCursors returns the cursors of the page requests a job received, in
// order.
func (m *MockServer) PageCursors(id mql.JobID) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		return append([]int(nil), j.Cursors...)
	}
	return nil
}

// --- Request Handlers ---

func (m *MockServer) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		key := m.apiKey
		m.mu.Unlock()
		if key != "" && r.Header.Get("Authorization") != "Bearer "+key {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *MockServer) handleSubmitQuery(w http.ResponseWriter, r *http.Request) {
	var req mql.QueryRequest
	if !m.decodeSubmission(w, r, &req) {
		return
	}
	m.createJob(w, mql.JobKindQuery, "q", QueryKey(req.Metrics...))
}

func (m *MockServer) handleSubmitMaterialization(w http.ResponseWriter, r *http.Request) {
	var req mql.MaterializationRequest
	if !m.decodeSubmission(w, r, &req) {
		return
	}
	m.createJob(w, mql.JobKindMaterialization, "m", "materialization:"+req.Name)
}

func (m *MockServer) handleSubmitValidation(w http.ResponseWriter, r *http.Request) {
	var req mql.ValidationRequest
	if !m.decodeSubmission(w, r, &req) {
		return
	}
	m.createJob(w, mql.JobKindValidation, "v", "validation")
}

func (m *MockServer) decodeSubmission(w http.ResponseWriter, r *http.Request, v any) bool {
	m.submissions.Add(1)

	m.mu.Lock()
	failure := m.submitFailure
	m.mu.Unlock()
	if failure != 0 {
		writeJSON(w, failure, map[string]string{"error": http.StatusText(failure)})
		return false
	}

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return false
	}
	return true
}

func (m *MockServer) createJob(w http.ResponseWriter, kind mql.JobKind, prefix, key string) {
	m.mu.Lock()
	tmpl, ok := m.templates[key]
	if !ok {
		tmpl = &MockJobTemplate{
			Columns: []mql.Column{{Name: "result", Type: "varchar"}},
			Data:    [][]any{{"job template not found; default success"}},
		}
	}
	id := mql.JobID(fmt.Sprintf("%s-%d", prefix, m.jobCounter.Add(1)))
	m.jobs[id] = &MockJob{ID: id, Kind: kind, Template: tmpl}
	m.mu.Unlock()

	sleep(tmpl.Latency)
	writeJSON(w, http.StatusOK, map[string]string{"jobId": string(id)})
}

func (m *MockServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := mql.JobID(r.PathValue("id"))

	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	job.StatusHits++
	status := job.currentStatus()
	snapshot := mql.JobStatusSnapshot{JobID: id, Status: status}
	if status.IsTerminal() {
		if job.Template.Error != "" {
			msg := job.Template.Error
			snapshot.Error = &msg
		}
		snapshot.Warnings = job.Template.Warnings
	}
	latency := job.Template.Latency
	m.mu.Unlock()

	sleep(latency)
	writeJSON(w, http.StatusOK, snapshot)
}

func (m *MockServer) handleResults(w http.ResponseWriter, r *http.Request) {
	id := mql.JobID(r.PathValue("id"))
	cursor, err := strconv.Atoi(r.URL.Query().Get("cursor"))
	if err != nil || cursor < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid cursor"})
		return
	}

	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	if job.currentStatus() != mql.StatusSuccessful || job.StatusHits == 0 {
		m.mu.Unlock()
		writeJSON(w, http.StatusConflict, map[string]string{"error": "job has no results"})
		return
	}
	job.Cursors = append(job.Cursors, cursor)
	tmpl := job.Template
	m.mu.Unlock()

	total := len(tmpl.Data)
	if cursor > total {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "cursor out of range"})
		return
	}
	end := total
	if tmpl.PageSize > 0 && cursor+tmpl.PageSize < total {
		end = cursor + tmpl.PageSize
	}

	page := mql.ResultPage{Columns: tmpl.Columns, Rows: make([]mql.Row, 0, end-cursor)}
	for _, row := range tmpl.Data[cursor:end] {
		page.Rows = append(page.Rows, mql.Row(row))
	}
	if end < total {
		next := end
		page.NextCursor = &next
	}

	sleep(tmpl.Latency)
	writeJSON(w, http.StatusOK, page)
}

func (m *MockServer) handleLocation(w http.ResponseWriter, r *http.Request) {
	id := mql.JobID(r.PathValue("id"))

	m.mu.Lock()
	job, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok || job.Kind != mql.JobKindMaterialization {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "materialization not found"})
		return
	}
	loc := job.Template.Location
	if loc == nil {
		loc = &mql.MaterializationLocation{Schema: "mql_materializations", Table: string(id)}
	}
	writeJSON(w, http.StatusOK, loc)
}

func (m *MockServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	running := len(m.jobs)
	m.mu.Unlock()
	writeJSON(w, http.StatusOK, mql.ServerInfo{Status: "ok", Version: "mock", RunningJobs: running})
}

// --- Helpers ---

// writeJSON encodes v as JSON and writes it to the response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

func sleep(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}

// URL returns the base URL of the mock server.
func (m *MockServer) URL() string { return m.server.URL }

// Close shuts down the mock server.
func (m *MockServer) Close() { m.server.Close() }
