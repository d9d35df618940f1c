package mql

import (
	"slices"
)

// JobID is the opaque handle the service returns for a submitted job. It can
// be stored and handed to another process, but the server only keeps jobs for
// its own retention window.
type JobID string

func (id JobID) String() string { return string(id) }

// JobKind selects which status endpoint and backoff policy apply to a job.
type JobKind int8

const (
	// JobKindQuery is a short tabular query job.
	JobKindQuery JobKind = iota
	// JobKindMaterialization writes a metric dataset to a warehouse table.
	JobKindMaterialization
	// JobKindValidation checks a model configuration on the server.
	JobKindValidation
)

func (k JobKind) String() string {
	switch k {
	case JobKindQuery:
		return "query"
	case JobKindMaterialization:
		return "materialization"
	case JobKindValidation:
		return "validation"
	}
	return "unknown"
}

// JobStatusSnapshot is the result of one status poll. A snapshot is never
// modified; the next poll produces a new one.
type JobStatusSnapshot struct {
	JobID    JobID     `json:"jobId"`
	Status   JobStatus `json:"status"`
	Error    *string   `json:"error,omitempty"`
	Warnings []string  `json:"warnings,omitempty"`
}

// ErrorMessage returns the server error text, or "" when none was sent.
func (s *JobStatusSnapshot) ErrorMessage() string {
	if s == nil || s.Error == nil {
		return ""
	}
	return *s.Error
}

// Column describes one column of a result table.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Row is one result row, ordered like the table's columns.
type Row []any

// ResultPage is one chunk of a tabular result. A nil NextCursor marks the
// final page.
type ResultPage struct {
	Columns    []Column `json:"columns,omitempty"`
	Rows       []Row    `json:"rows"`
	NextCursor *int     `json:"nextCursor,omitempty"`
}

// HasMore reports whether another page follows this one.
func (p *ResultPage) HasMore() bool {
	return p != nil && p.NextCursor != nil
}

// Table is a fully assembled result.
type Table struct {
	Columns []Column
	Rows    []Row
}

// ColumnNames returns the column names in order.
func (t *Table) ColumnNames() []string {
	if t == nil {
		return nil
	}
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

func sameSchema(a, b []Column) bool {
	return slices.Equal(a, b)
}

// MaterializationLocation names the warehouse table a materialization wrote.
type MaterializationLocation struct {
	Schema string `json:"schema"`
	Table  string `json:"table"`
}

// FullName returns "schema.table".
func (l *MaterializationLocation) FullName() string {
	if l.Schema == "" {
		return l.Table
	}
	return l.Schema + "." + l.Table
}
