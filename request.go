package mql

import (
	"time"
)

// ModelKey pins the semantic model a request is evaluated against. Empty
// fields let the server pick the primary configuration.
type ModelKey struct {
	Organization string `json:"organization,omitempty"`
	Repo         string `json:"repo,omitempty"`
	Branch       string `json:"branch,omitempty"`
	Commit       string `json:"commit,omitempty"`
}

// QueryRequest describes a tabular metric query.
type QueryRequest struct {
	Metrics         []string   `json:"metrics"`
	Dimensions      []string   `json:"dimensions,omitempty"`
	Where           string     `json:"where,omitempty"`
	StartTime       *time.Time `json:"startTime,omitempty"`
	EndTime         *time.Time `json:"endTime,omitempty"`
	TimeGranularity string     `json:"timeGranularity,omitempty"`
	Limit           *int       `json:"limit,omitempty"`
	OrderBy         []string   `json:"orderBy,omitempty"`
	CacheMode       CacheMode  `json:"cacheMode"`
	ModelKey        *ModelKey  `json:"modelKey,omitempty"`
}

// MaterializationRequest asks the server to write a named materialization to
// the warehouse.
type MaterializationRequest struct {
	Name        string     `json:"materializationName"`
	StartTime   *time.Time `json:"startTime,omitempty"`
	EndTime     *time.Time `json:"endTime,omitempty"`
	OutputTable string     `json:"outputTable,omitempty"`
	Force       bool       `json:"force,omitempty"`
	ModelKey    *ModelKey  `json:"modelKey,omitempty"`
}

// ValidationRequest asks the server to validate the model identified by
// ModelKey.
type ValidationRequest struct {
	ModelKey ModelKey `json:"modelKey"`
}
