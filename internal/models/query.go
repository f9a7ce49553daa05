// Boreal - Real-Time Astronomical Alert Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/boreal

package models

import (
	"time"

	"github.com/google/uuid"
)

// JobState is the lifecycle state of a query job.
// Transitions: queued -> running -> {succeeded, failed, expired}.
// Terminal states are final; all transitions are conditional on the
// current state so the executor and the reaper cannot both win.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
	JobExpired   JobState = "expired"
)

// Terminal reports whether the state is final.
func (s JobState) Terminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobExpired:
		return true
	}
	return false
}

// Valid reports whether s is a known job state.
func (s JobState) Valid() bool {
	switch s {
	case JobQueued, JobRunning, JobSucceeded, JobFailed, JobExpired:
		return true
	}
	return false
}

// QueryOperation identifies the kind of read a query job performs against
// the alert store.
type QueryOperation string

const (
	OpFind       QueryOperation = "find"
	OpCount      QueryOperation = "count"
	OpSample     QueryOperation = "sample"
	OpConeSearch QueryOperation = "cone_search"
)

// Valid reports whether op is a supported operation.
func (op QueryOperation) Valid() bool {
	switch op {
	case OpFind, OpCount, OpSample, OpConeSearch:
		return true
	}
	return false
}

// QueryParams is the request body of a query job.
type QueryParams struct {
	// Catalog is the target collection ("alerts" or a reference catalog).
	Catalog string `json:"catalog"`

	// Filter is a field->condition predicate document for find/count,
	// interpreted by the executor with the same operator set as the
	// filter engine's match stage.
	Filter map[string]any `json:"filter,omitempty"`

	// Projection lists the fields to return; empty means all scalar fields.
	Projection []string `json:"projection,omitempty"`

	Limit int `json:"limit,omitempty"`

	// Cone-search parameters (cone_search only). Radius in arcseconds.
	RA           float64 `json:"ra,omitempty"`
	Dec          float64 `json:"dec,omitempty"`
	RadiusArcsec float64 `json:"radius_arcsec,omitempty"`
}

// QueryJob is an asynchronous read operation submitted against the alert
// store, with bounded lifetime. Created on submission, mutated only by the
// query executor (and the expiration reaper), purged after a configurable
// retention window past its terminal state.
type QueryJob struct {
	ID        uuid.UUID      `json:"id"`
	Submitter string         `json:"submitter"`
	Operation QueryOperation `json:"operation"`
	Params    QueryParams    `json:"params"`

	State    JobState `json:"state"`
	Attempts int      `json:"attempts"`

	// Result is populated on success, Error on failure/expiry.
	Result []map[string]any `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
