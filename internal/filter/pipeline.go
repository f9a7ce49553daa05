// Boreal - Real-Time Astronomical Alert Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/boreal

// Package filter implements the declarative per-program selection pipelines
// evaluated against every enriched alert.
//
// A filter is a fixed ordered sequence of stage variants interpreted by a
// single evaluator: a match predicate over alert fields, projections that
// include or exclude fields (e.g. dropping heavy cutouts), and an aux-join
// stage that attaches the object's cached cross-matches and its
// prior-detection history gated by program authorization and a maximum
// time-since-alert window. This deliberately bounds expressiveness: it is
// not a general-purpose query language, which keeps evaluation auditable
// and cheap to sandbox.
package filter

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// Template is a filter as authored and stored: pipeline stages scoped to a
// catalog, optionally parameterized on the program-id allow-list.
//
// A nil Permissions slice marks a template whose program scope is supplied
// per evaluation via Bind. It is never treated as a wildcard: binding a
// template without supplying program ids is an error.
type Template struct {
	ID      string `json:"id"`
	GroupID int    `json:"group_id"`
	Catalog string `json:"catalog"`
	Version string `json:"version"`
	Active  bool   `json:"active"`

	// Permissions is the program-id allow-list; nil means unbound template.
	Permissions []int `json:"permissions,omitempty"`

	Stages []Stage `json:"stages"`
}

// Filter is a bound, evaluation-ready template. Read-only at evaluation
// time; mutated only by filter-management operations upstream.
type Filter struct {
	Template
	// ProgramIDs is the resolved allow-list after binding.
	ProgramIDs []int
}

// Stage is one pipeline step. Exactly one variant is set.
type Stage struct {
	Match   *MatchStage   `json:"match,omitempty"`
	Project *ProjectStage `json:"project,omitempty"`
	AuxJoin *AuxJoinStage `json:"aux_join,omitempty"`
}

// MatchStage filters the alert document with a predicate tree.
type MatchStage struct {
	Predicate Predicate `json:"predicate"`
}

// ProjectStage includes or excludes fields from the working document.
// Include and Exclude are mutually exclusive within one stage.
type ProjectStage struct {
	Include []string `json:"include,omitempty"`
	Exclude []string `json:"exclude,omitempty"`
}

// AuxJoinStage attaches the object's cached cross-matches and its
// prior-detection history. History entries are kept only when (a) the
// filter's bound program-id set contains the entry's program id and (b) the
// entry is strictly inside the time window: jd_alert - jd_entry < window.
type AuxJoinStage struct {
	// HistoryWindowDays overrides the engine-wide window when > 0.
	HistoryWindowDays float64 `json:"history_window_days,omitempty"`

	// IncludeCrossMatches controls whether cached cross-matches are joined.
	// Defaults to true; set false for history-only filters.
	IncludeCrossMatches *bool `json:"include_cross_matches,omitempty"`
}

// Predicate is a node in the match predicate tree: either a combinator
// (And/Or/Not, exactly one set) or a leaf comparison (Field + Op + Value).
type Predicate struct {
	And []Predicate `json:"and,omitempty"`
	Or  []Predicate `json:"or,omitempty"`
	Not *Predicate  `json:"not,omitempty"`

	Field string `json:"field,omitempty"`
	Op    Op     `json:"op,omitempty"`
	Value any    `json:"value,omitempty"`
}

// Op is a leaf comparison operator.
type Op string

const (
	OpEq     Op = "eq"
	OpNe     Op = "ne"
	OpGt     Op = "gt"
	OpGte    Op = "gte"
	OpLt     Op = "lt"
	OpLte    Op = "lte"
	OpIn     Op = "in"
	OpNin    Op = "nin"
	OpExists Op = "exists"
)

func (op Op) valid() bool {
	switch op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn, OpNin, OpExists:
		return true
	}
	return false
}

// Registration-time validation errors. Malformed pipelines are rejected
// when a filter is registered, never at alert-processing time.
var (
	ErrEmptyPipeline     = errors.New("filter: pipeline has no stages")
	ErrAmbiguousStage    = errors.New("filter: stage must set exactly one variant")
	ErrInvalidPredicate  = errors.New("filter: invalid predicate")
	ErrInvalidProjection = errors.New("filter: projection cannot both include and exclude")
	ErrUnboundTemplate   = errors.New("filter: template has no program ids bound")
)

// Validate checks the template structurally. Called at registration time
// and again on load, so a malformed row can never reach the evaluator.
func (t *Template) Validate() error {
	if t.ID == "" {
		return errors.New("filter: missing id")
	}
	if t.Catalog == "" {
		return fmt.Errorf("filter %s: missing catalog", t.ID)
	}
	if len(t.Stages) == 0 {
		return fmt.Errorf("filter %s: %w", t.ID, ErrEmptyPipeline)
	}

	for i, s := range t.Stages {
		variants := 0
		if s.Match != nil {
			variants++
			if err := s.Match.Predicate.validate(); err != nil {
				return fmt.Errorf("filter %s stage %d: %w", t.ID, i, err)
			}
		}
		if s.Project != nil {
			variants++
			if len(s.Project.Include) > 0 && len(s.Project.Exclude) > 0 {
				return fmt.Errorf("filter %s stage %d: %w", t.ID, i, ErrInvalidProjection)
			}
			if len(s.Project.Include) == 0 && len(s.Project.Exclude) == 0 {
				return fmt.Errorf("filter %s stage %d: empty projection", t.ID, i)
			}
		}
		if s.AuxJoin != nil {
			variants++
			if s.AuxJoin.HistoryWindowDays < 0 {
				return fmt.Errorf("filter %s stage %d: negative history window", t.ID, i)
			}
		}
		if variants != 1 {
			return fmt.Errorf("filter %s stage %d: %w", t.ID, i, ErrAmbiguousStage)
		}
	}
	return nil
}

func (p *Predicate) validate() error {
	combinators := 0
	if len(p.And) > 0 {
		combinators++
		for i := range p.And {
			if err := p.And[i].validate(); err != nil {
				return err
			}
		}
	}
	if len(p.Or) > 0 {
		combinators++
		for i := range p.Or {
			if err := p.Or[i].validate(); err != nil {
				return err
			}
		}
	}
	if p.Not != nil {
		combinators++
		if err := p.Not.validate(); err != nil {
			return err
		}
	}

	if combinators > 1 {
		return fmt.Errorf("%w: multiple combinators in one node", ErrInvalidPredicate)
	}
	if combinators == 1 {
		if p.Field != "" || p.Op != "" {
			return fmt.Errorf("%w: combinator node carries a leaf comparison", ErrInvalidPredicate)
		}
		return nil
	}

	// Leaf node.
	if p.Field == "" {
		return fmt.Errorf("%w: leaf without field", ErrInvalidPredicate)
	}
	if !p.Op.valid() {
		return fmt.Errorf("%w: unknown op %q", ErrInvalidPredicate, p.Op)
	}
	if (p.Op == OpIn || p.Op == OpNin) && !isSlice(p.Value) {
		return fmt.Errorf("%w: %s requires an array value", ErrInvalidPredicate, p.Op)
	}
	return nil
}

func isSlice(v any) bool {
	switch v.(type) {
	case []any, []string, []int, []int64, []float64:
		return true
	}
	return false
}

// Bind resolves the template's program scope and returns an evaluation-ready
// filter. When the template carries no authored allow-list, the caller's
// authorized program ids are substituted; supplying none is an error, never
// a wildcard match-all.
func (t *Template) Bind(programIDs []int) (*Filter, error) {
	ids := t.Permissions
	if ids == nil {
		ids = programIDs
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("filter %s: %w", t.ID, ErrUnboundTemplate)
	}
	bound := make([]int, len(ids))
	copy(bound, ids)
	return &Filter{Template: *t, ProgramIDs: bound}, nil
}

// Authorized reports whether the filter's program scope includes the id.
func (f *Filter) Authorized(programID int) bool {
	for _, id := range f.ProgramIDs {
		if id == programID {
			return true
		}
	}
	return false
}

// ParseStages decodes the stored stage array and is the single place the
// persisted JSON shape is interpreted.
func ParseStages(data []byte) ([]Stage, error) {
	var stages []Stage
	if err := json.Unmarshal(data, &stages); err != nil {
		return nil, fmt.Errorf("filter: decode stages: %w", err)
	}
	return stages, nil
}

// EncodeStages serializes a stage array for storage.
func EncodeStages(stages []Stage) ([]byte, error) {
	data, err := json.Marshal(stages)
	if err != nil {
		return nil, fmt.Errorf("filter: encode stages: %w", err)
	}
	return data, nil
}
