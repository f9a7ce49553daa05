// Boreal - Real-Time Astronomical Alert Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/boreal

package filter

import (
	"errors"
	"testing"
)

func validTemplate() *Template {
	return &Template{
		ID:          "t1",
		GroupID:     7,
		Catalog:     "ztf",
		Version:     "v1",
		Active:      true,
		Permissions: []int{1},
		Stages: []Stage{
			{Match: &MatchStage{Predicate: Predicate{
				Field: "candidate.drb", Op: OpGt, Value: 0.9,
			}}},
		},
	}
}

func TestTemplateValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Template)
		wantErr error
	}{
		{
			name:   "valid",
			mutate: func(*Template) {},
		},
		{
			name:    "missing id",
			mutate:  func(tpl *Template) { tpl.ID = "" },
			wantErr: errors.New("any"),
		},
		{
			name:    "missing catalog",
			mutate:  func(tpl *Template) { tpl.Catalog = "" },
			wantErr: errors.New("any"),
		},
		{
			name:    "no stages",
			mutate:  func(tpl *Template) { tpl.Stages = nil },
			wantErr: ErrEmptyPipeline,
		},
		{
			name: "empty stage",
			mutate: func(tpl *Template) {
				tpl.Stages = append(tpl.Stages, Stage{})
			},
			wantErr: ErrAmbiguousStage,
		},
		{
			name: "two variants in one stage",
			mutate: func(tpl *Template) {
				tpl.Stages[0].Project = &ProjectStage{Exclude: []string{"cutouts"}}
			},
			wantErr: ErrAmbiguousStage,
		},
		{
			name: "projection with include and exclude",
			mutate: func(tpl *Template) {
				tpl.Stages = []Stage{{Project: &ProjectStage{
					Include: []string{"candid"},
					Exclude: []string{"cutouts"},
				}}}
			},
			wantErr: ErrInvalidProjection,
		},
		{
			name: "empty projection",
			mutate: func(tpl *Template) {
				tpl.Stages = []Stage{{Project: &ProjectStage{}}}
			},
			wantErr: errors.New("any"),
		},
		{
			name: "leaf without field",
			mutate: func(tpl *Template) {
				tpl.Stages[0].Match.Predicate = Predicate{Op: OpEq, Value: 1}
			},
			wantErr: ErrInvalidPredicate,
		},
		{
			name: "unknown op",
			mutate: func(tpl *Template) {
				tpl.Stages[0].Match.Predicate.Op = "regex"
			},
			wantErr: ErrInvalidPredicate,
		},
		{
			name: "in without array",
			mutate: func(tpl *Template) {
				tpl.Stages[0].Match.Predicate = Predicate{
					Field: "candidate.fid", Op: OpIn, Value: 1,
				}
			},
			wantErr: ErrInvalidPredicate,
		},
		{
			name: "combinator carrying a leaf",
			mutate: func(tpl *Template) {
				tpl.Stages[0].Match.Predicate = Predicate{
					And:   []Predicate{{Field: "candid", Op: OpExists}},
					Field: "candidate.rb",
				}
			},
			wantErr: ErrInvalidPredicate,
		},
		{
			name: "two combinators in one node",
			mutate: func(tpl *Template) {
				tpl.Stages[0].Match.Predicate = Predicate{
					And: []Predicate{{Field: "candid", Op: OpExists}},
					Or:  []Predicate{{Field: "candid", Op: OpExists}},
				}
			},
			wantErr: ErrInvalidPredicate,
		},
		{
			name: "negative history window",
			mutate: func(tpl *Template) {
				tpl.Stages = []Stage{{AuxJoin: &AuxJoinStage{HistoryWindowDays: -1}}}
			},
			wantErr: errors.New("any"),
		},
		{
			name: "nested combinators valid",
			mutate: func(tpl *Template) {
				tpl.Stages[0].Match.Predicate = Predicate{
					And: []Predicate{
						{Or: []Predicate{
							{Field: "candidate.rb", Op: OpGt, Value: 0.65},
							{Field: "candidate.drb", Op: OpGt, Value: 0.9},
						}},
						{Not: &Predicate{Field: "candidate.isdiffpos", Op: OpEq, Value: "f"}},
					},
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tpl := validTemplate()
			tt.mutate(tpl)
			err := tpl.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			// Sentinel errors must be preserved through wrapping.
			if tt.wantErr.Error() != "any" && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestBind(t *testing.T) {
	t.Parallel()

	// Authored permissions win over supplied ids.
	tpl := validTemplate()
	tpl.Permissions = []int{3}
	f, err := tpl.Bind([]int{1, 2})
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if !f.Authorized(3) || f.Authorized(1) {
		t.Errorf("bound scope = %v, want authored [3]", f.ProgramIDs)
	}

	// Unbound template takes the supplied ids.
	tpl.Permissions = nil
	f, err = tpl.Bind([]int{1, 2})
	if err != nil {
		t.Fatalf("Bind() unbound error = %v", err)
	}
	if !f.Authorized(1) || !f.Authorized(2) || f.Authorized(3) {
		t.Errorf("bound scope = %v, want [1 2]", f.ProgramIDs)
	}

	// An unbound template with nothing supplied is an error, never a
	// wildcard.
	if _, err := tpl.Bind(nil); !errors.Is(err, ErrUnboundTemplate) {
		t.Fatalf("Bind(nil) error = %v, want ErrUnboundTemplate", err)
	}

	// Empty (non-nil) authored permissions also refuse to bind.
	tpl.Permissions = []int{}
	if _, err := tpl.Bind([]int{1}); !errors.Is(err, ErrUnboundTemplate) {
		t.Fatalf("Bind() with empty permissions error = %v, want ErrUnboundTemplate", err)
	}
}

func TestStagesEncodeDecode(t *testing.T) {
	t.Parallel()

	window := 7.0
	stages := []Stage{
		{Match: &MatchStage{Predicate: Predicate{
			Or: []Predicate{
				{Field: "candidate.rb", Op: OpGt, Value: 0.65},
				{Field: "candidate.drb", Op: OpGt, Value: 0.9},
			},
		}}},
		{AuxJoin: &AuxJoinStage{HistoryWindowDays: window}},
		{Project: &ProjectStage{Exclude: []string{"cutouts"}}},
	}

	data, err := EncodeStages(stages)
	if err != nil {
		t.Fatalf("EncodeStages() error = %v", err)
	}
	got, err := ParseStages(data)
	if err != nil {
		t.Fatalf("ParseStages() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("stages = %d, want 3", len(got))
	}
	if got[0].Match == nil || len(got[0].Match.Predicate.Or) != 2 {
		t.Errorf("match stage lost its predicate: %+v", got[0])
	}
	if got[1].AuxJoin == nil || got[1].AuxJoin.HistoryWindowDays != 7 {
		t.Errorf("aux-join stage = %+v", got[1])
	}
	if got[2].Project == nil || len(got[2].Project.Exclude) != 1 {
		t.Errorf("project stage = %+v", got[2])
	}

	if _, err := ParseStages([]byte("{not json")); err == nil {
		t.Error("ParseStages() accepted malformed input")
	}
}
