// Boreal - Real-Time Astronomical Alert Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/boreal

package filter

import (
	"testing"

	"github.com/tomtom215/boreal/internal/models"
)

func evalAlert() *models.Alert {
	return &models.Alert{
		Candid:   5001,
		ObjectID: "ZTF26abcdefg",
		Candidate: models.Candidate{
			JD:        2460918.75,
			RA:        10.0,
			Dec:       20.0,
			FID:       2,
			ProgramID: 1,
			Magpsf:    18.2,
			IsDiffPos: "t",
			RB:        0.71,
			DRB:       0.97,
		},
		Cutouts: map[string][]byte{"science": []byte("stamp")},
	}
}

func boundFilter(t *testing.T, programIDs []int, stages ...Stage) *Filter {
	t.Helper()

	tpl := &Template{
		ID:          "eval-test",
		GroupID:     7,
		Catalog:     "ztf",
		Version:     "v1",
		Active:      true,
		Permissions: programIDs,
		Stages:      stages,
	}
	if err := tpl.Validate(); err != nil {
		t.Fatalf("test template invalid: %v", err)
	}
	f, err := tpl.Bind(nil)
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	return f
}

func TestEvaluatePredicates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		predicate Predicate
		want      bool
	}{
		{
			name:      "numeric gt passes",
			predicate: Predicate{Field: "candidate.drb", Op: OpGt, Value: 0.9},
			want:      true,
		},
		{
			name:      "numeric gt fails",
			predicate: Predicate{Field: "candidate.drb", Op: OpGt, Value: 0.99},
			want:      false,
		},
		{
			name:      "string eq",
			predicate: Predicate{Field: "candidate.isdiffpos", Op: OpEq, Value: "t"},
			want:      true,
		},
		{
			name:      "top-level field",
			predicate: Predicate{Field: "objectId", Op: OpEq, Value: "ZTF26abcdefg"},
			want:      true,
		},
		{
			// JSON decoding yields float64; int operands must still compare.
			name:      "cross-type numeric eq",
			predicate: Predicate{Field: "candidate.fid", Op: OpEq, Value: 2},
			want:      true,
		},
		{
			name:      "in list",
			predicate: Predicate{Field: "candidate.fid", Op: OpIn, Value: []any{1, 2}},
			want:      true,
		},
		{
			name:      "nin list",
			predicate: Predicate{Field: "candidate.fid", Op: OpNin, Value: []any{1, 2}},
			want:      false,
		},
		{
			name:      "exists on present field",
			predicate: Predicate{Field: "candidate.drb", Op: OpExists},
			want:      true,
		},
		{
			name:      "exists false on missing field",
			predicate: Predicate{Field: "candidate.ssdistnr", Op: OpExists, Value: false},
			want:      true,
		},
		{
			name:      "missing field fails comparison",
			predicate: Predicate{Field: "candidate.ssdistnr", Op: OpGt, Value: 1.0},
			want:      false,
		},
		{
			name:      "ne on missing field passes",
			predicate: Predicate{Field: "candidate.ssdistnr", Op: OpNe, Value: 1.0},
			want:      true,
		},
		{
			name: "and",
			predicate: Predicate{And: []Predicate{
				{Field: "candidate.drb", Op: OpGt, Value: 0.9},
				{Field: "candidate.magpsf", Op: OpLt, Value: 19.0},
			}},
			want: true,
		},
		{
			name: "or short-circuits to second branch",
			predicate: Predicate{Or: []Predicate{
				{Field: "candidate.rb", Op: OpGt, Value: 0.99},
				{Field: "candidate.drb", Op: OpGt, Value: 0.9},
			}},
			want: true,
		},
		{
			name: "not",
			predicate: Predicate{Not: &Predicate{
				Field: "candidate.isdiffpos", Op: OpEq, Value: "f",
			}},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := boundFilter(t, []int{1},
				Stage{Match: &MatchStage{Predicate: tt.predicate}})
			_, matched, err := Evaluate(f, evalAlert(), nil, 30)
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if matched != tt.want {
				t.Errorf("matched = %v, want %v", matched, tt.want)
			}
		})
	}
}

func TestEvaluateNonNumericComparisonErrors(t *testing.T) {
	t.Parallel()

	f := boundFilter(t, []int{1}, Stage{Match: &MatchStage{Predicate: Predicate{
		Field: "objectId", Op: OpGt, Value: 1.0,
	}}})
	_, _, err := Evaluate(f, evalAlert(), nil, 30)
	if err == nil {
		t.Fatal("Evaluate() = nil error for string > float comparison")
	}
}

func TestEvaluateProgramAuthorization(t *testing.T) {
	t.Parallel()

	// The alert is program 1; a filter scoped to program 2 never sees it.
	f := boundFilter(t, []int{2}, Stage{Match: &MatchStage{Predicate: Predicate{
		Field: "candid", Op: OpExists,
	}}})
	_, matched, err := Evaluate(f, evalAlert(), nil, 30)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if matched {
		t.Fatal("filter matched an alert outside its program scope")
	}
}

func TestEvaluateProjection(t *testing.T) {
	t.Parallel()

	t.Run("exclude drops cutouts", func(t *testing.T) {
		t.Parallel()

		f := boundFilter(t, []int{1},
			Stage{Match: &MatchStage{Predicate: Predicate{Field: "candid", Op: OpExists}}},
			Stage{Project: &ProjectStage{Exclude: []string{"cutouts", "candidate.sigmapsf"}}},
		)
		doc, matched, err := Evaluate(f, evalAlert(), nil, 30)
		if err != nil || !matched {
			t.Fatalf("Evaluate() = (%v, %v)", matched, err)
		}
		if _, ok := doc["cutouts"]; ok {
			t.Error("cutouts survived exclusion")
		}
		cand, _ := doc["candidate"].(map[string]any)
		if _, ok := cand["sigmapsf"]; ok {
			t.Error("nested path survived exclusion")
		}
		if _, ok := cand["magpsf"]; !ok {
			t.Error("exclusion removed an unrelated field")
		}
	})

	t.Run("include keeps only named paths", func(t *testing.T) {
		t.Parallel()

		f := boundFilter(t, []int{1},
			Stage{Project: &ProjectStage{Include: []string{"objectId", "candidate.magpsf"}}},
		)
		doc, matched, err := Evaluate(f, evalAlert(), nil, 30)
		if err != nil || !matched {
			t.Fatalf("Evaluate() = (%v, %v)", matched, err)
		}
		if len(doc) != 2 {
			t.Fatalf("doc = %v, want exactly objectId and candidate", doc)
		}
		cand, _ := doc["candidate"].(map[string]any)
		if len(cand) != 1 || cand["magpsf"] == nil {
			t.Errorf("candidate = %v, want only magpsf", cand)
		}
	})

	t.Run("include of only missing paths yields no match", func(t *testing.T) {
		t.Parallel()

		f := boundFilter(t, []int{1},
			Stage{Project: &ProjectStage{Include: []string{"nope"}}},
		)
		_, matched, err := Evaluate(f, evalAlert(), nil, 30)
		if err != nil {
			t.Fatalf("Evaluate() error = %v", err)
		}
		if matched {
			t.Fatal("empty projected document reported as a match")
		}
	})
}

func TestEvaluateAuxJoin(t *testing.T) {
	t.Parallel()

	alert := evalAlert() // JD 2460918.75, program 1

	aux := &models.AlertAux{
		ObjectID: alert.ObjectID,
		CrossMatches: map[string][]map[string]any{
			"milliquas": {{"z": 1.5}},
		},
		PrvCandidates: []models.PrvCandidate{
			{JD: alert.Candidate.JD - 1, ProgramID: 1},  // inside window
			{JD: alert.Candidate.JD - 1, ProgramID: 2},  // unauthorized program
			{JD: alert.Candidate.JD - 7, ProgramID: 1},  // exactly at the boundary
			{JD: alert.Candidate.JD - 40, ProgramID: 1}, // far outside
		},
	}

	f := boundFilter(t, []int{1},
		Stage{AuxJoin: &AuxJoinStage{HistoryWindowDays: 7}},
	)
	doc, matched, err := Evaluate(f, alert, aux, 30)
	if err != nil || !matched {
		t.Fatalf("Evaluate() = (%v, %v)", matched, err)
	}

	xm, ok := doc["cross_matches"].(map[string][]map[string]any)
	if !ok || len(xm["milliquas"]) != 1 {
		t.Errorf("cross_matches = %v", doc["cross_matches"])
	}

	// The boundary entry (age exactly equal to the window) is excluded:
	// only strictly-inside entries survive, and the unauthorized program's
	// entry is invisible regardless of age.
	history, ok := doc["prv_candidates"].([]models.PrvCandidate)
	if !ok {
		t.Fatalf("prv_candidates = %T", doc["prv_candidates"])
	}
	if len(history) != 1 {
		t.Fatalf("history = %v, want exactly the 1-day-old program-1 entry", history)
	}
	if history[0].JD != alert.Candidate.JD-1 || history[0].ProgramID != 1 {
		t.Errorf("history entry = %+v", history[0])
	}
}

func TestEvaluateAuxJoinDefaults(t *testing.T) {
	t.Parallel()

	alert := evalAlert()
	aux := &models.AlertAux{
		ObjectID: alert.ObjectID,
		PrvCandidates: []models.PrvCandidate{
			{JD: alert.Candidate.JD - 10, ProgramID: 1},
		},
	}

	// No per-stage override: the engine default window (30 days) applies.
	f := boundFilter(t, []int{1}, Stage{AuxJoin: &AuxJoinStage{}})
	doc, matched, err := Evaluate(f, alert, aux, 30)
	if err != nil || !matched {
		t.Fatalf("Evaluate() = (%v, %v)", matched, err)
	}
	if history := doc["prv_candidates"].([]models.PrvCandidate); len(history) != 1 {
		t.Errorf("history = %v, want the 10-day-old entry under the 30-day default", history)
	}

	// Cross-matches can be opted out for history-only filters.
	off := false
	f = boundFilter(t, []int{1}, Stage{AuxJoin: &AuxJoinStage{IncludeCrossMatches: &off}})
	doc, _, err = Evaluate(f, alert, aux, 30)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if _, ok := doc["cross_matches"]; ok {
		t.Error("cross_matches joined despite opt-out")
	}

	// Nil aux joins empty structures, not nils.
	on := boundFilter(t, []int{1}, Stage{AuxJoin: &AuxJoinStage{}})
	doc, _, err = Evaluate(on, alert, nil, 30)
	if err != nil {
		t.Fatalf("Evaluate() nil aux error = %v", err)
	}
	if doc["cross_matches"] == nil || doc["prv_candidates"] == nil {
		t.Errorf("nil aux produced nil join fields: %v", doc)
	}
}

func TestEvaluateFullPipeline(t *testing.T) {
	t.Parallel()

	// Match, join history, then trim: the shape a real stream filter takes.
	f := boundFilter(t, []int{1},
		Stage{Match: &MatchStage{Predicate: Predicate{
			And: []Predicate{
				{Field: "candidate.drb", Op: OpGt, Value: 0.9},
				{Field: "candidate.magpsf", Op: OpLt, Value: 19.0},
			},
		}}},
		Stage{AuxJoin: &AuxJoinStage{HistoryWindowDays: 14}},
		Stage{Project: &ProjectStage{Exclude: []string{"cutouts"}}},
	)

	alert := evalAlert()
	aux := &models.AlertAux{
		ObjectID: alert.ObjectID,
		PrvCandidates: []models.PrvCandidate{
			{JD: alert.Candidate.JD - 3, ProgramID: 1},
		},
	}

	doc, matched, err := Evaluate(f, alert, aux, 30)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !matched {
		t.Fatal("pipeline did not match")
	}
	if _, ok := doc["cutouts"]; ok {
		t.Error("cutouts survived the final projection")
	}
	if history := doc["prv_candidates"].([]models.PrvCandidate); len(history) != 1 {
		t.Errorf("history = %v", history)
	}

	// Same triple evaluates identically.
	doc2, matched2, err := Evaluate(f, alert, aux, 30)
	if err != nil || matched2 != matched {
		t.Fatalf("re-evaluation diverged: (%v, %v)", matched2, err)
	}
	if len(doc2) != len(doc) {
		t.Errorf("re-evaluation produced a different document: %v vs %v", doc2, doc)
	}
}
