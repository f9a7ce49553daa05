// Boreal - Real-Time Astronomical Alert Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/boreal

package filter

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/boreal/internal/models"
)

// Evaluate runs the filter pipeline against one enriched alert.
//
// The returned document is the filter's final projection, which is what
// gets persisted as the match record (not the raw alert). matched is true
// iff the pipeline yields a non-empty document. Evaluation is deterministic
// for a fixed (alert, filter, aux) triple and performs no I/O.
//
// defaultWindowDays bounds the prv_candidates join when the aux-join stage
// does not override it.
func Evaluate(f *Filter, alert *models.Alert, aux *models.AlertAux, defaultWindowDays float64) (map[string]any, bool, error) {
	if !f.Authorized(alert.Candidate.ProgramID) {
		return nil, false, nil
	}

	doc, err := alertDocument(alert)
	if err != nil {
		return nil, false, err
	}

	for i, stage := range f.Stages {
		switch {
		case stage.Match != nil:
			ok, err := evalPredicate(&stage.Match.Predicate, doc)
			if err != nil {
				return nil, false, fmt.Errorf("filter %s stage %d: %w", f.ID, i, err)
			}
			if !ok {
				return nil, false, nil
			}

		case stage.Project != nil:
			doc = applyProjection(stage.Project, doc)

		case stage.AuxJoin != nil:
			applyAuxJoin(stage.AuxJoin, f, alert, aux, doc, defaultWindowDays)
		}
	}

	if len(doc) == 0 {
		return nil, false, nil
	}
	return doc, true, nil
}

// alertDocument flattens the alert into a generic document via a JSON
// round-trip so predicate paths see exactly the serialized field names.
func alertDocument(alert *models.Alert) (map[string]any, error) {
	raw, err := json.Marshal(alert)
	if err != nil {
		return nil, fmt.Errorf("filter: encode alert %d: %w", alert.Candid, err)
	}
	doc := map[string]any{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("filter: decode alert %d: %w", alert.Candid, err)
	}
	return doc, nil
}

func evalPredicate(p *Predicate, doc map[string]any) (bool, error) {
	switch {
	case len(p.And) > 0:
		for i := range p.And {
			ok, err := evalPredicate(&p.And[i], doc)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil

	case len(p.Or) > 0:
		for i := range p.Or {
			ok, err := evalPredicate(&p.Or[i], doc)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case p.Not != nil:
		ok, err := evalPredicate(p.Not, doc)
		return !ok, err
	}

	val, present := getPath(doc, p.Field)

	switch p.Op {
	case OpExists:
		want := true
		if b, ok := p.Value.(bool); ok {
			want = b
		}
		return present == want, nil
	case OpEq:
		return present && compareEq(val, p.Value), nil
	case OpNe:
		return !present || !compareEq(val, p.Value), nil
	case OpIn:
		return present && containsValue(p.Value, val), nil
	case OpNin:
		return !present || !containsValue(p.Value, val), nil
	case OpGt, OpGte, OpLt, OpLte:
		if !present {
			return false, nil
		}
		a, aok := toFloat(val)
		b, bok := toFloat(p.Value)
		if !aok || !bok {
			return false, fmt.Errorf("%w: %s needs numeric operands for %q", ErrInvalidPredicate, p.Op, p.Field)
		}
		switch p.Op {
		case OpGt:
			return a > b, nil
		case OpGte:
			return a >= b, nil
		case OpLt:
			return a < b, nil
		default:
			return a <= b, nil
		}
	}
	return false, fmt.Errorf("%w: unknown op %q", ErrInvalidPredicate, p.Op)
}

func applyProjection(p *ProjectStage, doc map[string]any) map[string]any {
	if len(p.Include) > 0 {
		out := map[string]any{}
		for _, path := range p.Include {
			if val, ok := getPath(doc, path); ok {
				setPath(out, path, val)
			}
		}
		return out
	}
	for _, path := range p.Exclude {
		deletePath(doc, path)
	}
	return doc
}

func applyAuxJoin(j *AuxJoinStage, f *Filter, alert *models.Alert, aux *models.AlertAux, doc map[string]any, defaultWindowDays float64) {
	window := defaultWindowDays
	if j.HistoryWindowDays > 0 {
		window = j.HistoryWindowDays
	}

	includeXM := j.IncludeCrossMatches == nil || *j.IncludeCrossMatches
	if includeXM {
		xm := map[string][]map[string]any{}
		if aux != nil && aux.CrossMatches != nil {
			xm = aux.CrossMatches
		}
		doc["cross_matches"] = xm
	}

	history := []models.PrvCandidate{}
	if aux != nil {
		for _, prv := range aux.PrvCandidates {
			// Program authorization gates history visibility, then the
			// time window: only entries strictly inside it survive.
			if !f.Authorized(prv.ProgramID) {
				continue
			}
			if alert.Candidate.JD-prv.JD >= window {
				continue
			}
			history = append(history, prv)
		}
	}
	doc["prv_candidates"] = history
}

// getPath resolves a dotted path against nested maps.
func getPath(doc map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = doc
	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// setPath writes a value at a dotted path, creating intermediate maps.
func setPath(doc map[string]any, path string, val any) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = val
}

// deletePath removes a dotted path if present.
func deletePath(doc map[string]any, path string) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			return
		}
		cur = next
	}
	delete(cur, parts[len(parts)-1])
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func compareEq(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
	}
	return reflect.DeepEqual(a, b)
}

func containsValue(list any, val any) bool {
	rv := reflect.ValueOf(list)
	if rv.Kind() != reflect.Slice {
		return false
	}
	for i := 0; i < rv.Len(); i++ {
		if compareEq(rv.Index(i).Interface(), val) {
			return true
		}
	}
	return false
}
