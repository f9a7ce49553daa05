// Boreal - Real-Time Astronomical Alert Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/boreal

// Package models defines the core domain entities shared across Boreal:
// alerts, per-object auxiliary history, match results, catalog entries and
// query jobs. These types carry no behavior beyond small helpers; all
// persistence and evaluation logic lives in the packages that consume them.
package models

import (
	"time"
)

// Alert is one transient-detection event for a sky position at a given epoch.
//
// Candid is globally unique and immutable once stored. ObjectID groups all
// detections of one physical source over time; the per-object history lives
// in AlertAux, keyed by ObjectID, and is append-only.
type Alert struct {
	Candid   int64  `json:"candid"`
	ObjectID string `json:"objectId"`

	Candidate Candidate `json:"candidate"`

	// Coordinates are derived from the candidate position at decode time.
	Coordinates Coordinates `json:"coordinates"`

	// Classifications holds precomputed ML classifier scores keyed by model
	// name (e.g. "braai"). Scores are consumed, never computed, by Boreal.
	Classifications map[string]float64 `json:"classifications,omitempty"`

	// Cutouts are optional gzipped image stamps. They are heavy and are
	// typically excluded by filter projections before aggregation.
	Cutouts map[string][]byte `json:"cutouts,omitempty"`

	IngestedAt time.Time `json:"ingested_at,omitempty"`
}

// Candidate is the nested detection record of an alert packet: photometry,
// quality flags, program scope and pipeline scores.
type Candidate struct {
	JD        float64 `json:"jd"`
	RA        float64 `json:"ra"`
	Dec       float64 `json:"dec"`
	FID       int     `json:"fid"`
	ProgramID int     `json:"programid"`

	Magpsf     float64 `json:"magpsf"`
	Sigmapsf   float64 `json:"sigmapsf"`
	Diffmaglim float64 `json:"diffmaglim"`
	IsDiffPos  string  `json:"isdiffpos,omitempty"`

	// RB is the pipeline real/bogus score, DRB the deep-learning variant.
	// Both are produced upstream and treated as opaque quality fields here.
	RB  float64 `json:"rb"`
	DRB float64 `json:"drb,omitempty"`
}

// Coordinates holds the derived position representations of an alert.
type Coordinates struct {
	// RADecGeoJSON is the position as a lon/lat pair with RA shifted into
	// [-180, 180) so it is usable as a geographic point.
	RADecGeoJSON GeoPoint `json:"radec_geojson"`

	// RADecStr is the sexagesimal representation [H:M:S, D:M:S].
	RADecStr [2]string `json:"radec_str"`

	// L and B are galactic coordinates in degrees.
	L float64 `json:"l"`
	B float64 `json:"b"`
}

// GeoPoint is a GeoJSON-style point: [lon, lat] in degrees.
type GeoPoint struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

// AlertAux is the accumulated per-object history: cross-match results
// (written once, first enrichment wins) and the ordered prior-detection
// summaries for the object.
type AlertAux struct {
	ObjectID string `json:"_id"`

	// CrossMatches maps catalog name to the projected entries found within
	// the configured cone-search radius at first enrichment.
	CrossMatches map[string][]map[string]any `json:"cross_matches"`

	// PrvCandidates is append-only. Each entry carries its own epoch and
	// program id; visibility to a filter is gated on the filter's bound
	// program-id set containing the entry's program id.
	PrvCandidates []PrvCandidate `json:"prv_candidates"`

	CreatedAt time.Time `json:"created_at,omitempty"`
}

// PrvCandidate is a summary of a previous detection of the same object.
type PrvCandidate struct {
	JD        float64            `json:"jd"`
	ProgramID int                `json:"programid"`
	Candid    int64              `json:"candid,omitempty"`
	FID       int                `json:"fid,omitempty"`
	Fields    map[string]float64 `json:"fields,omitempty"`
}

// MatchResult records that an alert passed a filter. The pair
// (Candid, FilterID) is unique: a given alert can match a given filter at
// most once, and re-inserting an existing pair is a no-op.
type MatchResult struct {
	Candid   int64  `json:"candid"`
	FilterID string `json:"filter_id"`
	GroupID  int    `json:"group_id"`

	// Output is the filter's final projected document, not the raw alert.
	Output map[string]any `json:"output"`

	CreatedAt time.Time `json:"created_at,omitempty"`
}

// CatalogEntry is a static reference-object record from a cross-match
// catalog. Fields beyond the position are catalog-specific and read-only.
type CatalogEntry struct {
	ID     int64          `json:"_id"`
	RA     float64        `json:"ra"`
	Dec    float64        `json:"dec"`
	Fields map[string]any `json:"fields,omitempty"`

	// DistanceArcsec is the great-circle separation from the queried
	// position, populated on cone-search results.
	DistanceArcsec float64 `json:"distance_arcsec,omitempty"`
}
