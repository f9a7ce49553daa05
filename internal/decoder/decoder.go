// Boreal - Real-Time Astronomical Alert Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/boreal

// Package decoder turns raw alert packets from the stream into validated
// domain alerts.
//
// A packet is a JSON envelope with the detection candidate, optional
// classifier scores and cutouts, and the survey's bundled prv_candidates
// history. Decoding splits the packet: the history is returned separately
// so the ingest pipeline can append it to the object's aux record instead
// of storing it redundantly inside every alert. Derived coordinate
// representations (GeoJSON point, sexagesimal strings, galactic l/b) are
// computed here, once, at ingest.
package decoder

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/tomtom215/boreal/internal/astro"
	"github.com/tomtom215/boreal/internal/models"
)

// ErrInvalidPacket marks a packet that can never become a valid alert.
// The pipeline drops these (with an acknowledgment, so they are not
// redelivered) rather than retrying.
var ErrInvalidPacket = errors.New("decoder: invalid packet")

// packet is the wire envelope. Candidate and history entries are decoded
// generically: surveys add and rename photometric fields between schema
// versions, and only the fields Boreal indexes are required to be present.
type packet struct {
	Candid          int64              `json:"candid"`
	ObjectID        string             `json:"objectId"`
	Candidate       map[string]any     `json:"candidate"`
	PrvCandidates   []map[string]any   `json:"prv_candidates"`
	Classifications map[string]float64 `json:"classifications"`
	Cutouts         map[string][]byte  `json:"cutouts"`
}

// Decode parses and validates one raw packet, returning the alert and the
// packet's prior-detection history.
func Decode(data []byte) (*models.Alert, []models.PrvCandidate, error) {
	var p packet
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidPacket, err)
	}

	if p.Candid <= 0 {
		return nil, nil, fmt.Errorf("%w: missing or non-positive candid", ErrInvalidPacket)
	}
	if p.ObjectID == "" {
		return nil, nil, fmt.Errorf("%w: packet %d has no objectId", ErrInvalidPacket, p.Candid)
	}
	if p.Candidate == nil {
		return nil, nil, fmt.Errorf("%w: packet %d has no candidate", ErrInvalidPacket, p.Candid)
	}

	cand, err := decodeCandidate(p.Candidate, p.Candid)
	if err != nil {
		return nil, nil, err
	}

	alert := &models.Alert{
		Candid:          p.Candid,
		ObjectID:        p.ObjectID,
		Candidate:       *cand,
		Coordinates:     deriveCoordinates(cand.RA, cand.Dec),
		Classifications: p.Classifications,
		Cutouts:         p.Cutouts,
	}

	return alert, decodeHistory(p.PrvCandidates), nil
}

func decodeCandidate(raw map[string]any, candid int64) (*models.Candidate, error) {
	jd, ok := numField(raw, "jd")
	if !ok || jd <= 0 {
		return nil, fmt.Errorf("%w: packet %d has no epoch", ErrInvalidPacket, candid)
	}
	ra, ok := numField(raw, "ra")
	if !ok || ra < 0 || ra >= 360 {
		return nil, fmt.Errorf("%w: packet %d RA out of range", ErrInvalidPacket, candid)
	}
	dec, ok := numField(raw, "dec")
	if !ok || dec < -90 || dec > 90 {
		return nil, fmt.Errorf("%w: packet %d Dec out of range", ErrInvalidPacket, candid)
	}
	programID, ok := numField(raw, "programid")
	if !ok || programID < 0 {
		return nil, fmt.Errorf("%w: packet %d has no program id", ErrInvalidPacket, candid)
	}

	cand := &models.Candidate{
		JD:        jd,
		RA:        ra,
		Dec:       dec,
		ProgramID: int(programID),
	}
	if fid, ok := numField(raw, "fid"); ok {
		cand.FID = int(fid)
	}
	if v, ok := numField(raw, "magpsf"); ok {
		cand.Magpsf = v
	}
	if v, ok := numField(raw, "sigmapsf"); ok {
		cand.Sigmapsf = v
	}
	if v, ok := numField(raw, "diffmaglim"); ok {
		cand.Diffmaglim = v
	}
	if v, ok := raw["isdiffpos"].(string); ok {
		cand.IsDiffPos = v
	}
	if v, ok := numField(raw, "rb"); ok {
		cand.RB = v
	}
	if v, ok := numField(raw, "drb"); ok {
		cand.DRB = v
	}
	return cand, nil
}

// deriveCoordinates computes every derived position representation. The
// GeoJSON longitude is RA shifted into [-180, 180).
func deriveCoordinates(ra, dec float64) models.Coordinates {
	l, b := astro.RADec2LB(ra, dec)
	return models.Coordinates{
		RADecGeoJSON: models.GeoPoint{
			Type:        "Point",
			Coordinates: [2]float64{ra - 180.0, dec},
		},
		RADecStr: [2]string{astro.Deg2HMS(ra), astro.Deg2DMS(dec)},
		L:        l,
		B:        b,
	}
}

// historyScalars are the candidate fields carried into the per-object
// history summaries. Everything else in a prv entry (including nulls the
// survey pads non-detections with) is dropped.
var historyScalars = []string{"magpsf", "sigmapsf", "diffmaglim", "rb", "drb"}

// decodeHistory converts the packet's bundled prv_candidates. Entries
// without an epoch or program id cannot be deduplicated or
// authorization-gated and are skipped. Upper limits (entries without a
// candid) are kept: non-detections matter for light-curve filters.
func decodeHistory(raw []map[string]any) []models.PrvCandidate {
	if len(raw) == 0 {
		return nil
	}

	history := make([]models.PrvCandidate, 0, len(raw))
	for _, entry := range raw {
		jd, ok := numField(entry, "jd")
		if !ok || jd <= 0 {
			continue
		}
		programID, ok := numField(entry, "programid")
		if !ok {
			continue
		}

		prv := models.PrvCandidate{JD: jd, ProgramID: int(programID)}
		if candid, ok := numField(entry, "candid"); ok {
			prv.Candid = int64(candid)
		}
		if fid, ok := numField(entry, "fid"); ok {
			prv.FID = int(fid)
		}
		for _, name := range historyScalars {
			if v, ok := numField(entry, name); ok {
				if prv.Fields == nil {
					prv.Fields = map[string]float64{}
				}
				prv.Fields[name] = v
			}
		}
		history = append(history, prv)
	}
	return history
}

// numField reads a numeric field, tolerating the integer/float ambiguity
// of decoded JSON. Explicit nulls and missing keys both report absent.
func numField(m map[string]any, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}
