// Boreal - Real-Time Astronomical Alert Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/boreal

package decoder

import (
	"errors"
	"math"
	"testing"

	"github.com/goccy/go-json"
)

func validPacket() map[string]any {
	return map[string]any{
		"candid":   int64(123456789),
		"objectId": "ZTF26abcdefg",
		"candidate": map[string]any{
			"jd":        2460918.75,
			"ra":        10.5,
			"dec":       -20.25,
			"fid":       2,
			"programid": 1,
			"magpsf":    18.2,
			"sigmapsf":  0.05,
			"isdiffpos": "t",
			"rb":        0.71,
			"drb":       0.97,
		},
		"prv_candidates": []map[string]any{
			{"jd": 2460910.5, "programid": 1, "candid": int64(111), "fid": 1, "magpsf": 18.9},
			{"jd": 2460912.5, "programid": 2, "diffmaglim": 20.5}, // upper limit
			{"programid": 1},                                      // no epoch: dropped
		},
		"classifications": map[string]float64{"braai": 0.97},
	}
}

func marshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	return data
}

func TestDecode(t *testing.T) {
	t.Parallel()

	alert, history, err := Decode(marshal(t, validPacket()))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if alert.Candid != 123456789 || alert.ObjectID != "ZTF26abcdefg" {
		t.Errorf("identity = (%d, %q)", alert.Candid, alert.ObjectID)
	}
	if alert.Candidate.JD != 2460918.75 || alert.Candidate.ProgramID != 1 || alert.Candidate.FID != 2 {
		t.Errorf("candidate = %+v", alert.Candidate)
	}
	if alert.Candidate.IsDiffPos != "t" || alert.Candidate.DRB != 0.97 {
		t.Errorf("candidate = %+v", alert.Candidate)
	}
	if alert.Classifications["braai"] != 0.97 {
		t.Errorf("classifications = %v", alert.Classifications)
	}

	// History splits out of the alert: two usable entries, the epoch-less
	// one dropped, and the upper limit (no candid) retained.
	if len(history) != 2 {
		t.Fatalf("history = %+v, want 2 entries", history)
	}
	if history[0].Candid != 111 || history[0].Fields["magpsf"] != 18.9 {
		t.Errorf("history[0] = %+v", history[0])
	}
	if history[1].Candid != 0 || history[1].Fields["diffmaglim"] != 20.5 {
		t.Errorf("upper limit = %+v", history[1])
	}
}

func TestDecodeDerivedCoordinates(t *testing.T) {
	t.Parallel()

	alert, _, err := Decode(marshal(t, validPacket()))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	coords := alert.Coordinates
	if coords.RADecGeoJSON.Type != "Point" {
		t.Errorf("geojson type = %q", coords.RADecGeoJSON.Type)
	}
	// RA 10.5 shifts to lon -169.5.
	if got := coords.RADecGeoJSON.Coordinates; got[0] != -169.5 || got[1] != -20.25 {
		t.Errorf("geojson coordinates = %v", got)
	}
	if coords.RADecStr[0] != "00:42:00.0000" {
		t.Errorf("RA sexagesimal = %q", coords.RADecStr[0])
	}
	if coords.RADecStr[1] != "-20:15:00.000" {
		t.Errorf("Dec sexagesimal = %q", coords.RADecStr[1])
	}
	if math.IsNaN(coords.L) || math.IsNaN(coords.B) || coords.B == 0 {
		t.Errorf("galactic = (%v, %v)", coords.L, coords.B)
	}
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"missing candid", func(p map[string]any) { delete(p, "candid") }},
		{"missing objectId", func(p map[string]any) { delete(p, "objectId") }},
		{"missing candidate", func(p map[string]any) { delete(p, "candidate") }},
		{"missing epoch", func(p map[string]any) {
			delete(p["candidate"].(map[string]any), "jd")
		}},
		{"null epoch", func(p map[string]any) {
			p["candidate"].(map[string]any)["jd"] = nil
		}},
		{"RA too large", func(p map[string]any) {
			p["candidate"].(map[string]any)["ra"] = 360.0
		}},
		{"negative RA", func(p map[string]any) {
			p["candidate"].(map[string]any)["ra"] = -1.0
		}},
		{"Dec out of range", func(p map[string]any) {
			p["candidate"].(map[string]any)["dec"] = -90.5
		}},
		{"missing program id", func(p map[string]any) {
			delete(p["candidate"].(map[string]any), "programid")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := validPacket()
			tt.mutate(p)
			_, _, err := Decode(marshal(t, p))
			if !errors.Is(err, ErrInvalidPacket) {
				t.Fatalf("Decode() error = %v, want ErrInvalidPacket", err)
			}
		})
	}

	if _, _, err := Decode([]byte("{truncated")); !errors.Is(err, ErrInvalidPacket) {
		t.Fatalf("Decode(malformed) error = %v, want ErrInvalidPacket", err)
	}
}

func TestDecodeWithoutHistory(t *testing.T) {
	t.Parallel()

	p := validPacket()
	delete(p, "prv_candidates")

	alert, history, err := Decode(marshal(t, p))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if alert == nil || history != nil {
		t.Fatalf("Decode() = (%v, %v), want alert with nil history", alert, history)
	}
}
