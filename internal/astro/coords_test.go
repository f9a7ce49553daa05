// Boreal - Real-Time Astronomical Alert Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/boreal

package astro

import (
	"math"
	"testing"
)

func TestDeg2HMS(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ra   float64
		want string
	}{
		{0, "00:00:00.0000"},
		{15, "01:00:00.0000"},
		{180, "12:00:00.0000"},
		{10.6847, "00:42:44.3280"},
	}
	for _, tt := range tests {
		if got := Deg2HMS(tt.ra); got != tt.want {
			t.Errorf("Deg2HMS(%v) = %q, want %q", tt.ra, got, tt.want)
		}
	}
}

func TestDeg2DMS(t *testing.T) {
	t.Parallel()

	tests := []struct {
		dec  float64
		want string
	}{
		{0, "+00:00:00.000"},
		{41.26901, "+41:16:08.436"},
		{-30.5, "-30:30:00.000"},
	}
	for _, tt := range tests {
		if got := Deg2DMS(tt.dec); got != tt.want {
			t.Errorf("Deg2DMS(%v) = %q, want %q", tt.dec, got, tt.want)
		}
	}
}

func TestGreatCircleDistance(t *testing.T) {
	t.Parallel()

	// Identical positions.
	if d := GreatCircleDistance(10, 20, 10, 20); d != 0 {
		t.Errorf("distance to self = %v, want 0", d)
	}

	// Pure declination offset: separation equals the offset.
	if d := GreatCircleDistance(0, 0, 0, 1); math.Abs(d-1.0) > 1e-9 {
		t.Errorf("1 degree dec offset = %v, want 1", d)
	}

	// RA offset at the equator.
	if d := GreatCircleDistance(0, 0, 1, 0); math.Abs(d-1.0) > 1e-9 {
		t.Errorf("1 degree ra offset at equator = %v, want 1", d)
	}

	// Small separation used in the end-to-end ingest scenario:
	// 0.0005 deg in RA at dec 20 ~ 1.69 arcsec.
	d := GreatCircleDistance(10.0, 20.0, 10.0005, 20.0)
	arcsec := d * 3600
	if math.Abs(arcsec-1.6914) > 0.01 {
		t.Errorf("separation = %v arcsec, want ~1.69", arcsec)
	}
}

func TestRADec2LB(t *testing.T) {
	t.Parallel()

	// Galactic center (Sgr A*): l ~ 359.94, b ~ -0.046.
	l, b := RADec2LB(266.41683, -29.00781)
	if math.Abs(l-359.944) > 0.01 {
		t.Errorf("l = %v, want ~359.944", l)
	}
	if math.Abs(b-(-0.0462)) > 0.01 {
		t.Errorf("b = %v, want ~-0.046", b)
	}

	// North galactic pole maps to b ~ +90.
	_, b = RADec2LB(raGP, decGP)
	if math.Abs(b-90.0) > 1e-6 {
		t.Errorf("b at NGP = %v, want 90", b)
	}
}

func TestInEllipse(t *testing.T) {
	t.Parallel()

	// Center is always inside.
	if !InEllipse(10, 20, 10, 20, 0.1, 0.5, 0) {
		t.Error("center not inside ellipse")
	}

	// Point along major axis (north) just inside / outside.
	if !InEllipse(10, 20.04, 10, 20, 0.1, 0.5, 0) {
		t.Error("point inside semi-major axis reported outside")
	}
	if InEllipse(10, 20.06, 10, 20, 0.1, 0.5, 0) {
		t.Error("point beyond semi-major axis reported inside")
	}

	// Degenerate ellipse matches nothing.
	if InEllipse(10, 20, 10, 20, 0, 0.5, 0) {
		t.Error("degenerate ellipse matched")
	}
}
