// Boreal - Real-Time Astronomical Alert Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/boreal

// Package astro provides the small set of celestial-coordinate conversions
// the broker needs: sexagesimal formatting, equatorial-to-galactic
// transformation and great-circle separation. All angles are degrees unless
// noted otherwise.
package astro

import (
	"fmt"
	"math"
)

const degToRad = math.Pi / 180.0

// Deg2HMS formats a right ascension in degrees as H:M:S.
func Deg2HMS(ra float64) string {
	h := ra / 15.0
	hours := math.Floor(h)
	m := (h - hours) * 60.0
	minutes := math.Floor(m)
	seconds := (m - minutes) * 60.0
	return fmt.Sprintf("%02d:%02d:%07.4f", int(hours), int(minutes), seconds)
}

// Deg2DMS formats a declination in degrees as D:M:S with sign.
func Deg2DMS(dec float64) string {
	sign := "+"
	if dec < 0 {
		sign = "-"
		dec = -dec
	}
	degrees := math.Floor(dec)
	m := (dec - degrees) * 60.0
	minutes := math.Floor(m)
	seconds := (m - minutes) * 60.0
	return fmt.Sprintf("%s%02d:%02d:%06.3f", sign, int(degrees), int(minutes), seconds)
}

// North galactic pole (J2000) and the galactic longitude of the
// celestial pole, per the IAU 1958 definition precessed to J2000.
const (
	raGP  = 192.85948
	decGP = 27.12825
	lCP   = 122.93192
)

// RADec2LB converts equatorial (RA, Dec) to galactic (l, b).
func RADec2LB(ra, dec float64) (l, b float64) {
	raR := ra * degToRad
	decR := dec * degToRad
	raGPR := raGP * degToRad
	decGPR := decGP * degToRad

	sinB := math.Sin(decGPR)*math.Sin(decR) +
		math.Cos(decGPR)*math.Cos(decR)*math.Cos(raR-raGPR)
	b = math.Asin(sinB) / degToRad

	y := math.Cos(decR) * math.Sin(raR-raGPR)
	x := math.Cos(decGPR)*math.Sin(decR) -
		math.Sin(decGPR)*math.Cos(decR)*math.Cos(raR-raGPR)
	l = lCP - math.Atan2(y, x)/degToRad
	l = math.Mod(l+360.0, 360.0)

	return l, b
}

// GreatCircleDistance returns the angular separation in degrees between
// two sky positions. Uses the Vincenty formula, which stays accurate for
// both tiny separations (cross-match radii) and antipodal points.
func GreatCircleDistance(ra1, dec1, ra2, dec2 float64) float64 {
	ra1R, dec1R := ra1*degToRad, dec1*degToRad
	ra2R, dec2R := ra2*degToRad, dec2*degToRad
	dRA := ra2R - ra1R

	num1 := math.Cos(dec2R) * math.Sin(dRA)
	num2 := math.Cos(dec1R)*math.Sin(dec2R) -
		math.Sin(dec1R)*math.Cos(dec2R)*math.Cos(dRA)
	den := math.Sin(dec1R)*math.Sin(dec2R) +
		math.Cos(dec1R)*math.Cos(dec2R)*math.Cos(dRA)

	return math.Atan2(math.Hypot(num1, num2), den) / degToRad
}

// InEllipse reports whether (ra, dec) falls inside an ellipse centered at
// (raC, decC) with major-axis diameter d (degrees), axis ratio b2a and
// position angle pa (degrees east of north). Used for extended-source
// (galaxy) cross-matches where a circular radius is too crude.
func InEllipse(ra, dec, raC, decC, d, b2a, pa float64) bool {
	a := d / 2.0
	b := b2a * a

	// Offsets in the tangent plane, position angle measured from north.
	dRA := (ra - raC) * math.Cos(decC*degToRad)
	dDec := dec - decC
	paR := pa * degToRad

	x := dRA*math.Cos(paR) - dDec*math.Sin(paR)
	y := dRA*math.Sin(paR) + dDec*math.Cos(paR)

	if a == 0 || b == 0 {
		return false
	}
	return (x*x)/(b*b)+(y*y)/(a*a) <= 1.0
}
