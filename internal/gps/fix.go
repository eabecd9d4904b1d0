// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"fmt"
	"math"
)

// Precision is the number of decimal digits carried by a fix on the wire
// and in the fix log.
const Precision = 5

const scale = 100000

// Fix is a single position reading in decimal degrees. A Fix handed out by a
// Source always has both components set.
type Fix struct {
	Latitude  float64 `json:"lat"` // decimal degrees, north positive
	Longitude float64 `json:"lon"` // decimal degrees, east positive
}

// Valid reports whether both coordinates are finite and inside the
// geographic range.
func (f Fix) Valid() bool {
	if math.IsNaN(f.Latitude) || math.IsNaN(f.Longitude) {
		return false
	}
	return f.Latitude >= -90 && f.Latitude <= 90 && f.Longitude >= -180 && f.Longitude <= 180
}

// Rounded returns the fix rounded to Precision decimal places.
func (f Fix) Rounded() Fix {
	return Fix{
		Latitude:  math.Round(f.Latitude*scale) / scale,
		Longitude: math.Round(f.Longitude*scale) / scale,
	}
}

// String formats the fix as "(lat, lon)" with Precision decimals.
func (f Fix) String() string {
	return fmt.Sprintf("(%.5f, %.5f)", f.Latitude, f.Longitude)
}
