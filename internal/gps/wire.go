// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// EncodedSize is the length of a fix on the narrowband wire.
const EncodedSize = 8

var ErrInvalidFix = errors.New("gps: fix out of range")

// EncodeFix packs a fix into the 8-byte narrowband payload: two big-endian
// 32-bit words holding round(coord*100000). Negative coordinates are stored as
// the two's-complement bit pattern of the signed value.
func EncodeFix(f Fix) ([EncodedSize]byte, error) {
	var out [EncodedSize]byte
	if !f.Valid() {
		return out, fmt.Errorf("%w: %v", ErrInvalidFix, f)
	}
	binary.BigEndian.PutUint32(out[0:4], uint32(int32(math.Round(f.Latitude*scale))))
	binary.BigEndian.PutUint32(out[4:8], uint32(int32(math.Round(f.Longitude*scale))))
	return out, nil
}

// DecodeFix is the inverse of EncodeFix.
func DecodeFix(b []byte) (Fix, error) {
	if len(b) != EncodedSize {
		return Fix{}, fmt.Errorf("gps: encoded fix must be %d bytes, got %d", EncodedSize, len(b))
	}
	lat := int32(binary.BigEndian.Uint32(b[0:4]))
	lon := int32(binary.BigEndian.Uint32(b[4:8]))
	f := Fix{
		Latitude:  float64(lat) / scale,
		Longitude: float64(lon) / scale,
	}
	if !f.Valid() {
		return Fix{}, fmt.Errorf("%w: %v", ErrInvalidFix, f)
	}
	return f, nil
}
