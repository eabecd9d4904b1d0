package gps

import (
	"encoding/hex"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFixKnownPayload(t *testing.T) {
	b, err := EncodeFix(Fix{Latitude: 51.80332, Longitude: -0.17852})
	require.NoError(t, err)
	assert.Equal(t, "004f0bacffffba44", hex.EncodeToString(b[:]))
	assert.Len(t, b, 8)
}

func TestEncodeFixRoundsToFiveDecimals(t *testing.T) {
	b, err := EncodeFix(Fix{Latitude: 0.000006, Longitude: -0.000004})
	require.NoError(t, err)
	assert.Equal(t, "00000001"+"00000000", hex.EncodeToString(b[:]))
}

func TestEncodeFixRejectsOutOfRange(t *testing.T) {
	for _, f := range []Fix{
		{Latitude: 90.5, Longitude: 0},
		{Latitude: 0, Longitude: -181},
	} {
		_, err := EncodeFix(f)
		assert.ErrorIs(t, err, ErrInvalidFix, "%v", f)
	}
}

func TestDecodeFixRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i++ {
		f := Fix{
			Latitude:  rng.Float64()*180 - 90,
			Longitude: rng.Float64()*360 - 180,
		}
		b, err := EncodeFix(f)
		require.NoError(t, err)
		got, err := DecodeFix(b[:])
		require.NoError(t, err)
		assert.Equal(t, f.Rounded(), got, "fix %v", f)
	}
}

func TestDecodeFixBoundaries(t *testing.T) {
	for _, f := range []Fix{
		{Latitude: 90, Longitude: 180},
		{Latitude: -90, Longitude: -180},
		{Latitude: 0, Longitude: 0},
	} {
		b, err := EncodeFix(f)
		require.NoError(t, err)
		got, err := DecodeFix(b[:])
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}
}

func TestDecodeFixLength(t *testing.T) {
	_, err := DecodeFix([]byte{1, 2, 3})
	assert.Error(t, err)
	_, err = DecodeFix(make([]byte, 12))
	assert.Error(t, err)
}

func TestDecodeFixRejectsGarbage(t *testing.T) {
	// 0x7fffffff/1e5 is far outside the latitude range.
	_, err := DecodeFix([]byte{0x7f, 0xff, 0xff, 0xff, 0, 0, 0, 0})
	assert.ErrorIs(t, err, ErrInvalidFix)
}

func TestFixString(t *testing.T) {
	assert.Equal(t, "(51.80332, -0.17852)", Fix{Latitude: 51.80332, Longitude: -0.17852}.String())
}
