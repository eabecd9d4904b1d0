package gps

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockSourceUnavailableBeforeSetup(t *testing.T) {
	src := NewMockSource(Fix{Latitude: 51.8, Longitude: -0.17})
	_, err := src.Fix()
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestMockSourceWandersNearOrigin(t *testing.T) {
	origin := Fix{Latitude: 51.8, Longitude: -0.17}
	src := NewMockSource(origin)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	src.now = func() time.Time { return now }
	require.NoError(t, src.Setup(context.Background()))

	for i := 0; i < 10; i++ {
		now = now.Add(time.Minute)
		f, err := src.Fix()
		require.NoError(t, err)
		assert.True(t, f.Valid())
		assert.InDelta(t, origin.Latitude, f.Latitude, 0.0011)
		assert.InDelta(t, origin.Longitude, f.Longitude, 0.0011)
	}
	assert.NoError(t, src.Close())
}
