package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQuotaRollingWindow(t *testing.T) {
	q := newQuota(2, time.Hour)
	now := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }

	assert.True(t, q.allow())
	q.record()
	now = now.Add(30 * time.Minute)
	q.record()
	assert.False(t, q.allow())
	assert.Equal(t, 0, q.remaining())

	now = now.Add(30 * time.Minute) // first record exactly one window old
	assert.True(t, q.allow())
	assert.Equal(t, 1, q.remaining())
}
