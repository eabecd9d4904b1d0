// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	"sync"
	"time"
)

// quota counts sends in a rolling window.
type quota struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	sent []time.Time
}

func newQuota(limit int, window time.Duration) *quota {
	return &quota{limit: limit, window: window, now: time.Now}
}

// allow reports whether another send fits in the current window.
func (q *quota) allow() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.prune()
	return len(q.sent) < q.limit
}

func (q *quota) record() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sent = append(q.sent, q.now())
}

// remaining returns the number of sends left in the current window.
func (q *quota) remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.prune()
	return q.limit - len(q.sent)
}

func (q *quota) prune() {
	cutoff := q.now().Add(-q.window)
	i := 0
	for i < len(q.sent) && !q.sent[i].After(cutoff) {
		i++
	}
	q.sent = q.sent[i:]
}
