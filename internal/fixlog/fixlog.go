// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package fixlog keeps a size-bounded, append-only text record of the fixes
// sent by the tracker, one "<timestamp> (<lat>, <lon>)" line per entry.
package fixlog

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/relabs-tech/car_tracker/internal/gps"
)

// Placeholder stands in for the timestamp when no synchronized clock is
// available.
const Placeholder = "unsynced"

var ErrEntryTooLarge = errors.New("fixlog: entry larger than log capacity")

// Log is a text file bounded to MaxBytes. Once full, the oldest lines are
// dropped to make room for new ones.
type Log struct {
	path     string
	maxBytes int64

	mu sync.Mutex
}

// New returns a log at path holding at most maxBytes.
func New(path string, maxBytes int64) (*Log, error) {
	if path == "" {
		return nil, errors.New("fixlog: path is required")
	}
	if maxBytes <= 0 {
		return nil, fmt.Errorf("fixlog: capacity must be positive, got %d", maxBytes)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("fixlog: %w", err)
		}
	}
	return &Log{path: path, maxBytes: maxBytes}, nil
}

// Path returns the backing file location.
func (l *Log) Path() string { return l.path }

// FormatEntry renders one log line including the trailing newline.
func FormatEntry(timestamp string, f gps.Fix) string {
	if timestamp == "" {
		timestamp = Placeholder
	}
	return timestamp + " " + f.String() + "\n"
}

// Append evicts old entries if needed and writes one line. The file is
// opened and closed on every call.
func (l *Log) Append(timestamp string, f gps.Fix) (err error) {
	line := FormatEntry(timestamp, f)
	if int64(len(line)) > l.maxBytes {
		return fmt.Errorf("%w: %d > %d bytes", ErrEntryTooLarge, len(line), l.maxBytes)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.evict(int64(len(line))); err != nil {
		return fmt.Errorf("fixlog: evict: %w", err)
	}

	fh, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("fixlog: open: %w", err)
	}
	defer func() {
		if cerr := fh.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("fixlog: close: %w", cerr)
		}
	}()
	if _, err := fh.WriteString(line); err != nil {
		return fmt.Errorf("fixlog: write: %w", err)
	}
	return nil
}

// evict drops whole lines from the head of the file until incoming more bytes
// fit under the capacity.
func (l *Log) evict(incoming int64) error {
	info, err := os.Stat(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	excess := info.Size() + incoming - l.maxBytes
	if excess <= 0 {
		return nil
	}

	data, err := os.ReadFile(l.path)
	if err != nil {
		return err
	}
	cut := 0
	for cut < len(data) && int64(cut) < excess {
		i := bytes.IndexByte(data[cut:], '\n')
		if i < 0 {
			cut = len(data)
			break
		}
		cut += i + 1
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data[cut:], 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, l.path)
}

// Entries returns the lines currently held, oldest first.
func (l *Log) Entries() ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	fh, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fixlog: open: %w", err)
	}
	defer fh.Close()

	var out []string
	sc := bufio.NewScanner(fh)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	return out, sc.Err()
}
