// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	"github.com/cenkalti/backoff/v4"
	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/car_tracker/internal/logger"
)

// NMEAConfig describes the serial link to the positioning receiver.
type NMEAConfig struct {
	SerialPort string
	BaudRate   int
	// AcquisitionTimeout bounds Setup. Zero waits until the context is done.
	AcquisitionTimeout time.Duration
	// PollInterval is the first backoff step while waiting for a fix.
	PollInterval time.Duration
}

var errStreamClosed = errors.New("gps: receiver stream closed")

var openSerial = func(opts serial.OpenOptions) (io.ReadWriteCloser, error) {
	return serial.Open(opts)
}

// NMEASource reads NMEA 0183 sentences from a serial receiver and keeps the
// latest complete fix from RMC and GGA sentences.
type NMEASource struct {
	cfg NMEAConfig
	log logger.Logger

	mu      sync.RWMutex
	current Fix
	have    bool

	port io.ReadWriteCloser
	done chan struct{}
}

// NewNMEASource returns a source for the given receiver. Nothing is opened
// until Setup.
func NewNMEASource(cfg NMEAConfig, log logger.Logger) *NMEASource {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	return &NMEASource{cfg: cfg, log: log}
}

// Setup opens the serial port, starts the sentence reader and waits for the
// first fix, backing off between checks.
func (s *NMEASource) Setup(ctx context.Context) error {
	opts := serial.OpenOptions{
		PortName:              s.cfg.SerialPort,
		BaudRate:              uint(s.cfg.BaudRate),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}
	port, err := openSerial(opts)
	if err != nil {
		return fmt.Errorf("gps: open %s: %w", s.cfg.SerialPort, err)
	}
	s.port = port
	s.done = make(chan struct{})
	s.log.Infof("serial port opened on %s at %d baud", opts.PortName, opts.BaudRate)

	go s.readLoop(bufio.NewReader(port))

	s.log.Infof("waiting for first fix (timeout %s)", s.cfg.AcquisitionTimeout)
	if err := s.awaitFirstFix(ctx); err != nil {
		return err
	}
	f, _ := s.Fix()
	s.log.Infof("first fix acquired %v", f)
	return nil
}

func (s *NMEASource) awaitFirstFix(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.PollInterval
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = s.cfg.AcquisitionTimeout

	op := func() error {
		if _, err := s.Fix(); err == nil {
			return nil
		}
		select {
		case <-s.done:
			return backoff.Permanent(errStreamClosed)
		default:
			return ErrUnavailable
		}
	}

	err := backoff.Retry(op, backoff.WithContext(b, ctx))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUnavailable):
		return fmt.Errorf("%w (waited %s)", ErrAcquisitionTimeout, s.cfg.AcquisitionTimeout)
	default:
		return fmt.Errorf("gps: waiting for first fix: %w", err)
	}
}

func (s *NMEASource) readLoop(r *bufio.Reader) {
	defer close(s.done)
	for {
		line, err := r.ReadString('\n')
		s.handleLine(line)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Warnf("read error: %v", err)
			}
			return
		}
	}
}

func (s *NMEASource) handleLine(line string) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return
	}
	sentence, err := nmea.Parse(line)
	if err != nil {
		// noisy receivers emit partial sentences
		s.log.Debugf("nmea parse error: %v (line: %q)", err, line)
		return
	}

	switch m := sentence.(type) {
	case nmea.RMC:
		// empty coordinate fields parse as 0 without error
		if m.Validity != nmea.ValidRMC || !hasFields(m.Fields, 2, 4) {
			return
		}
		s.update(Fix{Latitude: m.Latitude, Longitude: m.Longitude})
	case nmea.GGA:
		if m.FixQuality == nmea.Invalid || !hasFields(m.Fields, 1, 3) {
			return
		}
		s.update(Fix{Latitude: m.Latitude, Longitude: m.Longitude})
	default:
		// other sentence types (GSA, GSV, VTG, ...) carry no position
	}
}

// hasFields reports whether every indexed raw field is non-empty.
func hasFields(fields []string, idx ...int) bool {
	for _, i := range idx {
		if i >= len(fields) || strings.TrimSpace(fields[i]) == "" {
			return false
		}
	}
	return true
}

func (s *NMEASource) update(f Fix) {
	if !f.Valid() {
		return
	}
	s.mu.Lock()
	s.current = f
	s.have = true
	s.mu.Unlock()
}

// Fix returns the last complete fix reported by the receiver.
func (s *NMEASource) Fix() (Fix, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.have {
		return Fix{}, ErrUnavailable
	}
	return s.current, nil
}

// Close closes the serial port, which also stops the reader.
func (s *NMEASource) Close() error {
	if s.port == nil {
		return nil
	}
	return s.port.Close()
}
