// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	serial "github.com/jacobsa/go-serial/serial"
)

// Radio hands raw frames to a narrowband modem.
type Radio interface {
	Transmit(payload []byte) error
	Close() error
}

var (
	errModem           = errors.New("modem error")
	errResponseTimeout = errors.New("modem response timeout")
)

var openSerial = func(opts serial.OpenOptions) (io.ReadWriteCloser, error) {
	return serial.Open(opts)
}

// ATModem drives a narrowband module speaking AT commands over a serial
// port. Frames are sent uplink-only with AT$SF=<hex>.
type ATModem struct {
	port    io.ReadWriteCloser
	timeout time.Duration
	now     func() time.Time
	pending []byte
}

// OpenATModem opens the serial port and checks the module answers.
func OpenATModem(cfg NarrowbandConfig) (*ATModem, error) {
	port, err := openSerial(serial.OpenOptions{
		PortName:              cfg.SerialPort,
		BaudRate:              uint(cfg.BaudRate),
		DataBits:              8,
		StopBits:              1,
		ParityMode:            serial.PARITY_NONE,
		MinimumReadSize:       0,
		InterCharacterTimeout: 100,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.SerialPort, err)
	}
	m := &ATModem{
		port:    port,
		timeout: time.Duration(cfg.ResponseTimeoutMS) * time.Millisecond,
		now:     time.Now,
	}
	if err := m.command("AT"); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("probe modem on %s: %w", cfg.SerialPort, err)
	}
	return m, nil
}

// Transmit sends one frame and waits for the module to accept it.
func (m *ATModem) Transmit(payload []byte) error {
	if len(payload) == 0 || len(payload) > MaxNarrowbandPayload {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	return m.command(fmt.Sprintf("AT$SF=%X", payload))
}

func (m *ATModem) Close() error { return m.port.Close() }

// command writes cmd and reads lines until OK or ERROR. Echoed commands and
// informational lines are skipped.
func (m *ATModem) command(cmd string) error {
	if _, err := io.WriteString(m.port, cmd+"\r\n"); err != nil {
		return fmt.Errorf("write %q: %w", cmd, err)
	}
	deadline := m.now().Add(m.timeout)
	for {
		line, err := m.readLine(deadline)
		if err != nil {
			return fmt.Errorf("%s: %w", cmd, err)
		}
		switch {
		case line == "OK":
			return nil
		case strings.HasPrefix(line, "ERROR"):
			return fmt.Errorf("%s: %w: %s", cmd, errModem, line)
		}
	}
}

func (m *ATModem) readLine(deadline time.Time) (string, error) {
	buf := make([]byte, 64)
	for {
		if i := bytes.IndexByte(m.pending, '\n'); i >= 0 {
			line := strings.TrimSpace(string(m.pending[:i]))
			m.pending = m.pending[i+1:]
			if line == "" {
				continue
			}
			return line, nil
		}
		if m.now().After(deadline) {
			return "", errResponseTimeout
		}
		n, err := m.port.Read(buf)
		m.pending = append(m.pending, buf[:n]...)
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		if n == 0 {
			// the port returns empty reads once the inter-character timeout expires
			time.Sleep(10 * time.Millisecond)
		}
	}
}
