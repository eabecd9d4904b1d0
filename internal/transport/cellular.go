// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/relabs-tech/car_tracker/internal/gps"
	"github.com/relabs-tech/car_tracker/internal/logger"
)

// CellularConfig defines the MQTT session carried over the cellular modem's
// data link.
type CellularConfig struct {
	Broker    string `json:"broker"`
	ClientID  string `json:"client_id"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	Topic     string `json:"topic"`
	QoS       byte   `json:"qos"`
	DeviceID  string `json:"device_id"`
	TimeoutMS int    `json:"timeout_ms"`
}

// SetDefaults fills in the broker session defaults.
func (c *CellularConfig) SetDefaults() {
	if c.ClientID == "" {
		c.ClientID = "car-tracker"
	}
	if c.Topic == "" {
		c.Topic = "tracker/fix"
	}
	if c.DeviceID == "" {
		c.DeviceID = c.ClientID
	}
	if c.TimeoutMS == 0 {
		c.TimeoutMS = 10000
	}
}

// Validate checks mandatory fields.
func (c CellularConfig) Validate() error {
	if c.Broker == "" {
		return errors.New("broker is required")
	}
	if c.QoS > 2 {
		return fmt.Errorf("qos must be 0, 1 or 2, got %d", c.QoS)
	}
	return nil
}

// CellularMessage is the JSON document published for every fix.
type CellularMessage struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"device_id"`
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lon"`
	SentAt    time.Time `json:"sent_at"`
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// Cellular publishes fixes to an MQTT broker.
type Cellular struct {
	cfg     CellularConfig
	log     logger.Logger
	timeout time.Duration
	now     func() time.Time

	cli pahoClient
}

func NewCellular(cfg CellularConfig, log logger.Logger) *Cellular {
	cfg.SetDefaults()
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Cellular{
		cfg:     cfg,
		log:     log,
		timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		now:     time.Now,
	}
}

func (c *Cellular) Name() string { return string(KindCellular) }

// NewClientOptions builds the paho options for cfg.
func NewClientOptions(cfg CellularConfig, log logger.Logger) *paho.ClientOptions {
	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(time.Duration(cfg.TimeoutMS) * time.Millisecond)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	return opts
}

// Setup connects to the broker.
func (c *Cellular) Setup(context.Context) error {
	cli := newMQTTClient(NewClientOptions(c.cfg, c.log))
	token := cli.Connect()
	if !token.WaitTimeout(c.timeout) {
		// stop a connect that may still complete in the background
		cli.Disconnect(0)
		return fmt.Errorf("cellular: connect to %s timed out", c.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		cli.Disconnect(0)
		return fmt.Errorf("cellular: connect to %s: %w", c.cfg.Broker, err)
	}
	c.cli = cli
	c.log.Infof("connected to MQTT broker at %s", c.cfg.Broker)
	return nil
}

// Send publishes f as a CellularMessage.
func (c *Cellular) Send(_ context.Context, f gps.Fix) error {
	if c.cli == nil {
		return errors.New("cellular: send before setup")
	}
	payload, err := json.Marshal(CellularMessage{
		ID:        uuid.NewString(),
		DeviceID:  c.cfg.DeviceID,
		Latitude:  f.Latitude,
		Longitude: f.Longitude,
		SentAt:    c.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("cellular: marshal: %w", err)
	}
	token := c.cli.Publish(c.cfg.Topic, c.cfg.QoS, false, payload)
	if !token.WaitTimeout(c.timeout) {
		return fmt.Errorf("cellular: publish to %s timed out", c.cfg.Topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("cellular: publish to %s: %w", c.cfg.Topic, err)
	}
	return nil
}

func (c *Cellular) Close() error {
	if c.cli != nil {
		c.cli.Disconnect(250)
	}
	return nil
}
