package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/relabs-tech/car_tracker/internal/config"
	"github.com/relabs-tech/car_tracker/internal/device"
	"github.com/relabs-tech/car_tracker/internal/fixlog"
	"github.com/relabs-tech/car_tracker/internal/gps"
	"github.com/relabs-tech/car_tracker/internal/logger"
	"github.com/relabs-tech/car_tracker/internal/metrics"
	"github.com/relabs-tech/car_tracker/internal/tracker"
	"github.com/relabs-tech/car_tracker/internal/transport"
)

// stdout receives the console transport output.
var stdout io.Writer = os.Stdout

// RunTracker brings the board up, assembles the position source, the
// enabled transports and the fix log from cfg, and tracks until ctx is
// cancelled.
func RunTracker(ctx context.Context, cfg *config.Config) error {
	log := logger.New("app")
	runID := uuid.NewString()
	log.Debugw("starting tracker", map[string]any{
		"run_id":     runID,
		"period":     cfg.Tracker.Period().String(),
		"transports": cfg.Transports,
	})

	res, err := device.NewBringup(cfg.Device.Bringup(), logger.New("device")).Run(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := res.Indicator.Close(); err != nil {
			log.Warnf("release indicator: %v", err)
		}
	}()

	var rec metrics.Recorder = metrics.NopRecorder{}
	if cfg.Metrics.ListenAddr != "" {
		reg := prometheus.NewRegistry()
		prom, err := metrics.NewPromRecorder(reg)
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		rec = prom
		go func() {
			if err := metrics.StartPromServer(ctx, cfg.Metrics.ListenAddr, reg); err != nil {
				log.Errorf("prom server: %v", err)
			}
		}()
		log.Infof("metrics on %s/metrics", cfg.Metrics.ListenAddr)
	}

	src, err := newSource(cfg.Source)
	if err != nil {
		return err
	}
	sinks, err := buildSinks(cfg, res.Indicator)
	if err != nil {
		return err
	}

	opts := tracker.Options{
		Period:      cfg.Tracker.Period(),
		FirePolicy:  tracker.FirePolicy(cfg.Tracker.FirePolicy),
		SetupPolicy: tracker.SetupPolicy(cfg.Tracker.SinkSetupPolicy),
		Clock:       res.Clock,
		Metrics:     rec,
		Logger:      logger.New("tracker"),
	}
	if cfg.FixLog.Enabled() {
		fl, err := fixlog.New(cfg.FixLog.Path, cfg.FixLog.MaxBytes)
		if err != nil {
			return err
		}
		opts.FixLog = fl
		log.Infof("logging fixes to %s (max %d bytes)", fl.Path(), cfg.FixLog.MaxBytes)
	}

	t, err := tracker.New(src, sinks, opts)
	if err != nil {
		return err
	}
	return t.BeginTracking(ctx)
}

func newSource(cfg config.SourceConfig) (gps.Source, error) {
	switch cfg.Kind {
	case "nmea":
		return gps.NewNMEASource(cfg.NMEA(), logger.New("gps")), nil
	case "mock":
		return gps.NewMockSource(gps.Fix{Latitude: cfg.MockLatitude, Longitude: cfg.MockLongitude}), nil
	default:
		return nil, fmt.Errorf("unknown position source %q", cfg.Kind)
	}
}

func buildSinks(cfg *config.Config, ind device.Indicator) ([]transport.Sink, error) {
	kinds, err := cfg.Kinds()
	if err != nil {
		return nil, err
	}
	opts := transport.Options{
		Narrowband:   cfg.Narrowband,
		Cellular:     cfg.Cellular,
		LocalNetwork: cfg.LocalNetwork,
		Console:      stdout,
		Indicator:    ind,
	}
	sinks := make([]transport.Sink, 0, len(kinds))
	for _, k := range kinds {
		s, err := transport.New(k, opts)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}
