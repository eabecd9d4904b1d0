package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PromRecorder records tracker events in Prometheus metrics.
type PromRecorder struct {
	cycles      prometheus.Counter
	cycleTime   prometheus.Histogram
	sends       *prometheus.CounterVec
	logAppends  *prometheus.CounterVec
	unavailable prometheus.Counter
}

// NewPromRecorder registers the tracker metrics on reg. A nil registerer
// defaults to the global Prometheus registerer.
func NewPromRecorder(reg prometheus.Registerer) (*PromRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &PromRecorder{
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_cycles_total",
			Help: "Number of completed tracking cycles",
		}),
		cycleTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_cycle_duration_seconds",
			Help:    "Time spent dispatching one fix to every sink and the log",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_sends_total",
			Help: "Fix deliveries per sink and outcome",
		}, []string{"sink", "outcome"}),
		logAppends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_fixlog_appends_total",
			Help: "Fix log appends by result",
		}, []string{"ok"}),
		unavailable: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_fix_unavailable_total",
			Help: "Cycles skipped because no fix was available",
		}),
	}

	var err error
	if r.cycles, err = register(reg, r.cycles); err != nil {
		return nil, err
	}
	if r.cycleTime, err = register(reg, r.cycleTime); err != nil {
		return nil, err
	}
	if r.sends, err = register(reg, r.sends); err != nil {
		return nil, err
	}
	if r.logAppends, err = register(reg, r.logAppends); err != nil {
		return nil, err
	}
	if r.unavailable, err = register(reg, r.unavailable); err != nil {
		return nil, err
	}
	return r, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (r *PromRecorder) RecordCycle(d time.Duration) {
	r.cycles.Inc()
	r.cycleTime.Observe(d.Seconds())
}

func (r *PromRecorder) RecordSend(sink, outcome string) {
	r.sends.WithLabelValues(sink, outcome).Inc()
}

func (r *PromRecorder) RecordLogAppend(ok bool) {
	r.logAppends.WithLabelValues(strconv.FormatBool(ok)).Inc()
}

func (r *PromRecorder) RecordFixUnavailable() {
	r.unavailable.Inc()
}

// StartPromServer serves /metrics on addr until ctx is cancelled.
func StartPromServer(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
