// Package metrics exposes meter reader counters and the last decoded
// values for prometheus. Nil *Meter is valid and records nothing.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/temoto/powermeter/log2"
)

const namespace = "powermeter"

func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

type Meter struct {
	FramesRead    prometheus.Counter
	BytesRead     prometheus.Counter
	Timeouts      prometheus.Counter
	FrameResults  *prometheus.CounterVec // result=valid|invalid
	FieldsMissing *prometheus.CounterVec // field
	FieldErrors   prometheus.Counter
	Published     prometheus.Counter
	PublishErrors prometheus.Counter
	Values        *prometheus.GaugeVec // field, last published numeric value
}

func NewMeter(reg prometheus.Registerer) *Meter {
	m := &Meter{
		FramesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_read_total",
			Help:      "Frames (or chunks) read from serial line.",
		}),
		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_read_total",
			Help:      "Bytes in frames read from serial line.",
		}),
		Timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_timeouts_total",
			Help:      "Serial reads that got no data within timeout.",
		}),
		FrameResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_validated_total",
			Help:      "Frame validation results.",
		}, []string{"result"}),
		FieldsMissing: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fields_missing_total",
			Help:      "Fields whose tag was not found in a valid frame.",
		}, []string{"field"}),
		FieldErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "field_errors_total",
			Help:      "Fields dropped because value did not parse.",
		}),
		Published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fields_published_total",
			Help:      "Field values handed to MQTT client.",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Field values MQTT client refused.",
		}),
		Values: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "value",
			Help:      "Last published numeric field value.",
		}, []string{"field"}),
	}
	reg.MustRegister(m.FramesRead, m.BytesRead, m.Timeouts, m.FrameResults, m.FieldsMissing,
		m.FieldErrors, m.Published, m.PublishErrors, m.Values)
	return m
}

func (m *Meter) FrameRead(n int) {
	if m == nil {
		return
	}
	m.FramesRead.Inc()
	m.BytesRead.Add(float64(n))
}

func (m *Meter) Timeout() {
	if m == nil {
		return
	}
	m.Timeouts.Inc()
}

func (m *Meter) FrameResult(valid bool) {
	if m == nil {
		return
	}
	result := "invalid"
	if valid {
		result = "valid"
	}
	m.FrameResults.WithLabelValues(result).Inc()
}

func (m *Meter) FieldMissing(field string) {
	if m == nil {
		return
	}
	m.FieldsMissing.WithLabelValues(field).Inc()
}

func (m *Meter) FieldError(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.FieldErrors.Add(float64(n))
}

func (m *Meter) Publish(field string, value float64, numeric bool, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.PublishErrors.Inc()
		return
	}
	m.Published.Inc()
	if numeric {
		m.Values.WithLabelValues(field).Set(value)
	}
}

// Serve blocks until ctx is done. Empty listen disables.
func Serve(ctx context.Context, listen string, reg *prometheus.Registry, log *log2.Log) error {
	if listen == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(reg))
	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errch := make(chan error, 1)
	go func() { errch <- srv.ListenAndServe() }()
	log.Infof("metrics listen=%s", listen)
	select {
	case err := <-errch:
		return errors.Annotatef(err, "metrics listen=%s", listen)
	case <-ctx.Done():
	}
	shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
