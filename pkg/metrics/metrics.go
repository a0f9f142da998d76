// Package metrics exposes Prometheus collectors for envelope traffic and kernel calls.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Status labels.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Observer receives node events. Implementations must be safe for concurrent use.
type Observer interface {
	EnvelopeReceived(op, status string)
	EnvelopeSent(op string)
	KernelCall(op string, d time.Duration, err error)
	SchemaValidation(valid bool)
	JournalWrite(inserted bool, err error)
}

// NoOp discards every event.
type NoOp struct{}

func (NoOp) EnvelopeReceived(string, string)         {}
func (NoOp) EnvelopeSent(string)                     {}
func (NoOp) KernelCall(string, time.Duration, error) {}
func (NoOp) SchemaValidation(bool)                   {}
func (NoOp) JournalWrite(bool, error)                {}

// Prometheus implements Observer with collectors registered on its own registry.
type Prometheus struct {
	registry      *prometheus.Registry
	received      *prometheus.CounterVec
	sent          *prometheus.CounterVec
	kernelLatency *prometheus.HistogramVec
	validations   *prometheus.CounterVec
	journal       *prometheus.CounterVec
}

// NewPrometheus creates the collectors and registers them, together with the Go and process
// collectors, on a fresh registry.
func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "umicp_envelopes_received_total",
			Help: "Envelopes received, by operation and handling status",
		}, []string{"op", "status"}),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "umicp_envelopes_sent_total",
			Help: "Envelopes published, by operation",
		}, []string{"op"}),
		kernelLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "umicp_kernel_duration_seconds",
			Help:    "Latency of kernel operations served to requests",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10),
		}, []string{"op", "status"}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "umicp_schema_validations_total",
			Help: "Schema validations, by result",
		}, []string{"status"}),
		journal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "umicp_journal_writes_total",
			Help: "Journal writes, by result (inserted, duplicate, error)",
		}, []string{"result"}),
	}

	p.registry.MustRegister(
		p.received,
		p.sent,
		p.kernelLatency,
		p.validations,
		p.journal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

// Registry returns the underlying registry, for gathering in tests.
func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *Prometheus) EnvelopeReceived(op, status string) {
	p.received.WithLabelValues(op, status).Inc()
}

func (p *Prometheus) EnvelopeSent(op string) {
	p.sent.WithLabelValues(op).Inc()
}

func (p *Prometheus) KernelCall(op string, d time.Duration, err error) {
	p.kernelLatency.WithLabelValues(op, statusOf(err)).Observe(d.Seconds())
}

func (p *Prometheus) SchemaValidation(valid bool) {
	status := StatusOK
	if !valid {
		status = StatusError
	}
	p.validations.WithLabelValues(status).Inc()
}

func (p *Prometheus) JournalWrite(inserted bool, err error) {
	switch {
	case err != nil:
		p.journal.WithLabelValues("error").Inc()
	case inserted:
		p.journal.WithLabelValues("inserted").Inc()
	default:
		p.journal.WithLabelValues("duplicate").Inc()
	}
}

func statusOf(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusOK
}
