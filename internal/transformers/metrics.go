package transformers

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Metrics collects transformer operation and error counters.
type Metrics struct {
	operations *prometheus.CounterVec
	errors     *prometheus.CounterVec
}

// NewMetrics creates and registers transformer metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transformer_operations_total",
			Help: "Number of transformer read/write operations.",
		}, []string{"transformer", "direction"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transformer_errors_total",
			Help: "Number of transformer operations that failed.",
		}, []string{"transformer"}),
	}

	if reg != nil {
		reg.MustRegister(m.operations, m.errors)
	}
	return m
}

func (m *Metrics) recordOperation(name, direction string) {
	m.operations.WithLabelValues(name, direction).Inc()
}

func (m *Metrics) recordError(name string) {
	m.errors.WithLabelValues(name).Inc()
}

func (m *Metrics) reset() {
	m.operations.Reset()
	m.errors.Reset()
}

// ErrorCount returns the current error count for a transformer name.
func (m *Metrics) ErrorCount(name string) float64 {
	return counterValue(m.errors.WithLabelValues(name))
}

func counterValue(c prometheus.Counter) float64 {
	var metric dto.Metric
	if err := c.Write(&metric); err != nil {
		return 0
	}
	if metric.Counter == nil || metric.Counter.Value == nil {
		return 0
	}
	return *metric.Counter.Value
}
