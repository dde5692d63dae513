package transformers

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const inlineCacheSize = 100

// Registry holds named transformers and a bounded cache of inline instances.
type Registry struct {
	logger  *logrus.Logger
	metrics *Metrics

	mu     sync.RWMutex
	named  map[string]Transformer
	inline *lru.Cache[string, Transformer]
}

// NewRegistry creates a transformer registry. Metrics are registered on reg;
// pass nil to keep them unregistered (tests).
func NewRegistry(logger *logrus.Logger, reg prometheus.Registerer) *Registry {
	cache, err := lru.New[string, Transformer](inlineCacheSize)
	if err != nil {
		// Only reachable with a non-positive size constant.
		panic(err)
	}

	return &Registry{
		logger:  logger,
		metrics: NewMetrics(reg),
		named:   make(map[string]Transformer),
		inline:  cache,
	}
}

// Register constructs and stores a named transformer, replacing any previous
// registration under the same name.
func (r *Registry) Register(name string, def Definition) error {
	transformer, err := New(def)
	if err != nil {
		return fmt.Errorf("transformer %q: %w", name, err)
	}

	r.mu.Lock()
	r.named[name] = transformer
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"transformer": name,
		"kind":        def.Kind,
	}).Debug("Registered transformer")
	return nil
}

// Get returns the named transformer, or the shared passthrough instance when
// the name is unknown. Transformer lookups must never fail a mapping pass.
func (r *Registry) Get(name string) Transformer {
	r.mu.RLock()
	transformer, ok := r.named[name]
	r.mu.RUnlock()

	if !ok {
		r.logger.WithFields(logrus.Fields{
			"transformer": name,
			"known":       r.KnownNames(),
		}).Warn("Unknown transformer requested, using passthrough")
		return Passthrough()
	}
	return transformer
}

// GetOrCreate resolves a transformer by name, falling back to an inline
// definition. Named transformers take precedence. Inline instances are cached
// by a canonical JSON key in a bounded LRU.
func (r *Registry) GetOrCreate(name string, inline *Definition) Transformer {
	if name != "" {
		r.mu.RLock()
		transformer, ok := r.named[name]
		r.mu.RUnlock()
		if ok {
			return transformer
		}
	}

	if inline == nil {
		if name != "" {
			return r.Get(name) // passthrough fallback with warning
		}
		return Passthrough()
	}

	key, err := inlineCacheKey(*inline)
	if err != nil {
		r.logger.WithError(err).Warn("Failed to build inline transformer cache key")
		return Passthrough()
	}

	if transformer, ok := r.inline.Get(key); ok {
		return transformer
	}

	transformer, err := New(*inline)
	if err != nil {
		r.logger.WithError(err).WithField("kind", inline.Kind).Warn("Invalid inline transformer definition, using passthrough")
		return Passthrough()
	}

	r.inline.Add(key, transformer)
	return transformer
}

// Monitored wraps the named transformer so reads and writes are counted and a
// failing transformer yields its original input instead of an error.
func (r *Registry) Monitored(name string) Transformer {
	return &monitored{
		name:    name,
		inner:   r.Get(name),
		metrics: r.metrics,
		logger:  r.logger,
	}
}

// MonitoredInstance wraps an already resolved transformer the same way.
func (r *Registry) MonitoredInstance(name string, transformer Transformer) Transformer {
	return &monitored{
		name:    name,
		inner:   transformer,
		metrics: r.metrics,
		logger:  r.logger,
	}
}

// Metrics exposes the registry's metric collectors.
func (r *Registry) Metrics() *Metrics {
	return r.metrics
}

// KnownNames lists registered transformer names, sorted.
func (r *Registry) KnownNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.named))
	for name := range r.named {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clear removes all named transformers, empties the inline cache and resets
// metrics.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.named = make(map[string]Transformer)
	r.inline.Purge()
	r.metrics.reset()
}

func inlineCacheKey(def Definition) (string, error) {
	data, err := json.Marshal(def)
	if err != nil {
		return "", fmt.Errorf("failed to marshal transformer definition: %w", err)
	}
	return string(data), nil
}

// monitored decorates a transformer with operation/error counters. A failing
// inner transformer returns the untransformed input value so a single bad
// transformer cannot abort a whole mapping pass.
type monitored struct {
	name    string
	inner   Transformer
	metrics *Metrics
	logger  *logrus.Logger
}

func (m *monitored) Read(value any) (any, error) {
	m.metrics.recordOperation(m.name, "read")

	out, err := m.inner.Read(value)
	if err != nil {
		m.metrics.recordError(m.name)
		m.logger.WithError(err).WithField("transformer", m.name).Warn("Transformer read failed, keeping original value")
		return value, nil
	}
	return out, nil
}

func (m *monitored) Write(value any) (any, error) {
	m.metrics.recordOperation(m.name, "write")

	out, err := m.inner.Write(value)
	if err != nil {
		m.metrics.recordError(m.name)
		m.logger.WithError(err).WithField("transformer", m.name).Warn("Transformer write failed, keeping original value")
		return value, nil
	}
	return out, nil
}

func (m *monitored) CanRead() bool  { return m.inner.CanRead() }
func (m *monitored) CanWrite() bool { return m.inner.CanWrite() }
