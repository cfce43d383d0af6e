// Package observe provides application-wide observability primitives for
// spellcast: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// bridges them to a Prometheus registry scraped via /metrics. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/spellcast/pkg/tokenize"
)

// meterName is the instrumentation scope name used for all spellcast metrics.
const meterName = "github.com/MrWong99/spellcast"

// Recognition outcomes used as the "outcome" attribute of
// [Metrics.Recognitions].
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeSilence  = "silence"
	OutcomeError    = "error"
)

// CacheSource is a phrase cache whose size and hit counters are exported as
// observable instruments. [*tokenize.Cache] satisfies it.
type CacheSource interface {
	Len() int
	Stats() tokenize.CacheStats
}

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// RecognizeDuration tracks the latency of one recognition call.
	RecognizeDuration metric.Float64Histogram

	// RecognizeSimilarity tracks the similarity of the best candidate.
	RecognizeSimilarity metric.Float64Histogram

	// Recognitions counts recognition calls. Use with attributes:
	//   attribute.String("spell_id", ...), attribute.String("outcome", ...)
	Recognitions metric.Int64Counter

	// ActiveSessions tracks the number of live recognition sessions.
	ActiveSessions metric.Int64UpDownCounter

	// PhraseCacheEntries reports the number of cached phrase tokenizations
	// per registered cache.
	PhraseCacheEntries metric.Int64ObservableGauge

	// PhraseCacheLookups reports cumulative cache lookups per registered
	// cache, split by attribute.String("result", "hit"|"miss").
	PhraseCacheLookups metric.Int64ObservableCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	mu     sync.Mutex
	caches map[string]CacheSource
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// recognition calls, which run in microseconds to a few milliseconds.
var latencyBuckets = []float64{
	0.00001, 0.000025, 0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05,
}

// similarityBuckets covers the [0, 1] similarity range with finer steps
// around typical acceptance thresholds.
var similarityBuckets = []float64{
	0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.75, 0.8, 0.85, 0.9, 0.95, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{caches: make(map[string]CacheSource)}

	// Histograms.
	if met.RecognizeDuration, err = m.Float64Histogram("spellcast.recognize.duration",
		metric.WithDescription("Latency of one recognition call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecognizeSimilarity, err = m.Float64Histogram("spellcast.recognize.similarity",
		metric.WithDescription("Similarity of the best-scoring candidate."),
		metric.WithExplicitBucketBoundaries(similarityBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Recognitions, err = m.Int64Counter("spellcast.recognitions",
		metric.WithDescription("Total recognition calls by spell ID and outcome."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.ActiveSessions, err = m.Int64UpDownCounter("spellcast.active_sessions",
		metric.WithDescription("Number of live recognition sessions."),
	); err != nil {
		return nil, err
	}
	if met.PhraseCacheEntries, err = m.Int64ObservableGauge("spellcast.phrase_cache.entries",
		metric.WithDescription("Number of cached phrase tokenizations."),
	); err != nil {
		return nil, err
	}
	if met.PhraseCacheLookups, err = m.Int64ObservableCounter("spellcast.phrase_cache.lookups",
		metric.WithDescription("Phrase cache lookups by result."),
	); err != nil {
		return nil, err
	}
	if _, err = m.RegisterCallback(met.observeCaches, met.PhraseCacheEntries, met.PhraseCacheLookups); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("spellcast.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordRecognition records one recognition call: its latency, the best
// similarity, and a counter increment tagged with spellID and outcome.
func (m *Metrics) RecordRecognition(ctx context.Context, spellID, outcome string, similarity float64, d time.Duration) {
	m.RecognizeDuration.Record(ctx, d.Seconds())
	m.RecognizeSimilarity.Record(ctx, similarity)
	m.Recognitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("spell_id", spellID),
			attribute.String("outcome", outcome),
		),
	)
}

// WatchCache exports the size and hit counters of c under the "cache"
// attribute name. Registering the same name again replaces the source.
func (m *Metrics) WatchCache(name string, c CacheSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.caches[name] = c
}

// UnwatchCache stops exporting the cache registered under name.
func (m *Metrics) UnwatchCache(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.caches, name)
}

func (m *Metrics) observeCaches(_ context.Context, o metric.Observer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, c := range m.caches {
		stats := c.Stats()
		o.ObserveInt64(m.PhraseCacheEntries, int64(c.Len()),
			metric.WithAttributes(attribute.String("cache", name)))
		o.ObserveInt64(m.PhraseCacheLookups, int64(stats.Hits),
			metric.WithAttributes(attribute.String("cache", name), attribute.String("result", "hit")))
		o.ObserveInt64(m.PhraseCacheLookups, int64(stats.Misses),
			metric.WithAttributes(attribute.String("cache", name), attribute.String("result", "miss")))
	}
	return nil
}
