package annidx

import (
	"log/slog"

	"github.com/annidx/annidx/distance"
	"github.com/annidx/annidx/embedding"
	"github.com/annidx/annidx/persistence"
)

type options struct {
	metric         distance.Metric
	m              int
	efConstruction int
	efSearch       int
	maxElements    int
	heuristic      bool
	randomSeed     *int64
	compression    persistence.Compression
	embedder       embedding.Embedder
	metrics        MetricsCollector
	logger         *Logger
}

// Option configures an Index.
type Option func(*options)

// WithMetric sets the distance metric. Defaults to cosine.
func WithMetric(m distance.Metric) Option {
	return func(o *options) {
		o.metric = m
	}
}

// WithM sets the maximum number of bidirectional links per node per layer
// (layer 0 holds twice as many). Higher M improves recall at the cost of
// memory and build time.
func WithM(m int) Option {
	return func(o *options) {
		o.m = m
	}
}

// WithEFConstruction sets the beam width used while building the graph.
func WithEFConstruction(ef int) Option {
	return func(o *options) {
		o.efConstruction = ef
	}
}

// WithEFSearch sets the default beam width used by queries. Individual
// queries may override it through SearchOptions.
func WithEFSearch(ef int) Option {
	return func(o *options) {
		o.efSearch = ef
	}
}

// WithMaxElements sets the index capacity. Adds beyond it fail with
// ErrCapacityExceeded until an explicit Resize.
func WithMaxElements(n int) Option {
	return func(o *options) {
		o.maxElements = n
	}
}

// WithoutHeuristic disables the diversity-preferring neighbor selection and
// falls back to closest-M. Measurably degrades recall; mainly useful for
// comparisons.
func WithoutHeuristic() Option {
	return func(o *options) {
		o.heuristic = false
	}
}

// WithRandomSeed pins the random source used for layer assignment so the
// graph structure is reproducible for a fixed insertion order.
func WithRandomSeed(seed int64) Option {
	return func(o *options) {
		o.randomSeed = &seed
	}
}

// WithCompression sets the payload compression of saved snapshots.
// Defaults to none; loads accept any supported compression regardless.
func WithCompression(c persistence.Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithEmbedder configures the embedder backing AddText and SearchText.
func WithEmbedder(e embedding.Embedder) Option {
	return func(o *options) {
		o.embedder = e
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations.
//
// Example with BasicMetricsCollector:
//
//	metrics := &annidx.BasicMetricsCollector{}
//	idx, _ := annidx.New(384, annidx.WithMetricsCollector(metrics))
//	// ... use idx ...
//	stats := metrics.GetStats()
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc != nil {
			o.metrics = mc
		}
	}
}

// WithLogger configures structured logging for operations.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metric:         distance.MetricCosine,
		m:              DefaultM,
		efConstruction: DefaultEFConstruction,
		efSearch:       DefaultEFSearch,
		maxElements:    DefaultMaxElements,
		heuristic:      true,
		compression:    persistence.CompressionNone,
		metrics:        NoopMetricsCollector{},
		logger:         NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
