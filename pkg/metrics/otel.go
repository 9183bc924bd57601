package metrics

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Engine instrument names. Emitters reference these keys when calling Inc.
const (
	CacheHitsTotal        = "cache_hits_total"
	CacheMissesTotal      = "cache_misses_total"
	CacheEvictionsTotal   = "cache_evictions_total"
	CacheExpirationsTotal = "cache_expirations_total"
	CacheBytesUsed        = "cache_bytes_used"
	QueueDepth            = "queue_depth"
	SyncAttemptsTotal     = "sync_attempts_total"
	SyncFailuresTotal     = "sync_failures_total"
	SyncConflictsTotal    = "sync_conflicts_total"
	DrainCycleSeconds     = "drain_cycle_duration_seconds"
)

type otelClient struct {
	counters   map[string]metric.Int64Counter
	gauges     map[string]metric.Int64Gauge
	histograms map[string]metric.Float64Histogram
}

// NewClient registers the engine instruments on the given meter and returns
// a Client that dispatches Inc calls by instrument name.
func NewClient(meter metric.Meter) (Client, error) {
	c := &otelClient{
		counters:   make(map[string]metric.Int64Counter),
		gauges:     make(map[string]metric.Int64Gauge),
		histograms: make(map[string]metric.Float64Histogram),
	}

	counterDescriptors := map[string]Descriptor{
		CacheHitsTotal:        {Description: "Number of cache reads served locally.", Unit: "{hit}"},
		CacheMissesTotal:      {Description: "Number of cache reads that found no usable entry.", Unit: "{miss}"},
		CacheEvictionsTotal:   {Description: "Number of entries evicted to reclaim capacity.", Unit: "{entry}"},
		CacheExpirationsTotal: {Description: "Number of entries removed after their TTL elapsed.", Unit: "{entry}"},
		SyncAttemptsTotal:     {Description: "Number of sync transmissions attempted.", Unit: "{attempt}"},
		SyncFailuresTotal:     {Description: "Number of sync transmissions that failed.", Unit: "{attempt}"},
		SyncConflictsTotal:    {Description: "Number of sync transmissions rejected with a conflict.", Unit: "{conflict}"},
	}

	for name, descriptor := range counterDescriptors {
		counter, err := RegisterInt64Counter(meter, descriptor, name)
		if err != nil {
			return nil, err
		}

		c.counters[name] = counter
	}

	gaugeDescriptors := map[string]Descriptor{
		CacheBytesUsed: {Description: "Bytes currently held by cache payloads.", Unit: "By"},
		QueueDepth:     {Description: "Operations waiting to be synchronized.", Unit: "{operation}"},
	}

	for name, descriptor := range gaugeDescriptors {
		gauge, err := RegisterInt64Gauge(meter, descriptor, name)
		if err != nil {
			return nil, err
		}

		c.gauges[name] = gauge
	}

	histogram, err := RegisterFloat64Histogram(meter, Descriptor{
		Description: "Wall time spent draining one operation end to end.",
		Unit:        "s",
	}, DrainCycleSeconds)
	if err != nil {
		return nil, err
	}

	c.histograms[DrainCycleSeconds] = histogram

	return c, nil
}

func (c *otelClient) Inc(ctx context.Context, key string, value any, attributes ...attribute.KeyValue) {
	opts := metric.WithAttributes(attributes...)

	if counter, ok := c.counters[key]; ok {
		counter.Add(ctx, toInt64(value), opts)

		return
	}

	if gauge, ok := c.gauges[key]; ok {
		gauge.Record(ctx, toInt64(value), opts)

		return
	}

	if histogram, ok := c.histograms[key]; ok {
		histogram.Record(ctx, toFloat64(value), opts)
	}
}

// Handler is served by the embedding application; the engine itself exposes
// no HTTP surface.
func (c *otelClient) Handler() http.Handler {
	return http.NotFoundHandler()
}

func (c *otelClient) Shutdown(_ context.Context) error {
	return nil
}

func toInt64(value any) int64 {
	switch v := value.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case uint64:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func toFloat64(value any) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	default:
		return 0
	}
}
