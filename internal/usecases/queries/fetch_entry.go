package queries

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agromesh/fieldsync/model"
	"github.com/agromesh/fieldsync/pkg/decorator"
	"github.com/agromesh/fieldsync/pkg/logger"
	"github.com/agromesh/fieldsync/pkg/metrics"
	"github.com/agromesh/fieldsync/ports"
	otelTrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

type (
	// FetchEntryQuery reads an entry through the cache: a hit returns the
	// stored entry, a miss runs Fill and caches what it produced.
	FetchEntryQuery struct {
		Key  string
		Tier model.Tier
		TTL  time.Duration
		Fill ports.FillFunc
	}

	FetchEntryQueryHandler = decorator.QueryHandler[FetchEntryQuery, model.CacheEntry]

	fetchEntryQueryHandler struct {
		flight *singleflight.Group
	}

	// entryCache adapts the cache store to the caching decorator. The
	// write ignores the decorator's fixed TTL in favor of the TTL the
	// query carries.
	entryCache struct {
		store ports.CacheStore
	}
)

func NewFetchEntryQueryHandler(
	cache ports.CacheStore,
	log logger.Logger,
	metricsClient metrics.Client,
	tracerProvider otelTrace.TracerProvider,
) FetchEntryQueryHandler {
	handler := decorator.NewQueryCachingDecorator[FetchEntryQuery, model.CacheEntry](
		fetchEntryQueryHandler{flight: &singleflight.Group{}},
		entryCache{store: cache},
		decorator.CacheConfig{Enabled: true},
	)

	return decorator.ApplyQueryDecorators[FetchEntryQuery, model.CacheEntry](
		handler,
		log,
		metricsClient,
		tracerProvider,
	)
}

// Execute runs only on cache misses; hits are answered by the caching
// decorator. Concurrent misses on the same key share a single fill.
func (h fetchEntryQueryHandler) Execute(ctx context.Context, query FetchEntryQuery) (model.CacheEntry, error) {
	if query.Fill == nil {
		return model.CacheEntry{}, model.ErrCacheMiss
	}

	result, err, _ := h.flight.Do(query.Key, func() (any, error) {
		payload, version, fillErr := query.Fill(ctx)
		if fillErr != nil {
			return nil, fmt.Errorf("filling entry: %w", fillErr)
		}

		return model.CacheEntry{
			Key:     query.Key,
			Tier:    query.Tier,
			Payload: payload,
			Size:    int64(len(payload)),
			Version: version,
		}, nil
	})
	if err != nil {
		return model.CacheEntry{}, err
	}

	entry, ok := result.(model.CacheEntry)
	if !ok {
		return model.CacheEntry{}, errors.New("unexpected fill result type")
	}

	return entry, nil
}

func (c entryCache) Get(ctx context.Context, query FetchEntryQuery) (model.CacheEntry, bool, error) {
	entry, err := c.store.Get(ctx, query.Key)
	if errors.Is(err, model.ErrCacheMiss) {
		return model.CacheEntry{}, false, nil
	}

	if err != nil {
		return model.CacheEntry{}, false, err
	}

	return entry, true, nil
}

func (c entryCache) Set(ctx context.Context, query FetchEntryQuery, entry model.CacheEntry, _ time.Duration) error {
	_, err := c.store.Put(ctx, ports.PutParams{
		Key:     query.Key,
		Payload: entry.Payload,
		Tier:    query.Tier,
		TTL:     query.TTL,
		Version: entry.Version,
	})

	return err
}
