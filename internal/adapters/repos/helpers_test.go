package repos_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/agromesh/fieldsync/config"
	"github.com/agromesh/fieldsync/internal/adapters/repos"
	"github.com/agromesh/fieldsync/internal/infrastructure"
	"github.com/agromesh/fieldsync/pkg/logger"
	"github.com/agromesh/fieldsync/pkg/metrics/noop"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, path string) *infrastructure.SQLiteStore {
	t.Helper()

	store, err := infrastructure.NewSQLiteStore(config.Storage{
		Path:        path,
		BusyTimeout: 5 * time.Second,
	}, logger.NewTestLogger())
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}

func newTestCodec() *infrastructure.Codec {
	return infrastructure.NewCodec(config.Compression{Enabled: true, Level: 5, MinSize: 256})
}

func testCacheConfig() config.Cache {
	return config.Cache{
		CapacityBytes:   1 << 20,
		SweepInterval:   time.Minute,
		RecencyWeight:   1.0,
		FrequencyWeight: 1.0,
	}
}

func testQueueConfig() config.Queue {
	return config.Queue{
		MaxRetries:       5,
		HistoryLimit:     100,
		HistoryRetention: 168 * time.Hour,
	}
}

func newCacheRepo(t *testing.T, store *infrastructure.SQLiteStore, cfg config.Cache) *repos.CacheRepository {
	t.Helper()

	repo, err := repos.NewCacheRepository(
		context.Background(), store, newTestCodec(), repos.NewSQLScanner(),
		cfg, noop.NewMetricsClient(), logger.NewTestLogger(),
	)
	require.NoError(t, err)

	return repo
}

func newQueueRepo(t *testing.T, store *infrastructure.SQLiteStore, cfg config.Queue) *repos.QueueRepository {
	t.Helper()

	repo, err := repos.NewQueueRepository(
		context.Background(), store, newTestCodec(), repos.NewSQLScanner(),
		cfg, noop.NewMetricsClient(), logger.NewTestLogger(),
	)
	require.NoError(t, err)

	return repo
}

func tempDBPath(t *testing.T) string {
	t.Helper()

	return filepath.Join(t.TempDir(), "fieldsync.db")
}
