package usecases

import (
	"github.com/agromesh/fieldsync/config"
	"github.com/agromesh/fieldsync/internal/usecases/commands"
	"github.com/agromesh/fieldsync/internal/usecases/queries"
	"github.com/agromesh/fieldsync/pkg/logger"
	"github.com/agromesh/fieldsync/pkg/metrics"
	"github.com/agromesh/fieldsync/ports"
	otelTrace "go.opentelemetry.io/otel/trace"
)

type (
	Commands struct {
		PutEntry         commands.PutEntryCommandHandler
		InvalidateEntry  commands.InvalidateEntryCommandHandler
		RetagEntry       commands.RetagEntryCommandHandler
		EnqueueOperation commands.EnqueueOperationCommandHandler
		PauseSync        commands.PauseSyncCommandHandler
		ResumeSync       commands.ResumeSyncCommandHandler
	}

	Queries struct {
		GetEntry    queries.GetEntryQueryHandler
		FetchEntry  queries.FetchEntryQueryHandler
		CacheStatus queries.CacheStatusQueryHandler
		SyncStatus  queries.SyncStatusQueryHandler
		History     queries.HistoryQueryHandler
	}

	Application struct {
		Commands Commands
		Queries  Queries
	}
)

func NewApplication(
	cache ports.CacheStore,
	queue ports.OperationQueue,
	syncCtl ports.SyncController,
	kicker ports.DrainKicker,
	syncCfg config.Sync,
	log logger.Logger,
	metricsClient metrics.Client,
	tracerProvider otelTrace.TracerProvider,
) *Application {
	return &Application{
		Commands: Commands{
			PutEntry:         commands.NewPutEntryCommandHandler(cache, log, metricsClient, tracerProvider),
			InvalidateEntry:  commands.NewInvalidateEntryCommandHandler(cache, log, metricsClient, tracerProvider),
			RetagEntry:       commands.NewRetagEntryCommandHandler(cache, log, metricsClient, tracerProvider),
			EnqueueOperation: commands.NewEnqueueOperationCommandHandler(queue, kicker, syncCfg.DrainOnEnqueue, log, metricsClient, tracerProvider),
			PauseSync:        commands.NewPauseSyncCommandHandler(syncCtl, log, metricsClient, tracerProvider),
			ResumeSync:       commands.NewResumeSyncCommandHandler(syncCtl, log, metricsClient, tracerProvider),
		},
		Queries: Queries{
			GetEntry:    queries.NewGetEntryQueryHandler(cache, log, metricsClient, tracerProvider),
			FetchEntry:  queries.NewFetchEntryQueryHandler(cache, log, metricsClient, tracerProvider),
			CacheStatus: queries.NewCacheStatusQueryHandler(cache, log, metricsClient, tracerProvider),
			SyncStatus:  queries.NewSyncStatusQueryHandler(syncCtl, log, metricsClient, tracerProvider),
			History:     queries.NewHistoryQueryHandler(queue, log, metricsClient, tracerProvider),
		},
	}
}
