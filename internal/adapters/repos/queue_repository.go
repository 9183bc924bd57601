package repos

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/agromesh/fieldsync/config"
	"github.com/agromesh/fieldsync/internal/infrastructure"
	"github.com/agromesh/fieldsync/model"
	"github.com/agromesh/fieldsync/pkg/logger"
	"github.com/agromesh/fieldsync/pkg/metrics"
	"github.com/agromesh/fieldsync/ports"
)

const operationsTable = "operation_records"

type (
	operationRow struct {
		ID            string         `db:"id"`
		Kind          string         `db:"kind"`
		Status        string         `db:"status"`
		EntityKey     string         `db:"entity_key"`
		Payload       []byte         `db:"payload"`
		Encoding      string         `db:"encoding"`
		Checksum      int64          `db:"checksum"`
		BaseVersion   string         `db:"base_version"`
		DedupeKey     sql.NullString `db:"dedupe_key"`
		Priority      string         `db:"priority"`
		PriorityRank  int64          `db:"priority_rank"`
		Position      int64          `db:"position"`
		RetryCount    uint           `db:"retry_count"`
		EnqueuedAt    int64          `db:"enqueued_at"`
		NextAttemptAt int64          `db:"next_attempt_at"`
		CompletedAt   int64          `db:"completed_at"`
		LastError     string         `db:"last_error"`
		Notice        string         `db:"notice"`
	}

	// QueueRepository implements the OperationQueue interface on sqlite.
	// Ordering is priority class first, then a monotonically growing
	// position: enqueues take the next position, and a failed attempt takes
	// a fresh one, which moves the record to the tail of its class.
	QueueRepository struct {
		store   *infrastructure.SQLiteStore
		codec   *infrastructure.Codec
		scanner Scanner
		logger  logger.Logger
		metrics metrics.Client
		config  config.Queue

		clock func() time.Time

		mu           sync.Mutex
		nextPosition int64
	}
)

var operationColumns = []string{
	"id", "kind", "status", "entity_key", "payload", "encoding", "checksum",
	"base_version", "dedupe_key", "priority", "priority_rank", "position",
	"retry_count", "enqueued_at", "next_attempt_at", "completed_at",
	"last_error", "notice",
}

// NewQueueRepository creates a queue repository, resuming the position
// counter from the rows already on disk.
func NewQueueRepository(
	ctx context.Context,
	store *infrastructure.SQLiteStore,
	codec *infrastructure.Codec,
	scanner Scanner,
	config config.Queue,
	metricsClient metrics.Client,
	log logger.Logger,
) (*QueueRepository, error) {
	repo := &QueueRepository{
		store:   store,
		codec:   codec,
		scanner: scanner,
		logger:  log,
		metrics: metricsClient,
		config:  config,
		clock:   time.Now,
	}

	if err := repo.loadPosition(ctx); err != nil {
		return nil, err
	}

	return repo, nil
}

// WithClock overrides the time source, which tests rely on.
func (r *QueueRepository) WithClock(clock func() time.Time) *QueueRepository {
	r.clock = clock

	return r
}

// Enqueue durably appends an operation and returns the stored record. A
// matching active dedupe key collapses the call onto the existing record.
func (r *QueueRepository) Enqueue(ctx context.Context, params ports.EnqueueParams) (model.OperationRecord, error) {
	if !params.Kind.IsValid() {
		return model.OperationRecord{}, fmt.Errorf("invalid operation kind: %s", params.Kind)
	}

	now := r.clock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if params.DedupeKey != "" {
		existing, found, err := r.findActiveByDedupeKeyLocked(ctx, params.DedupeKey)
		if err != nil {
			return model.OperationRecord{}, err
		}

		if found {
			r.logger.Debug().
				Str("operation_id", existing.ID.String()).
				Str("dedupe_key", params.DedupeKey).
				Msg("enqueue collapsed onto existing operation")

			return existing, nil
		}
	}

	record := model.NewOperationRecord(params.Kind, params.EntityKey, params.Payload, now)
	record.BaseVersion = params.BaseVersion
	record.DedupeKey = params.DedupeKey

	var dedupeKey any
	if params.DedupeKey != "" {
		dedupeKey = params.DedupeKey
	}

	data, encoding, sum := r.codec.Encode(record.Payload)
	position := r.nextPosition

	query, args, err := qb.Insert(operationsTable).
		Columns(operationColumns...).
		Values(
			record.ID.String(), record.Kind.String(), record.Status.String(), record.EntityKey,
			data, encoding, int64(sum), record.BaseVersion, dedupeKey,
			record.Priority.String(), record.Priority.Rank(), position,
			record.RetryCount, toMillis(record.EnqueuedAt), toMillis(record.NextAttemptAt),
			0, "", "",
		).
		ToSql()
	if err != nil {
		return model.OperationRecord{}, fmt.Errorf("building enqueue query: %w", err)
	}

	if _, err := r.store.DB().ExecContext(ctx, query, args...); err != nil {
		return model.OperationRecord{}, fmt.Errorf("storing operation: %w", err)
	}

	r.nextPosition++

	r.logger.Debug().
		Str("operation_id", record.ID.String()).
		Str("kind", record.Kind.String()).
		Str("priority", record.Priority.String()).
		Msg("operation enqueued")

	r.observeDepthLocked(ctx)

	return record, nil
}

// PeekNext returns the next attemptable record: highest priority class
// first, enqueue order within a class, skipping records whose retry delay
// has not elapsed.
func (r *QueueRepository) PeekNext(ctx context.Context) (model.OperationRecord, error) {
	now := r.clock()

	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		row, err := r.nextPendingRowLocked(ctx, now)
		if err != nil {
			return model.OperationRecord{}, err
		}

		record, err := r.toRecord(row)
		if err != nil {
			r.logger.Warn().
				Str("operation_id", row.ID).
				Err(err).
				Msg("closing out unreplayable operation record")

			if markErr := r.markUnreplayableLocked(ctx, row, err); markErr != nil {
				return model.OperationRecord{}, markErr
			}

			continue
		}

		return record, nil
	}
}

// MarkInFlight claims a pending record for transmission. The schema permits
// at most one in-flight record, so claiming while another transmission is
// open fails.
func (r *QueueRepository) MarkInFlight(ctx context.Context, id model.OperationID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	query, args, err := qb.Update(operationsTable).
		Set("status", model.StatusInFlight.String()).
		Where(sq.Eq{"id": id.String(), "status": model.StatusPending.String()}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building claim query: %w", err)
	}

	result, err := r.store.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("claiming operation: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("claiming operation: %w", err)
	}

	if affected == 0 {
		return model.ErrOperationNotFound
	}

	return nil
}

// MarkCompleted moves a record to its terminal success state.
func (r *QueueRepository) MarkCompleted(ctx context.Context, id model.OperationID) error {
	now := r.clock()

	r.mu.Lock()
	defer r.mu.Unlock()

	query, args, err := qb.Update(operationsTable).
		Set("status", model.StatusCompleted.String()).
		Set("completed_at", toMillis(now)).
		Where(sq.Eq{"id": id.String(), "status": model.StatusInFlight.String()}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building completion query: %w", err)
	}

	result, err := r.store.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("completing operation: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("completing operation: %w", err)
	}

	if affected == 0 {
		return model.ErrOperationNotFound
	}

	r.observeDepthLocked(ctx)

	return nil
}

// MarkFailed records a failed attempt. The record returns to pending at the
// tail of its priority class gated by nextAttemptAt, or becomes
// failed-permanent once retries are exhausted.
func (r *QueueRepository) MarkFailed(ctx context.Context, id model.OperationID, cause string, nextAttemptAt time.Time) (model.OperationStatus, error) {
	now := r.clock()

	r.mu.Lock()
	defer r.mu.Unlock()

	row, err := r.rowByIDLocked(ctx, id, model.StatusInFlight)
	if err != nil {
		return "", err
	}

	newRetryCount := row.RetryCount + 1

	if newRetryCount > r.config.MaxRetries {
		notice := model.PermanentFailureNotice(model.OperationKind(row.Kind)).String()

		query, args, err := qb.Update(operationsTable).
			Set("status", model.StatusFailedPermanent.String()).
			Set("retry_count", newRetryCount).
			Set("completed_at", toMillis(now)).
			Set("last_error", cause).
			Set("notice", notice).
			Where(sq.Eq{"id": id.String()}).
			ToSql()
		if err != nil {
			return "", fmt.Errorf("building failure query: %w", err)
		}

		if _, err := r.store.DB().ExecContext(ctx, query, args...); err != nil {
			return "", fmt.Errorf("recording permanent failure: %w", err)
		}

		r.logger.Warn().
			Str("operation_id", id.String()).
			Str("kind", row.Kind).
			Uint("retry_count", newRetryCount).
			Str("cause", cause).
			Msg("operation permanently failed")

		r.observeDepthLocked(ctx)

		return model.StatusFailedPermanent, nil
	}

	position := r.nextPosition

	query, args, err := qb.Update(operationsTable).
		Set("status", model.StatusPending.String()).
		Set("retry_count", newRetryCount).
		Set("next_attempt_at", toMillis(nextAttemptAt)).
		Set("last_error", cause).
		Set("position", position).
		Where(sq.Eq{"id": id.String()}).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("building retry query: %w", err)
	}

	if _, err := r.store.DB().ExecContext(ctx, query, args...); err != nil {
		return "", fmt.Errorf("recording failed attempt: %w", err)
	}

	r.nextPosition++

	r.logger.Debug().
		Str("operation_id", id.String()).
		Uint("retry_count", newRetryCount).
		Time("next_attempt_at", nextAttemptAt).
		Msg("operation deferred for retry")

	return model.StatusPending, nil
}

// MarkFailedPermanent closes an in-flight record out as failed-permanent
// immediately, bypassing the remaining retries. Used when the remote rejects
// an operation in a way a retry cannot fix.
func (r *QueueRepository) MarkFailedPermanent(ctx context.Context, id model.OperationID, cause string) error {
	now := r.clock()

	r.mu.Lock()
	defer r.mu.Unlock()

	row, err := r.rowByIDLocked(ctx, id, model.StatusInFlight)
	if err != nil {
		return err
	}

	notice := model.PermanentFailureNotice(model.OperationKind(row.Kind)).String()

	query, args, err := qb.Update(operationsTable).
		Set("status", model.StatusFailedPermanent.String()).
		Set("completed_at", toMillis(now)).
		Set("last_error", cause).
		Set("notice", notice).
		Where(sq.Eq{"id": id.String()}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building rejection query: %w", err)
	}

	if _, err := r.store.DB().ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("recording rejection: %w", err)
	}

	r.logger.Warn().
		Str("operation_id", id.String()).
		Str("kind", row.Kind).
		Str("cause", cause).
		Msg("operation rejected by remote")

	r.observeDepthLocked(ctx)

	return nil
}

// AttachNotice stores a user-facing notice on a record.
func (r *QueueRepository) AttachNotice(ctx context.Context, id model.OperationID, notice string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	query, args, err := qb.Update(operationsTable).
		Set("notice", notice).
		Where(sq.Eq{"id": id.String()}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building notice query: %w", err)
	}

	result, err := r.store.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("attaching notice: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("attaching notice: %w", err)
	}

	if affected == 0 {
		return model.ErrOperationNotFound
	}

	return nil
}

// PendingCount counts records still awaiting sync, including any record
// currently in-flight.
func (r *QueueRepository) PendingCount(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.countActiveLocked(ctx)
}

// History returns terminal records, most recent first.
func (r *QueueRepository) History(ctx context.Context, limit int) ([]model.OperationRecord, error) {
	if limit <= 0 || limit > r.config.HistoryLimit {
		limit = r.config.HistoryLimit
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	query, args, err := qb.Select(operationColumns...).
		From(operationsTable).
		Where(sq.Eq{"status": terminalStatuses()}).
		OrderBy("completed_at DESC", "position DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building history query: %w", err)
	}

	rows, err := r.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	defer rows.Close()

	var historyRows []operationRow
	if err := r.scanner.ScanAll(&historyRows, rows); err != nil {
		return nil, fmt.Errorf("scanning history: %w", err)
	}

	records := make([]model.OperationRecord, 0, len(historyRows))

	// History reads outcomes, not replay material, so payloads stay
	// undecoded. Closed-out unreplayable records remain visible this way.
	for _, row := range historyRows {
		record, err := r.toRecordMeta(row)
		if err != nil {
			r.logger.Warn().
				Str("operation_id", row.ID).
				Err(err).
				Msg("skipping unreadable history record")

			continue
		}

		records = append(records, record)
	}

	return records, nil
}

// RecoverInFlight returns records left in-flight by a crash to pending. The
// retry count is untouched; recovery is not a failed attempt.
func (r *QueueRepository) RecoverInFlight(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	query, args, err := qb.Update(operationsTable).
		Set("status", model.StatusPending.String()).
		Where(sq.Eq{"status": model.StatusInFlight.String()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building recovery query: %w", err)
	}

	result, err := r.store.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("recovering in-flight operations: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("recovering in-flight operations: %w", err)
	}

	if affected > 0 {
		r.logger.Info().
			Int64("count", affected).
			Msg("recovered in-flight operations")
	}

	return int(affected), nil
}

// PruneHistory trims terminal records past the retention window, then
// enforces the history cap, newest first.
func (r *QueueRepository) PruneHistory(ctx context.Context) (int, error) {
	now := r.clock()
	cutoff := toMillis(now.Add(-r.config.HistoryRetention))

	r.mu.Lock()
	defer r.mu.Unlock()

	query, args, err := qb.Delete(operationsTable).
		Where(sq.Eq{"status": terminalStatuses()}).
		Where(sq.Gt{"completed_at": 0}).
		Where(sq.Lt{"completed_at": cutoff}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building retention query: %w", err)
	}

	result, err := r.store.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("pruning aged history: %w", err)
	}

	aged, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning aged history: %w", err)
	}

	query, args, err = qb.Delete(operationsTable).
		Where(sq.Expr(
			`id IN (SELECT id FROM `+operationsTable+`
			 WHERE status IN (?, ?)
			 ORDER BY completed_at DESC, position DESC
			 LIMIT -1 OFFSET ?)`,
			model.StatusCompleted.String(), model.StatusFailedPermanent.String(), r.config.HistoryLimit,
		)).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building cap query: %w", err)
	}

	result, err = r.store.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("pruning history overflow: %w", err)
	}

	overflow, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning history overflow: %w", err)
	}

	pruned := int(aged + overflow)
	if pruned > 0 {
		r.logger.Debug().
			Int("count", pruned).
			Msg("pruned operation history")
	}

	return pruned, nil
}

func (r *QueueRepository) loadPosition(ctx context.Context) error {
	query, args, err := qb.Select("COALESCE(MAX(position), -1) + 1").
		From(operationsTable).
		ToSql()
	if err != nil {
		return fmt.Errorf("building position query: %w", err)
	}

	if err := r.store.DB().QueryRowContext(ctx, query, args...).Scan(&r.nextPosition); err != nil {
		return fmt.Errorf("loading queue position: %w", err)
	}

	return nil
}

func (r *QueueRepository) nextPendingRowLocked(ctx context.Context, now time.Time) (operationRow, error) {
	query, args, err := qb.Select(operationColumns...).
		From(operationsTable).
		Where(sq.Eq{"status": model.StatusPending.String()}).
		Where(sq.LtOrEq{"next_attempt_at": toMillis(now)}).
		OrderBy("priority_rank ASC", "position ASC").
		Limit(1).
		ToSql()
	if err != nil {
		return operationRow{}, fmt.Errorf("building peek query: %w", err)
	}

	rows, err := r.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return operationRow{}, fmt.Errorf("peeking queue: %w", err)
	}
	defer rows.Close()

	var row operationRow
	if err := r.scanner.ScanOne(&row, rows); err != nil {
		if r.scanner.IsNotFound(err) {
			return operationRow{}, model.ErrQueueEmpty
		}

		return operationRow{}, fmt.Errorf("scanning queue head: %w", err)
	}

	return row, nil
}

func (r *QueueRepository) rowByIDLocked(ctx context.Context, id model.OperationID, status model.OperationStatus) (operationRow, error) {
	query, args, err := qb.Select(operationColumns...).
		From(operationsTable).
		Where(sq.Eq{"id": id.String(), "status": status.String()}).
		ToSql()
	if err != nil {
		return operationRow{}, fmt.Errorf("building lookup query: %w", err)
	}

	rows, err := r.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return operationRow{}, fmt.Errorf("loading operation: %w", err)
	}
	defer rows.Close()

	var row operationRow
	if err := r.scanner.ScanOne(&row, rows); err != nil {
		if r.scanner.IsNotFound(err) {
			return operationRow{}, model.ErrOperationNotFound
		}

		return operationRow{}, fmt.Errorf("scanning operation: %w", err)
	}

	return row, nil
}

func (r *QueueRepository) findActiveByDedupeKeyLocked(ctx context.Context, dedupeKey string) (model.OperationRecord, bool, error) {
	query, args, err := qb.Select(operationColumns...).
		From(operationsTable).
		Where(sq.Eq{"dedupe_key": dedupeKey}).
		Where(sq.Eq{"status": activeStatuses()}).
		Limit(1).
		ToSql()
	if err != nil {
		return model.OperationRecord{}, false, fmt.Errorf("building dedupe query: %w", err)
	}

	rows, err := r.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return model.OperationRecord{}, false, fmt.Errorf("looking up dedupe key: %w", err)
	}
	defer rows.Close()

	var row operationRow
	if err := r.scanner.ScanOne(&row, rows); err != nil {
		if r.scanner.IsNotFound(err) {
			return model.OperationRecord{}, false, nil
		}

		return model.OperationRecord{}, false, fmt.Errorf("scanning dedupe match: %w", err)
	}

	record, err := r.toRecord(row)
	if err != nil {
		r.logger.Warn().
			Str("operation_id", row.ID).
			Err(err).
			Msg("closing out unreplayable operation record")

		if markErr := r.markUnreplayableLocked(ctx, row, err); markErr != nil {
			return model.OperationRecord{}, false, markErr
		}

		return model.OperationRecord{}, false, nil
	}

	return record, true, nil
}

// markUnreplayableLocked closes out a record whose stored form can no longer
// be decoded. Discarding it silently would hide data loss from the user, so
// it lands in history with a notice instead.
func (r *QueueRepository) markUnreplayableLocked(ctx context.Context, row operationRow, cause error) error {
	now := r.clock()
	notice := model.PermanentFailureNotice(model.OperationKind(row.Kind)).String()

	query, args, err := qb.Update(operationsTable).
		Set("status", model.StatusFailedPermanent.String()).
		Set("completed_at", toMillis(now)).
		Set("last_error", cause.Error()).
		Set("notice", notice).
		Where(sq.Eq{"id": row.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building close-out query: %w", err)
	}

	if _, err := r.store.DB().ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("closing out operation: %w", err)
	}

	r.observeDepthLocked(ctx)

	return nil
}

func (r *QueueRepository) countActiveLocked(ctx context.Context) (int, error) {
	query, args, err := qb.Select("COUNT(*)").
		From(operationsTable).
		Where(sq.Eq{"status": activeStatuses()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building count query: %w", err)
	}

	var count int
	if err := r.store.DB().QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting pending operations: %w", err)
	}

	return count, nil
}

func (r *QueueRepository) observeDepthLocked(ctx context.Context) {
	depth, err := r.countActiveLocked(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("failed to observe queue depth")

		return
	}

	r.metrics.Inc(ctx, metrics.QueueDepth, int64(depth))
}

func (r *QueueRepository) toRecord(row operationRow) (model.OperationRecord, error) {
	record, err := r.toRecordMeta(row)
	if err != nil {
		return model.OperationRecord{}, err
	}

	payload, err := r.codec.Decode(row.Payload, row.Encoding, uint64(row.Checksum))
	if err != nil {
		return model.OperationRecord{}, err
	}

	record.Payload = payload

	return record, nil
}

func (r *QueueRepository) toRecordMeta(row operationRow) (model.OperationRecord, error) {
	id, err := model.ParseOperationID(row.ID)
	if err != nil {
		return model.OperationRecord{}, fmt.Errorf("%w: %v", model.ErrCorruptRecord, err)
	}

	kind, err := model.ParseOperationKind(row.Kind)
	if err != nil {
		return model.OperationRecord{}, fmt.Errorf("%w: %v", model.ErrCorruptRecord, err)
	}

	status, err := model.ParseOperationStatus(row.Status)
	if err != nil {
		return model.OperationRecord{}, fmt.Errorf("%w: %v", model.ErrCorruptRecord, err)
	}

	priority, err := model.ParsePriority(row.Priority)
	if err != nil {
		return model.OperationRecord{}, fmt.Errorf("%w: %v", model.ErrCorruptRecord, err)
	}

	return model.OperationRecord{
		ID:            id,
		Kind:          kind,
		Status:        status,
		EntityKey:     row.EntityKey,
		BaseVersion:   row.BaseVersion,
		DedupeKey:     row.DedupeKey.String,
		Priority:      priority,
		RetryCount:    row.RetryCount,
		EnqueuedAt:    fromMillis(row.EnqueuedAt),
		NextAttemptAt: fromMillis(row.NextAttemptAt),
		CompletedAt:   fromMillis(row.CompletedAt),
		LastError:     row.LastError,
		Notice:        row.Notice,
	}, nil
}

func activeStatuses() []string {
	return []string{model.StatusPending.String(), model.StatusInFlight.String()}
}

func terminalStatuses() []string {
	return []string{model.StatusCompleted.String(), model.StatusFailedPermanent.String()}
}
