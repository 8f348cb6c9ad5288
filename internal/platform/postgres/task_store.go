package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/pdfscan/internal/domain"
	"github.com/phrazzld/pdfscan/internal/events"
	"github.com/phrazzld/pdfscan/internal/platform/logger"
	"github.com/phrazzld/pdfscan/internal/store"
	"github.com/phrazzld/pdfscan/internal/task"
)

const taskColumns = `id, description, original_filename, content_ref, content_hash, size_bytes,
	status, error_message, analysis_id, result_ref, result_url, heartbeat_at, created_at, updated_at`

// claimQuery selects the oldest claimable task. $1 is the lease TTL in seconds.
const claimQuery = `
	SELECT ` + taskColumns + `
	FROM tasks
	WHERE status = 'PENDING'
	   OR (status = 'RUNNING'
	       AND (heartbeat_at IS NULL
	            OR heartbeat_at < now() - make_interval(secs => $1::double precision)))
	ORDER BY created_at, id
	LIMIT 1
	FOR UPDATE SKIP LOCKED
`

// commitQuery writes a mutation. $7 selects the heartbeat operation.
// clock_timestamp() is used because now() is fixed at claim time for the
// whole lease transaction.
const commitQuery = `
	UPDATE tasks
	SET status = $2,
	    error_message = NULLIF($3, ''),
	    analysis_id = NULLIF($4, ''),
	    result_ref = NULLIF($5, ''),
	    result_url = NULLIF($6, ''),
	    heartbeat_at = CASE $7::int
	        WHEN 1 THEN clock_timestamp()
	        WHEN 2 THEN NULL
	        ELSE heartbeat_at
	    END,
	    updated_at = clock_timestamp()
	WHERE id = $1
	RETURNING ` + taskColumns

const incrementMetricQuery = `
	INSERT INTO metrics (name, value, created_at, updated_at)
	VALUES ($1, 1, clock_timestamp(), clock_timestamp())
	ON CONFLICT (name) DO UPDATE
	SET value = metrics.value + 1, updated_at = clock_timestamp()
	RETURNING value
`

// TaskStore is the PostgreSQL task queue. It implements task.Queue and
// events.BaselineSource. Committed changes are handed to the configured
// publisher; publish failures are logged and never undo a commit.
type TaskStore struct {
	db        *sql.DB
	publisher events.Publisher
	logger    *slog.Logger
}

var (
	_ task.Queue            = (*TaskStore)(nil)
	_ events.BaselineSource = (*TaskStore)(nil)
)

// NewTaskStore creates a TaskStore. A nil publisher disables notifications.
func NewTaskStore(db *sql.DB, publisher events.Publisher, logger *slog.Logger) *TaskStore {
	if publisher == nil {
		publisher = events.PublisherFunc(func(context.Context, events.Event) error { return nil })
	}
	return &TaskStore{
		db:        db,
		publisher: publisher,
		logger:    logger.With("component", "task_store"),
	}
}

// leasedTask is a claimed task and the transaction holding its row lock.
type leasedTask struct {
	tx   *sql.Tx
	task domain.Task
	done bool
}

func (l *leasedTask) Task() domain.Task { return l.task }

// Submit creates a PENDING task unless a non-FAILED task with the same
// content hash exists, in which case it returns *store.DuplicateError.
func (s *TaskStore) Submit(ctx context.Context, sub domain.Submission) (domain.Task, error) {
	t, err := domain.NewTask(sub)
	if err != nil {
		return domain.Task{}, err
	}
	log := logger.FromContextOrDefault(ctx, s.logger).With("task_id", t.ID)

	err = store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		existing, err := findActiveByHash(ctx, tx, sub.ContentHash)
		if err != nil {
			return err
		}
		if existing != uuid.Nil {
			return &store.DuplicateError{ExistingID: existing}
		}

		row := tx.QueryRowContext(ctx, `
			INSERT INTO tasks (id, description, original_filename, content_ref, content_hash,
				size_bytes, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
			RETURNING created_at, updated_at`,
			t.ID, t.Description, t.OriginalFilename, t.ContentRef, t.ContentHash,
			t.SizeBytes, string(t.Status),
		)
		if err := row.Scan(&t.CreatedAt, &t.UpdatedAt); err != nil {
			return err
		}

		_, err = incrementMetric(ctx, tx, domain.MetricSubmitted)
		return err
	})
	if err != nil {
		var dup *store.DuplicateError
		if errors.As(err, &dup) {
			return domain.Task{}, dup
		}
		if IsUniqueViolation(err) {
			// Lost a race with a concurrent submit of the same content.
			existing, lookupErr := findActiveByHash(ctx, s.db, sub.ContentHash)
			if lookupErr == nil && existing != uuid.Nil {
				return domain.Task{}, &store.DuplicateError{ExistingID: existing}
			}
		}
		log.Error("failed to submit task", "error", err)
		return domain.Task{}, store.NewStoreError("task", "submit", "failed to insert task", MapError(err))
	}

	log.Info("task submitted", "content_hash", t.ContentHash, "size_bytes", t.SizeBytes)

	s.publish(ctx, events.TaskCreated(*t))
	s.publishMetrics(ctx)
	return *t, nil
}

// ClaimNext locks the oldest claimable task in a new transaction. The
// lease's transaction is not bound to ctx; it ends only through Commit or
// Abandon, or when its connection dies.
func (s *TaskStore) ClaimNext(ctx context.Context, leaseTTL time.Duration) (task.Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(context.WithoutCancel(ctx), store.ReadCommitted)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}

	t, err := scanTask(tx.QueryRowContext(ctx, claimQuery, leaseTTL.Seconds()))
	if err != nil {
		if rbErr := store.Rollback(tx); rbErr != nil {
			s.logger.Error("failed to roll back claim", "error", rbErr)
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, task.ErrQueueEmpty
		}
		return nil, store.NewStoreError("task", "claim", "failed to select claimable task", MapError(err))
	}

	s.logger.Debug("task claimed", "task_id", t.ID, "status", t.Status)
	return &leasedTask{tx: tx, task: t}, nil
}

// Commit writes m to the leased task, increments m.Metric when set, and
// commits the lease transaction. Observers are notified after the commit.
func (s *TaskStore) Commit(ctx context.Context, lease task.Lease, m task.Mutation) error {
	l, err := s.ownLease(lease)
	if err != nil {
		return err
	}

	updated, err := scanTask(l.tx.QueryRowContext(ctx, commitQuery,
		l.task.ID,
		string(m.Status),
		m.ErrorMessage,
		m.AnalysisID,
		m.ResultRef,
		m.ResultURL,
		int(m.Heartbeat),
	))
	if err != nil {
		return store.NewStoreError("task", "commit", "failed to update task",
			fmt.Errorf("%w: %w", store.ErrUpdateFailed, MapError(err)))
	}

	if m.Metric != "" {
		if _, err := incrementMetric(ctx, l.tx, m.Metric); err != nil {
			return store.NewStoreError("metric", "increment", m.Metric, MapError(err))
		}
	}

	if err := l.tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrTransactionFailed, err)
	}
	l.done = true

	s.publish(ctx, events.TaskChanged(updated))
	if m.Metric != "" {
		s.publishMetrics(ctx)
	}
	return nil
}

// Abandon rolls back the lease transaction, releasing the row lock.
func (s *TaskStore) Abandon(_ context.Context, lease task.Lease) error {
	l, ok := lease.(*leasedTask)
	if !ok {
		return fmt.Errorf("%w: foreign lease type %T", store.ErrInvalidEntity, lease)
	}
	if l.done {
		return nil
	}
	l.done = true
	if err := store.Rollback(l.tx); err != nil {
		return fmt.Errorf("failed to abandon lease: %w", err)
	}
	return nil
}

func (s *TaskStore) ownLease(lease task.Lease) (*leasedTask, error) {
	l, ok := lease.(*leasedTask)
	if !ok {
		return nil, fmt.Errorf("%w: foreign lease type %T", store.ErrInvalidEntity, lease)
	}
	if l.done {
		return nil, fmt.Errorf("%w: lease already ended", store.ErrInvalidEntity)
	}
	return l, nil
}

// Get returns a task by id.
func (s *TaskStore) Get(ctx context.Context, id uuid.UUID) (domain.Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Task{}, store.ErrTaskNotFound
		}
		return domain.Task{}, MapError(err)
	}
	return t, nil
}

// ListRecent returns up to limit tasks, newest first.
func (s *TaskStore) ListRecent(ctx context.Context, limit int) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", MapError(err))
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			s.logger.Warn("failed to close rows", "error", cerr)
		}
	}()

	tasks := make([]domain.Task, 0, limit)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}
	return tasks, nil
}

// IncrementMetric atomically adds one to a counter and returns its new
// value. The counter is created when missing.
func (s *TaskStore) IncrementMetric(ctx context.Context, name string) (int64, error) {
	value, err := incrementMetric(ctx, s.db, name)
	if err != nil {
		return 0, store.NewStoreError("metric", "increment", name, MapError(err))
	}
	s.publishMetrics(ctx)
	return value, nil
}

// Metrics returns every counter value by name.
func (s *TaskStore) Metrics(ctx context.Context) (map[string]int64, error) {
	metrics, err := s.ListMetrics(ctx)
	if err != nil {
		return nil, err
	}
	return domain.MetricValues(metrics), nil
}

// ListMetrics returns every counter with its bookkeeping timestamps,
// ordered by name.
func (s *TaskStore) ListMetrics(ctx context.Context) ([]domain.Metric, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, value, created_at, updated_at FROM metrics ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to read metrics: %w", MapError(err))
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			s.logger.Warn("failed to close rows", "error", cerr)
		}
	}()

	var metrics []domain.Metric
	for rows.Next() {
		var m domain.Metric
		if err := rows.Scan(&m.Name, &m.Value, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan metric: %w", err)
		}
		metrics = append(metrics, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate metrics: %w", err)
	}
	return metrics, nil
}

func (s *TaskStore) publish(ctx context.Context, event events.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish event", "event_type", event.Type, "error", err)
	}
}

func (s *TaskStore) publishMetrics(ctx context.Context) {
	metrics, err := s.Metrics(ctx)
	if err != nil {
		s.logger.Warn("failed to read metrics for notification", "error", err)
		return
	}
	s.publish(ctx, events.MetricsChanged(metrics))
}

func findActiveByHash(ctx context.Context, db store.DBTX, hash string) (uuid.UUID, error) {
	var id uuid.UUID
	err := db.QueryRowContext(ctx,
		`SELECT id FROM tasks WHERE content_hash = $1 AND status <> 'FAILED' LIMIT 1`,
		hash,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to look up content hash: %w", err)
	}
	return id, nil
}

func incrementMetric(ctx context.Context, db store.DBTX, name string) (int64, error) {
	var value int64
	if err := db.QueryRowContext(ctx, incrementMetricQuery, name).Scan(&value); err != nil {
		return 0, err
	}
	return value, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var (
		t          domain.Task
		status     string
		errMsg     sql.NullString
		analysisID sql.NullString
		resultRef  sql.NullString
		resultURL  sql.NullString
		heartbeat  sql.NullTime
	)
	err := row.Scan(
		&t.ID,
		&t.Description,
		&t.OriginalFilename,
		&t.ContentRef,
		&t.ContentHash,
		&t.SizeBytes,
		&status,
		&errMsg,
		&analysisID,
		&resultRef,
		&resultURL,
		&heartbeat,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return domain.Task{}, err
	}

	t.Status = domain.TaskStatus(status)
	t.ErrorMessage = errMsg.String
	t.AnalysisID = analysisID.String
	t.ResultRef = resultRef.String
	t.ResultURL = resultURL.String
	if heartbeat.Valid {
		hb := heartbeat.Time
		t.HeartbeatAt = &hb
	}
	return t, nil
}
