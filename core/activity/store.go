package activity

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adalundhe/vaultd/core/database"
	verrors "github.com/adalundhe/vaultd/core/errors"
)

// DefaultBuffer is the append queue depth before events are dropped.
const DefaultBuffer = 1024

// migrations is the activity log schema.
var migrations = []database.Migration{
	{
		Version:     1,
		Description: "create activity_events",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE activity_events (
					seq        INTEGER PRIMARY KEY AUTOINCREMENT,
					id         TEXT    NOT NULL UNIQUE,
					event_type TEXT    NOT NULL,
					user       TEXT    NOT NULL,
					path       TEXT    NOT NULL,
					revision   TEXT    NOT NULL DEFAULT '',
					note       TEXT    NOT NULL DEFAULT '',
					created_at INTEGER NOT NULL
				);
				CREATE INDEX idx_activity_user ON activity_events(user);
				CREATE INDEX idx_activity_path ON activity_events(path);
				CREATE INDEX idx_activity_created ON activity_events(created_at);
			`)
			return err
		},
	},
}

// =============================================================================
// Store
// =============================================================================

// Store persists audit events. Append is fire-and-forget: events flow
// through a buffered queue consumed by a single writer goroutine, and a
// full queue or a down database drops the event (with a warning and a
// counter bump) rather than ever blocking a vault operation.
type Store struct {
	pool   *database.Pool
	index  *Index
	logger *slog.Logger

	queue   chan *Event
	done    chan struct{}
	wg      sync.WaitGroup
	closed  atomic.Bool
	dropped atomic.Uint64
}

// Open migrates the schema and starts the writer goroutine. The index may
// be nil to disable full-text search.
func Open(ctx context.Context, pool *database.Pool, index *Index, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := database.Migrate(ctx, pool, "activity", migrations); err != nil {
		return nil, verrors.E("activity.open", "", verrors.KindInternal, err)
	}

	s := &Store{
		pool:   pool,
		index:  index,
		logger: logger,
		queue:  make(chan *Event, DefaultBuffer),
		done:   make(chan struct{}),
	}

	s.wg.Add(1)
	go s.writer()

	return s, nil
}

// Append enqueues an event for persistence. Never blocks and never fails
// from the caller's perspective.
func (s *Store) Append(event *Event) {
	if s.closed.Load() {
		s.drop(event, "store closed")
		return
	}

	select {
	case s.queue <- event:
	default:
		s.drop(event, "queue full")
	}
}

// Dropped returns how many events were lost to backpressure or storage
// failures.
func (s *Store) Dropped() uint64 {
	return s.dropped.Load()
}

// Close drains the queue, persists what it can, and stops the writer.
func (s *Store) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	close(s.done)
	s.wg.Wait()
}

// writer is the single consumer of the append queue.
func (s *Store) writer() {
	defer s.wg.Done()

	for {
		select {
		case event := <-s.queue:
			s.persist(event)
		case <-s.done:
			s.drain()
			return
		}
	}
}

// drain empties whatever is left in the queue at shutdown.
func (s *Store) drain() {
	for {
		select {
		case event := <-s.queue:
			s.persist(event)
		default:
			return
		}
	}
}

// persist writes one event to sqlite and the search index.
func (s *Store) persist(event *Event) {
	_, err := s.pool.DB().Exec(`
		INSERT INTO activity_events (id, event_type, user, path, revision, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID, string(event.Type), event.User, event.Path,
		event.Revision, event.Note, event.CreatedAt.UnixNano(),
	)
	if err != nil {
		s.drop(event, err.Error())
		return
	}

	if s.index != nil {
		if err := s.index.Add(event); err != nil {
			s.logger.Warn("failed to index activity event", "id", event.ID, "error", err)
		}
	}
}

func (s *Store) drop(event *Event, reason string) {
	s.dropped.Add(1)
	s.logger.Warn("dropped activity event",
		"event_type", string(event.Type), "path", event.Path, "reason", reason)
}

// =============================================================================
// Query
// =============================================================================

// Query returns events matching the filter, newest first. Equal timestamps
// tie-break by insertion order (descending), so the returned order is
// stable.
func (s *Store) Query(ctx context.Context, filter Filter) ([]*Event, error) {
	query, args := buildQuery(filter)

	rows, err := s.pool.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, verrors.E("activity.query", "", verrors.KindInternal, err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		event, scanErr := scanEvent(rows)
		if scanErr != nil {
			return nil, verrors.E("activity.query", "", verrors.KindInternal, scanErr)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, verrors.E("activity.query", "", verrors.KindInternal, err)
	}

	return events, nil
}

// buildQuery assembles the filtered SELECT.
func buildQuery(filter Filter) (string, []any) {
	var conditions []string
	var args []any

	if filter.User != "" {
		conditions = append(conditions, "user = ?")
		args = append(args, filter.User)
	}
	if filter.Path != "" {
		conditions = append(conditions, "path = ?")
		args = append(args, filter.Path)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.Since.UnixNano())
	}
	if len(filter.Types) > 0 {
		placeholders := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		conditions = append(conditions, fmt.Sprintf("event_type IN (%s)", strings.Join(placeholders, ",")))
	}

	query := "SELECT id, event_type, user, path, revision, note, created_at FROM activity_events"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, seq DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	return query, args
}

// get fetches one event by id, for search hydration.
func (s *Store) get(ctx context.Context, id string) (*Event, error) {
	row := s.pool.DB().QueryRowContext(ctx, `
		SELECT id, event_type, user, path, revision, note, created_at
		FROM activity_events WHERE id = ?`, id)

	event, err := scanEvent(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, verrors.E("activity.get", "", verrors.KindNotFound, err)
		}
		return nil, verrors.E("activity.get", "", verrors.KindInternal, err)
	}
	return event, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var event Event
	var eventType string
	var createdAt int64

	if err := row.Scan(&event.ID, &eventType, &event.User, &event.Path,
		&event.Revision, &event.Note, &createdAt); err != nil {
		return nil, err
	}

	event.Type = EventType(eventType)
	event.CreatedAt = time.Unix(0, createdAt).UTC()
	return &event, nil
}
