package calendar

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	appLog "timemgr/internal/log"
	"timemgr/internal/model"
)

// Schema is the DDL for the events table. Applied by EnsureSchema on
// startup; safe to run repeatedly.
const Schema = `CREATE TABLE IF NOT EXISTS events (
	id UUID PRIMARY KEY,
	summary TEXT NOT NULL,
	start_time TIMESTAMPTZ NOT NULL,
	end_time TIMESTAMPTZ NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	location TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore implements Port on top of a Postgres events table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Open connects to Postgres with the given DSN and verifies the
// connection.
func Open(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPostgresStore(db), nil
}

// EnsureSchema creates the events table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return &model.ExternalServiceError{Op: "ensure schema", Err: err}
	}
	return nil
}

// Close closes the underlying database handle.
func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) GetEvents(ctx context.Context, start, end time.Time) ([]model.CalendarEvent, error) {
	query := `SELECT id, summary, start_time, end_time, description, location FROM events WHERE start_time < $2 AND end_time > $1 ORDER BY start_time`
	rows, err := s.db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, &model.ExternalServiceError{Op: "get events", Err: err}
	}
	defer rows.Close()

	var out []model.CalendarEvent
	for rows.Next() {
		var ev model.CalendarEvent
		if err := rows.Scan(&ev.ID, &ev.Summary, &ev.Start, &ev.End, &ev.Description, &ev.Location); err != nil {
			return nil, &model.ExternalServiceError{Op: "scan event", Err: err}
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, &model.ExternalServiceError{Op: "iterate events", Err: err}
	}
	return out, nil
}

func (s *PostgresStore) CreateEvent(ctx context.Context, ev model.CalendarEvent) (string, error) {
	if err := ev.Validate(); err != nil {
		return "", err
	}

	id := uuid.New().String()
	query := `INSERT INTO events (id, summary, start_time, end_time, description, location) VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := s.db.ExecContext(ctx, query, id, ev.Summary, ev.Start, ev.End, ev.Description, ev.Location); err != nil {
		return "", &model.ExternalServiceError{Op: "create event", Err: err}
	}

	appLog.Info("event created", "id", id, "summary", ev.Summary, "start", ev.Start.Format(time.RFC3339))
	return id, nil
}

func (s *PostgresStore) UpdateEvent(ctx context.Context, ev model.CalendarEvent) error {
	if ev.ID == "" {
		return &model.ValidationError{Reason: "event id is required for updates"}
	}
	if err := ev.Validate(); err != nil {
		return err
	}

	query := `UPDATE events SET summary = $1, start_time = $2, end_time = $3, description = $4, location = $5 WHERE id = $6`
	res, err := s.db.ExecContext(ctx, query, ev.Summary, ev.Start, ev.End, ev.Description, ev.Location, ev.ID)
	if err != nil {
		return &model.ExternalServiceError{Op: "update event", Err: err}
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &model.NotFoundError{What: "event " + ev.ID}
	}

	appLog.Info("event updated", "id", ev.ID, "summary", ev.Summary)
	return nil
}

func (s *PostgresStore) DeleteEvent(ctx context.Context, id string) error {
	if id == "" {
		return &model.ValidationError{Reason: "event id is required for deletion"}
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return &model.ExternalServiceError{Op: "delete event", Err: err}
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &model.NotFoundError{What: "event " + id}
	}

	appLog.Info("event deleted", "id", id)
	return nil
}

// IsNotFound reports whether err is a missing-row condition from either
// this store or database/sql directly.
func IsNotFound(err error) bool {
	var nf *model.NotFoundError
	return errors.As(err, &nf) || errors.Is(err, sql.ErrNoRows)
}
