package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"lockdown/internal/config"
	"lockdown/internal/model"
)

var (
	// ErrDuplicateFingerprint marks an insert that collided with an existing
	// event. Expected under replay; the original record is retained.
	ErrDuplicateFingerprint = errors.New("duplicate fingerprint")

	// ErrUnavailable marks a transport or connectivity failure. Fatal to the
	// current operation; any open batch is rolled back.
	ErrUnavailable = errors.New("store unavailable")
)

// Window is a bounded time interval. Start is always inclusive; the caller
// declares whether End is. Detection includes the end instant, KPI and trend
// windows exclude it so back-to-back windows do not overlap.
type Window struct {
	Start      time.Time
	End        time.Time
	IncludeEnd bool
}

func (w Window) endOp() string {
	if w.IncludeEnd {
		return "<="
	}
	return "<"
}

type Store interface {
	Init(ctx context.Context) error
	Close() error

	InsertEvent(ctx context.Context, ev model.NormalizedEvent) (int64, error)
	Begin(ctx context.Context) (Batch, error)

	EventsInWindow(ctx context.Context, eventType string, w Window) ([]model.NormalizedEvent, error)
	CountEvents(ctx context.Context, eventType string, w Window) (int, error)
	CountDistinctIPs(ctx context.Context, eventType string, w Window) (int, error)
	CountsByIP(ctx context.Context, eventType string, w Window) (map[string]int, error)
	CountsByHour(ctx context.Context, eventType string, w Window) (map[int]int, error)
}

// Batch is a single transaction whose inserts are individually recoverable:
// a duplicate rolls back only its own row so the batch keeps going, while
// Commit stays all-or-nothing for readers.
type Batch interface {
	Insert(ctx context.Context, ev model.NormalizedEvent) (int64, error)
	Commit() error
	Rollback() error
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
