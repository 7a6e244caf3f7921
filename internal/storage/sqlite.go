package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"lockdown/internal/model"
)

// Timestamps are stored as RFC3339 UTC text so range comparisons stay
// lexicographic and strftime can extract the hour.
const sqliteTimeLayout = time.RFC3339

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:lockdown.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// A single connection serializes writers; readers go through WAL.
	db.SetMaxOpenConns(1)
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			source TEXT NOT NULL,
			event_type TEXT NOT NULL,
			ip TEXT,
			username TEXT,
			status TEXT,
			raw TEXT NOT NULL,
			fingerprint TEXT NOT NULL UNIQUE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type_ts ON events(event_type, ts)`,
		`CREATE INDEX IF NOT EXISTS idx_events_ip ON events(ip)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return nil
}

func sqliteIsDuplicate(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

const sqliteInsert = `INSERT INTO events (ts, source, event_type, ip, username, status, raw, fingerprint)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

func sqliteInsertArgs(ev model.NormalizedEvent) []any {
	return []any{
		ev.Timestamp.UTC().Format(sqliteTimeLayout),
		ev.Source,
		ev.EventType,
		nullable(ev.IP),
		nullable(ev.Username),
		nullable(ev.Status),
		ev.Raw,
		ev.Fingerprint,
	}
}

func (s *sqliteStore) InsertEvent(ctx context.Context, ev model.NormalizedEvent) (int64, error) {
	res, err := s.db.ExecContext(ctx, sqliteInsert, sqliteInsertArgs(ev)...)
	if err != nil {
		if sqliteIsDuplicate(err) {
			return 0, ErrDuplicateFingerprint
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return res.LastInsertId()
}

type sqliteBatch struct {
	tx *sql.Tx
}

func (s *sqliteStore) Begin(ctx context.Context) (Batch, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &sqliteBatch{tx: tx}, nil
}

func (b *sqliteBatch) Insert(ctx context.Context, ev model.NormalizedEvent) (int64, error) {
	if _, err := b.tx.ExecContext(ctx, `SAVEPOINT row_insert`); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	res, err := b.tx.ExecContext(ctx, sqliteInsert, sqliteInsertArgs(ev)...)
	if err != nil {
		if sqliteIsDuplicate(err) {
			if _, rbErr := b.tx.ExecContext(ctx, `ROLLBACK TO row_insert`); rbErr != nil {
				return 0, fmt.Errorf("%w: %v", ErrUnavailable, rbErr)
			}
			_, _ = b.tx.ExecContext(ctx, `RELEASE row_insert`)
			return 0, ErrDuplicateFingerprint
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if _, err := b.tx.ExecContext(ctx, `RELEASE row_insert`); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return res.LastInsertId()
}

func (b *sqliteBatch) Commit() error {
	if err := b.tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (b *sqliteBatch) Rollback() error {
	return b.tx.Rollback()
}

func (s *sqliteStore) EventsInWindow(ctx context.Context, eventType string, w Window) ([]model.NormalizedEvent, error) {
	query := `SELECT id, ts, source, event_type, ip, username, status, raw, fingerprint
		FROM events WHERE event_type = ? AND ts >= ? AND ts ` + w.endOp() + ` ? ORDER BY ts, id`
	rows, err := s.db.QueryContext(ctx, query,
		eventType,
		w.Start.UTC().Format(sqliteTimeLayout),
		w.End.UTC().Format(sqliteTimeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()
	var out []model.NormalizedEvent
	for rows.Next() {
		var ev model.NormalizedEvent
		var ts string
		var ip, username, status sql.NullString
		if err := rows.Scan(&ev.ID, &ts, &ev.Source, &ev.EventType, &ip, &username, &status, &ev.Raw, &ev.Fingerprint); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		parsed, err := time.Parse(sqliteTimeLayout, ts)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		ev.Timestamp = parsed.UTC()
		ev.IP = ip.String
		ev.Username = username.String
		ev.Status = status.String
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return out, nil
}

func (s *sqliteStore) CountEvents(ctx context.Context, eventType string, w Window) (int, error) {
	query := `SELECT COUNT(*) FROM events WHERE event_type = ? AND ts >= ? AND ts ` + w.endOp() + ` ?`
	return s.scanCount(ctx, query, eventType, w)
}

func (s *sqliteStore) CountDistinctIPs(ctx context.Context, eventType string, w Window) (int, error) {
	query := `SELECT COUNT(DISTINCT ip) FROM events
		WHERE event_type = ? AND ip IS NOT NULL AND ts >= ? AND ts ` + w.endOp() + ` ?`
	return s.scanCount(ctx, query, eventType, w)
}

func (s *sqliteStore) scanCount(ctx context.Context, query, eventType string, w Window) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, query,
		eventType,
		w.Start.UTC().Format(sqliteTimeLayout),
		w.End.UTC().Format(sqliteTimeLayout),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

func (s *sqliteStore) CountsByIP(ctx context.Context, eventType string, w Window) (map[string]int, error) {
	query := `SELECT ip, COUNT(*) FROM events
		WHERE event_type = ? AND ip IS NOT NULL AND ts >= ? AND ts ` + w.endOp() + ` ?
		GROUP BY ip`
	rows, err := s.db.QueryContext(ctx, query,
		eventType,
		w.Start.UTC().Format(sqliteTimeLayout),
		w.End.UTC().Format(sqliteTimeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var ip string
		var n int
		if err := rows.Scan(&ip, &n); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		out[ip] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return out, nil
}

func (s *sqliteStore) CountsByHour(ctx context.Context, eventType string, w Window) (map[int]int, error) {
	query := `SELECT CAST(strftime('%H', ts) AS INTEGER), COUNT(*) FROM events
		WHERE event_type = ? AND ts >= ? AND ts ` + w.endOp() + ` ?
		GROUP BY 1`
	rows, err := s.db.QueryContext(ctx, query,
		eventType,
		w.Start.UTC().Format(sqliteTimeLayout),
		w.End.UTC().Format(sqliteTimeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()
	out := make(map[int]int)
	for rows.Next() {
		var hour, n int
		if err := rows.Scan(&hour, &n); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		out[hour] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return out, nil
}
