package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"lockdown/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/lockdown?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
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

func postgresIsDuplicate(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const postgresInsert = `INSERT INTO events (ts, source, event_type, ip, username, status, raw, fingerprint)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`

func postgresInsertArgs(ev model.NormalizedEvent) []any {
	return []any{
		ev.Timestamp.UTC(),
		ev.Source,
		ev.EventType,
		nullable(ev.IP),
		nullable(ev.Username),
		nullable(ev.Status),
		ev.Raw,
		ev.Fingerprint,
	}
}

func (s *postgresStore) InsertEvent(ctx context.Context, ev model.NormalizedEvent) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, postgresInsert, postgresInsertArgs(ev)...).Scan(&id)
	if err != nil {
		if postgresIsDuplicate(err) {
			return 0, ErrDuplicateFingerprint
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return id, nil
}

type postgresBatch struct {
	tx *sql.Tx
}

func (s *postgresStore) Begin(ctx context.Context) (Batch, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &postgresBatch{tx: tx}, nil
}

func (b *postgresBatch) Insert(ctx context.Context, ev model.NormalizedEvent) (int64, error) {
	if _, err := b.tx.ExecContext(ctx, `SAVEPOINT row_insert`); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var id int64
	err := b.tx.QueryRowContext(ctx, postgresInsert, postgresInsertArgs(ev)...).Scan(&id)
	if err != nil {
		if postgresIsDuplicate(err) {
			if _, rbErr := b.tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT row_insert`); rbErr != nil {
				return 0, fmt.Errorf("%w: %v", ErrUnavailable, rbErr)
			}
			_, _ = b.tx.ExecContext(ctx, `RELEASE SAVEPOINT row_insert`)
			return 0, ErrDuplicateFingerprint
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if _, err := b.tx.ExecContext(ctx, `RELEASE SAVEPOINT row_insert`); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return id, nil
}

func (b *postgresBatch) Commit() error {
	if err := b.tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (b *postgresBatch) Rollback() error {
	return b.tx.Rollback()
}

func (s *postgresStore) EventsInWindow(ctx context.Context, eventType string, w Window) ([]model.NormalizedEvent, error) {
	query := `SELECT id, ts, source, event_type, ip, username, status, raw, fingerprint
		FROM events WHERE event_type = $1 AND ts >= $2 AND ts ` + w.endOp() + ` $3 ORDER BY ts, id`
	rows, err := s.db.QueryContext(ctx, query, eventType, w.Start.UTC(), w.End.UTC())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()
	var out []model.NormalizedEvent
	for rows.Next() {
		var ev model.NormalizedEvent
		var ip, username, status sql.NullString
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.Source, &ev.EventType, &ip, &username, &status, &ev.Raw, &ev.Fingerprint); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		ev.Timestamp = ev.Timestamp.UTC()
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

func (s *postgresStore) CountEvents(ctx context.Context, eventType string, w Window) (int, error) {
	query := `SELECT COUNT(*) FROM events WHERE event_type = $1 AND ts >= $2 AND ts ` + w.endOp() + ` $3`
	return s.scanCount(ctx, query, eventType, w)
}

func (s *postgresStore) CountDistinctIPs(ctx context.Context, eventType string, w Window) (int, error) {
	query := `SELECT COUNT(DISTINCT ip) FROM events
		WHERE event_type = $1 AND ip IS NOT NULL AND ts >= $2 AND ts ` + w.endOp() + ` $3`
	return s.scanCount(ctx, query, eventType, w)
}

func (s *postgresStore) scanCount(ctx context.Context, query, eventType string, w Window) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query, eventType, w.Start.UTC(), w.End.UTC()).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

func (s *postgresStore) CountsByIP(ctx context.Context, eventType string, w Window) (map[string]int, error) {
	query := `SELECT ip, COUNT(*) FROM events
		WHERE event_type = $1 AND ip IS NOT NULL AND ts >= $2 AND ts ` + w.endOp() + ` $3
		GROUP BY ip`
	rows, err := s.db.QueryContext(ctx, query, eventType, w.Start.UTC(), w.End.UTC())
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

func (s *postgresStore) CountsByHour(ctx context.Context, eventType string, w Window) (map[int]int, error) {
	query := `SELECT EXTRACT(HOUR FROM ts AT TIME ZONE 'UTC')::int, COUNT(*) FROM events
		WHERE event_type = $1 AND ts >= $2 AND ts ` + w.endOp() + ` $3
		GROUP BY 1`
	rows, err := s.db.QueryContext(ctx, query, eventType, w.Start.UTC(), w.End.UTC())
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
