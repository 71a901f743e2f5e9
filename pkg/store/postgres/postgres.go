// Package postgres implements the journal store on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/awaazlabs/voicejournal/pkg/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies all pending schema migrations.
func Migrate(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Store is the PostgreSQL-backed session/transcript store.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pool and verifies connectivity.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) SaveSession(ctx context.Context, js store.JournalSession) error {
	exchanges, err := json.Marshal(js.Exchanges)
	if err != nil {
		return fmt.Errorf("encode exchanges: %w", err)
	}
	if js.AnalysisStatus == "" {
		js.AnalysisStatus = store.AnalysisProcessing
	}
	createdAt := js.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO journal_sessions
			(session_id, user_id, mode, transcript, exchanges, duration_seconds,
			 exchange_count, analysis_status, analysis_data, analysis_error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (session_id) DO UPDATE SET
			user_id          = EXCLUDED.user_id,
			mode             = EXCLUDED.mode,
			transcript       = EXCLUDED.transcript,
			exchanges        = EXCLUDED.exchanges,
			duration_seconds = EXCLUDED.duration_seconds,
			exchange_count   = EXCLUDED.exchange_count,
			analysis_status  = EXCLUDED.analysis_status,
			analysis_data    = EXCLUDED.analysis_data,
			analysis_error   = EXCLUDED.analysis_error
	`, js.SessionID, js.UserID, js.Mode, js.Transcript, exchanges, js.DurationSeconds,
		js.ExchangeCount, js.AnalysisStatus, js.AnalysisData, js.AnalysisError, createdAt)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (store.JournalSession, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT session_id, user_id, mode, transcript, exchanges, duration_seconds,
		       exchange_count, analysis_status, analysis_data, analysis_error, created_at
		FROM journal_sessions
		WHERE session_id = $1
	`, sessionID)
	return scanSession(row)
}

func (s *Store) MarkAnalysisCompleted(ctx context.Context, sessionID string, data json.RawMessage) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE journal_sessions
		SET analysis_status = $2, analysis_data = $3, analysis_error = ''
		WHERE session_id = $1
	`, sessionID, store.AnalysisCompleted, data)
	if err != nil {
		return fmt.Errorf("mark analysis completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) MarkAnalysisFailed(ctx context.Context, sessionID, message string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE journal_sessions
		SET analysis_status = $2, analysis_error = $3
		WHERE session_id = $1
	`, sessionID, store.AnalysisFailed, message)
	if err != nil {
		return fmt.Errorf("mark analysis failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListSessions(ctx context.Context, limit int) ([]store.JournalSession, error) {
	return s.list(ctx, limit, "")
}

func (s *Store) ListSummaries(ctx context.Context, limit int) ([]store.JournalSession, error) {
	return s.list(ctx, limit, store.AnalysisCompleted)
}

func (s *Store) list(ctx context.Context, limit int, status string) ([]store.JournalSession, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT session_id, user_id, mode, transcript, exchanges, duration_seconds,
		       exchange_count, analysis_status, analysis_data, analysis_error, created_at
		FROM journal_sessions`
	args := []any{limit}
	if status != "" {
		query += ` WHERE analysis_status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT $1`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []store.JournalSession
	for rows.Next() {
		js, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, js)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (store.JournalSession, error) {
	var js store.JournalSession
	var exchanges []byte
	var analysisData []byte
	err := row.Scan(&js.SessionID, &js.UserID, &js.Mode, &js.Transcript, &exchanges,
		&js.DurationSeconds, &js.ExchangeCount, &js.AnalysisStatus, &analysisData,
		&js.AnalysisError, &js.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.JournalSession{}, store.ErrNotFound
		}
		return store.JournalSession{}, fmt.Errorf("scan session: %w", err)
	}
	if len(exchanges) > 0 {
		if err := json.Unmarshal(exchanges, &js.Exchanges); err != nil {
			return store.JournalSession{}, fmt.Errorf("decode exchanges: %w", err)
		}
	}
	if len(analysisData) > 0 {
		js.AnalysisData = json.RawMessage(analysisData)
	}
	return js, nil
}
