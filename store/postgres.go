package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	xerrors "github.com/sweetpotato0/deepresearch/errors"
)

// PostgresStore archives sessions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig holds PostgreSQL connection configuration.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DefaultPostgresConfig returns default PostgreSQL configuration.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		DBName:   "deepresearch",
		SSLMode:  "disable",
	}
}

// NewPostgresStore connects to PostgreSQL and prepares the sessions table.
func NewPostgresStore(config *PostgresConfig) (*PostgresStore, error) {
	if config == nil {
		config = DefaultPostgresConfig()
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.createTable(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) createTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		id VARCHAR(255) PRIMARY KEY,
		question TEXT NOT NULL,
		answer TEXT NOT NULL,
		sources JSONB,
		loops INT NOT NULL,
		total_queries INT NOT NULL,
		forced BOOLEAN NOT NULL,
		warnings JSONB,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON sessions(created_at);
	`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// Save implements Store.
func (s *PostgresStore) Save(ctx context.Context, rec *Record) error {
	if rec == nil || rec.ID == "" {
		return &xerrors.ValidationError{Field: "record", Message: "record with a non-empty ID is required"}
	}

	sourcesJSON, err := json.Marshal(rec.Sources)
	if err != nil {
		return fmt.Errorf("failed to marshal sources: %w", err)
	}
	warningsJSON, err := json.Marshal(rec.Warnings)
	if err != nil {
		return fmt.Errorf("failed to marshal warnings: %w", err)
	}

	query := `
	INSERT INTO sessions (id, question, answer, sources, loops, total_queries, forced, warnings, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (id) DO UPDATE SET
		question = EXCLUDED.question,
		answer = EXCLUDED.answer,
		sources = EXCLUDED.sources,
		loops = EXCLUDED.loops,
		total_queries = EXCLUDED.total_queries,
		forced = EXCLUDED.forced,
		warnings = EXCLUDED.warnings
	`
	_, err = s.db.ExecContext(ctx, query,
		rec.ID, rec.Question, rec.Answer, string(sourcesJSON),
		rec.Loops, rec.TotalQueries, rec.Forced, string(warningsJSON), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	query := `SELECT id, question, answer, sources, loops, total_queries, forced, warnings, created_at
	          FROM sessions WHERE id = $1`
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("session %s: %w", id, xerrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return rec, nil
}

// Search implements Store.
func (s *PostgresStore) Search(ctx context.Context, query string) ([]*Record, error) {
	var rows *sql.Rows
	var err error
	if query == "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, question, answer, sources, loops, total_queries, forced, warnings, created_at
			 FROM sessions ORDER BY created_at DESC`)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, question, answer, sources, loops, total_queries, forced, warnings, created_at
			 FROM sessions WHERE question ILIKE $1 ORDER BY created_at DESC`,
			fmt.Sprintf("%%%s%%", query))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to search sessions: %w", err)
	}
	defer rows.Close()

	out := make([]*Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return out, nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("session %s: %w", id, xerrors.ErrNotFound)
	}
	return nil
}

// Count implements Store.
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return count, nil
}

// Ping checks if the PostgreSQL connection is alive.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the PostgreSQL connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	rec := &Record{}
	var sourcesJSON, warningsJSON string
	err := row.Scan(&rec.ID, &rec.Question, &rec.Answer, &sourcesJSON,
		&rec.Loops, &rec.TotalQueries, &rec.Forced, &warningsJSON, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	if sourcesJSON != "" && sourcesJSON != "null" {
		if err := json.Unmarshal([]byte(sourcesJSON), &rec.Sources); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sources: %w", err)
		}
	}
	if warningsJSON != "" && warningsJSON != "null" {
		if err := json.Unmarshal([]byte(warningsJSON), &rec.Warnings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal warnings: %w", err)
		}
	}
	return rec, nil
}
