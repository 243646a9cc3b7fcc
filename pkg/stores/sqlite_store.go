package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/opencomply/opencomply/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore is the persistence layer backing the engine: config files,
// managed resources and the audit trail, all in one SQLite database.
//
// It implements engine.FileStore, engine.ResourceStoreProvider and
// engine.AuditRecorder.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{
		cfg: cfg,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// An in-memory database exists per connection, so the pool must stay at
	// a single connection or each query would see a different database.
	if s.cfg.Path == ":memory:" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(s.cfg.MaxOpenConns)
		db.SetMaxIdleConns(s.cfg.MaxIdleConns)
		db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

// isUniqueViolation reports whether the driver error is a unique-constraint
// failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// GetFile retrieves a config file by workspace and path.
func (s *SQLiteStore) GetFile(ctx context.Context, workspace, path string) (*engine.ConfigFile, error) {
	query := `
		SELECT id, workspace, path, format, content, version, commit_message, created_at, updated_at
		FROM config_files
		WHERE workspace = ? AND path = ?
	`

	file := &engine.ConfigFile{}
	err := s.db.QueryRowContext(ctx, query, workspace, path).Scan(
		&file.ID,
		&file.Workspace,
		&file.Path,
		&file.Format,
		&file.Content,
		&file.Version,
		&file.CommitMessage,
		&file.CreatedAt,
		&file.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, engine.NewStoreError(fmt.Sprintf("config file not found: %s", path), nil).
			WithCode(engine.ErrCodeNotFound)
	}
	if err != nil {
		return nil, engine.NewStoreError("failed to get config file", err)
	}

	return file, nil
}

// ListFiles lists config files in a workspace whose path starts with prefix,
// sorted by path.
func (s *SQLiteStore) ListFiles(ctx context.Context, workspace, prefix string) ([]*engine.ConfigFile, error) {
	query := `
		SELECT id, workspace, path, format, content, version, commit_message, created_at, updated_at
		FROM config_files
		WHERE workspace = ? AND path LIKE ? ESCAPE '\'
		ORDER BY path ASC
	`

	rows, err := s.db.QueryContext(ctx, query, workspace, escapeLike(prefix)+"%")
	if err != nil {
		return nil, engine.NewStoreError("failed to list config files", err)
	}
	defer rows.Close()

	files := []*engine.ConfigFile{}
	for rows.Next() {
		file := &engine.ConfigFile{}
		err := rows.Scan(
			&file.ID,
			&file.Workspace,
			&file.Path,
			&file.Format,
			&file.Content,
			&file.Version,
			&file.CommitMessage,
			&file.CreatedAt,
			&file.UpdatedAt,
		)
		if err != nil {
			return nil, engine.NewStoreError("failed to scan config file", err)
		}
		files = append(files, file)
	}

	if err := rows.Err(); err != nil {
		return nil, engine.NewStoreError("error iterating config files", err)
	}

	return files, nil
}

// CreateFile creates a new config file at version 1.
func (s *SQLiteStore) CreateFile(ctx context.Context, workspace, path string, format engine.Format, content, commitMessage string) (*engine.ConfigFile, error) {
	if err := format.Validate(); err != nil {
		return nil, engine.NewPermanentError("cannot create config file", err)
	}

	query := `
		INSERT INTO config_files (id, workspace, path, format, content, version, commit_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?, ?)
	`

	now := time.Now().UTC()
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx, query, id, workspace, path, string(format), content, commitMessage, now, now)
	if isUniqueViolation(err) {
		return nil, engine.NewConflictError(fmt.Sprintf("config file already exists: %s", path), err).
			WithCode(engine.ErrCodeAlreadyExists)
	}
	if err != nil {
		return nil, engine.NewStoreError("failed to create config file", err)
	}

	return &engine.ConfigFile{
		ID:            id,
		Workspace:     workspace,
		Path:          path,
		Format:        format,
		Content:       content,
		Version:       1,
		CommitMessage: commitMessage,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// UpdateFile overwrites content and increments the version. The write only
// lands if baseVersion still matches the stored version.
func (s *SQLiteStore) UpdateFile(ctx context.Context, workspace, path, content string, baseVersion int64, commitMessage string) (*engine.ConfigFile, error) {
	query := `
		UPDATE config_files
		SET content = ?, version = version + 1, commit_message = ?, updated_at = ?
		WHERE workspace = ? AND path = ? AND version = ?
	`

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, query, content, commitMessage, now, workspace, path, baseVersion)
	if err != nil {
		return nil, engine.NewStoreError("failed to update config file", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, engine.NewStoreError("failed to get rows affected", err)
	}
	if rows == 0 {
		// Distinguish a missing file from a stale version.
		current, getErr := s.GetFile(ctx, workspace, path)
		if getErr != nil {
			return nil, getErr
		}
		return nil, engine.NewConflictError(
			fmt.Sprintf("config file %s changed: expected version %d, stored version is %d",
				path, baseVersion, current.Version), nil).
			WithCode(engine.ErrCodeVersionMismatch)
	}

	return s.GetFile(ctx, workspace, path)
}

// RecordApply implements engine.AuditRecorder.
func (s *SQLiteStore) RecordApply(ctx context.Context, workspace, actor, path string, result *engine.ApplyResult) error {
	details, err := json.Marshal(result.Errors)
	if err != nil {
		return engine.NewStoreError("failed to encode audit details", err)
	}

	query := `
		INSERT INTO audit_entries (workspace, actor, path, created_count, updated_count, deleted_count, error_count, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		workspace,
		actor,
		path,
		result.Created,
		result.Updated,
		result.Deleted,
		len(result.Errors),
		string(details),
		time.Now().UTC(),
	)
	if err != nil {
		return engine.NewStoreError("failed to create audit entry", err)
	}

	return nil
}

// ListAuditEntries lists audit entries for a workspace, newest first.
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, workspace string, limit, offset int) ([]*AuditEntry, error) {
	query := `
		SELECT id, workspace, actor, path, created_count, updated_count, deleted_count, error_count, details, timestamp
		FROM audit_entries
		WHERE workspace = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, workspace, limit, offset)
	if err != nil {
		return nil, engine.NewStoreError("failed to list audit entries", err)
	}
	defer rows.Close()

	entries := []*AuditEntry{}
	for rows.Next() {
		entry := &AuditEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.Workspace,
			&entry.Actor,
			&entry.Path,
			&entry.Created,
			&entry.Updated,
			&entry.Deleted,
			&entry.Errors,
			&entry.Details,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, engine.NewStoreError("failed to scan audit entry", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, engine.NewStoreError("error iterating audit entries", err)
	}

	return entries, nil
}

// escapeLike escapes LIKE metacharacters in a literal prefix.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
