package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"mltrack/adapters/sqlstore/migrations"
	"mltrack/domain/core"
	"mltrack/domain/tracking"
	"mltrack/internal"
	"mltrack/internal/errors"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Store implements ports.TrackingStore and ports.ModelRegistry over SQL.
// SQLite (modernc) and PostgreSQL (lib/pq) are supported; every query is
// written with ? placeholders and rebound for the active driver.
type Store struct {
	db           *sqlx.DB
	artifactRoot string
	logger       *internal.Logger
}

// ParseDSN maps a tracking URI onto a driver name and data source.
//
//	sqlite:///mlruns/mlflow.db   relative path
//	sqlite:////var/mlflow.db     absolute path
//	sqlite://:memory:            in-memory database
//	postgres://user@host/db      passed to lib/pq unchanged
func ParseDSN(uri string) (driver, dsn string, err error) {
	switch {
	case strings.HasPrefix(uri, "sqlite://"):
		rest := strings.TrimPrefix(uri, "sqlite://")
		if rest == ":memory:" || rest == "/:memory:" || rest == "" {
			return "sqlite", "file::memory:?_pragma=foreign_keys(1)", nil
		}
		path := strings.TrimPrefix(rest, "/")
		if path == "" {
			return "", "", errors.ConfigInvalid("sqlite tracking URI has no database path: " + uri)
		}
		return "sqlite", path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", nil
	case strings.HasPrefix(uri, "postgres://"), strings.HasPrefix(uri, "postgresql://"):
		if _, err := url.Parse(uri); err != nil {
			return "", "", errors.WithCode(errors.CodeConfigInvalid, errors.Wrap(err, "invalid postgres tracking URI"))
		}
		return "postgres", uri, nil
	default:
		return "", "", errors.ConfigInvalid("unsupported database tracking URI: " + uri)
	}
}

// Open connects to the database named by uri, applies migrations and makes
// sure the default experiment exists. artifactRoot is the prefix new
// experiments get their artifact location under.
func Open(ctx context.Context, uri, artifactRoot string) (*Store, error) {
	driver, dsn, err := ParseDSN(uri)
	if err != nil {
		return nil, err
	}

	if driver == "sqlite" && !strings.HasPrefix(dsn, "file::memory:") {
		dbPath := dsn[:strings.Index(dsn, "?")]
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.Wrapf(err, "failed to create database directory %s", dir)
			}
		}
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, errors.WithCode(errors.CodeDatabaseError, errors.Wrap(err, "failed to open tracking database"))
	}
	if driver == "sqlite" {
		// One writer at a time; an in-memory database also lives on a single connection.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.WithCode(errors.CodeDatabaseError, errors.Wrap(err, "failed to ping tracking database"))
	}

	store, err := NewStore(ctx, db, artifactRoot)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewStore wraps an open connection, migrating it first
func NewStore(ctx context.Context, db *sqlx.DB, artifactRoot string) (*Store, error) {
	if err := migrations.NewMigrator(db).Up(ctx); err != nil {
		return nil, errors.WithCode(errors.CodeDatabaseError, errors.Wrap(err, "failed to migrate tracking database"))
	}

	s := &Store{
		db:           db,
		artifactRoot: strings.TrimSuffix(artifactRoot, "/"),
		logger:       internal.DefaultLogger.With("sqlstore"),
	}
	if err := s.ensureDefaultExperiment(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying connection for maintenance commands
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Close releases the connection pool
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureDefaultExperiment(ctx context.Context) error {
	var count int
	err := s.db.GetContext(ctx, &count, s.db.Rebind(
		"SELECT COUNT(*) FROM experiments WHERE experiment_id = ?"), tracking.DefaultExperimentID)
	if err != nil {
		return errors.WithCode(errors.CodeDatabaseError, errors.Wrap(err, "failed to look up default experiment"))
	}
	if count > 0 {
		return nil
	}

	now := core.NowMillis()
	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO experiments (experiment_id, name, artifact_location, lifecycle_stage, creation_time, last_update_time)
		VALUES (?, ?, ?, ?, ?, ?)`),
		tracking.DefaultExperimentID, tracking.DefaultExperimentName,
		s.experimentArtifactLocation(tracking.DefaultExperimentID),
		tracking.LifecycleActive, now, now)
	if err != nil {
		return errors.WithCode(errors.CodeDatabaseError, errors.Wrap(err, "failed to create default experiment"))
	}
	return nil
}

func (s *Store) experimentArtifactLocation(experimentID string) string {
	return s.artifactRoot + "/" + experimentID
}

// withTx runs fn inside a transaction, rolling back on error
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.WithCode(errors.CodeDatabaseError, errors.Wrap(err, "failed to begin transaction"))
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.WithCode(errors.CodeDatabaseError, errors.Wrap(err, "failed to commit transaction"))
	}
	return nil
}

func dbErr(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	if errors.IsAppError(err) {
		return err
	}
	return errors.WithCode(errors.CodeDatabaseError, errors.Wrap(err, fmt.Sprintf(format, args...)))
}

func isNoRows(err error) bool {
	return err == sql.ErrNoRows
}
