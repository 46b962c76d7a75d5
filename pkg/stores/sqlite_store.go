package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"

	"github.com/openfroyo/pkgctl/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore persists the package registry table. It implements
// engine.StateStore.
type SQLiteStore struct {
	db     *sql.DB
	cfg    Config
	logger zerolog.Logger
}

var _ engine.StateStore = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store instance. Call Init and Migrate
// before use.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: opens its own database.
	if cfg.Path == memoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		cfg:    cfg,
		logger: zerolog.Nop(),
	}, nil
}

// WithLogger sets the logger used for store diagnostics.
func (s *SQLiteStore) WithLogger(logger zerolog.Logger) *SQLiteStore {
	s.logger = logger.With().Str("component", "store").Logger()
	return s
}

// dsn builds the modernc.org/sqlite connection string.
func (s *SQLiteStore) dsn() string {
	params := url.Values{}
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", s.cfg.BusyTimeout.Milliseconds()))
	if s.cfg.Path != memoryPath {
		params.Add("_pragma", "journal_mode(WAL)")
		params.Add("_pragma", "synchronous(NORMAL)")
	}
	params.Set("_txlock", "immediate")
	return s.cfg.Path + "?" + params.Encode()
}

// Init opens the database connection.
func (s *SQLiteStore) Init(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.dsn())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	s.logger.Debug().Str("path", s.cfg.Path).Msg("Opened registry database")
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate applies the embedded schema migrations.
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

	version, dirty, err := m.Version()
	if err == nil {
		s.logger.Debug().Uint("version", version).Bool("dirty", dirty).Msg("Registry schema up to date")
	}
	return nil
}

// Open is a convenience for NewSQLiteStore followed by Init and Migrate.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (*SQLiteStore, error) {
	store, err := NewSQLiteStore(cfg)
	if err != nil {
		return nil, err
	}
	store.WithLogger(logger)
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// SaveStates upserts every package in one transaction. Implements
// engine.StateStore.
func (s *SQLiteStore) SaveStates(ctx context.Context, pkgs []*engine.Package) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO package_registry (id, version, state, dependencies, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			version = excluded.version,
			state = excluded.state,
			dependencies = excluded.dependencies,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, p := range pkgs {
		deps, err := json.Marshal(nonNil(p.Dependencies))
		if err != nil {
			return fmt.Errorf("failed to encode dependencies of %s: %w", p.ID, err)
		}
		updatedAt := p.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = time.Now()
		}
		if _, err := stmt.ExecContext(ctx,
			p.ID,
			p.Version,
			string(p.State),
			string(deps),
			updatedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("failed to save package %s: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Debug().Int("packages", len(pkgs)).Msg("Saved package states")
	return nil
}

// LoadStates returns the persisted state of every package. Implements
// engine.StateStore.
func (s *SQLiteStore) LoadStates(ctx context.Context) (map[string]engine.LifecycleState, error) {
	records, err := s.ListPackages(ctx)
	if err != nil {
		return nil, err
	}
	states := make(map[string]engine.LifecycleState, len(records))
	for _, r := range records {
		states[r.ID] = r.State
	}
	return states, nil
}

// ListPackages returns every row of the registry table ordered by ID.
func (s *SQLiteStore) ListPackages(ctx context.Context) ([]*PackageRecord, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, version, state, dependencies, updated_at
		FROM package_registry
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list packages: %w", err)
	}
	defer rows.Close()

	records := []*PackageRecord{}
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating packages: %w", err)
	}

	return records, nil
}

// GetPackage returns one row of the registry table.
func (s *SQLiteStore) GetPackage(ctx context.Context, id string) (*PackageRecord, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, version, state, dependencies, updated_at
		FROM package_registry
		WHERE id = ?
	`, id)

	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("package not found: %s", id)
	}
	return record, err
}

// Reset truncates the registry table.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM package_registry`); err != nil {
		return fmt.Errorf("failed to reset registry: %w", err)
	}
	s.logger.Info().Msg("Registry table reset")
	return nil
}

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*PackageRecord, error) {
	var (
		record    PackageRecord
		state     string
		deps      string
		updatedAt string
	)
	if err := row.Scan(&record.ID, &record.Version, &state, &deps, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan package: %w", err)
	}

	parsed, err := engine.ParseState(state)
	if err != nil {
		return nil, fmt.Errorf("package %s: %w", record.ID, err)
	}
	record.State = parsed

	if err := json.Unmarshal([]byte(deps), &record.Dependencies); err != nil {
		return nil, fmt.Errorf("package %s: failed to decode dependencies: %w", record.ID, err)
	}

	record.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("package %s: failed to parse updated_at: %w", record.ID, err)
	}

	return &record, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
