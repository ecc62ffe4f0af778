// Package store persists generated notes and their FHIR bundles in
// PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/raaihank/scribe-sentinel/internal/config"
)

const defaultListLimit = 50

const schema = `
CREATE TABLE IF NOT EXISTS clinical_notes (
	id            TEXT PRIMARY KEY,
	patient_id    TEXT NOT NULL DEFAULT '',
	encounter_id  TEXT NOT NULL DEFAULT '',
	subjective    TEXT NOT NULL DEFAULT '',
	objective     TEXT NOT NULL DEFAULT '',
	assessment    TEXT NOT NULL DEFAULT '',
	plan          TEXT NOT NULL DEFAULT '',
	icd10_codes   TEXT[] NOT NULL DEFAULT '{}',
	bundle        JSONB NOT NULL,
	entities      JSONB NOT NULL DEFAULT '{}',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_clinical_notes_patient ON clinical_notes (patient_id, created_at DESC);
`

// Store handles note persistence in PostgreSQL
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// New connects to the database and configures the pool.
func New(cfg config.DatabaseConfig, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	store := NewWithDB(db, logger)

	if cfg.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := store.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	logger.Info("Note store initialized successfully",
		zap.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns))

	return store, nil
}

// NewWithDB wraps an existing connection.
func NewWithDB(db *sqlx.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Migrate creates the notes table if needed.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	s.logger.Info("Note store schema ready")
	return nil
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Save inserts a note record
func (s *Store) Save(ctx context.Context, note *StoredNote) error {
	query := `
		INSERT INTO clinical_notes
			(id, patient_id, encounter_id, subjective, objective, assessment, plan,
			 icd10_codes, bundle, entities, created_at)
		VALUES
			(:id, :patient_id, :encounter_id, :subjective, :objective, :assessment, :plan,
			 :icd10_codes, :bundle, :entities, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, query, note); err != nil {
		s.logger.Error("Failed to save note", zap.Error(err), zap.String("id", note.ID))
		return fmt.Errorf("failed to save note: %w", err)
	}

	s.logger.Debug("Note saved", zap.String("id", note.ID))
	return nil
}

// Get loads a note by id
func (s *Store) Get(ctx context.Context, id string) (*StoredNote, error) {
	var note StoredNote
	err := s.db.GetContext(ctx, &note, `SELECT * FROM clinical_notes WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load note: %w", err)
	}
	return &note, nil
}

// List returns notes newest first, optionally for one patient.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]*StoredNote, error) {
	query, args := listQuery(opts)

	notes := []*StoredNote{}
	if err := s.db.SelectContext(ctx, &notes, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	return notes, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func listQuery(opts ListOptions) (string, []interface{}) {
	limit := opts.Limit
	if limit <= 0 || limit > 500 {
		limit = defaultListLimit
	}

	if opts.PatientID == "" {
		return `SELECT * FROM clinical_notes ORDER BY created_at DESC LIMIT $1`, []interface{}{limit}
	}
	return `SELECT * FROM clinical_notes WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2`,
		[]interface{}{opts.PatientID, limit}
}

// maskDatabaseURL masks the password in a database URL for logging
func maskDatabaseURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userPart := url[:at]
	colon := strings.LastIndex(userPart, ":")
	if colon < 0 || colon == strings.Index(userPart, ":") {
		return url
	}
	return userPart[:colon+1] + "***" + url[at:]
}
