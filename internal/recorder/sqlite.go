package recorder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"mealscan-gateway/internal/apperr"
)

const createRecordsTable = `
CREATE TABLE IF NOT EXISTS analysis_records (
	id          TEXT PRIMARY KEY,
	caller_id   TEXT NOT NULL,
	analysis_id TEXT,
	provider    TEXT,
	cached      INTEGER NOT NULL DEFAULT 0,
	outcome     TEXT NOT NULL,
	image_hash  TEXT,
	image_url   TEXT,
	item_count  INTEGER NOT NULL DEFAULT 0,
	calories    REAL NOT NULL DEFAULT 0,
	protein_g   REAL NOT NULL DEFAULT 0,
	carbs_g     REAL NOT NULL DEFAULT 0,
	fat_g       REAL NOT NULL DEFAULT 0,
	confidence  REAL NOT NULL DEFAULT 0,
	result_json TEXT,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at  TEXT NOT NULL
)`

// SQLiteStore writes records to an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and migrates it.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open records db: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate records db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(createRecordsTable); err != nil {
		return err
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_records_caller ON analysis_records(caller_id)`); err != nil {
		return err
	}
	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_records_created ON analysis_records(created_at)`)
	return err
}

// Save inserts rec. A second save with the same ID fails.
func (s *SQLiteStore) Save(ctx context.Context, rec Record) error {
	row, err := toRow(rec)
	if err != nil {
		return apperr.New(apperr.KindPersistenceFailure, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analysis_records
		(id, caller_id, analysis_id, provider, cached, outcome, image_hash, image_url,
		 item_count, calories, protein_g, carbs_g, fat_g, confidence,
		 result_json, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.CallerID, row.AnalysisID, row.Provider, row.Cached, row.Outcome,
		row.ImageHash, row.ImageURL, row.ItemCount,
		row.Calories, row.ProteinG, row.CarbsG, row.FatG, row.Confidence,
		row.ResultJSON, row.DurationMs, row.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return apperr.New(apperr.KindPersistenceFailure, fmt.Errorf("insert record %s: %w", row.ID, err))
	}
	return nil
}

// Get loads one record by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (Record, error) {
	var (
		row       analysisRow
		createdAt string
		analysis  sql.NullString
		provider  sql.NullString
		hash      sql.NullString
		url       sql.NullString
		result    sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, caller_id, analysis_id, provider, cached, outcome, image_hash, image_url,
		        item_count, calories, protein_g, carbs_g, fat_g, confidence,
		        result_json, duration_ms, created_at
		 FROM analysis_records WHERE id = ?`, id,
	).Scan(
		&row.ID, &row.CallerID, &analysis, &provider, &row.Cached, &row.Outcome, &hash, &url,
		&row.ItemCount, &row.Calories, &row.ProteinG, &row.CarbsG, &row.FatG, &row.Confidence,
		&result, &row.DurationMs, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("query record %s: %w", id, err)
	}

	row.AnalysisID = analysis.String
	row.Provider = provider.String
	row.ImageHash = hash.String
	row.ImageURL = url.String
	row.ResultJSON = result.String
	if row.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Record{}, fmt.Errorf("parse created_at: %w", err)
	}
	return row.toRecord()
}

// CountByCaller returns how many records exist for callerID.
func (s *SQLiteStore) CountByCaller(ctx context.Context, callerID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM analysis_records WHERE caller_id = ?`, callerID,
	).Scan(&n)
	return n, err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
