package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/digest-engine/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dsn); dsn != ":memory:" && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "sqlite: mkdir %s", dir)
		}
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	job        TEXT NOT NULL,
	window_id  TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	result     TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_phases (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	result     TEXT,
	started_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS representatives (
	item_id    TEXT NOT NULL,
	window_id  TEXT NOT NULL,
	title      TEXT NOT NULL,
	url        TEXT NOT NULL,
	embedding  TEXT,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (window_id, item_id)
);

CREATE INDEX IF NOT EXISTS idx_runs_window ON runs(window_id);
CREATE INDEX IF NOT EXISTS idx_runs_job ON runs(job);
CREATE INDEX IF NOT EXISTS idx_run_phases_run_id ON run_phases(run_id);
CREATE INDEX IF NOT EXISTS idx_representatives_created_at ON representatives(created_at);
`

// Migrate creates the ledger tables.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, job model.JobKind, windowID string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, job, window_id, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, string(job), windowID, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Job:       job,
		WindowID:  windowID,
		Status:    model.RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) UpdateRunResult(ctx context.Context, runID string, status model.RunStatus, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET result = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(resultJSON), string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run result %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, job, window_id, status, result, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter model.RunFilter) ([]model.Run, error) {
	query := `SELECT id, job, window_id, status, result, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Job != "" {
		query += ` AND job = ?`
		args = append(args, string(filter.Job))
	}
	if filter.WindowID != "" {
		query += ` AND window_id = ?`
		args = append(args, filter.WindowID)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) CreatePhase(ctx context.Context, runID string, name string) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_phases (id, run_id, name, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, runID, name, string(model.PhaseStatusRunning), time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: insert phase for run %s", runID)
	}
	return id, nil
}

func (s *SQLiteStore) CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal phase result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE run_phases SET status = ?, result = ? WHERE id = ?`,
		string(result.Status), string(resultJSON), phaseID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete phase %s", phaseID)
	}
	return checkRowsAffected(res, "phase", phaseID)
}

// SaveRepresentatives upserts representatives in one transaction.
func (s *SQLiteStore) SaveRepresentatives(ctx context.Context, reps []model.Representative) error {
	if len(reps) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin representatives")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO representatives (item_id, window_id, title, url, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (window_id, item_id) DO UPDATE SET
			title = excluded.title,
			url = excluded.url,
			embedding = COALESCE(excluded.embedding, representatives.embedding)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare representatives")
	}
	defer stmt.Close() //nolint:errcheck

	for _, r := range reps {
		var emb sql.NullString
		if len(r.Embedding) > 0 {
			data, err := json.Marshal(r.Embedding)
			if err != nil {
				return eris.Wrap(err, "sqlite: marshal embedding")
			}
			emb = sql.NullString{String: string(data), Valid: true}
		}
		created := r.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		if _, err := stmt.ExecContext(ctx, r.ItemID, r.WindowID, r.Title, r.URL, emb, created.UTC()); err != nil {
			return eris.Wrapf(err, "sqlite: insert representative %s", r.ItemID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit representatives")
}

// ListRepresentatives returns the representatives recorded for the given
// windows, ordered by window then item id.
func (s *SQLiteStore) ListRepresentatives(ctx context.Context, windowIDs []string) ([]model.Representative, error) {
	if len(windowIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(windowIDs)), ",")
	args := make([]any, len(windowIDs))
	for i, id := range windowIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT item_id, window_id, title, url, embedding, created_at FROM representatives
		 WHERE window_id IN (`+placeholders+`) ORDER BY window_id, item_id`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list representatives")
	}
	defer rows.Close() //nolint:errcheck

	var reps []model.Representative
	for rows.Next() {
		var r model.Representative
		var emb sql.NullString
		if err := rows.Scan(&r.ItemID, &r.WindowID, &r.Title, &r.URL, &emb, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan representative")
		}
		if emb.Valid {
			if err := json.Unmarshal([]byte(emb.String), &r.Embedding); err != nil {
				return nil, eris.Wrapf(err, "sqlite: unmarshal embedding %s", r.ItemID)
			}
		}
		reps = append(reps, r)
	}
	return reps, eris.Wrap(rows.Err(), "sqlite: list representatives iterate")
}

// PruneRepresentatives deletes representatives recorded before the cutoff.
func (s *SQLiteStore) PruneRepresentatives(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM representatives WHERE created_at < ?`, before.UTC())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prune representatives")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var resultJSON sql.NullString

	err := row.Scan(&r.ID, &r.Job, &r.WindowID, &r.Status, &resultJSON, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if resultJSON.Valid {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal([]byte(resultJSON.String), r.Result); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal result")
		}
	}
	return &r, nil
}
