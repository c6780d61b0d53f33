package checkpoint

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sells-group/digest-engine/internal/model"
	"github.com/sells-group/digest-engine/internal/resilience"
)

// Pool is the subset of *pgxpool.Pool used by PostgresStore.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps checkpoints in a single table, one row per window.
// The encoded document is stored as text so a reload returns the exact
// bytes that were saved.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// NewPostgres connects a pool and returns a store.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, resilience.NewStorageError("postgres parse config", err)
	}
	cfg.MaxConns = 4
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, resilience.NewStorageError("postgres connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, resilience.NewStorageError("postgres ping", err)
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS checkpoints (
	window_id    TEXT PRIMARY KEY,
	window_start TIMESTAMPTZ NOT NULL,
	item_count   INTEGER NOT NULL,
	data         TEXT NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL,
	archived_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_window_start ON checkpoints(window_start);
`

// Migrate creates the checkpoints table.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return resilience.NewStorageError("postgres migrate", err)
	}
	return nil
}

// Close releases the pool when the store owns it.
func (s *PostgresStore) Close() {
	if s.closeFn != nil {
		s.closeFn()
	}
}

// Load reads the checkpoint row for windowID.
func (s *PostgresStore) Load(ctx context.Context, windowID string) (*model.Checkpoint, error) {
	var data string
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM checkpoints WHERE window_id = $1`, windowID,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, resilience.NewStorageError("postgres load "+windowID, err)
	}
	cp, err := model.DecodeCheckpoint([]byte(data))
	if err != nil {
		return nil, resilience.NewStorageError("postgres decode "+windowID, err)
	}
	return cp, nil
}

// Save upserts the checkpoint row in a single statement.
func (s *PostgresStore) Save(ctx context.Context, cp *model.Checkpoint) error {
	data, err := cp.Encode()
	if err != nil {
		return resilience.NewStorageError("encode "+cp.WindowID, err)
	}
	info := infoOf(cp)
	_, err = s.pool.Exec(ctx,
		`INSERT INTO checkpoints (window_id, window_start, item_count, data, updated_at, archived_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (window_id) DO UPDATE SET
			item_count = EXCLUDED.item_count,
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at,
			archived_at = EXCLUDED.archived_at`,
		info.WindowID, info.WindowStart, info.Items, string(data), info.UpdatedAt, info.ArchivedAt,
	)
	if err != nil {
		return resilience.NewStorageError("postgres save "+cp.WindowID, err)
	}
	return nil
}

// List returns row metadata without decoding the documents.
func (s *PostgresStore) List(ctx context.Context) ([]Info, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT window_id, window_start, updated_at, archived_at, item_count
		 FROM checkpoints ORDER BY window_id`,
	)
	if err != nil {
		return nil, resilience.NewStorageError("postgres list", err)
	}
	defer rows.Close()

	var infos []Info
	for rows.Next() {
		var info Info
		if err := rows.Scan(&info.WindowID, &info.WindowStart, &info.UpdatedAt, &info.ArchivedAt, &info.Items); err != nil {
			return nil, resilience.NewStorageError("postgres scan", err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, resilience.NewStorageError("postgres list", err)
	}
	return infos, nil
}

// Delete removes the row for windowID.
func (s *PostgresStore) Delete(ctx context.Context, windowID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM checkpoints WHERE window_id = $1`, windowID); err != nil {
		return resilience.NewStorageError("postgres delete "+windowID, err)
	}
	return nil
}
