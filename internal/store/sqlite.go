package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/merchant-enrich/internal/model"
)

// SQLiteStore implements CheckpointStore using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
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
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS merchant_checkpoints (
	key        TEXT PRIMARY KEY,
	job_id     TEXT NOT NULL,
	version    INTEGER NOT NULL,
	data       TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_merchant_checkpoints_job_id ON merchant_checkpoints(job_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, key string, cp *model.Checkpoint) error {
	data, err := Encode(cp)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO merchant_checkpoints (key, job_id, version, data, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET job_id = excluded.job_id, version = excluded.version,
		 data = excluded.data, updated_at = excluded.updated_at`,
		key, cp.JobID, model.CheckpointVersion, string(data), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save checkpoint %s", key)
}

func (s *SQLiteStore) Load(ctx context.Context, key string) (*model.Checkpoint, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM merchant_checkpoints WHERE key = ?`, key,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load checkpoint %s", key)
	}
	return Decode([]byte(data))
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM merchant_checkpoints WHERE key = ?`, key)
	return eris.Wrapf(err, "sqlite: delete checkpoint %s", key)
}

func (s *SQLiteStore) List(ctx context.Context) ([]*model.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, data FROM merchant_checkpoints ORDER BY key`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list checkpoints")
	}
	defer rows.Close()

	var out []*model.Checkpoint
	for rows.Next() {
		var key, data string
		if err := rows.Scan(&key, &data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan checkpoint")
		}
		cp, err := Decode([]byte(data))
		if err != nil {
			zap.L().Warn("sqlite: skipping unreadable checkpoint", zap.String("key", key), zap.Error(err))
			continue
		}
		out = append(out, cp)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate checkpoints")
}
