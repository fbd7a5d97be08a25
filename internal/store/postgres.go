package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/merchant-enrich/internal/model"
)

// Pool is the subset of pgxpool.Pool the Postgres store uses. pgxmock pools
// satisfy it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements CheckpointStore using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	pgSave = `INSERT INTO merchant_checkpoints (key, job_id, version, data, updated_at) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (key) DO UPDATE SET job_id = EXCLUDED.job_id, version = EXCLUDED.version, data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`
	pgLoad   = `SELECT data FROM merchant_checkpoints WHERE key = $1`
	pgDelete = `DELETE FROM merchant_checkpoints WHERE key = $1`
	pgList   = `SELECT key, data FROM merchant_checkpoints ORDER BY key`
)

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS merchant_checkpoints (
	key        TEXT PRIMARY KEY,
	job_id     TEXT NOT NULL,
	version    INTEGER NOT NULL,
	data       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_merchant_checkpoints_job_id ON merchant_checkpoints(job_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, key string, cp *model.Checkpoint) error {
	data, err := Encode(cp)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, pgSave, key, cp.JobID, model.CheckpointVersion, data, time.Now().UTC())
	return eris.Wrapf(err, "postgres: save checkpoint %s", key)
}

func (s *PostgresStore) Load(ctx context.Context, key string) (*model.Checkpoint, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, pgLoad, key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load checkpoint %s", key)
	}
	return Decode(data)
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, pgDelete, key)
	return eris.Wrapf(err, "postgres: delete checkpoint %s", key)
}

func (s *PostgresStore) List(ctx context.Context) ([]*model.Checkpoint, error) {
	rows, err := s.pool.Query(ctx, pgList)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list checkpoints")
	}
	defer rows.Close()

	var out []*model.Checkpoint
	for rows.Next() {
		var key string
		var data []byte
		if err := rows.Scan(&key, &data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan checkpoint")
		}
		cp, err := Decode(data)
		if err != nil {
			zap.L().Warn("postgres: skipping unreadable checkpoint", zap.String("key", key), zap.Error(err))
			continue
		}
		out = append(out, cp)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate checkpoints")
}
