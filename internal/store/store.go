// Package store persists job checkpoints. Every backend saves and loads a
// checkpoint as one versioned JSON document keyed by the job's input.
package store

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/merchant-enrich/internal/model"
)

// ErrCorruptCheckpoint is returned when a stored checkpoint cannot be decoded
// or fails structural validation.
var ErrCorruptCheckpoint = eris.New("store: corrupt checkpoint")

// CheckpointStore saves and loads whole checkpoints.
type CheckpointStore interface {
	// Save replaces the checkpoint stored under key.
	Save(ctx context.Context, key string, cp *model.Checkpoint) error
	// Load returns the checkpoint under key, or nil when none exists.
	Load(ctx context.Context, key string) (*model.Checkpoint, error)
	// Delete removes the checkpoint under key. Deleting a missing key is not
	// an error.
	Delete(ctx context.Context, key string) error
	// List returns every decodable checkpoint. Corrupt entries are skipped.
	List(ctx context.Context) ([]*model.Checkpoint, error)
	Close() error
}

// Backend names.
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config selects and configures a checkpoint backend.
type Config struct {
	Backend  string `yaml:"backend" mapstructure:"backend"`
	Dir      string `yaml:"dir" mapstructure:"dir"`
	DSN      string `yaml:"dsn" mapstructure:"dsn"`
	MaxConns int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// Open creates the configured backend and runs its migrations.
func Open(ctx context.Context, cfg Config) (CheckpointStore, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case BackendFile, "":
		dir := cfg.Dir
		if dir == "" {
			dir = ".checkpoints"
		}
		return NewFile(dir)
	case BackendSQLite:
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "merchant-enrich.db"
		}
		s, err := NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	case BackendPostgres:
		s, err := NewPostgres(ctx, cfg.DSN, &PoolConfig{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, eris.Errorf("store: unknown backend %q", cfg.Backend)
	}
}

// FindJob returns the checkpoint with the given job ID, or nil.
func FindJob(ctx context.Context, s CheckpointStore, jobID string) (*model.Checkpoint, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, cp := range all {
		if cp.JobID == jobID {
			return cp, nil
		}
	}
	return nil, nil
}
