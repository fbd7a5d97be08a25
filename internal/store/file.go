package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/merchant-enrich/internal/model"
)

const fileSuffix = ".checkpoint.json"

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// FileStore keeps one JSON file per checkpoint key in a directory.
type FileStore struct {
	dir string
}

// NewFile creates a FileStore rooted at dir, creating it if needed.
func NewFile(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "store: create checkpoint dir %s", dir)
	}
	return &FileStore{dir: dir}, nil
}

// Path returns the file that holds the checkpoint for key. The name keeps
// the key's base name readable and disambiguates with a digest of the key.
func (s *FileStore) Path(key string) string {
	sum := sha256.Sum256([]byte(key))
	base := unsafeChars.ReplaceAllString(filepath.Base(key), "_")
	base = strings.Trim(base, ".")
	if base == "" {
		base = "job"
	}
	return filepath.Join(s.dir, base+"-"+hex.EncodeToString(sum[:4])+fileSuffix)
}

func (s *FileStore) Save(_ context.Context, key string, cp *model.Checkpoint) error {
	data, err := Encode(cp)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, ".checkpoint-*")
	if err != nil {
		return eris.Wrap(err, "store: create temp checkpoint")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return eris.Wrap(err, "store: write checkpoint")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return eris.Wrap(err, "store: sync checkpoint")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "store: close checkpoint")
	}
	return eris.Wrap(os.Rename(tmp.Name(), s.Path(key)), "store: rename checkpoint")
}

func (s *FileStore) Load(_ context.Context, key string) (*model.Checkpoint, error) {
	data, err := os.ReadFile(s.Path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: read checkpoint")
	}
	return Decode(data)
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	err := os.Remove(s.Path(key))
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return eris.Wrap(err, "store: delete checkpoint")
}

func (s *FileStore) List(_ context.Context) ([]*model.Checkpoint, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, eris.Wrap(err, "store: list checkpoints")
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), fileSuffix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []*model.Checkpoint
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			return nil, eris.Wrapf(err, "store: read checkpoint %s", name)
		}
		cp, err := Decode(data)
		if err != nil {
			zap.L().Warn("store: skipping unreadable checkpoint", zap.String("file", name), zap.Error(err))
			continue
		}
		out = append(out, cp)
	}
	return out, nil
}

func (s *FileStore) Close() error { return nil }
