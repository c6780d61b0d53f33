package checkpoint

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/digest-engine/internal/model"
	"github.com/sells-group/digest-engine/internal/resilience"
)

// FileStore keeps one JSON file per window in a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, resilience.NewStorageError("mkdir "+dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the storage directory.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(windowID string) string {
	return filepath.Join(s.dir, windowID+".json")
}

// Load reads a checkpoint file.
func (s *FileStore) Load(_ context.Context, windowID string) (*model.Checkpoint, error) {
	if err := validWindowID(windowID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(windowID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, resilience.NewStorageError("read "+windowID, err)
	}
	cp, err := model.DecodeCheckpoint(data)
	if err != nil {
		return nil, resilience.NewStorageError("decode "+windowID, err)
	}
	return cp, nil
}

// Save writes the checkpoint to a temp file in the same directory, syncs it
// and renames it over the previous version. A crash at any point leaves
// either the old or the new file intact.
func (s *FileStore) Save(_ context.Context, cp *model.Checkpoint) error {
	if err := validWindowID(cp.WindowID); err != nil {
		return err
	}
	data, err := cp.Encode()
	if err != nil {
		return resilience.NewStorageError("encode "+cp.WindowID, err)
	}
	if err := writeAtomic(s.dir, s.path(cp.WindowID), data); err != nil {
		return resilience.NewStorageError("write "+cp.WindowID, err)
	}
	return nil
}

// List reads every checkpoint in the directory.
func (s *FileStore) List(ctx context.Context) ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, resilience.NewStorageError("list "+s.dir, err)
	}

	var infos []Info
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		if validWindowID(id) != nil {
			continue
		}
		cp, err := s.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		if cp != nil {
			infos = append(infos, infoOf(cp))
		}
	}
	sortInfos(infos)
	return infos, nil
}

// Delete removes a checkpoint file. Deleting a missing file is not an error.
func (s *FileStore) Delete(_ context.Context, windowID string) error {
	if err := validWindowID(windowID); err != nil {
		return err
	}
	if err := os.Remove(s.path(windowID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return resilience.NewStorageError("delete "+windowID, err)
	}
	return nil
}

// writeAtomic replaces path with data via temp file, fsync and rename, then
// fsyncs the directory so the rename itself is durable.
func writeAtomic(dir, path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return eris.Wrap(err, "create temp")
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return eris.Wrap(err, "write temp")
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return eris.Wrap(err, "sync temp")
	}
	if err = tmp.Close(); err != nil {
		return eris.Wrap(err, "close temp")
	}
	if err = os.Rename(tmpName, path); err != nil {
		return eris.Wrap(err, "rename")
	}

	d, err := os.Open(dir)
	if err != nil {
		return eris.Wrap(err, "open dir")
	}
	defer d.Close() //nolint:errcheck
	if err = d.Sync(); err != nil {
		return eris.Wrap(err, "sync dir")
	}
	return nil
}
