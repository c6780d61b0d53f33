package checkpoint

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/digest-engine/pkg/s3"
)

// Archiver keeps a copy of closed windows outside the working store.
type Archiver interface {
	Put(ctx context.Context, windowID string, data []byte) (string, error)
	Get(ctx context.Context, windowID string) ([]byte, error)
	Archived(ctx context.Context) ([]string, error)
}

// LocalArchiver writes archives into a directory.
type LocalArchiver struct {
	dir string
}

// NewLocalArchiver creates an archiver rooted at dir.
func NewLocalArchiver(dir string) *LocalArchiver {
	return &LocalArchiver{dir: dir}
}

func (a *LocalArchiver) path(windowID string) string {
	return filepath.Join(a.dir, windowID+".json")
}

// Put writes data atomically and returns its path.
func (a *LocalArchiver) Put(_ context.Context, windowID string, data []byte) (string, error) {
	if err := validWindowID(windowID); err != nil {
		return "", err
	}
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "checkpoint: archive dir %s", a.dir)
	}
	path := a.path(windowID)
	if err := writeAtomic(a.dir, path, data); err != nil {
		return "", eris.Wrapf(err, "checkpoint: archive %s", windowID)
	}
	return path, nil
}

// Get reads an archived window.
func (a *LocalArchiver) Get(_ context.Context, windowID string) ([]byte, error) {
	if err := validWindowID(windowID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(a.path(windowID))
	if err != nil {
		return nil, eris.Wrapf(err, "checkpoint: read archive %s", windowID)
	}
	return data, nil
}

// Archived lists the window ids present in the directory.
func (a *LocalArchiver) Archived(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(a.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "checkpoint: list archive %s", a.dir)
	}
	var ids []string
	for _, e := range entries {
		id := strings.TrimSuffix(e.Name(), ".json")
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") && validWindowID(id) == nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// objectStore is the part of the S3 client the archiver needs.
type objectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Bucket() string
}

var _ objectStore = (*s3.Client)(nil)

// S3Archiver writes archives under a key prefix in one bucket.
type S3Archiver struct {
	client objectStore
	prefix string
}

// NewS3Archiver creates an archiver over an S3 client.
func NewS3Archiver(client objectStore, prefix string) *S3Archiver {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Archiver{client: client, prefix: prefix}
}

func (a *S3Archiver) key(windowID string) string {
	return a.prefix + windowID + ".json"
}

// Put uploads data and returns its s3:// URI.
func (a *S3Archiver) Put(ctx context.Context, windowID string, data []byte) (string, error) {
	if err := validWindowID(windowID); err != nil {
		return "", err
	}
	key := a.key(windowID)
	if err := a.client.Put(ctx, key, data, "application/json"); err != nil {
		return "", err
	}
	return "s3://" + a.client.Bucket() + "/" + key, nil
}

// Get downloads an archived window.
func (a *S3Archiver) Get(ctx context.Context, windowID string) ([]byte, error) {
	if err := validWindowID(windowID); err != nil {
		return nil, err
	}
	key := a.key(windowID)
	ok, err := a.client.Exists(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, eris.Errorf("checkpoint: window %s is not archived in s3://%s/%s", windowID, a.client.Bucket(), key)
	}
	return a.client.Get(ctx, key)
}

// Archived lists the window ids present in the archive.
func (a *S3Archiver) Archived(ctx context.Context) ([]string, error) {
	keys, err := a.client.List(ctx, a.prefix)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, k := range keys {
		id := strings.TrimSuffix(strings.TrimPrefix(k, a.prefix), ".json")
		if validWindowID(id) == nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
