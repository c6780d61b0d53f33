package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrLocked is returned when another job holds the window lock.
var ErrLocked = eris.New("checkpoint: window is locked by another job")

// Lease is a held window lock. A lease with a TTL expires unless it is
// refreshed; Keep does that in the background for the length of a job.
type Lease struct {
	ttl     time.Duration
	refresh func(ctx context.Context) error
	release func(ctx context.Context) error
}

// TTL is the lifetime granted by each refresh. Zero means the lease never
// expires.
func (l *Lease) TTL() time.Duration { return l.ttl }

// Refresh extends the lease by another TTL. It fails with ErrLocked when the
// lock already expired and was taken over.
func (l *Lease) Refresh(ctx context.Context) error {
	if l.refresh == nil {
		return nil
	}
	return l.refresh(ctx)
}

// Release gives the lock up.
func (l *Lease) Release(ctx context.Context) error {
	if l.release == nil {
		return nil
	}
	return l.release(ctx)
}

// Keep refreshes the lease every third of its TTL until ctx is done or stop
// is called. The first failed refresh is passed to lost and ends the loop.
// stop waits for the loop to exit.
func (l *Lease) Keep(ctx context.Context, lost func(error)) (stop func()) {
	if l.ttl <= 0 || l.refresh == nil {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(l.ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := l.refresh(ctx); err != nil {
					if ctx.Err() == nil {
						lost(err)
					}
					return
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// Locker grants single-writer access to one window's checkpoint.
type Locker interface {
	Acquire(ctx context.Context, windowID string) (*Lease, error)
}

// NopLocker grants every request. Suitable for single-host development.
type NopLocker struct{}

// Acquire always succeeds.
func (NopLocker) Acquire(context.Context, string) (*Lease, error) {
	return &Lease{}, nil
}

// FileLocker uses O_EXCL lock files next to the checkpoints. A lock older
// than the TTL is treated as left behind by a crashed job and taken over.
type FileLocker struct {
	dir string
	ttl time.Duration
	now func() time.Time
}

type lockFile struct {
	Token    string    `json:"token"`
	PID      int       `json:"pid"`
	Acquired time.Time `json:"acquired"`
}

// NewFileLocker creates a locker writing into dir.
func NewFileLocker(dir string, ttl time.Duration) *FileLocker {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &FileLocker{dir: dir, ttl: ttl, now: time.Now}
}

// Acquire creates the lock file for windowID.
func (l *FileLocker) Acquire(_ context.Context, windowID string) (*Lease, error) {
	if err := validWindowID(windowID); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "checkpoint: lock dir %s", l.dir)
	}
	path := filepath.Join(l.dir, windowID+".lock")
	token := uuid.New().String()

	for attempt := 0; attempt < 2; attempt++ {
		err := l.create(path, token)
		if err == nil {
			return &Lease{
				ttl:     l.ttl,
				refresh: func(context.Context) error { return l.refresh(path, token) },
				release: func(context.Context) error { return l.release(path, token) },
			}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, eris.Wrapf(err, "checkpoint: create lock %s", path)
		}
		if !l.stale(path) {
			return nil, eris.Wrapf(ErrLocked, "window %s", windowID)
		}
		zap.L().Warn("checkpoint: removing stale lock", zap.String("window", windowID), zap.String("path", path))
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, eris.Wrapf(err, "checkpoint: remove stale lock %s", path)
		}
	}
	return nil, eris.Wrapf(ErrLocked, "window %s", windowID)
}

func (l *FileLocker) create(path, token string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	data, _ := json.Marshal(lockFile{Token: token, PID: os.Getpid(), Acquired: l.now().UTC()})
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	return f.Close()
}

func (l *FileLocker) stale(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Is(err, fs.ErrNotExist)
	}
	var lf lockFile
	if err := json.Unmarshal(data, &lf); err != nil {
		// Unreadable lock files fall back to the file time.
		st, statErr := os.Stat(path)
		return statErr == nil && l.now().Sub(st.ModTime()) > l.ttl
	}
	return l.now().Sub(lf.Acquired) > l.ttl
}

// owned reports whether the lock file at path still carries token.
func (l *FileLocker) owned(path, token string) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "checkpoint: read lock %s", path)
	}
	var lf lockFile
	if err := json.Unmarshal(data, &lf); err != nil {
		// Nobody can claim an unreadable lock file.
		return true, nil
	}
	return lf.Token == token, nil
}

// refresh rewrites the acquire time of a lock we still own. The new content
// is renamed into place so a reader never sees a partial file.
func (l *FileLocker) refresh(path, token string) error {
	ok, err := l.owned(path, token)
	if err != nil {
		return err
	}
	if !ok {
		return eris.Wrapf(ErrLocked, "lock %s expired or was taken over", path)
	}
	data, _ := json.Marshal(lockFile{Token: token, PID: os.Getpid(), Acquired: l.now().UTC()})
	tmp := path + ".refresh"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return eris.Wrapf(err, "checkpoint: refresh lock %s", path)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return eris.Wrapf(err, "checkpoint: refresh lock %s", path)
	}
	return nil
}

func (l *FileLocker) release(path, token string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	ok, err := l.owned(path, token)
	if err != nil {
		return err
	}
	if !ok {
		// Taken over after our TTL ran out; not ours to remove.
		return eris.Wrapf(ErrLocked, "lock %s was taken over", path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return eris.Wrapf(err, "checkpoint: remove lock %s", path)
	}
	return nil
}

// redisCmdable is the subset of the go-redis client used for locking.
type redisCmdable interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// releaseScript deletes the key only if it still holds our token.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// refreshScript resets the expiry only if the key still holds our token.
const refreshScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`

// RedisLocker locks windows across hosts with SET NX PX.
type RedisLocker struct {
	client redisCmdable
	prefix string
	ttl    time.Duration
}

// NewRedisLocker creates a locker on client. Keys are prefix+windowID.
func NewRedisLocker(client redisCmdable, prefix string, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisLocker{client: client, prefix: prefix, ttl: ttl}
}

// NewRedisClient opens a go-redis client for the lock.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
}

// Acquire sets the lock key if absent.
func (l *RedisLocker) Acquire(ctx context.Context, windowID string) (*Lease, error) {
	key := l.prefix + windowID
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, eris.Wrapf(err, "checkpoint: redis lock %s", key)
	}
	if !ok {
		return nil, eris.Wrapf(ErrLocked, "window %s", windowID)
	}

	return &Lease{
		ttl: l.ttl,
		refresh: func(ctx context.Context) error {
			n, err := l.client.Eval(ctx, refreshScript, []string{key}, token, l.ttl.Milliseconds()).Int64()
			if err != nil {
				return eris.Wrapf(err, "checkpoint: redis refresh %s", key)
			}
			if n == 0 {
				return eris.Wrapf(ErrLocked, "lock %s expired or was taken over", key)
			}
			return nil
		},
		release: func(ctx context.Context) error {
			n, err := l.client.Eval(ctx, releaseScript, []string{key}, token).Int64()
			if err != nil {
				return eris.Wrapf(err, "checkpoint: redis unlock %s", key)
			}
			if n == 0 {
				return eris.Wrapf(ErrLocked, "lock %s expired or was taken over", key)
			}
			return nil
		},
	}, nil
}
