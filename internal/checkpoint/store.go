// Package checkpoint persists one durable, resumable checkpoint per
// collection window, guards it with a single-writer lock, and archives
// closed windows.
package checkpoint

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/digest-engine/internal/model"
	"github.com/sells-group/digest-engine/internal/resilience"
)

// Info describes a stored checkpoint without its items.
type Info struct {
	WindowID    string     `json:"window_id"`
	WindowStart time.Time  `json:"window_start"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ArchivedAt  *time.Time `json:"archived_at,omitempty"`
	Items       int        `json:"items"`
}

// Store persists checkpoints keyed by window id.
type Store interface {
	// Load returns the checkpoint for windowID, or nil when none exists.
	Load(ctx context.Context, windowID string) (*model.Checkpoint, error)
	// Save replaces the stored checkpoint atomically.
	Save(ctx context.Context, cp *model.Checkpoint) error
	// List returns every stored checkpoint, oldest window first.
	List(ctx context.Context) ([]Info, error)
	// Delete removes a stored checkpoint.
	Delete(ctx context.Context, windowID string) error
}

// LoadOrCreate returns the stored checkpoint for w, creating an empty one in
// memory on first use.
func LoadOrCreate(ctx context.Context, s Store, w Window, now time.Time) (*model.Checkpoint, bool, error) {
	cp, err := s.Load(ctx, w.ID)
	if err != nil {
		return nil, false, err
	}
	if cp != nil {
		return cp, false, nil
	}
	return model.NewCheckpoint(w.ID, w.Start, now), true, nil
}

// Archive copies the checkpoint for windowID to the archiver and stamps it
// archived. The checkpoint stays in the store.
func Archive(ctx context.Context, s Store, a Archiver, windowID string, now time.Time) (string, error) {
	cp, err := s.Load(ctx, windowID)
	if err != nil {
		return "", err
	}
	if cp == nil {
		return "", eris.Errorf("checkpoint: archive: window %s not found", windowID)
	}

	data, err := cp.Encode()
	if err != nil {
		return "", err
	}
	location, err := a.Put(ctx, windowID, data)
	if err != nil {
		return "", resilience.NewStorageError("archive "+windowID, err)
	}

	cp.MarkArchived(now)
	if err := s.Save(ctx, cp); err != nil {
		return "", err
	}

	zap.L().Info("checkpoint: archived",
		zap.String("window", windowID),
		zap.String("location", location),
		zap.Int("items", cp.Len()),
	)
	return location, nil
}

// Restore loads an archived checkpoint back into the store. An existing
// stored checkpoint is not overwritten.
func Restore(ctx context.Context, s Store, a Archiver, windowID string) error {
	existing, err := s.Load(ctx, windowID)
	if err != nil {
		return err
	}
	if existing != nil {
		return eris.Errorf("checkpoint: restore: window %s is already in the store", windowID)
	}

	data, err := a.Get(ctx, windowID)
	if err != nil {
		return resilience.NewStorageError("restore "+windowID, err)
	}
	cp, err := model.DecodeCheckpoint(data)
	if err != nil {
		return err
	}
	if cp.WindowID != windowID {
		return eris.Errorf("checkpoint: restore: archive for %s holds window %s", windowID, cp.WindowID)
	}
	return s.Save(ctx, cp)
}

// Prune deletes archived checkpoints whose window started before olderThan.
// Checkpoints that were never archived are kept regardless of age.
func Prune(ctx context.Context, s Store, olderThan time.Time) ([]string, error) {
	infos, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	var pruned []string
	for _, info := range infos {
		if info.ArchivedAt == nil {
			if info.WindowStart.Before(olderThan) {
				zap.L().Warn("checkpoint: keeping unarchived checkpoint past retention",
					zap.String("window", info.WindowID),
				)
			}
			continue
		}
		if !info.WindowStart.Before(olderThan) {
			continue
		}
		if err := s.Delete(ctx, info.WindowID); err != nil {
			return pruned, err
		}
		pruned = append(pruned, info.WindowID)
	}
	return pruned, nil
}

func sortInfos(infos []Info) {
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].WindowID < infos[j].WindowID
	})
}

func infoOf(cp *model.Checkpoint) Info {
	return Info{
		WindowID:    cp.WindowID,
		WindowStart: cp.WindowStart,
		UpdatedAt:   cp.UpdatedAt,
		ArchivedAt:  cp.ArchivedAt,
		Items:       cp.Len(),
	}
}

func validWindowID(id string) error {
	if !windowIDPattern.MatchString(id) {
		return eris.Errorf("checkpoint: invalid window id %q", id)
	}
	return nil
}
