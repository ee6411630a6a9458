// Package artifact tracks temporary files produced while resolving one
// request. Files that are not kept by the final result are removed on
// Release, on every exit path.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Artifact is a local file produced by the pipeline.
type Artifact struct {
	ID   string `json:"id"`
	Path string `json:"path"`
	Size int64  `json:"size"`
	MIME string `json:"mime,omitempty"`
	// Temporary artifacts were created by a Tracker and are deleted when
	// their owner releases them. Downloaded files belong to the downloader.
	Temporary bool `json:"temporary,omitempty"`
}

// Remove deletes the file. A missing file is not an error.
func (a *Artifact) Remove() error {
	if a == nil || a.Path == "" {
		return nil
	}
	if err := os.Remove(a.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Tracker owns the artifacts of one request. It is safe for concurrent use by
// the tasks of that request.
type Tracker struct {
	dir string

	mu       sync.Mutex
	items    map[string]*Artifact
	released bool
}

// NewTracker returns a tracker writing into dir. An empty dir means the
// system temp directory.
func NewTracker(dir string) *Tracker {
	if dir == "" {
		dir = os.TempDir()
	}
	return &Tracker{dir: dir, items: make(map[string]*Artifact)}
}

// ErrNoTracker is returned by Create on a nil tracker.
var ErrNoTracker = errors.New("artifact: no tracker")

// Create writes data to a new uniquely named file with the given extension
// (".jpg") and tracks it.
func (t *Tracker) Create(data []byte, ext, mime string) (*Artifact, error) {
	if t == nil {
		return nil, ErrNoTracker
	}
	t.mu.Lock()
	released := t.released
	t.mu.Unlock()
	if released {
		return nil, errors.New("artifact: tracker already released")
	}
	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return nil, fmt.Errorf("artifact dir: %w", err)
	}
	id := uuid.NewString()
	a := &Artifact{ID: id, Path: filepath.Join(t.dir, id+ext), Size: int64(len(data)), MIME: mime, Temporary: true}
	if err := os.WriteFile(a.Path, data, 0o644); err != nil {
		_ = a.Remove()
		return nil, fmt.Errorf("write artifact: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released {
		// Release ran while we were writing.
		_ = a.Remove()
		return nil, errors.New("artifact: tracker already released")
	}
	t.items[id] = a
	return a, nil
}

// Keep hands the given artifacts over to the caller: Release will no longer
// remove them.
func (t *Tracker) Keep(arts ...*Artifact) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, a := range arts {
		if a != nil {
			delete(t.items, a.ID)
		}
	}
}

// Len reports how many artifacts are still owned by the tracker.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

// Release removes every artifact still owned by the tracker. It is
// idempotent and meant to be deferred right after NewTracker.
func (t *Tracker) Release() error {
	t.mu.Lock()
	items := t.items
	t.items = make(map[string]*Artifact)
	t.released = true
	t.mu.Unlock()

	var errs []error
	for _, a := range items {
		if err := a.Remove(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
