// Package queue implements the file-backed sync queue used while the relational
// database is unavailable.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"sync"
	"time"

	"tasksync/internal/fsutil"
	"tasksync/internal/models"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("queue: record not found")

// document is the on-disk layout of queue.json.
type document struct {
	Operations []models.SyncRecord `json:"operations"`
}

// FileStore keeps every sync record in a single JSON document. Each mutation holds an
// in-process mutex and an flock on <path>.lock, then replaces the file atomically.
type FileStore struct {
	path     string
	lockPath string
	mu       sync.Mutex
	now      func() time.Time
	newID    func() string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{
		path:     path,
		lockPath: path + ".lock",
		now:      func() time.Time { return time.Now().UTC() },
		newID:    func() string { return uuid.NewString() },
	}
}

// Path returns the location of the queue document.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Enqueue(ctx context.Context, rec *models.SyncRecord) error {
	return s.update(func(doc *document) error {
		if rec.ID == "" {
			rec.ID = s.newID()
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = s.now()
		}
		if rec.Status == "" {
			rec.Status = models.SyncPending
		}
		if len(rec.Data) == 0 {
			rec.Data = json.RawMessage("null")
		}
		doc.Operations = append(doc.Operations, *rec)
		return nil
	})
}

func (s *FileStore) Get(ctx context.Context, id string) (*models.SyncRecord, error) {
	var out *models.SyncRecord
	err := s.view(func(doc *document) error {
		i := doc.index(id)
		if i < 0 {
			return fmt.Errorf("sync record %s: %w", id, ErrNotFound)
		}
		rec := doc.Operations[i]
		out = &rec
		return nil
	})
	return out, err
}

func (s *FileStore) Pending(ctx context.Context, limit int) ([]models.SyncRecord, error) {
	if limit <= 0 {
		limit = models.DefaultBatchSize
	}
	var out []models.SyncRecord
	err := s.view(func(doc *document) error {
		for _, rec := range doc.Operations {
			if rec.Status == models.SyncPending {
				out = append(out, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Appends are already in creation order; the stable sort covers hand-edited files.
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *FileStore) MarkCompleted(ctx context.Context, id string) error {
	return s.update(func(doc *document) error {
		i := doc.index(id)
		if i < 0 {
			return fmt.Errorf("sync record %s: %w", id, ErrNotFound)
		}
		now := s.now()
		doc.Operations[i].Status = models.SyncCompleted
		doc.Operations[i].SyncedAt = &now
		doc.Operations[i].LastError = nil
		return nil
	})
}

func (s *FileStore) MarkFailedAttempt(ctx context.Context, id, errMsg string, maxAttempts int) (models.SyncStatus, error) {
	if maxAttempts <= 0 {
		maxAttempts = models.DefaultMaxAttempts
	}
	var status models.SyncStatus
	err := s.update(func(doc *document) error {
		i := doc.index(id)
		if i < 0 || doc.Operations[i].Status != models.SyncPending {
			return fmt.Errorf("pending sync record %s: %w", id, ErrNotFound)
		}
		rec := &doc.Operations[i]
		rec.Attempts++
		msg := errMsg
		rec.LastError = &msg
		if rec.Attempts >= maxAttempts {
			rec.Status = models.SyncFailed
		}
		status = rec.Status
		return nil
	})
	return status, err
}

func (s *FileStore) ResetFailed(ctx context.Context) (int, error) {
	n := 0
	err := s.update(func(doc *document) error {
		for i := range doc.Operations {
			if doc.Operations[i].Status != models.SyncFailed {
				continue
			}
			doc.Operations[i].Status = models.SyncPending
			doc.Operations[i].Attempts = 0
			doc.Operations[i].LastError = nil
			n++
		}
		return nil
	})
	return n, err
}

func (s *FileStore) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	n := 0
	err := s.update(func(doc *document) error {
		kept := doc.Operations[:0]
		for _, rec := range doc.Operations {
			if rec.Status == models.SyncCompleted && rec.SyncedAt != nil && rec.SyncedAt.Before(olderThan) {
				n++
				continue
			}
			kept = append(kept, rec)
		}
		doc.Operations = kept
		return nil
	})
	return n, err
}

func (s *FileStore) Stats(ctx context.Context) (models.SyncStats, error) {
	stats := models.SyncStats{
		models.SyncPending:   0,
		models.SyncCompleted: 0,
		models.SyncFailed:    0,
	}
	err := s.view(func(doc *document) error {
		for _, rec := range doc.Operations {
			stats[rec.Status]++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (d *document) index(id string) int {
	for i := range d.Operations {
		if d.Operations[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *FileStore) view(fn func(*document) error) error {
	return s.locked(func() error {
		doc, err := s.read()
		if err != nil {
			return err
		}
		return fn(doc)
	})
}

// update runs fn on the current document and persists it only when fn succeeds.
func (s *FileStore) update(fn func(*document) error) error {
	return s.locked(func() error {
		doc, err := s.read()
		if err != nil {
			return err
		}
		if err := fn(doc); err != nil {
			return err
		}
		return s.write(doc)
	})
}

func (s *FileStore) locked(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := fsutil.Lock(s.lockPath)
	if err != nil {
		return fmt.Errorf("failed to lock sync queue: %w", err)
	}
	defer unlock()

	return fn()
}

func (s *FileStore) read() (*document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return &document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read sync queue: %w", err)
	}
	var doc document
	if len(data) == 0 {
		return &doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode sync queue %s: %w", s.path, err)
	}
	return &doc, nil
}

func (s *FileStore) write(doc *document) error {
	if doc.Operations == nil {
		doc.Operations = []models.SyncRecord{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode sync queue: %w", err)
	}
	if err := fsutil.WriteFileAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write sync queue: %w", err)
	}
	return nil
}
