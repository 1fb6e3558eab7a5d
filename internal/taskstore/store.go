// Package taskstore keeps tasks in a single JSON document on disk.
package taskstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"tasksync/internal/fsutil"
	"tasksync/internal/models"
)

var (
	ErrNotFound = errors.New("task not found")
	ErrExists   = errors.New("task already exists")
)

type document struct {
	Tasks []*models.Task `json:"tasks"`
}

// FileStore is the file-backed task repository. Writers are serialized by a mutex and
// an flock on <path>.lock; the document is replaced atomically.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) ListTasks(ctx context.Context) ([]*models.Task, error) {
	var out []*models.Task
	err := s.withDocument(false, func(doc *document) error {
		out = doc.Tasks
		return nil
	})
	return out, err
}

func (s *FileStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	var out *models.Task
	err := s.withDocument(false, func(doc *document) error {
		i := doc.index(id)
		if i < 0 {
			return fmt.Errorf("task %s: %w", id, ErrNotFound)
		}
		out = doc.Tasks[i]
		return nil
	})
	return out, err
}

func (s *FileStore) CreateTask(ctx context.Context, task *models.Task) error {
	return s.withDocument(true, func(doc *document) error {
		if doc.index(task.ID) >= 0 {
			return fmt.Errorf("task %s: %w", task.ID, ErrExists)
		}
		doc.Tasks = append(doc.Tasks, task)
		return nil
	})
}

func (s *FileStore) UpdateTask(ctx context.Context, task *models.Task) error {
	return s.withDocument(true, func(doc *document) error {
		i := doc.index(task.ID)
		if i < 0 {
			return fmt.Errorf("task %s: %w", task.ID, ErrNotFound)
		}
		doc.Tasks[i] = task
		return nil
	})
}

func (s *FileStore) DeleteTask(ctx context.Context, id string) error {
	return s.withDocument(true, func(doc *document) error {
		i := doc.index(id)
		if i < 0 {
			return fmt.Errorf("task %s: %w", id, ErrNotFound)
		}
		doc.Tasks = append(doc.Tasks[:i], doc.Tasks[i+1:]...)
		return nil
	})
}

func (d *document) index(id string) int {
	for i, t := range d.Tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func (s *FileStore) withDocument(write bool, fn func(*document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := fsutil.Lock(s.path + ".lock")
	if err != nil {
		return fmt.Errorf("failed to lock task file: %w", err)
	}
	defer unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	if !write {
		return nil
	}

	if doc.Tasks == nil {
		doc.Tasks = []*models.Task{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode task file: %w", err)
	}
	if err := fsutil.WriteFileAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write task file: %w", err)
	}
	return nil
}

func (s *FileStore) read() (*document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return &document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read task file: %w", err)
	}
	var doc document
	if len(data) == 0 {
		return &doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode task file %s: %w", s.path, err)
	}
	return &doc, nil
}
