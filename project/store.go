package project

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned for unknown project IDs.
	ErrNotFound = errors.New("project not found")
	// ErrInvalidState is returned when an operation is not allowed in the
	// project's current state.
	ErrInvalidState = errors.New("invalid project state")
	// ErrInvalidInput is returned for rejected uploads and options.
	ErrInvalidInput = errors.New("invalid input")
	// ErrMissingArtifact is returned when the segmentation artifact is gone.
	ErrMissingArtifact = errors.New("segmentation artifact not found")
	// ErrExists is returned when creating a project whose ID is taken.
	ErrExists = errors.New("project already exists")
)

// Store persists projects.
type Store interface {
	Create(ctx context.Context, p *Project) error
	Get(ctx context.Context, id string) (*Project, error)
	Update(ctx context.Context, p *Project) error
	List(ctx context.Context) ([]*Project, error)
	Close() error
}

// MemoryStore keeps projects in memory.
type MemoryStore struct {
	mu       sync.RWMutex
	projects map[string]*Project
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{projects: make(map[string]*Project)}
}

func (s *MemoryStore) Create(_ context.Context, p *Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[p.ID]; ok {
		return errors.Wrap(ErrExists, p.ID)
	}
	s.projects[p.ID] = p.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, errors.Wrap(ErrNotFound, id)
	}
	return p.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, p *Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[p.ID]; !ok {
		return errors.Wrap(ErrNotFound, p.ID)
	}
	s.projects[p.ID] = p.Clone()
	return nil
}

// List returns projects newest first.
func (s *MemoryStore) List(_ context.Context) ([]*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
