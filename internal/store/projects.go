package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/vidqueue/pkg/models"
)

var ErrProtectedProject = errors.New("project cannot be deleted")

// ProjectStore holds the project list and writes it through to the backend
// on every change.
type ProjectStore struct {
	mu       sync.Mutex
	projects []models.Project
	backend  Persistence
}

// LoadProjects reads the persisted projects and guarantees the default
// project exists.
func LoadProjects(ctx context.Context, backend Persistence) (*ProjectStore, error) {
	var projects []models.Project
	if _, err := loadJSON(ctx, backend, KeyProjects, &projects); err != nil {
		return nil, err
	}

	hasDefault := false
	for _, p := range projects {
		if p.ID == models.DefaultProjectID {
			hasDefault = true
			break
		}
	}
	if !hasDefault {
		projects = append([]models.Project{{
			ID:        models.DefaultProjectID,
			Name:      "Default Project",
			CreatedAt: time.Now().UTC(),
		}}, projects...)
	}

	return &ProjectStore{projects: projects, backend: backend}, nil
}

// List returns all projects in creation order.
func (s *ProjectStore) List() []models.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Project(nil), s.projects...)
}

// Exists reports whether a project with id is known.
func (s *ProjectStore) Exists(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indexOf(id) >= 0
}

// Add creates a project named name.
func (s *ProjectStore) Add(ctx context.Context, name string) (models.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Project{}, fmt.Errorf("project name is required")
	}

	p := models.Project{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects = append(s.projects, p)
	if err := saveJSON(ctx, s.backend, KeyProjects, s.projects); err != nil {
		s.projects = s.projects[:len(s.projects)-1]
		return models.Project{}, err
	}
	return p, nil
}

// Remove deletes a project. The default project and the last remaining
// project are protected. Jobs in the project are left to the caller.
func (s *ProjectStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return ErrNotFound
	}
	if id == models.DefaultProjectID || len(s.projects) <= 1 {
		return ErrProtectedProject
	}

	prev := s.projects
	s.projects = append(append([]models.Project(nil), prev[:i]...), prev[i+1:]...)
	if err := saveJSON(ctx, s.backend, KeyProjects, s.projects); err != nil {
		s.projects = prev
		return err
	}
	return nil
}

func (s *ProjectStore) indexOf(id string) int {
	for i := range s.projects {
		if s.projects[i].ID == id {
			return i
		}
	}
	return -1
}
