package scene

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides scene management with caching and thread safety.
// It wraps a Repository and keeps all scenes in memory so the engine
// can evaluate them without touching the database.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Scene
	cacheMu sync.RWMutex
	logger  Logger
}

// NewRegistry creates a new scene registry.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Scene),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all scenes from the repository. Call on startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	scenes, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading scenes: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Scene, len(scenes))
	for i := range scenes {
		s := scenes[i]
		r.cache[s.ID] = s.DeepCopy()
	}

	r.logger.Info("scene cache refreshed", "count", len(scenes))
	return nil
}

// Get retrieves a scene by ID. The result is a deep copy.
func (r *Registry) Get(id string) (*Scene, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	s, ok := r.cache[id]
	if !ok {
		return nil, ErrSceneNotFound
	}
	return s.DeepCopy(), nil
}

// List returns deep copies of every scene.
func (r *Registry) List() []Scene {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	out := make([]Scene, 0, len(r.cache))
	for _, s := range r.cache {
		out = append(out, *s.DeepCopy())
	}
	return out
}

// ListActive returns deep copies of the scenes eligible for automatic
// evaluation.
func (r *Registry) ListActive() []Scene {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	out := make([]Scene, 0, len(r.cache))
	for _, s := range r.cache {
		if s.Active {
			out = append(out, *s.DeepCopy())
		}
	}
	return out
}

// Create validates and persists a new scene. A missing ID is generated.
func (r *Registry) Create(ctx context.Context, s *Scene) error {
	if s.ID == "" {
		s.ID = GenerateID()
	}
	if err := Validate(s); err != nil {
		return err
	}
	if err := r.repo.Create(ctx, s); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[s.ID] = s.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("scene created", "scene_id", s.ID, "name", s.Name)
	return nil
}

// Update validates and persists changes to an existing scene.
func (r *Registry) Update(ctx context.Context, s *Scene) error {
	if err := Validate(s); err != nil {
		return err
	}
	if err := r.repo.Update(ctx, s); err != nil {
		return err
	}

	r.cacheMu.Lock()
	// Keep the cached bookkeeping fields the repository did not touch.
	if prev, ok := r.cache[s.ID]; ok {
		s.CreatedAt = prev.CreatedAt
		s.LastExecutedAt = prev.LastExecutedAt
		s.ExecutionCount = prev.ExecutionCount
	}
	r.cache[s.ID] = s.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("scene updated", "scene_id", s.ID, "name", s.Name)
	return nil
}

// Delete removes a scene.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("scene deleted", "scene_id", id)
	return nil
}

// MarkExecuted records one completed execution in the repository and
// the cache.
func (r *Registry) MarkExecuted(ctx context.Context, id string, at time.Time) error {
	if err := r.repo.MarkExecuted(ctx, id, at); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if s, ok := r.cache[id]; ok {
		t := at.UTC()
		s.LastExecutedAt = &t
		s.ExecutionCount++
	}
	r.cacheMu.Unlock()
	return nil
}
