// internal/browser/registry.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/mirage/internal/browser/fingerprint"
)

// IsolationProvider hands out the shared isolation context. *Manager is one.
type IsolationProvider interface {
	Isolation(ctx context.Context) (IsolationContext, error)
}

// FingerprintSource produces identities. *fingerprint.Generator is one.
type FingerprintSource interface {
	Generate() fingerprint.Fingerprint
}

// Registry maps opaque view ids to surfaces it owns. Removing an entry
// always succeeds; the surface is closed after it leaves the map. The
// recorder is told the view count under the same lock that changed it.
type Registry struct {
	logger     *zap.Logger
	isolation  IsolationProvider
	generator  FingerprintSource
	recorder   Recorder
	navTimeout time.Duration
	newID      func() string

	mu    sync.RWMutex
	views map[string]Surface
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithNavigationTimeout bounds the initial navigation of Connect.
func WithNavigationTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) { r.navTimeout = d }
}

// WithIDGenerator replaces the uuid id source.
func WithIDGenerator(f func() string) RegistryOption {
	return func(r *Registry) { r.newID = f }
}

// NewRegistry creates an empty registry.
func NewRegistry(isolation IsolationProvider, generator FingerprintSource, recorder Recorder, logger *zap.Logger, opts ...RegistryOption) *Registry {
	if recorder == nil {
		recorder = NopRecorder()
	}
	r := &Registry{
		logger:    logger.Named("registry"),
		isolation: isolation,
		generator: generator,
		recorder:  recorder,
		newID:     uuid.NewString,
		views:     make(map[string]Surface),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Connect opens a new isolated view, optionally dresses it with a fresh
// fingerprint, navigates it to url and registers it. Nothing is registered
// and the surface is closed if any step fails.
func (r *Registry) Connect(ctx context.Context, url string, useFingerprinting bool) (string, error) {
	isolation, err := r.isolation.Isolation(ctx)
	if err != nil {
		return "", err
	}

	s, err := isolation.NewSurface(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to open view: %w", err)
	}

	if useFingerprinting {
		fp := r.generator.Generate()
		if err := s.ApplyFingerprint(ctx, fp); err != nil {
			r.discard(s)
			var applyErr *ApplyFingerprintError
			if !errors.As(err, &applyErr) {
				err = &ApplyFingerprintError{Cause: err}
			}
			return "", err
		}
	}

	navCtx := ctx
	if r.navTimeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, r.navTimeout)
		defer cancel()
	}
	if _, err := s.Navigate(navCtx, url, WaitLoad); err != nil {
		r.discard(s)
		return "", fmt.Errorf("failed to navigate view to %s: %w", url, err)
	}

	// Ids are random; collisions are not checked.
	id := r.newID()
	r.mu.Lock()
	r.views[id] = s
	r.recorder.SetActiveViews(len(r.views))
	r.mu.Unlock()

	r.logger.Info("View connected.",
		zap.String("view_id", id),
		zap.String("url", url),
		zap.Bool("fingerprinted", useFingerprinting))
	return id, nil
}

// discard closes a surface that never made it into the map.
func (r *Registry) discard(s Surface) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultCloseTimeout)
	defer cancel()
	if err := s.Close(ctx); err != nil {
		r.logger.Warn("Failed to close abandoned view.", zap.String("surface_id", s.ID()), zap.Error(err))
	}
}

// Disconnect removes and closes a view. Only an unknown id is an error; a
// failed close is logged and the view stays removed.
func (r *Registry) Disconnect(ctx context.Context, id string) error {
	r.mu.Lock()
	s, ok := r.views[id]
	if !ok {
		r.mu.Unlock()
		return &NotFoundError{ID: id}
	}
	delete(r.views, id)
	r.recorder.SetActiveViews(len(r.views))
	r.mu.Unlock()

	if err := s.Close(ctx); err != nil {
		r.logger.Warn("View removed but its surface failed to close.", zap.String("view_id", id), zap.Error(err))
		return nil
	}
	r.logger.Info("View disconnected.", zap.String("view_id", id))
	return nil
}

// Info reports the URL, title and viewport of a view.
func (r *Registry) Info(ctx context.Context, id string) (ViewInfo, error) {
	r.mu.RLock()
	s, ok := r.views[id]
	r.mu.RUnlock()
	if !ok {
		return ViewInfo{}, &NotFoundError{ID: id}
	}
	info, err := s.Info(ctx)
	if err != nil {
		return ViewInfo{}, fmt.Errorf("failed to read view %s: %w", id, err)
	}
	return info, nil
}

// List returns the registered ids in lexical order.
func (r *Registry) List() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.views))
	for id := range r.views {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Count returns the number of registered views.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.views)
}

// CloseAll empties the registry and closes every view concurrently.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	views := r.views
	r.views = make(map[string]Surface)
	r.recorder.SetActiveViews(0)
	r.mu.Unlock()

	if len(views) == 0 {
		return nil
	}
	r.logger.Info("Closing all views.", zap.Int("count", len(views)))

	var g errgroup.Group
	for id, s := range views {
		g.Go(func() error {
			if err := s.Close(ctx); err != nil {
				r.logger.Warn("Failed to close view during shutdown.", zap.String("view_id", id), zap.Error(err))
				return fmt.Errorf("failed to close view %s: %w", id, err)
			}
			return nil
		})
	}
	return g.Wait()
}
