// internal/browser/manager.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// State is the Manager lifecycle stage.
type State int32

const (
	StateUninitialized State = iota
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Manager owns the single browser engine, its isolation context and the
// default surface used by the command executors. The engine is launched on
// first use and never relaunched: a launch failure is returned to every
// later caller until the process restarts.
type Manager struct {
	logger *zap.Logger
	launch Launcher

	initGroup    singleflight.Group
	surfaceGroup singleflight.Group
	launches     atomic.Int64

	mu        sync.Mutex
	state     State
	launchErr error
	engine    Engine
	isolation IsolationContext
	surface   Surface
}

// NewManager creates a manager. Nothing is launched until Initialize or the
// first call needing the engine.
func NewManager(launch Launcher, logger *zap.Logger) *Manager {
	m := &Manager{
		logger: logger.Named("browser_manager"),
		launch: launch,
	}
	m.logger.Debug("Browser manager created (initialization deferred).")
	return m
}

// Initialize launches the engine, opens the isolation context and the
// default surface. Concurrent callers share one initialization. ctx only
// bounds how long this caller waits.
func (m *Manager) Initialize(ctx context.Context) error {
	if err := m.readyErr("initialize"); err != errNotReady {
		return err
	}

	ch := m.initGroup.DoChan("init", func() (interface{}, error) {
		return nil, m.initialize()
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

var errNotReady = errors.New("not ready")

// readyErr returns nil when Ready, the terminal error when Closed or failed,
// and errNotReady when an initialization is still needed.
func (m *Manager) readyErr(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.state == StateClosed:
		return &EngineClosedError{Op: op}
	case m.state == StateReady:
		return nil
	case m.launchErr != nil:
		return m.launchErr
	}
	return errNotReady
}

func (m *Manager) initialize() error {
	if err := m.readyErr("initialize"); err != errNotReady {
		return err
	}

	m.launches.Add(1)
	m.logger.Info("Initializing browser engine.")

	// The engine belongs to the manager, not to whichever request got here first.
	ctx := context.Background()

	engine, err := m.launch(ctx)
	if err != nil {
		return m.fail(fmt.Errorf("failed to launch browser engine: %w", err))
	}

	isolation, err := engine.NewIsolation(ctx)
	if err != nil {
		m.closeQuietly(ctx, engine, "engine")
		return m.fail(fmt.Errorf("failed to create isolation context: %w", err))
	}

	surface, err := isolation.NewSurface(ctx)
	if err != nil {
		m.closeQuietly(ctx, isolation, "isolation context")
		m.closeQuietly(ctx, engine, "engine")
		return m.fail(fmt.Errorf("failed to create default surface: %w", err))
	}

	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		// Close ran while we were launching; nothing may outlive it.
		m.closeQuietly(ctx, surface, "surface")
		m.closeQuietly(ctx, isolation, "isolation context")
		m.closeQuietly(ctx, engine, "engine")
		return &EngineClosedError{Op: "initialize"}
	}
	m.engine, m.isolation, m.surface = engine, isolation, surface
	m.state = StateReady
	m.mu.Unlock()

	m.logger.Info("Browser engine ready.", zap.String("isolation_id", isolation.ID()))
	return nil
}

func (m *Manager) fail(cause error) error {
	err := &EngineUnavailableError{Cause: cause}
	m.mu.Lock()
	m.launchErr = err
	m.mu.Unlock()
	m.logger.Error("Browser initialization failed; it will not be retried.", zap.Error(err))
	return err
}

type closer interface {
	Close(ctx context.Context) error
}

func (m *Manager) closeQuietly(ctx context.Context, c closer, what string) {
	if err := c.Close(ctx); err != nil {
		m.logger.Warn("Cleanup failed.", zap.String("resource", what), zap.Error(err))
	}
}

// Surface returns the default surface, initializing on first use and
// replacing it when the previous one closed or crashed.
func (m *Manager) Surface(ctx context.Context) (Surface, error) {
	if err := m.Initialize(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return nil, &EngineClosedError{Op: "surface"}
	}
	s := m.surface
	m.mu.Unlock()
	if s != nil && s.Alive() {
		return s, nil
	}

	v, err, _ := m.surfaceGroup.Do("surface", func() (interface{}, error) {
		return m.replaceSurface(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(Surface), nil
}

func (m *Manager) replaceSurface(ctx context.Context) (Surface, error) {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return nil, &EngineClosedError{Op: "surface"}
	}
	old, isolation := m.surface, m.isolation
	m.mu.Unlock()

	if old != nil && old.Alive() {
		return old, nil
	}
	if old != nil {
		m.closeQuietly(ctx, old, "surface")
	}

	s, err := isolation.NewSurface(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to recreate default surface: %w", err)
	}

	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		m.closeQuietly(ctx, s, "surface")
		return nil, &EngineClosedError{Op: "surface"}
	}
	m.surface = s
	m.mu.Unlock()

	m.logger.Info("Recreated default surface.", zap.String("surface_id", s.ID()))
	return s, nil
}

// Isolation returns the shared isolation context, initializing on first use.
func (m *Manager) Isolation(ctx context.Context) (IsolationContext, error) {
	if err := m.Initialize(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateClosed {
		return nil, &EngineClosedError{Op: "isolation"}
	}
	return m.isolation, nil
}

// Version reports the browser product string.
func (m *Manager) Version(ctx context.Context) (string, error) {
	if err := m.Initialize(ctx); err != nil {
		return "", err
	}
	m.mu.Lock()
	engine := m.engine
	m.mu.Unlock()
	if engine == nil {
		return "", &EngineClosedError{Op: "version"}
	}
	return engine.Version(ctx)
}

// Close tears down the default surface, the isolation context and the
// engine, in that order. Every step runs; the first error is returned.
// Calling Close again is a no-op.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return nil
	}
	m.state = StateClosed
	surface, isolation, engine := m.surface, m.isolation, m.engine
	m.surface, m.isolation, m.engine = nil, nil, nil
	m.mu.Unlock()

	m.logger.Info("Closing browser manager.")

	var first error
	record := func(what string, err error) {
		if err == nil {
			return
		}
		m.logger.Warn("Error during shutdown.", zap.String("resource", what), zap.Error(err))
		if first == nil {
			first = fmt.Errorf("failed to close %s: %w", what, err)
		}
	}
	if surface != nil {
		record("surface", surface.Close(ctx))
	}
	if isolation != nil {
		record("isolation context", isolation.Close(ctx))
	}
	if engine != nil {
		record("engine", engine.Close(ctx))
	}
	return first
}

// State reports the lifecycle stage.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LaunchError returns the sticky initialization error, if any.
func (m *Manager) LaunchError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.launchErr
}

// Launches counts engine launch attempts.
func (m *Manager) Launches() int64 { return m.launches.Load() }
