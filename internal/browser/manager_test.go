// internal/browser/manager_test.go
package browser_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/mirage/internal/browser"
	"github.com/xkilldash9x/mirage/internal/mocks"
)

func TestManager_InitializeIsLazy(t *testing.T) {
	fs := newFakeStack().withDefaultSurface()
	m := browser.NewManager(fs.launcher(0), zaptest.NewLogger(t))

	assert.Equal(t, browser.StateUninitialized, m.State())
	assert.Zero(t, fs.launchCalls.Load(), "constructing a manager must not launch anything")

	require.NoError(t, m.Initialize(context.Background()))
	assert.Equal(t, browser.StateReady, m.State())
	assert.Equal(t, int64(1), m.Launches())

	// Already ready: no relaunch.
	require.NoError(t, m.Initialize(context.Background()))
	assert.Equal(t, int64(1), fs.launchCalls.Load())

	require.NoError(t, m.Close(context.Background()))
}

func TestManager_ConcurrentInitializeLaunchesOnce(t *testing.T) {
	fs := newFakeStack().withDefaultSurface()
	m := browser.NewManager(fs.launcher(50*time.Millisecond), zaptest.NewLogger(t))

	const callers = 50
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			errs <- m.Initialize(context.Background())
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int64(1), fs.launchCalls.Load(), "engine must be launched exactly once")
	fs.isolation.AssertNumberOfCalls(t, "NewSurface", 1)

	require.NoError(t, m.Close(context.Background()))
}

func TestManager_LaunchFailureIsSticky(t *testing.T) {
	var calls int
	boom := errors.New("chrome not found")
	launch := func(ctx context.Context) (browser.Engine, error) {
		calls++
		return nil, boom
	}
	m := browser.NewManager(launch, zaptest.NewLogger(t))

	err := m.Initialize(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, browser.ErrEngineUnavailable)
	var unavailable *browser.EngineUnavailableError
	require.ErrorAs(t, err, &unavailable)

	err2 := m.Initialize(context.Background())
	assert.ErrorIs(t, err2, boom)

	_, err3 := m.Surface(context.Background())
	assert.ErrorIs(t, err3, boom)

	_, err4 := m.Isolation(context.Background())
	assert.Same(t, unavailable, err4, "every path reports the same launch failure")

	assert.Equal(t, 1, calls, "a failed launch is never retried")
	assert.ErrorIs(t, m.LaunchError(), boom)
	assert.Equal(t, browser.StateUninitialized, m.State())
}

func TestManager_IsolationFailureClosesEngine(t *testing.T) {
	engine := new(mocks.MockEngine)
	boom := errors.New("target domain unavailable")
	engine.On("NewIsolation", mock.Anything).Return(nil, boom).Once()
	engine.On("Close", mock.Anything).Return(nil).Once()

	m := browser.NewManager(func(context.Context) (browser.Engine, error) { return engine, nil }, zaptest.NewLogger(t))

	err := m.Initialize(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "isolation context")
	engine.AssertExpectations(t)

	// Sticky as well.
	assert.ErrorIs(t, m.Initialize(context.Background()), boom)
	engine.AssertNumberOfCalls(t, "NewIsolation", 1)
}

func TestManager_SurfaceFailureClosesIsolationAndEngine(t *testing.T) {
	engine := new(mocks.MockEngine)
	isolation := new(mocks.MockIsolationContext)
	boom := errors.New("createTarget failed")

	engine.On("NewIsolation", mock.Anything).Return(isolation, nil).Once()
	isolation.On("NewSurface", mock.Anything).Return(nil, boom).Once()
	isolation.On("Close", mock.Anything).Return(nil).Once()
	engine.On("Close", mock.Anything).Return(nil).Once()

	m := browser.NewManager(func(context.Context) (browser.Engine, error) { return engine, nil }, zaptest.NewLogger(t))

	err := m.Initialize(context.Background())
	assert.ErrorIs(t, err, boom)
	engine.AssertExpectations(t)
	isolation.AssertExpectations(t)
}

func TestManager_CloseOrderAndIdempotency(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(name string) func(mock.Arguments) {
		return func(mock.Arguments) {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
		}
	}

	engine := new(mocks.MockEngine)
	isolation := new(mocks.MockIsolationContext)
	surface := new(mocks.MockSurface)

	engine.On("NewIsolation", mock.Anything).Return(isolation, nil)
	isolation.On("ID").Return("ctx-1").Maybe()
	isolation.On("NewSurface", mock.Anything).Return(surface, nil)
	surface.On("Close", mock.Anything).Run(record("surface")).Return(nil)
	isolation.On("Close", mock.Anything).Run(record("isolation")).Return(nil)
	engine.On("Close", mock.Anything).Run(record("engine")).Return(nil)

	m := browser.NewManager(func(context.Context) (browser.Engine, error) { return engine, nil }, zaptest.NewLogger(t))
	require.NoError(t, m.Initialize(context.Background()))

	require.NoError(t, m.Close(context.Background()))
	require.NoError(t, m.Close(context.Background()), "second Close is a no-op")

	assert.Equal(t, []string{"surface", "isolation", "engine"}, order)
	engine.AssertNumberOfCalls(t, "Close", 1)
	isolation.AssertNumberOfCalls(t, "Close", 1)
	surface.AssertNumberOfCalls(t, "Close", 1)
	assert.Equal(t, browser.StateClosed, m.State())
}

func TestManager_CloseRunsEveryStepAndReportsFirstError(t *testing.T) {
	engine := new(mocks.MockEngine)
	isolation := new(mocks.MockIsolationContext)
	surface := new(mocks.MockSurface)
	surfaceErr := errors.New("tab already gone")

	engine.On("NewIsolation", mock.Anything).Return(isolation, nil)
	isolation.On("ID").Return("ctx-1").Maybe()
	isolation.On("NewSurface", mock.Anything).Return(surface, nil)
	surface.On("Close", mock.Anything).Return(surfaceErr)
	isolation.On("Close", mock.Anything).Return(errors.New("dispose failed"))
	engine.On("Close", mock.Anything).Return(nil)

	m := browser.NewManager(func(context.Context) (browser.Engine, error) { return engine, nil }, zaptest.NewLogger(t))
	require.NoError(t, m.Initialize(context.Background()))

	err := m.Close(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, surfaceErr)
	assert.Contains(t, err.Error(), "failed to close surface")
	engine.AssertCalled(t, "Close", mock.Anything)
}

func TestManager_UseAfterClose(t *testing.T) {
	fs := newFakeStack().withDefaultSurface()
	m := browser.NewManager(fs.launcher(0), zaptest.NewLogger(t))
	require.NoError(t, m.Initialize(context.Background()))
	require.NoError(t, m.Close(context.Background()))

	_, err := m.Surface(context.Background())
	assert.ErrorIs(t, err, browser.ErrEngineClosed)

	_, err = m.Isolation(context.Background())
	assert.ErrorIs(t, err, browser.ErrEngineClosed)

	_, err = m.Version(context.Background())
	assert.ErrorIs(t, err, browser.ErrEngineClosed)

	var closedErr *browser.EngineClosedError
	assert.ErrorAs(t, m.Initialize(context.Background()), &closedErr)
	assert.Equal(t, int64(1), fs.launchCalls.Load())
}

func TestManager_CloseBeforeInitialize(t *testing.T) {
	fs := newFakeStack()
	m := browser.NewManager(fs.launcher(0), zaptest.NewLogger(t))

	require.NoError(t, m.Close(context.Background()))
	assert.ErrorIs(t, m.Initialize(context.Background()), browser.ErrEngineClosed)
	assert.Zero(t, fs.launchCalls.Load())
}

func TestManager_CloseDuringInitialization(t *testing.T) {
	fs := newFakeStack().withDefaultSurface()
	started := make(chan struct{})
	release := make(chan struct{})
	launch := func(context.Context) (browser.Engine, error) {
		close(started)
		<-release
		return fs.engine, nil
	}
	m := browser.NewManager(launch, zap.NewNop())

	done := make(chan error, 1)
	go func() { done <- m.Initialize(context.Background()) }()

	<-started
	require.NoError(t, m.Close(context.Background()))
	close(release)

	err := <-done
	assert.ErrorIs(t, err, browser.ErrEngineClosed)

	// Whatever the late launch produced is torn down.
	fs.surface.AssertCalled(t, "Close", mock.Anything)
	fs.isolation.AssertCalled(t, "Close", mock.Anything)
	fs.engine.AssertCalled(t, "Close", mock.Anything)
	assert.Equal(t, browser.StateClosed, m.State())
}

func TestManager_InitializeCallerCancellation(t *testing.T) {
	fs := newFakeStack().withDefaultSurface()
	release := make(chan struct{})
	launch := func(context.Context) (browser.Engine, error) {
		<-release
		return fs.engine, nil
	}
	m := browser.NewManager(launch, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := m.Initialize(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	// The launch keeps going for the next caller.
	close(release)
	require.NoError(t, m.Initialize(context.Background()))
	assert.Equal(t, browser.StateReady, m.State())
	require.NoError(t, m.Close(context.Background()))
}

func TestManager_ReplacesDeadSurface(t *testing.T) {
	engine := new(mocks.MockEngine)
	isolation := new(mocks.MockIsolationContext)
	dead := new(mocks.MockSurface)
	fresh := new(mocks.MockSurface)

	engine.On("NewIsolation", mock.Anything).Return(isolation, nil)
	engine.On("Close", mock.Anything).Return(nil)
	isolation.On("ID").Return("ctx-1").Maybe()
	isolation.On("NewSurface", mock.Anything).Return(dead, nil).Once()
	isolation.On("NewSurface", mock.Anything).Return(fresh, nil).Once()
	isolation.On("Close", mock.Anything).Return(nil)

	dead.On("Alive").Return(false)
	dead.On("Close", mock.Anything).Return(nil)
	fresh.On("Alive").Return(true)
	fresh.On("ID").Return("fresh")
	fresh.On("Close", mock.Anything).Return(nil)

	m := browser.NewManager(func(context.Context) (browser.Engine, error) { return engine, nil }, zaptest.NewLogger(t))

	s, err := m.Surface(context.Background())
	require.NoError(t, err)
	assert.Same(t, fresh, s)

	s2, err := m.Surface(context.Background())
	require.NoError(t, err)
	assert.Same(t, fresh, s2, "a live surface is reused")

	dead.AssertCalled(t, "Close", mock.Anything)
	isolation.AssertNumberOfCalls(t, "NewSurface", 2)

	require.NoError(t, m.Close(context.Background()))
	fresh.AssertNumberOfCalls(t, "Close", 1)
}

func TestManager_Version(t *testing.T) {
	fs := newFakeStack().withDefaultSurface()
	m := browser.NewManager(fs.launcher(0), zaptest.NewLogger(t))

	v, err := m.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "HeadlessChrome/122.0.0.0", v)
	require.NoError(t, m.Close(context.Background()))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "uninitialized", browser.StateUninitialized.String())
	assert.Equal(t, "ready", browser.StateReady.String())
	assert.Equal(t, "closed", browser.StateClosed.String())
	assert.Equal(t, "State(7)", browser.State(7).String())
}
