// internal/browser/helpers_test.go
package browser_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/mirage/internal/browser"
	"github.com/xkilldash9x/mirage/internal/browser/fingerprint"
	"github.com/xkilldash9x/mirage/internal/mocks"
)

// fakeStack wires mock engine, isolation and default surface together.
type fakeStack struct {
	engine    *mocks.MockEngine
	isolation *mocks.MockIsolationContext
	surface   *mocks.MockSurface

	launchCalls atomic.Int64
}

func newFakeStack() *fakeStack {
	fs := &fakeStack{
		engine:    new(mocks.MockEngine),
		isolation: new(mocks.MockIsolationContext),
		surface:   new(mocks.MockSurface),
	}
	fs.surface.On("ID").Return("default-surface").Maybe()
	fs.surface.On("Alive").Return(true).Maybe()
	fs.surface.On("Close", mock.Anything).Return(nil).Maybe()

	fs.isolation.On("ID").Return("isolation-1").Maybe()
	fs.isolation.On("Close", mock.Anything).Return(nil).Maybe()

	fs.engine.On("NewIsolation", mock.Anything).Return(fs.isolation, nil).Maybe()
	fs.engine.On("Version", mock.Anything).Return("HeadlessChrome/122.0.0.0", nil).Maybe()
	fs.engine.On("Close", mock.Anything).Return(nil).Maybe()
	return fs
}

// withDefaultSurface makes the isolation hand out the default surface first.
func (fs *fakeStack) withDefaultSurface() *fakeStack {
	fs.isolation.On("NewSurface", mock.Anything).Return(fs.surface, nil).Once()
	return fs
}

// launcher counts launches and optionally sleeps to widen race windows.
func (fs *fakeStack) launcher(delay time.Duration) browser.Launcher {
	return func(ctx context.Context) (browser.Engine, error) {
		fs.launchCalls.Add(1)
		if delay > 0 {
			time.Sleep(delay)
		}
		return fs.engine, nil
	}
}

// stubSurface is a light browser.Surface for high volume tests.
type stubSurface struct {
	id string

	mu     sync.Mutex
	fp     *fingerprint.Fingerprint
	url    string
	closed bool
}

func newStubSurface(id string) *stubSurface { return &stubSurface{id: id} }

func (s *stubSurface) ID() string { return s.id }

func (s *stubSurface) ApplyFingerprint(_ context.Context, fp fingerprint.Fingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fp != nil {
		return browser.ErrAlreadyFingerprinted
	}
	s.fp = &fp
	return nil
}

func (s *stubSurface) Fingerprint() (fingerprint.Fingerprint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fp == nil {
		return fingerprint.Fingerprint{}, false
	}
	return *s.fp, true
}

func (s *stubSurface) Navigate(_ context.Context, url string, _ browser.WaitUntil) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.url = url
	return url, nil
}

func (s *stubSurface) Evaluate(context.Context, string, interface{}) error { return nil }

func (s *stubSurface) Click(context.Context, string, browser.ClickOptions) error { return nil }

func (s *stubSurface) Type(context.Context, string, string, time.Duration) error { return nil }

func (s *stubSurface) Info(context.Context) (browser.ViewInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := browser.ViewInfo{URL: s.url, Title: "stub"}
	if s.fp != nil {
		info.Viewport = s.fp.Viewport
	}
	return info, nil
}

func (s *stubSurface) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *stubSurface) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSurface) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// stubIsolation hands out fresh stub surfaces.
type stubIsolation struct {
	mu       sync.Mutex
	n        int
	surfaces []*stubSurface
}

func (i *stubIsolation) ID() string { return "stub-isolation" }

func (i *stubIsolation) NewSurface(context.Context) (browser.Surface, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.n++
	s := newStubSurface(fmt.Sprintf("surface-%d", i.n))
	i.surfaces = append(i.surfaces, s)
	return s, nil
}

func (i *stubIsolation) Close(context.Context) error { return nil }

func (i *stubIsolation) all() []*stubSurface {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]*stubSurface(nil), i.surfaces...)
}

// isolationFunc adapts a function to browser.IsolationProvider.
type isolationFunc func(ctx context.Context) (browser.IsolationContext, error)

func (f isolationFunc) Isolation(ctx context.Context) (browser.IsolationContext, error) { return f(ctx) }

// surfaceFunc adapts a function to browser.SurfaceProvider.
type surfaceFunc func(ctx context.Context) (browser.Surface, error)

func (f surfaceFunc) Surface(ctx context.Context) (browser.Surface, error) { return f(ctx) }

func staticSurface(s browser.Surface) browser.SurfaceProvider {
	return surfaceFunc(func(context.Context) (browser.Surface, error) { return s, nil })
}

func sampleFingerprint(locale string) fingerprint.Fingerprint {
	return fingerprint.Fingerprint{
		UserAgent:         fingerprint.UserAgents()[0],
		Viewport:          fingerprint.Viewport{Width: 1440, Height: 900},
		DeviceScaleFactor: 1,
		Locale:            locale,
		Timezone:          "Asia/Tokyo",
		Platform:          "MacIntel",
		WebGL:             fingerprint.WebGL{Vendor: fingerprint.WebGLVendor, Renderer: fingerprint.WebGLRenderer},
	}
}

const defaultTestNavTimeout = 5 * time.Second
