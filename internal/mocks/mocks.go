// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/mirage/internal/api"
	"github.com/xkilldash9x/mirage/internal/browser"
	"github.com/xkilldash9x/mirage/internal/browser/fingerprint"
)

// -- Engine Mock --

// MockEngine mocks browser.Engine.
type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) NewIsolation(ctx context.Context) (browser.IsolationContext, error) {
	args := m.Called(ctx)
	if iso := args.Get(0); iso != nil {
		return iso.(browser.IsolationContext), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockEngine) Version(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockEngine) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// -- Isolation Context Mock --

// MockIsolationContext mocks browser.IsolationContext.
type MockIsolationContext struct {
	mock.Mock
}

func (m *MockIsolationContext) ID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockIsolationContext) NewSurface(ctx context.Context) (browser.Surface, error) {
	args := m.Called(ctx)
	if s := args.Get(0); s != nil {
		return s.(browser.Surface), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockIsolationContext) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// -- Surface Mock --

// MockSurface mocks browser.Surface.
type MockSurface struct {
	mock.Mock
}

func (m *MockSurface) ID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockSurface) ApplyFingerprint(ctx context.Context, fp fingerprint.Fingerprint) error {
	args := m.Called(ctx, fp)
	return args.Error(0)
}

func (m *MockSurface) Fingerprint() (fingerprint.Fingerprint, bool) {
	args := m.Called()
	return args.Get(0).(fingerprint.Fingerprint), args.Bool(1)
}

func (m *MockSurface) Navigate(ctx context.Context, url string, waitUntil browser.WaitUntil) (string, error) {
	args := m.Called(ctx, url, waitUntil)
	return args.String(0), args.Error(1)
}

// Evaluate records the expression. When the first return value is non-nil
// and res is a *bool, the value is copied into res.
func (m *MockSurface) Evaluate(ctx context.Context, expression string, res interface{}) error {
	args := m.Called(ctx, expression, res)
	if v, ok := args.Get(0).(bool); ok {
		if out, ok := res.(*bool); ok {
			*out = v
		}
	}
	return args.Error(1)
}

func (m *MockSurface) Click(ctx context.Context, selector string, opts browser.ClickOptions) error {
	args := m.Called(ctx, selector, opts)
	return args.Error(0)
}

func (m *MockSurface) Type(ctx context.Context, selector, text string, delay time.Duration) error {
	args := m.Called(ctx, selector, text, delay)
	return args.Error(0)
}

func (m *MockSurface) Info(ctx context.Context) (browser.ViewInfo, error) {
	args := m.Called(ctx)
	return args.Get(0).(browser.ViewInfo), args.Error(1)
}

func (m *MockSurface) Alive() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockSurface) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// -- Recorder Mock --

// MockRecorder mocks browser.Recorder.
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) ObserveAction(action string, d time.Duration, err error) {
	m.Called(action, d, err)
}

func (m *MockRecorder) SetActiveViews(n int) {
	m.Called(n)
}

// -- Fingerprint Source Mock --

// MockFingerprintSource mocks browser.FingerprintSource.
type MockFingerprintSource struct {
	mock.Mock
}

func (m *MockFingerprintSource) Generate() fingerprint.Fingerprint {
	args := m.Called()
	return args.Get(0).(fingerprint.Fingerprint)
}

// -- Command Executor Mock --

// MockCommandExecutor mocks api.CommandExecutor.
type MockCommandExecutor struct {
	mock.Mock
}

func (m *MockCommandExecutor) Navigate(ctx context.Context, p browser.NavigateParams) (browser.NavigateResult, error) {
	args := m.Called(ctx, p)
	return args.Get(0).(browser.NavigateResult), args.Error(1)
}

func (m *MockCommandExecutor) Scroll(ctx context.Context, p browser.ScrollParams) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockCommandExecutor) Click(ctx context.Context, p browser.ClickParams) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockCommandExecutor) Type(ctx context.Context, p browser.TypeParams) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

// -- View Registry Mock --

// MockViewRegistry mocks api.ViewRegistry.
type MockViewRegistry struct {
	mock.Mock
}

func (m *MockViewRegistry) Connect(ctx context.Context, url string, useFingerprinting bool) (string, error) {
	args := m.Called(ctx, url, useFingerprinting)
	return args.String(0), args.Error(1)
}

func (m *MockViewRegistry) Disconnect(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockViewRegistry) Info(ctx context.Context, id string) (browser.ViewInfo, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(browser.ViewInfo), args.Error(1)
}

func (m *MockViewRegistry) Count() int {
	args := m.Called()
	return args.Int(0)
}

// -- Recording Recorder --

// ActionRecord is one ObserveAction call.
type ActionRecord struct {
	Action string
	Err    error
}

// RecordingRecorder is a goroutine safe browser.Recorder that keeps every
// call, for tests that only care about what was reported.
type RecordingRecorder struct {
	mu      sync.Mutex
	actions []ActionRecord
	views   []int
}

func (r *RecordingRecorder) ObserveAction(action string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, ActionRecord{Action: action, Err: err})
}

func (r *RecordingRecorder) SetActiveViews(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views = append(r.views, n)
}

// Actions returns a copy of the recorded actions.
func (r *RecordingRecorder) Actions() []ActionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ActionRecord(nil), r.actions...)
}

// ActiveViews returns every reported view count in order.
func (r *RecordingRecorder) ActiveViews() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.views...)
}

// LastActiveViews returns the most recent view count, or -1.
func (r *RecordingRecorder) LastActiveViews() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.views) == 0 {
		return -1
	}
	return r.views[len(r.views)-1]
}

var (
	_ browser.Engine            = (*MockEngine)(nil)
	_ browser.IsolationContext  = (*MockIsolationContext)(nil)
	_ browser.Surface           = (*MockSurface)(nil)
	_ browser.Recorder          = (*MockRecorder)(nil)
	_ browser.Recorder          = (*RecordingRecorder)(nil)
	_ browser.FingerprintSource = (*MockFingerprintSource)(nil)
	_ api.CommandExecutor       = (*MockCommandExecutor)(nil)
	_ api.ViewRegistry          = (*MockViewRegistry)(nil)
)
