// internal/browser/surface.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mirage/internal/browser/fingerprint"
)

// runFunc adapts a plain function to fingerprint.Runner.
type runFunc func(ctx context.Context, actions ...chromedp.Action) error

func (f runFunc) Run(ctx context.Context, actions ...chromedp.Action) error { return f(ctx, actions...) }

// chromiumSurface is a page target attached through its own chromedp context.
type chromiumSurface struct {
	id           string
	logger       *zap.Logger
	closeTimeout time.Duration
	applyOpts    []fingerprint.ApplyOption

	tabCtx    context.Context
	tabCancel context.CancelFunc

	// run executes actions against the tab. Replaced in tests.
	run runFunc

	mu          sync.Mutex
	fp          *fingerprint.Fingerprint
	fpAttempted bool

	dead      atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// attachSurface connects to an existing page target. The first Run on the
// tab context performs the attach, so it must not carry ctx's deadline.
func attachSurface(ctx context.Context, e *chromiumEngine, tid target.ID) (*chromiumSurface, error) {
	tabCtx, tabCancel := chromedp.NewContext(e.browserCtx, chromedp.WithTargetID(tid))
	s := newChromiumSurface(string(tid), tabCtx, tabCancel, e.logger, e.closeTimeout, e.applyOpts)

	attached := make(chan error, 1)
	go func() {
		attached <- chromedp.Run(tabCtx, page.SetLifecycleEventsEnabled(true))
	}()

	select {
	case err := <-attached:
		if err != nil {
			tabCancel()
			return nil, fmt.Errorf("failed to attach to target: %w", err)
		}
	case <-ctx.Done():
		tabCancel()
		<-attached
		return nil, fmt.Errorf("failed to attach to target: %w", ctx.Err())
	}

	chromedp.ListenTarget(tabCtx, s.handleTargetEvent)
	return s, nil
}

// handleTargetEvent marks the surface dead when the tab detaches or crashes.
func (s *chromiumSurface) handleTargetEvent(ev interface{}) {
	switch ev := ev.(type) {
	case *inspector.EventDetached:
		s.markDead("detached: " + string(ev.Reason))
	case *inspector.EventTargetCrashed:
		s.markDead("crashed")
	}
}

func newChromiumSurface(id string, tabCtx context.Context, tabCancel context.CancelFunc, logger *zap.Logger, closeTimeout time.Duration, applyOpts []fingerprint.ApplyOption) *chromiumSurface {
	if closeTimeout <= 0 {
		closeTimeout = defaultCloseTimeout
	}
	s := &chromiumSurface{
		id:           id,
		logger:       logger.Named("surface").With(zap.String("surface_id", id)),
		closeTimeout: closeTimeout,
		applyOpts:    applyOpts,
		tabCtx:       tabCtx,
		tabCancel:    tabCancel,
	}
	s.run = s.runOnTab
	return s
}

func (s *chromiumSurface) ID() string { return s.id }

func (s *chromiumSurface) markDead(reason string) {
	if s.dead.CompareAndSwap(false, true) {
		s.logger.Warn("Surface is no longer usable.", zap.String("reason", reason))
	}
}

func (s *chromiumSurface) Alive() bool {
	return !s.dead.Load() && s.tabCtx.Err() == nil
}

// runOnTab runs actions on the tab, bounded by ctx.
func (s *chromiumSurface) runOnTab(ctx context.Context, actions ...chromedp.Action) error {
	if !s.Alive() {
		return ErrSurfaceClosed
	}
	opCtx, cancel := CombineContext(s.tabCtx, ctx)
	defer cancel()
	return operationError(ctx, chromedp.Run(opCtx, actions...))
}

// Run satisfies fingerprint.Runner.
func (s *chromiumSurface) Run(ctx context.Context, actions ...chromedp.Action) error {
	return s.run(ctx, actions...)
}

func (s *chromiumSurface) ApplyFingerprint(ctx context.Context, fp fingerprint.Fingerprint) error {
	s.mu.Lock()
	if s.fpAttempted {
		s.mu.Unlock()
		return ErrAlreadyFingerprinted
	}
	s.fpAttempted = true
	s.mu.Unlock()

	if err := fingerprint.Apply(ctx, s.run, fp, s.logger, s.applyOpts...); err != nil {
		return &ApplyFingerprintError{Cause: err}
	}

	s.mu.Lock()
	s.fp = &fp
	s.mu.Unlock()
	return nil
}

func (s *chromiumSurface) Fingerprint() (fingerprint.Fingerprint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fp == nil {
		return fingerprint.Fingerprint{}, false
	}
	return *s.fp, true
}

// lifecycleEventName maps a WaitUntil to the CDP Page.lifecycleEvent name.
func lifecycleEventName(w WaitUntil) string {
	switch w {
	case WaitDOMContentLoaded:
		return "DOMContentLoaded"
	case WaitNetworkIdle:
		return "networkIdle"
	default:
		return "load"
	}
}

func (s *chromiumSurface) Navigate(ctx context.Context, url string, waitUntil WaitUntil) (string, error) {
	if !s.Alive() {
		return "", ErrSurfaceClosed
	}
	name := lifecycleEventName(waitUntil)

	listenCtx, cancel := CombineContext(s.tabCtx, ctx)
	defer cancel()

	// Subscribe before navigating; the milestone can fire before
	// Page.navigate returns.
	events := make(chan *page.EventLifecycleEvent, 32)
	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		if e, ok := ev.(*page.EventLifecycleEvent); ok && e.Name == name {
			select {
			case events <- e:
			default:
			}
		}
	})

	var res page.NavigateReturns
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return cdp.Execute(ctx, page.CommandNavigate, page.Navigate(url), &res)
	}))
	if err != nil {
		return "", err
	}
	if res.ErrorText != "" {
		return "", fmt.Errorf("navigation to %s failed: %s", url, res.ErrorText)
	}

	// An empty loader means a same-document navigation with no lifecycle.
	if res.LoaderID != "" {
	wait:
		for {
			select {
			case e := <-events:
				if e.LoaderID == res.LoaderID && (res.FrameID == "" || e.FrameID == res.FrameID) {
					break wait
				}
			case <-listenCtx.Done():
				if ctx.Err() != nil {
					return "", ctx.Err()
				}
				return "", ErrSurfaceClosed
			}
		}
	}

	var final string
	if err := s.run(ctx, chromedp.Location(&final)); err != nil {
		return "", err
	}
	return final, nil
}

func (s *chromiumSurface) Evaluate(ctx context.Context, expression string, res interface{}) error {
	return s.run(ctx, chromedp.Evaluate(expression, res))
}

// Click presses the element ClickCount times, each press reporting its
// running click count so a triple click selects like a user's would.
func (s *chromiumSurface) Click(ctx context.Context, selector string, opts ClickOptions) error {
	button := opts.Button
	if button == "" {
		button = ButtonLeft
	}
	count := opts.ClickCount
	if count < 1 {
		count = 1
	}
	return s.run(ctx, chromedp.QueryAfter(selector,
		func(ctx context.Context, _ runtime.ExecutionContextID, nodes ...*cdp.Node) error {
			if len(nodes) == 0 {
				return &ElementNotFoundError{Selector: selector}
			}
			for i := 1; i <= count; i++ {
				if err := chromedp.MouseClickNode(nodes[0], chromedp.Button(string(button)), chromedp.ClickCount(i)).Do(ctx); err != nil {
					return err
				}
			}
			return nil
		},
		chromedp.ByQuery,
	))
}

func (s *chromiumSurface) Type(ctx context.Context, selector, text string, delay time.Duration) error {
	actions := chromedp.Tasks{chromedp.Focus(selector, chromedp.ByQuery)}
	first := true
	for _, r := range text {
		if !first && delay > 0 {
			actions = append(actions, chromedp.Sleep(delay))
		}
		first = false
		actions = append(actions, chromedp.KeyEvent(string(r)))
	}
	return s.run(ctx, actions)
}

func (s *chromiumSurface) Info(ctx context.Context) (ViewInfo, error) {
	var info ViewInfo
	if err := s.run(ctx, chromedp.Location(&info.URL), chromedp.Title(&info.Title)); err != nil {
		return ViewInfo{}, err
	}
	if fp, ok := s.Fingerprint(); ok {
		info.Viewport = fp.Viewport
		return info, nil
	}
	if err := s.run(ctx, chromedp.Evaluate(`({width: window.innerWidth, height: window.innerHeight})`, &info.Viewport)); err != nil {
		return ViewInfo{}, err
	}
	return info, nil
}

// Close closes the page target. Safe to call more than once.
func (s *chromiumSurface) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.dead.Store(true)
		if s.tabCtx.Err() != nil {
			s.tabCancel()
			return
		}

		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(s.tabCtx) }()

		timer := time.NewTimer(s.closeTimeout)
		defer timer.Stop()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				s.closeErr = fmt.Errorf("failed to close surface: %w", err)
			}
		case <-ctx.Done():
			s.closeErr = fmt.Errorf("failed to close surface: %w", ctx.Err())
		case <-timer.C:
			s.closeErr = errors.New("timed out closing surface")
		}
		s.tabCancel()
		s.logger.Debug("Surface closed.")
	})
	return s.closeErr
}
