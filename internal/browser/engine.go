// internal/browser/engine.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mirage/internal/browser/fingerprint"
	"github.com/xkilldash9x/mirage/internal/config"
)

const defaultCloseTimeout = 15 * time.Second

// NewChromiumLauncher returns a Launcher that starts a local Chromium through
// chromedp's exec allocator.
func NewChromiumLauncher(browserCfg config.BrowserConfig, fpCfg config.FingerprintConfig, logger *zap.Logger) Launcher {
	return func(ctx context.Context) (Engine, error) {
		e, err := launchChromium(ctx, browserCfg, fpCfg, logger)
		if err != nil {
			return nil, err
		}
		return e, nil
	}
}

// chromiumEngine owns the allocator (the process) and the browser connection.
type chromiumEngine struct {
	logger       *zap.Logger
	closeTimeout time.Duration
	applyOpts    []fingerprint.ApplyOption

	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

func launchChromium(ctx context.Context, cfg config.BrowserConfig, fpCfg config.FingerprintConfig, logger *zap.Logger) (*chromiumEngine, error) {
	l := logger.Named("engine")
	l.Info("Launching browser engine.", zap.Bool("headless", cfg.Headless))

	// The process outlives the request that triggered the launch, so it is
	// rooted at Background and only the wait below honors ctx.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), buildAllocatorOptions(cfg)...)
	sugar := l.Sugar()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Debugf),
	)

	e := &chromiumEngine{
		logger:        l,
		closeTimeout:  cfg.CloseTimeout,
		applyOpts:     []fingerprint.ApplyOption{fingerprint.WithTimezoneEmulation(fpCfg.EmulateTimezone)},
		allocCtx:      allocCtx,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}
	if e.closeTimeout <= 0 {
		e.closeTimeout = defaultCloseTimeout
	}

	launchTimeout := cfg.LaunchTimeout
	if launchTimeout <= 0 {
		launchTimeout = time.Minute
	}
	waitCtx, cancel := context.WithTimeout(ctx, launchTimeout)
	defer cancel()

	started := make(chan error, 1)
	go func() {
		// The first Run on the browser context allocates the process.
		started <- chromedp.Run(browserCtx)
	}()

	select {
	case err := <-started:
		if err != nil {
			e.teardown()
			return nil, fmt.Errorf("browser failed to start: %w", err)
		}
	case <-waitCtx.Done():
		e.teardown()
		<-started
		return nil, fmt.Errorf("browser did not start within %s: %w", launchTimeout, waitCtx.Err())
	}

	l.Info("Browser engine launched.")
	return e, nil
}

// allocatorFlags returns the command line flags layered over chromedp's
// defaults. A false value removes a default flag, which is how
// enable-automation (and with it navigator.webdriver) is dropped.
func allocatorFlags(cfg config.BrowserConfig) map[string]interface{} {
	flags := map[string]interface{}{
		"enable-automation":         false,
		"headless":                  cfg.Headless,
		"ignore-certificate-errors": cfg.IgnoreTLSErrors,
		"disable-blink-features":    "AutomationControlled",
		"disable-extensions":        true,
		"disable-gpu":               cfg.Headless,
	}

	// Containers rarely allow the sandbox.
	if runtime.GOOS == "linux" {
		flags["no-sandbox"] = true
		flags["disable-dev-shm-usage"] = true
		flags["disable-setuid-sandbox"] = true
	}

	// User supplied args win over everything above.
	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if name == "" {
			continue
		}
		if len(parts) == 2 {
			flags[name] = parts[1]
		} else {
			flags[name] = true
		}
	}
	return flags
}

func buildAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)

	flags := allocatorFlags(cfg)
	names := make([]string, 0, len(flags))
	for name := range flags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		opts = append(opts, chromedp.Flag(name, flags[name]))
	}

	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}
	return opts
}

// browserExecutor binds ctx to the browser-level CDP connection so that
// Target.* and Browser.* commands can be issued without a page.
func (e *chromiumEngine) browserExecutor(ctx context.Context) (context.Context, error) {
	c := chromedp.FromContext(e.browserCtx)
	if c == nil || c.Browser == nil {
		return nil, ErrEngineClosed
	}
	if err := e.browserCtx.Err(); err != nil {
		return nil, fmt.Errorf("browser connection lost: %w", err)
	}
	return cdp.WithExecutor(ctx, c.Browser), nil
}

func (e *chromiumEngine) NewIsolation(ctx context.Context) (IsolationContext, error) {
	execCtx, err := e.browserExecutor(ctx)
	if err != nil {
		return nil, err
	}
	id, err := target.CreateBrowserContext().Do(execCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	e.logger.Debug("Created isolation context.", zap.String("browser_context_id", string(id)))
	return &chromiumIsolation{engine: e, id: id, logger: e.logger.With(zap.String("browser_context_id", string(id)))}, nil
}

func (e *chromiumEngine) Version(ctx context.Context) (string, error) {
	execCtx, err := e.browserExecutor(ctx)
	if err != nil {
		return "", err
	}
	_, product, _, _, _, err := cdpbrowser.GetVersion().Do(execCtx)
	if err != nil {
		return "", fmt.Errorf("failed to query browser version: %w", err)
	}
	return product, nil
}

// Close shuts the browser down gracefully, bounded by the close timeout and
// ctx, then kills the process. Safe to call more than once.
func (e *chromiumEngine) Close(ctx context.Context) error {
	e.closeOnce.Do(func() {
		e.logger.Info("Shutting down browser engine.")
		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(e.browserCtx) }()

		timer := time.NewTimer(e.closeTimeout)
		defer timer.Stop()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				e.closeErr = fmt.Errorf("failed to close browser: %w", err)
			}
		case <-ctx.Done():
			e.logger.Warn("Context ended before the browser closed; killing it.", zap.Error(ctx.Err()))
		case <-timer.C:
			e.logger.Warn("Timed out waiting for the browser to close; killing it.")
		}
		e.teardown()
	})
	return e.closeErr
}

func (e *chromiumEngine) teardown() {
	e.browserCancel()
	e.allocCancel()
}

// chromiumIsolation is a CDP browser context.
type chromiumIsolation struct {
	engine *chromiumEngine
	id     cdp.BrowserContextID
	logger *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

func (i *chromiumIsolation) ID() string { return string(i.id) }

func (i *chromiumIsolation) NewSurface(ctx context.Context) (Surface, error) {
	execCtx, err := i.engine.browserExecutor(ctx)
	if err != nil {
		return nil, err
	}
	tid, err := target.CreateTarget("about:blank").WithBrowserContextID(i.id).Do(execCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to create target: %w", err)
	}
	s, err := attachSurface(ctx, i.engine, tid)
	if err != nil {
		// Best effort; the target has no owner otherwise.
		if cctx, cerr := i.engine.browserExecutor(context.Background()); cerr == nil {
			_ = target.CloseTarget(tid).Do(cctx)
		}
		return nil, err
	}
	return s, nil
}

func (i *chromiumIsolation) Close(ctx context.Context) error {
	i.closeOnce.Do(func() {
		if i.engine.browserCtx.Err() != nil {
			return
		}
		cctx, cancel := context.WithTimeout(ctx, i.engine.closeTimeout)
		defer cancel()
		execCtx, err := i.engine.browserExecutor(cctx)
		if err != nil {
			return
		}
		if err := target.DisposeBrowserContext(i.id).Do(execCtx); err != nil {
			i.logger.Warn("Failed to dispose of browser context. It may be orphaned.", zap.Error(err))
			i.closeErr = fmt.Errorf("failed to dispose browser context: %w", err)
			return
		}
		i.logger.Debug("Disposed isolation context.")
	})
	return i.closeErr
}
