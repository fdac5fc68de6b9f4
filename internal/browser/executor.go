// internal/browser/executor.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// Action names as reported to the Recorder.
const (
	ActionNavigate = "navigate"
	ActionScroll   = "scroll"
	ActionClick    = "click"
	ActionType     = "type"
)

// Defaults applied when a parameter is left empty.
const (
	DefaultScrollDirection = "down"
	DefaultScrollBehavior  = "smooth"
	DefaultTypeDelay       = 50 * time.Millisecond
	DefaultCommandTimeout  = 30 * time.Second
)

// SurfaceProvider hands out the default surface. *Manager is one.
type SurfaceProvider interface {
	Surface(ctx context.Context) (Surface, error)
}

// NavigateParams is the input of Navigate.
type NavigateParams struct {
	URL       string    `json:"url"`
	WaitUntil WaitUntil `json:"waitUntil,omitempty"`
}

// NavigateResult echoes the requested URL and reports where the page landed.
type NavigateResult struct {
	URL      string `json:"url"`
	FinalURL string `json:"finalUrl,omitempty"`
}

// ScrollParams is the input of Scroll. A non-empty Selector wins over Distance.
type ScrollParams struct {
	Selector  string   `json:"selector,omitempty"`
	Distance  *float64 `json:"distance,omitempty"`
	Direction string   `json:"direction,omitempty"`
	Behavior  string   `json:"behavior,omitempty"`
}

// ClickParams is the input of Click.
type ClickParams struct {
	Selector   string      `json:"selector"`
	Button     MouseButton `json:"button,omitempty"`
	ClickCount int         `json:"clickCount,omitempty"`
}

// TypeParams is the input of Type. A nil Delay means DefaultTypeDelay.
type TypeParams struct {
	Selector string `json:"selector"`
	Text     string `json:"text"`
	Delay    *int   `json:"delay,omitempty"`
}

// Executor runs single browser commands against the default surface.
type Executor struct {
	surfaces SurfaceProvider
	recorder Recorder
	logger   *zap.Logger
	timeout  time.Duration
}

// NewExecutor builds an Executor. Every command gets at most timeout.
func NewExecutor(surfaces SurfaceProvider, recorder Recorder, timeout time.Duration, logger *zap.Logger) *Executor {
	if recorder == nil {
		recorder = NopRecorder()
	}
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &Executor{
		surfaces: surfaces,
		recorder: recorder,
		logger:   logger.Named("executor"),
		timeout:  timeout,
	}
}

// execute times fn, reports it to the recorder and normalizes its error.
func (e *Executor) execute(ctx context.Context, action string, params interface{}, budget time.Duration, fn func(ctx context.Context, s Surface) error) error {
	start := time.Now()
	err := e.executeOnSurface(ctx, action, params, budget, fn)
	elapsed := time.Since(start)
	e.recorder.ObserveAction(action, elapsed, err)

	if err != nil {
		e.logger.Warn("Browser action failed.", zap.String("action", action), zap.Duration("elapsed", elapsed), zap.Error(err))
		return err
	}
	e.logger.Debug("Browser action completed.", zap.String("action", action), zap.Duration("elapsed", elapsed))
	return nil
}

func (e *Executor) executeOnSurface(ctx context.Context, action string, params interface{}, budget time.Duration, fn func(ctx context.Context, s Surface) error) error {
	s, err := e.surfaces.Surface(ctx)
	if err != nil {
		if errors.Is(err, ErrEngineClosed) || errors.Is(err, ErrEngineUnavailable) {
			return err
		}
		return &CommandExecutionError{Action: action, Params: params, Err: err}
	}

	cmdCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	err = fn(cmdCtx, s)
	if err == nil {
		return nil
	}

	// Our deadline fired, not the caller's: the page is wedged. Closing it
	// lets the manager hand out a fresh one next time.
	if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		e.logger.Warn("Command deadline exceeded; closing surface.",
			zap.String("action", action), zap.Duration("timeout", budget), zap.String("surface_id", s.ID()))
		closeCtx, closeCancel := context.WithTimeout(context.Background(), defaultCloseTimeout)
		if cerr := s.Close(closeCtx); cerr != nil {
			e.logger.Debug("Failed to close timed out surface.", zap.Error(cerr))
		}
		closeCancel()
		err = fmt.Errorf("%s timed out after %s: %w", action, budget, err)
	}

	var cmdErr *CommandExecutionError
	if errors.As(err, &cmdErr) {
		return err
	}
	return &CommandExecutionError{Action: action, Params: params, Err: err}
}

// Navigate loads p.URL on the default surface.
func (e *Executor) Navigate(ctx context.Context, p NavigateParams) (NavigateResult, error) {
	wait := p.WaitUntil
	if wait == "" {
		wait = WaitLoad
	}
	result := NavigateResult{URL: p.URL}
	err := e.execute(ctx, ActionNavigate, p, e.timeout, func(ctx context.Context, s Surface) error {
		if !wait.Valid() {
			return fmt.Errorf("unknown waitUntil %q", wait)
		}
		final, err := s.Navigate(ctx, p.URL, wait)
		if err != nil {
			return err
		}
		result.FinalURL = final
		return nil
	})
	if err != nil {
		return NavigateResult{}, err
	}
	return result, nil
}

// scrollToElementJS and scrollByJS receive their arguments as one JSON object.
const (
	scrollToElementJS = `(function (args) {
	const el = document.querySelector(args.selector);
	if (!el) { return false; }
	el.scrollIntoView({ behavior: args.behavior });
	return true;
})(%s)`

	scrollByJS = `(function (args) {
	const amount = args.distance || window.innerHeight;
	window.scrollBy({ top: args.direction === 'down' ? amount : -amount, behavior: args.behavior });
	return true;
})(%s)`

	elementExistsJS = `(function (args) {
	return document.querySelector(args.selector) !== null;
})(%s)`
)

// scriptCall renders a page function call with args encoded as a JSON literal.
func scriptCall(fn string, args interface{}) (string, error) {
	b, err := json.ConfigCompatibleWithStandardLibrary.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("failed to encode script arguments: %w", err)
	}
	return fmt.Sprintf(fn, b), nil
}

// Scroll scrolls to p.Selector when given (Distance is then ignored),
// otherwise by Distance (or one viewport height) in Direction.
func (e *Executor) Scroll(ctx context.Context, p ScrollParams) error {
	if p.Direction == "" {
		p.Direction = DefaultScrollDirection
	}
	if p.Behavior == "" {
		p.Behavior = DefaultScrollBehavior
	}

	return e.execute(ctx, ActionScroll, p, e.timeout, func(ctx context.Context, s Surface) error {
		var script string
		var err error
		if p.Selector != "" {
			script, err = scriptCall(scrollToElementJS, map[string]interface{}{
				"selector": p.Selector,
				"behavior": p.Behavior,
			})
		} else {
			script, err = scriptCall(scrollByJS, map[string]interface{}{
				"distance":  p.Distance,
				"direction": p.Direction,
				"behavior":  p.Behavior,
			})
		}
		if err != nil {
			return err
		}

		var found bool
		if err := s.Evaluate(ctx, script, &found); err != nil {
			return err
		}
		if !found {
			return &ElementNotFoundError{Selector: p.Selector}
		}
		return nil
	})
}

// requireElement fails fast with ElementNotFoundError instead of letting a
// query wait for the whole command deadline.
func requireElement(ctx context.Context, s Surface, selector string) error {
	script, err := scriptCall(elementExistsJS, map[string]string{"selector": selector})
	if err != nil {
		return err
	}
	var exists bool
	if err := s.Evaluate(ctx, script, &exists); err != nil {
		return err
	}
	if !exists {
		return &ElementNotFoundError{Selector: selector}
	}
	return nil
}

// Click clicks the first element matching p.Selector.
func (e *Executor) Click(ctx context.Context, p ClickParams) error {
	if p.Button == "" {
		p.Button = ButtonLeft
	}
	if p.ClickCount == 0 {
		p.ClickCount = 1
	}

	return e.execute(ctx, ActionClick, p, e.timeout, func(ctx context.Context, s Surface) error {
		if !p.Button.Valid() {
			return fmt.Errorf("unknown mouse button %q", p.Button)
		}
		if p.ClickCount < 1 || p.ClickCount > 3 {
			return fmt.Errorf("clickCount must be between 1 and 3, got %d", p.ClickCount)
		}
		if err := requireElement(ctx, s, p.Selector); err != nil {
			return err
		}
		return s.Click(ctx, p.Selector, ClickOptions{Button: p.Button, ClickCount: p.ClickCount})
	})
}

// Type focuses p.Selector and types p.Text one key at a time.
func (e *Executor) Type(ctx context.Context, p TypeParams) error {
	delay := DefaultTypeDelay
	if p.Delay != nil {
		delay = time.Duration(*p.Delay) * time.Millisecond
	}
	// Long texts with large delays legitimately take longer than one command.
	budget := e.timeout + time.Duration(utf8.RuneCountInString(p.Text))*delay

	return e.execute(ctx, ActionType, p, budget, func(ctx context.Context, s Surface) error {
		if delay < 0 || delay > time.Second {
			return fmt.Errorf("delay must be between 0 and 1000ms, got %s", delay)
		}
		if err := requireElement(ctx, s, p.Selector); err != nil {
			return err
		}
		return s.Type(ctx, p.Selector, p.Text, delay)
	})
}
