package browser

import (
	"context"
	"time"

	"github.com/xkilldash9x/mirage/internal/browser/fingerprint"
)

// Launcher starts a browser engine. The Manager calls it at most once.
type Launcher func(ctx context.Context) (Engine, error)

// Engine is one running browser process.
type Engine interface {
	// NewIsolation opens a cookie, cache and permission isolated context.
	NewIsolation(ctx context.Context) (IsolationContext, error)
	// Version reports the browser product string.
	Version(ctx context.Context) (string, error)
	// Close terminates the process. Every context and surface dies with it.
	Close(ctx context.Context) error
}

// IsolationContext groups surfaces sharing storage, isolated from everything else.
type IsolationContext interface {
	ID() string
	NewSurface(ctx context.Context) (Surface, error)
	Close(ctx context.Context) error
}

// Surface is a single page that commands operate on.
type Surface interface {
	ID() string

	// ApplyFingerprint dresses the surface. It may be called at most once;
	// later calls fail with ErrAlreadyFingerprinted even if the first failed.
	ApplyFingerprint(ctx context.Context, fp fingerprint.Fingerprint) error
	// Fingerprint returns the identity bound to the surface, if any.
	Fingerprint() (fingerprint.Fingerprint, bool)

	// Navigate loads url and waits for the given lifecycle milestone. It
	// returns the URL the page ended up on.
	Navigate(ctx context.Context, url string, waitUntil WaitUntil) (string, error)
	// Evaluate runs a JavaScript expression and decodes its result into res.
	Evaluate(ctx context.Context, expression string, res interface{}) error
	Click(ctx context.Context, selector string, opts ClickOptions) error
	Type(ctx context.Context, selector, text string, delay time.Duration) error

	Info(ctx context.Context) (ViewInfo, error)

	// Alive is false once the page crashed, detached or was closed.
	Alive() bool
	Close(ctx context.Context) error
}

// WaitUntil names the navigation milestone a Navigate call waits for.
type WaitUntil string

const (
	WaitLoad             WaitUntil = "load"
	WaitDOMContentLoaded WaitUntil = "domcontentloaded"
	WaitNetworkIdle      WaitUntil = "networkidle"
)

// Valid reports whether w is one of the known milestones.
func (w WaitUntil) Valid() bool {
	switch w {
	case WaitLoad, WaitDOMContentLoaded, WaitNetworkIdle:
		return true
	}
	return false
}

// MouseButton is the button used for a click.
type MouseButton string

const (
	ButtonLeft   MouseButton = "left"
	ButtonRight  MouseButton = "right"
	ButtonMiddle MouseButton = "middle"
)

// Valid reports whether b is a known button.
func (b MouseButton) Valid() bool {
	switch b {
	case ButtonLeft, ButtonRight, ButtonMiddle:
		return true
	}
	return false
}

// ClickOptions tunes a click.
type ClickOptions struct {
	Button     MouseButton
	ClickCount int
}

// ViewInfo is a read-only snapshot of a surface.
type ViewInfo struct {
	URL      string               `json:"url"`
	Title    string               `json:"title"`
	Viewport fingerprint.Viewport `json:"viewport"`
}

// Recorder receives per-action timing and the live view count.
type Recorder interface {
	ObserveAction(action string, d time.Duration, err error)
	SetActiveViews(n int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveAction(string, time.Duration, error) {}
func (nopRecorder) SetActiveViews(int)                         {}

// NopRecorder discards everything.
func NopRecorder() Recorder { return nopRecorder{} }
