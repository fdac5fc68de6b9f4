// internal/browser/fingerprint/apply.go
package fingerprint

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

//go:embed overrides.js
var overridesScript string

// WebGL debug renderer info enums.
const (
	unmaskedVendorWebGL   = "37445"
	unmaskedRendererWebGL = "37446"
)

// Runner executes chromedp actions against one surface.
type Runner interface {
	Run(ctx context.Context, actions ...chromedp.Action) error
}

// PatchSet is the data the injected script installs: navigator property
// values and WebGL getParameter answers keyed by enum.
type PatchSet struct {
	Navigator map[string]interface{} `json:"navigator"`
	WebGL     map[string]string      `json:"webgl"`
}

// NewPatchSet describes the page-visible overrides for fp.
func NewPatchSet(fp Fingerprint) PatchSet {
	return PatchSet{
		Navigator: map[string]interface{}{
			"platform":  fp.Platform,
			"userAgent": fp.UserAgent,
			"language":  fp.Locale,
			"languages": []string{fp.Locale},
		},
		WebGL: map[string]string{
			unmaskedVendorWebGL:   fp.WebGL.Vendor,
			unmaskedRendererWebGL: fp.WebGL.Renderer,
		},
	}
}

// Script renders the init script for fp: the embedded function expression
// invoked with the patch set as a JSON literal argument. Values only reach
// the page through that literal, and the script binds no global name.
func Script(fp Fingerprint) (string, error) {
	patch, err := json.ConfigCompatibleWithStandardLibrary.Marshal(NewPatchSet(fp))
	if err != nil {
		return "", fmt.Errorf("fingerprint: failed to marshal patch set: %w", err)
	}
	return strings.TrimSpace(overridesScript) + "(" + string(patch) + ");\n", nil
}

type applyOptions struct {
	emulateTimezone bool
}

// ApplyOption tunes Actions and Apply.
type ApplyOption func(*applyOptions)

// WithTimezoneEmulation also overrides the surface timezone with fp.Timezone.
func WithTimezoneEmulation(enabled bool) ApplyOption {
	return func(o *applyOptions) { o.emulateTimezone = enabled }
}

// Actions returns the ordered task list that dresses a surface with fp.
// The viewport override always runs first.
func Actions(fp Fingerprint, logger *zap.Logger, opts ...ApplyOption) chromedp.Tasks {
	o := applyOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	l := logger.Named("fingerprint")

	tasks := chromedp.Tasks{
		setDeviceMetrics(fp, l),
		network.Enable(),
		setAcceptLanguage(fp, l),
		injectOverrides(fp, l),
	}
	if o.emulateTimezone {
		tasks = append(tasks, setTimezone(fp, l))
	}
	tasks = append(tasks, chromedp.ActionFunc(func(ctx context.Context) error {
		l.Info("Applied browser fingerprint",
			zap.Int64("width", fp.Viewport.Width),
			zap.Int64("height", fp.Viewport.Height),
			zap.String("locale", fp.Locale),
			zap.String("platform", fp.Platform))
		return nil
	}))
	return tasks
}

// Apply runs Actions on r. Any failing step aborts the rest.
func Apply(ctx context.Context, r Runner, fp Fingerprint, logger *zap.Logger, opts ...ApplyOption) error {
	return r.Run(ctx, Actions(fp, logger, opts...))
}

func setDeviceMetrics(fp Fingerprint, logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		dsf := fp.DeviceScaleFactor
		if dsf <= 0 {
			dsf = 1
		}
		err := emulation.SetDeviceMetricsOverride(fp.Viewport.Width, fp.Viewport.Height, dsf, false).Do(ctx)
		if err != nil {
			logger.Error("Failed to set device metrics override", zap.Error(err))
			return fmt.Errorf("fingerprint: failed to set device metrics: %w", err)
		}
		return nil
	})
}

func setAcceptLanguage(fp Fingerprint, logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		headers := network.Headers{"Accept-Language": fp.Locale}
		if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
			logger.Error("Failed to set extra HTTP headers", zap.Error(err))
			return fmt.Errorf("fingerprint: failed to set extra http headers: %w", err)
		}
		return nil
	})
}

func injectOverrides(fp Fingerprint, logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		script, err := Script(fp)
		if err != nil {
			return err
		}
		if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
			logger.Error("Failed to register override script", zap.Error(err))
			return fmt.Errorf("fingerprint: failed to add script on new document: %w", err)
		}
		return nil
	})
}

func setTimezone(fp Fingerprint, logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if fp.Timezone == "" {
			return nil
		}
		if err := emulation.SetTimezoneOverride(fp.Timezone).Do(ctx); err != nil {
			logger.Error("Failed to set timezone override", zap.Error(err))
			return fmt.Errorf("fingerprint: failed to set timezone: %w", err)
		}
		return nil
	})
}
