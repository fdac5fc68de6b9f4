// internal/browser/fingerprint/fingerprint.go
package fingerprint

import (
	"math/rand"
	"sync"
	"time"
)

// WebGL answers are fixed. The vendor names the ANGLE wrapper while the
// renderer names a Direct3D backend regardless of the chosen platform.
const (
	WebGLVendor   = "Google Inc. (NVIDIA)"
	WebGLRenderer = "ANGLE (NVIDIA GeForce RTX 3070 Direct3D11 vs_5_0 ps_5_0)"
)

// HighDensityProbability is the chance a generated identity reports a
// device scale factor of 2 rather than 1.
const HighDensityProbability = 0.3

// Viewport is a CSS pixel size.
type Viewport struct {
	Width  int64 `json:"width"`
	Height int64 `json:"height"`
}

// WebGL holds the UNMASKED_VENDOR_WEBGL / UNMASKED_RENDERER_WEBGL answers.
type WebGL struct {
	Vendor   string `json:"vendor"`
	Renderer string `json:"renderer"`
}

// Fingerprint is a synthetic device identity. It is a value; once applied to
// a surface it belongs to that surface.
type Fingerprint struct {
	UserAgent         string   `json:"userAgent"`
	Viewport          Viewport `json:"viewport"`
	DeviceScaleFactor float64  `json:"deviceScaleFactor"`
	Locale            string   `json:"locale"`
	Timezone          string   `json:"timezone"`
	Platform          string   `json:"platform"`
	WebGL             WebGL    `json:"webGL"`
}

var (
	userAgents = []string{
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	}
	viewports = []Viewport{
		{Width: 1920, Height: 1080},
		{Width: 1366, Height: 768},
		{Width: 1440, Height: 900},
	}
	locales   = []string{"en-US", "en-GB", "fr-FR", "de-DE", "es-ES"}
	timezones = []string{"America/New_York", "Europe/London", "Asia/Tokyo", "Australia/Sydney"}
	platforms = []string{"Win32", "MacIntel", "Linux x86_64"}
)

// UserAgents returns a copy of the user agent pool.
func UserAgents() []string { return append([]string(nil), userAgents...) }

// Viewports returns a copy of the viewport pool.
func Viewports() []Viewport { return append([]Viewport(nil), viewports...) }

// Locales returns a copy of the locale pool.
func Locales() []string { return append([]string(nil), locales...) }

// Timezones returns a copy of the IANA timezone pool.
func Timezones() []string { return append([]string(nil), timezones...) }

// Platforms returns a copy of the navigator.platform pool.
func Platforms() []string { return append([]string(nil), platforms...) }

// Pools is a read-only snapshot of every pool the generator draws from.
type Pools struct {
	UserAgents             []string   `json:"userAgents"`
	Viewports              []Viewport `json:"viewports"`
	Locales                []string   `json:"locales"`
	Timezones              []string   `json:"timezones"`
	Platforms              []string   `json:"platforms"`
	DeviceScaleFactors     []float64  `json:"deviceScaleFactors"`
	HighDensityProbability float64    `json:"highDensityProbability"`
	WebGL                  WebGL      `json:"webGL"`
}

// AllPools returns a snapshot of the generator pools.
func AllPools() Pools {
	return Pools{
		UserAgents:             UserAgents(),
		Viewports:              Viewports(),
		Locales:                Locales(),
		Timezones:              Timezones(),
		Platforms:              Platforms(),
		DeviceScaleFactors:     []float64{1, 2},
		HighDensityProbability: HighDensityProbability,
		WebGL:                  WebGL{Vendor: WebGLVendor, Renderer: WebGLRenderer},
	}
}

// Generator draws independent uniform picks from the pools. It is safe for
// concurrent use. Nothing prevents two calls from returning equal values.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator returns a Generator backed by src. A nil src seeds from the clock.
func NewGenerator(src rand.Source) *Generator {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Generator{rng: rand.New(src)}
}

// Generate produces a fresh fingerprint.
func (g *Generator) Generate() Fingerprint {
	g.mu.Lock()
	defer g.mu.Unlock()

	dsf := 1.0
	if g.rng.Float64() < HighDensityProbability {
		dsf = 2.0
	}

	return Fingerprint{
		UserAgent:         pick(g.rng, userAgents),
		Viewport:          pick(g.rng, viewports),
		DeviceScaleFactor: dsf,
		Locale:            pick(g.rng, locales),
		Timezone:          pick(g.rng, timezones),
		Platform:          pick(g.rng, platforms),
		WebGL:             WebGL{Vendor: WebGLVendor, Renderer: WebGLRenderer},
	}
}

func pick[T any](r *rand.Rand, pool []T) T {
	return pool[r.Intn(len(pool))]
}
