// internal/api/handlers.go
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mirage/internal/browser"
	"github.com/xkilldash9x/mirage/internal/browser/fingerprint"
)

// CommandExecutor runs browser commands on the default surface.
type CommandExecutor interface {
	Navigate(ctx context.Context, p browser.NavigateParams) (browser.NavigateResult, error)
	Scroll(ctx context.Context, p browser.ScrollParams) error
	Click(ctx context.Context, p browser.ClickParams) error
	Type(ctx context.Context, p browser.TypeParams) error
}

// ViewRegistry manages isolated views.
type ViewRegistry interface {
	Connect(ctx context.Context, url string, useFingerprinting bool) (string, error)
	Disconnect(ctx context.Context, id string) error
	Info(ctx context.Context, id string) (browser.ViewInfo, error)
	Count() int
}

// StatusReporter exposes the browser lifecycle stage for /health.
type StatusReporter interface {
	State() browser.State
}

// Handlers serves the JSON API.
type Handlers struct {
	log          *zap.Logger
	executor     CommandExecutor
	views        ViewRegistry
	fingerprints browser.FingerprintSource
	status       StatusReporter
	development  bool
}

// NewHandlers creates a new Handlers instance. status may be nil.
func NewHandlers(logger *zap.Logger, executor CommandExecutor, views ViewRegistry, fingerprints browser.FingerprintSource, status StatusReporter, development bool) *Handlers {
	return &Handlers{
		log:          logger.Named("api"),
		executor:     executor,
		views:        views,
		fingerprints: fingerprints,
		status:       status,
		development:  development,
	}
}

// RegisterRoutes mounts the browser, webview and fingerprint routes on r.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Route("/browser", func(r chi.Router) {
		r.Post("/navigate", h.HandleNavigate)
		r.Post("/scroll", h.HandleScroll)
		r.Post("/click", h.HandleClick)
		r.Post("/type", h.HandleType)
	})
	r.Route("/webview", func(r chi.Router) {
		r.Post("/connect", h.HandleConnect)
		r.Post("/disconnect", h.HandleDisconnect)
		r.Get("/info/{pageId}", h.HandleInfo)
	})
	r.Route("/fingerprint", func(r chi.Router) {
		r.Get("/pools", h.HandlePools)
		r.Post("/sample", h.HandleSample)
	})
}

// HandleHealth reports liveness plus the browser state and view count.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{"status": "ok"}
	if h.status != nil {
		body["browser"] = h.status.State().String()
	}
	if h.views != nil {
		body["activeViews"] = h.views.Count()
	}
	h.respondJSON(w, http.StatusOK, body)
}

// -- Browser commands --

// Request bodies. Pointer fields distinguish absent (or null) from zero.
type (
	navigateBody struct {
		URL       *string `json:"url" validate:"required,url"`
		WaitUntil *string `json:"waitUntil" validate:"omitempty,oneof=load domcontentloaded networkidle"`
	}
	scrollBody struct {
		Selector  *string  `json:"selector"`
		Distance  *float64 `json:"distance"`
		Direction *string  `json:"direction" validate:"omitempty,oneof=up down"`
		Behavior  *string  `json:"behavior" validate:"omitempty,oneof=smooth auto"`
	}
	clickBody struct {
		Selector   *string  `json:"selector" validate:"required"`
		Button     *string  `json:"button" validate:"omitempty,oneof=left right middle"`
		ClickCount *float64 `json:"clickCount" validate:"omitempty,integer,min=1,max=3"`
	}
	typeBody struct {
		Selector *string  `json:"selector" validate:"required"`
		Text     *string  `json:"text" validate:"required"`
		Delay    *float64 `json:"delay" validate:"omitempty,integer,min=0,max=1000"`
	}
	connectBody struct {
		URL               *string `json:"url" validate:"required,url"`
		UseFingerprinting *bool   `json:"useFingerprinting"`
	}
	disconnectBody struct {
		PageID *string `json:"pageId" validate:"required"`
	}
)

func str(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}

func integer(p *float64, def int) int {
	if p == nil {
		return def
	}
	return int(*p)
}

func parseNavigate(m map[string]interface{}) (browser.NavigateParams, error) {
	var b navigateBody
	if err := bind(m, &b); err != nil {
		return browser.NavigateParams{}, err
	}
	return browser.NavigateParams{URL: *b.URL, WaitUntil: browser.WaitUntil(str(b.WaitUntil, ""))}, nil
}

func parseScroll(m map[string]interface{}) (browser.ScrollParams, error) {
	var b scrollBody
	if err := bind(m, &b); err != nil {
		return browser.ScrollParams{}, err
	}
	return browser.ScrollParams{
		Selector:  str(b.Selector, ""),
		Distance:  b.Distance,
		Direction: str(b.Direction, browser.DefaultScrollDirection),
		Behavior:  str(b.Behavior, browser.DefaultScrollBehavior),
	}, nil
}

func parseClick(m map[string]interface{}) (browser.ClickParams, error) {
	var b clickBody
	if err := bind(m, &b); err != nil {
		return browser.ClickParams{}, err
	}
	return browser.ClickParams{
		Selector:   *b.Selector,
		Button:     browser.MouseButton(str(b.Button, string(browser.ButtonLeft))),
		ClickCount: integer(b.ClickCount, 1),
	}, nil
}

func parseType(m map[string]interface{}) (browser.TypeParams, error) {
	var b typeBody
	if err := bind(m, &b); err != nil {
		return browser.TypeParams{}, err
	}
	delay := integer(b.Delay, int(browser.DefaultTypeDelay.Milliseconds()))
	return browser.TypeParams{Selector: *b.Selector, Text: *b.Text, Delay: &delay}, nil
}

// decode reads the body and runs parse over it.
func decode[T any](r *http.Request, parse func(map[string]interface{}) (T, error)) (T, error) {
	m, err := decodeBody(r)
	if err != nil {
		var zero T
		return zero, err
	}
	return parse(m)
}

func (h *Handlers) HandleNavigate(w http.ResponseWriter, r *http.Request) {
	p, err := decode(r, parseNavigate)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	res, err := h.executor.Navigate(r.Context(), p)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"url":      res.URL,
		"finalUrl": res.FinalURL,
	})
}

func (h *Handlers) HandleScroll(w http.ResponseWriter, r *http.Request) {
	p, err := decode(r, parseScroll)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	if err := h.executor.Scroll(r.Context(), p); err != nil {
		h.respondWithError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (h *Handlers) HandleClick(w http.ResponseWriter, r *http.Request) {
	p, err := decode(r, parseClick)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	if err := h.executor.Click(r.Context(), p); err != nil {
		h.respondWithError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"success": true, "selector": p.Selector})
}

func (h *Handlers) HandleType(w http.ResponseWriter, r *http.Request) {
	p, err := decode(r, parseType)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	if err := h.executor.Type(r.Context(), p); err != nil {
		h.respondWithError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"success": true, "selector": p.Selector})
}

// -- Web views --

type connectRequest struct {
	URL               string
	UseFingerprinting bool
}

func parseConnect(m map[string]interface{}) (connectRequest, error) {
	var b connectBody
	if err := bind(m, &b); err != nil {
		return connectRequest{}, err
	}
	req := connectRequest{URL: *b.URL, UseFingerprinting: true}
	if b.UseFingerprinting != nil {
		req.UseFingerprinting = *b.UseFingerprinting
	}
	return req, nil
}

func parsePageID(m map[string]interface{}) (string, error) {
	var b disconnectBody
	if err := bind(m, &b); err != nil {
		return "", err
	}
	return *b.PageID, nil
}

func (h *Handlers) HandleConnect(w http.ResponseWriter, r *http.Request) {
	req, err := decode(r, parseConnect)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	id, err := h.views.Connect(r.Context(), req.URL, req.UseFingerprinting)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"success": true, "pageId": id})
}

func (h *Handlers) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	id, err := decode(r, parsePageID)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	if err := h.views.Disconnect(r.Context(), id); err != nil {
		h.respondWithError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (h *Handlers) HandleInfo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "pageId")
	info, err := h.views.Info(r.Context(), id)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"success": true, "info": info})
}

// -- Fingerprints --

func (h *Handlers) HandlePools(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"success": true, "pools": fingerprint.AllPools()})
}

func (h *Handlers) HandleSample(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"success": true, "fingerprint": h.fingerprints.Generate()})
}
