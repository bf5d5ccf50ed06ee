// Package api is the HTTP surface used by the browser shim.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/gyaneshwarpardhi/engage/internal/config"
	"github.com/gyaneshwarpardhi/engage/internal/dismissal"
	"github.com/gyaneshwarpardhi/engage/internal/host"
	"github.com/gyaneshwarpardhi/engage/internal/metrics"
	"github.com/gyaneshwarpardhi/engage/internal/observer"
	"github.com/gyaneshwarpardhi/engage/internal/score"
	"github.com/gyaneshwarpardhi/engage/internal/session"
	"github.com/gyaneshwarpardhi/engage/internal/trigger"
)

const (
	maxBatchSize  = 100
	profileHeader = "X-Profile-ID"
)

// Queue reports how full the beacon queue is.
type Queue interface {
	Utilization() float64
}

// Reloader is the part of config.Loader the API needs.
type Reloader interface {
	Config() *config.Config
	Reload() (*config.Config, error)
}

// Deps wires the handler. Loader may be nil, which disables the prompt
// rule endpoints.
type Deps struct {
	Host      *host.Host
	Beacons   Queue
	Loader    Reloader
	Logger    zerolog.Logger
	RateLimit int // requests per minute per IP; 0 disables
	Service   string
}

// Handler holds all HTTP handler dependencies.
type Handler struct {
	host    *host.Host
	beacons Queue
	loader  Reloader
	logger  zerolog.Logger
}

// New creates the router and registers all routes.
func New(d Deps) http.Handler {
	h := &Handler{host: d.Host, beacons: d.Beacons, loader: d.Loader, logger: d.Logger}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestID)
	r.Use(loggingMiddleware(d.Logger))

	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if d.RateLimit > 0 {
			r.Use(rateLimit(d.RateLimit))
		}
		r.Post("/v1/sessions", h.openSession)
		r.Route("/v1/sessions/{id}", func(r chi.Router) {
			r.Get("/", h.getSession)
			r.Delete("/", h.closeSession)
			r.Post("/signals", h.ingestSignals)
			r.Post("/track", h.track)
			r.Get("/prompts", h.drainPrompts)
			r.Post("/prompts/{prompt}/dismiss", h.dismissPrompt)
		})
		r.Get("/v1/prompts", h.listPrompts)
		r.Post("/v1/prompts/reload", h.reloadPrompts)
	})

	service := d.Service
	if service == "" {
		service = "engage"
	}
	return tracing(service, r)
}

type sessionView struct {
	Session   session.Session `json:"session"`
	Score     int             `json:"score"`
	Breakdown *score.Parts    `json:"breakdown,omitempty"`
	Insights  []string        `json:"insights,omitempty"`
}

// POST /v1/sessions: open (or resume) the context of a page load.
func (h *Handler) openSession(w http.ResponseWriter, r *http.Request) {
	var req host.OpenRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.ProfileID = r.Header.Get(profileHeader)
	c := h.host.Open(req)
	s := c.Recorder.Snapshot()
	writeJSON(w, http.StatusOK, sessionView{Session: s, Score: score.Compute(s)})
}

// GET /v1/sessions/{id}: current state, score and insights.
func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	c, ok := h.lookup(w, r)
	if !ok {
		return
	}
	s := c.Recorder.Snapshot()
	parts := score.Breakdown(s)
	writeJSON(w, http.StatusOK, sessionView{
		Session:   s,
		Score:     parts.Total,
		Breakdown: &parts,
		Insights:  score.Insights(s, parts.Total),
	})
}

// DELETE /v1/sessions/{id}: the page is unloading.
func (h *Handler) closeSession(w http.ResponseWriter, r *http.Request) {
	if err := h.host.Close(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeHostError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /v1/sessions/{id}/signals: batch of raw browser signals (up to 100).
func (h *Handler) ingestSignals(w http.ResponseWriter, r *http.Request) {
	c, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var batch []json.RawMessage
	if err := decodeBody(r, &batch, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(batch) == 0 {
		writeError(w, http.StatusBadRequest, "batch must contain at least one signal")
		return
	}
	if len(batch) > maxBatchSize {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("batch size %d exceeds max %d", len(batch), maxBatchSize))
		return
	}

	accepted := 0
	for _, raw := range batch {
		sig, err := observer.Decode(raw)
		if err != nil {
			h.logger.Debug().Err(err).Str("session_id", c.ID).Msg("signal rejected")
			continue
		}
		c.Hub.Dispatch(r.Context(), sig)
		accepted++
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"total":    len(batch),
		"accepted": accepted,
		"rejected": len(batch) - accepted,
	})
}

type trackRequest struct {
	Action      string `json:"action"`
	CTAType     string `json:"ctaType"`
	Location    string `json:"location"`
	FormType    string `json:"formType"`
	Success     bool   `json:"success"`
	PhoneNumber string `json:"phoneNumber"`
	Email       string `json:"email"`
}

// POST /v1/sessions/{id}/track: manual instrumentation from page code.
func (h *Handler) track(w http.ResponseWriter, r *http.Request) {
	c, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req trackRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec := c.Recorder
	switch req.Action {
	case "page_view":
		rec.TrackPageView()
	case "cta_click":
		rec.TrackCTAClick(req.CTAType, req.Location)
	case "form_start":
		rec.TrackFormStart(req.FormType)
	case "form_submit":
		rec.TrackFormSubmit(req.FormType, req.Success)
	case "phone_click":
		rec.TrackPhoneClick(req.PhoneNumber)
	case "email_click":
		rec.TrackEmailClick(req.Email)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown action %q", req.Action))
		return
	}
	s := rec.Snapshot()
	writeJSON(w, http.StatusOK, sessionView{Session: s.Summary(), Score: score.Compute(s)})
}

// GET /v1/sessions/{id}/prompts: decisions not yet shown by the page.
func (h *Handler) drainPrompts(w http.ResponseWriter, r *http.Request) {
	c, ok := h.lookup(w, r)
	if !ok {
		return
	}
	ds := c.Monitor.Drain()
	if ds == nil {
		ds = []trigger.Decision{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"prompts": ds})
}

// POST /v1/sessions/{id}/prompts/{prompt}/dismiss: start the cooldown.
func (h *Handler) dismissPrompt(w http.ResponseWriter, r *http.Request) {
	c, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req struct {
		Hours float64 `json:"hours"`
	}
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Hours < 0 || req.Hours > dismissal.MaxCooldownHours {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("hours must be between 0 and %d", dismissal.MaxCooldownHours))
		return
	}
	rec := c.Monitor.Dismiss(r.Context(), chi.URLParam(r, "prompt"), req.Hours)
	writeJSON(w, http.StatusOK, rec)
}

// GET /v1/prompts: the active prompt rules.
func (h *Handler) listPrompts(w http.ResponseWriter, r *http.Request) {
	if h.loader == nil {
		writeError(w, http.StatusNotFound, "prompt rules are not file backed")
		return
	}
	cfg := h.loader.Config()
	writeJSON(w, http.StatusOK, map[string]any{
		"version": cfg.Version,
		"prompts": cfg.Prompts,
	})
}

// POST /v1/prompts/reload: re-read prompt rules from disk.
func (h *Handler) reloadPrompts(w http.ResponseWriter, r *http.Request) {
	if h.loader == nil {
		writeError(w, http.StatusNotFound, "prompt rules are not file backed")
		return
	}
	cfg, err := h.loader.Reload()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	p, err := cfg.Policy()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	h.host.SetPolicy(p)
	writeJSON(w, http.StatusOK, map[string]any{
		"reloaded":      true,
		"prompts_count": len(p.Rules()),
	})
}

// GET /healthz: always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "contexts": h.host.Len()})
}

// GET /readyz: 503 while the beacon queue is more than 80% full.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	util := h.beacons.Utilization()
	metrics.BeaconQueueUtilization.Set(util)
	if util > 0.8 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":            "overloaded",
			"queue_utilization": util,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ready",
		"queue_utilization": util,
	})
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*host.Context, bool) {
	c, err := h.host.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.writeHostError(w, err)
		return nil, false
	}
	return c, true
}

func (h *Handler) writeHostError(w http.ResponseWriter, err error) {
	if errors.Is(err, host.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
