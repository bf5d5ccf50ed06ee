package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/engage/internal/api"
	"github.com/gyaneshwarpardhi/engage/internal/beacon"
	"github.com/gyaneshwarpardhi/engage/internal/clock"
	"github.com/gyaneshwarpardhi/engage/internal/config"
	"github.com/gyaneshwarpardhi/engage/internal/dismissal"
	"github.com/gyaneshwarpardhi/engage/internal/host"
	"github.com/gyaneshwarpardhi/engage/internal/kv"
	"github.com/gyaneshwarpardhi/engage/internal/session"
	"github.com/gyaneshwarpardhi/engage/internal/trigger"
)

type fixedQueue float64

func (q fixedQueue) Utilization() float64 { return float64(q) }

type server struct {
	t     *testing.T
	clk   *clock.Fake
	store *kv.Memory
	h     *host.Host
	srv   http.Handler
}

func newServer(t *testing.T, util float64, loader api.Reloader) *server {
	t.Helper()
	s := &server{
		t:     t,
		clk:   clock.NewFake(time.Date(2026, 7, 4, 10, 0, 0, 0, time.UTC)),
		store: kv.NewMemory(),
	}
	sender := beacon.NewSender(context.Background(), beacon.NopTransport{}, beacon.Config{}, zerolog.Nop())
	t.Cleanup(func() { _ = sender.Close() })
	s.h = host.New(host.Config{}, host.Deps{Clock: s.clk, Store: s.store, Sender: sender, Logger: zerolog.Nop()})
	s.srv = api.New(api.Deps{Host: s.h, Beacons: fixedQueue(util), Loader: loader, Logger: zerolog.Nop()})
	return s
}

func (s *server) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	s.srv.ServeHTTP(rr, req)
	return rr
}

type sessionBody struct {
	Session   session.Session `json:"session"`
	Score     int             `json:"score"`
	Breakdown map[string]any  `json:"breakdown"`
	Insights  []string        `json:"insights"`
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func (s *server) tick(n int) {
	for i := 0; i < n; i++ {
		s.clk.Advance(time.Second)
		s.h.Tick(context.Background())
	}
}

func TestOpenSession(t *testing.T) {
	s := newServer(t, 0, nil)

	rr := s.do(http.MethodPost, "/v1/sessions", map[string]any{
		"sessionId": "s1", "path": "/countertops", "referrer": "https://google.com", "viewportWidth": 900,
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decode[sessionBody](t, rr)
	assert.Equal(t, "s1", body.Session.ID)
	assert.Equal(t, session.DeviceTablet, body.Session.DeviceClass)
	assert.Equal(t, "https://google.com", body.Session.Referrer)
	assert.Equal(t, 5, body.Score)

	rr = s.do(http.MethodPost, "/v1/sessions", map[string]any{"sessionId": "s1", "path": "/elsewhere"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"/countertops"}, decode[sessionBody](t, rr).Session.PagesViewed)
	assert.Equal(t, 1, s.h.Len())

	rr = s.do(http.MethodPost, "/v1/sessions", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, decode[sessionBody](t, rr).Session.ID)

	rr = s.do(http.MethodPost, "/v1/sessions", "{nope")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSignalsDriveTheEngine(t *testing.T) {
	s := newServer(t, 0, nil)
	s.do(http.MethodPost, "/v1/sessions", map[string]any{"sessionId": "s1", "path": "/", "viewportWidth": 1280})

	rr := s.do(http.MethodPost, "/v1/sessions/s1/signals", `[
		{"type":"navigate","path":"/services"},
		{"type":"scroll","scrollTop":600,"scrollHeight":1800,"viewportHeight":800},
		{"type":"resize","width":10},
		{"type":"click","href":"https://example.com"}
	]`)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	counts := decode[map[string]int](t, rr)
	assert.Equal(t, 4, counts["total"])
	assert.Equal(t, 3, counts["accepted"])
	assert.Equal(t, 1, counts["rejected"])

	for _, cta := range []string{"hero", "footer"} {
		rr = s.do(http.MethodPost, "/v1/sessions/s1/track", map[string]any{"action": "cta_click", "ctaType": "quote", "location": cta})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	}

	s.tick(46)
	rr = s.do(http.MethodGet, "/v1/sessions/s1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode[sessionBody](t, rr)
	assert.Equal(t, 47, body.Score)
	assert.Equal(t, 60, body.Session.MaxScrollDepth)
	assert.EqualValues(t, 10, body.Breakdown["breadth"])
	assert.NotEmpty(t, body.Insights)

	rr = s.do(http.MethodGet, "/v1/sessions/s1/prompts", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	prompts := decode[map[string][]trigger.Decision](t, rr)["prompts"]
	require.Len(t, prompts, 1)
	assert.Equal(t, trigger.PromptEngagement, prompts[0].Prompt)

	rr = s.do(http.MethodGet, "/v1/sessions/s1/prompts", nil)
	assert.Empty(t, decode[map[string][]trigger.Decision](t, rr)["prompts"])

	rr = s.do(http.MethodPost, "/v1/sessions/s1/signals", `[{"type":"pointer","clientY":3}]`)
	require.Equal(t, http.StatusAccepted, rr.Code)
	prompts = decode[map[string][]trigger.Decision](t, s.do(http.MethodGet, "/v1/sessions/s1/prompts", nil))["prompts"]
	require.Len(t, prompts, 1)
	assert.Equal(t, trigger.PromptExitIntent, prompts[0].Prompt)
}

func TestSignals_BadBatches(t *testing.T) {
	s := newServer(t, 0, nil)
	s.do(http.MethodPost, "/v1/sessions", map[string]any{"sessionId": "s1"})

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/v1/sessions/s1/signals", `[]`).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/v1/sessions/s1/signals", `{"type":"unload"}`).Code)

	big := make([]map[string]string, 101)
	for i := range big {
		big[i] = map[string]string{"type": "unload"}
	}
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/v1/sessions/s1/signals", big).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/v1/sessions/missing/signals", `[{"type":"unload"}]`).Code)
}

func TestTrack(t *testing.T) {
	s := newServer(t, 0, nil)
	s.do(http.MethodPost, "/v1/sessions", map[string]any{"sessionId": "s1"})

	rr := s.do(http.MethodPost, "/v1/sessions/s1/track", map[string]any{"action": "form_submit", "formType": "quick_quote", "success": true})
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode[sessionBody](t, rr)
	assert.True(t, body.Session.IsConverted)
	assert.Equal(t, session.ConversionQuickQuote, body.Session.ConversionKind)

	rr = s.do(http.MethodPost, "/v1/sessions/s1/track", map[string]any{"action": "phone_click", "phoneNumber": "tel:1"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, session.ConversionQuickQuote, decode[sessionBody](t, rr).Session.ConversionKind)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/v1/sessions/s1/track", map[string]any{"action": "hover"}).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/v1/sessions/s1/track", nil).Code)
}

func TestDismissPrompt(t *testing.T) {
	s := newServer(t, 0, nil)
	s.do(http.MethodPost, "/v1/sessions", map[string]any{"sessionId": "s1"}, "X-Profile-ID", "p1")

	rr := s.do(http.MethodPost, "/v1/sessions/s1/prompts/quickQuoteModal/dismiss", map[string]any{"hours": 2})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	rec := decode[dismissal.Record](t, rr)
	assert.Equal(t, "quickQuoteModal", rec.PromptName)
	assert.True(t, rec.SuppressedUntil.Equal(s.clk.Now().Add(2*time.Hour)))

	rr = s.do(http.MethodPost, "/v1/sessions/s1/prompts/exitIntentModal/dismiss", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	rec = decode[dismissal.Record](t, rr)
	assert.True(t, rec.SuppressedUntil.Equal(s.clk.Now().Add(24*time.Hour)))

	store := dismissal.New(s.store, s.clk, zerolog.Nop(), dismissal.WithNamespace("p1"))
	assert.True(t, store.IsDismissed(context.Background(), "quickQuoteModal"))
	assert.True(t, store.IsDismissed(context.Background(), "exitIntentModal"))

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/v1/sessions/s1/prompts/x/dismiss", map[string]any{"hours": -1}).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/v1/sessions/s1/prompts/x/dismiss", map[string]any{"hours": 1e7}).Code)
}

func TestCloseSession(t *testing.T) {
	s := newServer(t, 0, nil)
	s.do(http.MethodPost, "/v1/sessions", map[string]any{"sessionId": "s1"})

	assert.Equal(t, http.StatusNoContent, s.do(http.MethodDelete, "/v1/sessions/s1", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodDelete, "/v1/sessions/s1", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/v1/sessions/s1", nil).Code)

	_, ok, err := s.store.Get(context.Background(), "leadSession:s1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestProbes(t *testing.T) {
	s := newServer(t, 0.5, nil)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/healthz", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/readyz", nil).Code)

	rr := s.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "engage_beacon_queue_utilization_ratio")

	busy := newServer(t, 0.9, nil)
	rr = busy.do(http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "overloaded", decode[map[string]any](t, rr)["status"])
}

func TestPromptRules(t *testing.T) {
	s := newServer(t, 0, nil)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/v1/prompts", nil).Code)

	dir := t.TempDir()
	path := filepath.Join(dir, "engage.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: \"1\"\n"), 0o644))
	loader, err := config.NewLoader(path, zerolog.Nop())
	require.NoError(t, err)

	s = newServer(t, 0, loader)
	s.do(http.MethodPost, "/v1/sessions", map[string]any{"sessionId": "s1"})

	require.NoError(t, os.WriteFile(path, []byte("version: \"1\"\nprompts: [{prompt: stickyContactBar, expression: seconds_on_site >= 1}]\n"), 0o644))
	rr := s.do(http.MethodPost, "/v1/prompts/reload", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = s.do(http.MethodGet, "/v1/prompts", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "stickyContactBar")

	s.tick(1)
	prompts := decode[map[string][]trigger.Decision](t, s.do(http.MethodGet, "/v1/sessions/s1/prompts", nil))["prompts"]
	require.Len(t, prompts, 1)
	assert.Equal(t, trigger.PromptStickyBar, prompts[0].Prompt)

	require.NoError(t, os.WriteFile(path, []byte("version: \"1\"\nprompts: [{prompt: x, expression: \"score >\"}]\n"), 0o644))
	assert.Equal(t, http.StatusUnprocessableEntity, s.do(http.MethodPost, "/v1/prompts/reload", nil).Code)
}

func TestRateLimit(t *testing.T) {
	sender := beacon.NewSender(context.Background(), beacon.NopTransport{}, beacon.Config{}, zerolog.Nop())
	defer sender.Close()
	h := host.New(host.Config{}, host.Deps{Sender: sender, Logger: zerolog.Nop()})
	srv := api.New(api.Deps{Host: h, Beacons: fixedQueue(0), Logger: zerolog.Nop(), RateLimit: 2})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/sessions", nil)
		req.RemoteAddr = "203.0.113.7:5555"
		rr := httptest.NewRecorder()
		srv.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "203.0.113.7:5555"
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code, "probes are not rate limited")
}
