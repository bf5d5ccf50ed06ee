// Package host runs one engagement engine per browsing context and drives
// their shared once-per-second tick.
package host

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/gyaneshwarpardhi/engage/internal/beacon"
	"github.com/gyaneshwarpardhi/engage/internal/clock"
	"github.com/gyaneshwarpardhi/engage/internal/dismissal"
	"github.com/gyaneshwarpardhi/engage/internal/kv"
	"github.com/gyaneshwarpardhi/engage/internal/metrics"
	"github.com/gyaneshwarpardhi/engage/internal/observer"
	"github.com/gyaneshwarpardhi/engage/internal/session"
	"github.com/gyaneshwarpardhi/engage/internal/trigger"
)

var ErrNotFound = errors.New("host: context not found")

// Config tunes the host loop and every engine it creates.
type Config struct {
	TickInterval      time.Duration
	IdleTimeout       time.Duration
	MilestoneInterval int
	ExitThreshold     float64
}

// Deps are shared by all contexts.
type Deps struct {
	Clock  clock.Clock
	Store  kv.Store
	Sender *beacon.Sender
	Policy *trigger.Policy
	Logger zerolog.Logger
}

// OpenRequest describes a page load.
type OpenRequest struct {
	SessionID     string `json:"sessionId,omitempty"`
	ProfileID     string `json:"-"`
	Path          string `json:"path"`
	Referrer      string `json:"referrer,omitempty"`
	ViewportWidth int    `json:"viewportWidth"`
}

// Context is the engine of one browsing context.
type Context struct {
	ID        string
	ProfileID string
	Recorder  *session.Recorder
	Hub       *observer.Hub
	Monitor   *trigger.Monitor
	Flusher   *beacon.Flusher

	lastSeen atomic.Int64
}

func (c *Context) touch(now time.Time) { c.lastSeen.Store(now.UnixNano()) }

func (c *Context) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, c.lastSeen.Load()))
}

// Host owns every live Context.
type Host struct {
	cfg        Config
	clock      clock.Clock
	sender     *beacon.Sender
	dismissals *dismissal.Store
	snapshots  *beacon.Snapshots
	logger     zerolog.Logger
	policy     atomic.Pointer[trigger.Policy]

	mu       sync.RWMutex
	contexts map[string]*Context
}

func New(cfg Config, deps Deps) *Host {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Store == nil {
		deps.Store = kv.NewMemory()
	}
	if deps.Sender == nil {
		deps.Sender = beacon.NewSender(context.Background(), beacon.NopTransport{}, beacon.Config{}, deps.Logger)
	}
	if deps.Policy == nil {
		deps.Policy = trigger.DefaultPolicy()
	}
	h := &Host{
		cfg:        cfg,
		clock:      deps.Clock,
		sender:     deps.Sender,
		dismissals: dismissal.New(deps.Store, deps.Clock, deps.Logger),
		snapshots:  beacon.NewSnapshots(deps.Store, deps.Logger),
		logger:     deps.Logger,
		contexts:   make(map[string]*Context),
	}
	h.policy.Store(deps.Policy)
	return h
}

// Open returns the context for req.SessionID, creating and starting it if it
// does not exist yet. An empty id always creates a new context.
func (h *Host) Open(req OpenRequest) *Context {
	now := h.clock.Now()
	if req.SessionID != "" {
		h.mu.RLock()
		c, ok := h.contexts[req.SessionID]
		h.mu.RUnlock()
		if ok {
			c.touch(now)
			return c
		}
	}

	logger := h.logger.With().Str("component", "engine").Logger()
	rec := session.NewRecorder(h.clock, h.sender, logger, session.WithMilestoneInterval(h.cfg.MilestoneInterval))
	s := rec.Start(session.StartContext{
		SessionID:     req.SessionID,
		Path:          req.Path,
		Referrer:      req.Referrer,
		ViewportWidth: req.ViewportWidth,
	})
	logger = logger.With().Str("session_id", s.ID).Logger()

	mon := trigger.NewMonitor(rec, h.dismissals.ForProfile(dismissalScope(req.ProfileID, s.ID)), h.policy.Load(), h.clock, logger)
	fl := beacon.NewFlusher(rec, h.sender, h.snapshots, logger)
	c := &Context{
		ID:        s.ID,
		ProfileID: req.ProfileID,
		Recorder:  rec,
		Hub:       observer.NewHub(rec, fl, mon, logger, observer.WithExitThreshold(h.cfg.ExitThreshold)),
		Monitor:   mon,
		Flusher:   fl,
	}
	c.touch(now)

	h.mu.Lock()
	if existing, ok := h.contexts[c.ID]; ok {
		h.mu.Unlock()
		existing.touch(now)
		return existing
	}
	h.contexts[c.ID] = c
	n := len(h.contexts)
	h.mu.Unlock()

	metrics.ActiveContexts.Set(float64(n))
	logger.Info().Str("device", string(s.DeviceClass)).Str("path", rec.CurrentPath()).Msg("context opened")
	return c
}

// dismissalScope keys dismissals by browser profile. Without one, the
// session is the narrowest scope that still belongs to a single visitor.
func dismissalScope(profileID, sessionID string) string {
	if profileID != "" {
		return profileID
	}
	return "session:" + sessionID
}

// Get returns a live context and marks it active.
func (h *Host) Get(id string) (*Context, error) {
	h.mu.RLock()
	c, ok := h.contexts[id]
	h.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	c.touch(h.clock.Now())
	return c, nil
}

// Close flushes a context and forgets it.
func (h *Host) Close(ctx context.Context, id string) error {
	c := h.remove(id)
	if c == nil {
		return ErrNotFound
	}
	c.Flusher.Flush(ctx, "close")
	h.logger.Info().Str("session_id", id).Msg("context closed")
	return nil
}

// Len is the number of live contexts.
func (h *Host) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.contexts)
}

// SetPolicy swaps the prompt rules of every live and future context.
func (h *Host) SetPolicy(p *trigger.Policy) {
	if p == nil {
		return
	}
	h.policy.Store(p)
	for _, c := range h.snapshot() {
		c.Monitor.SetPolicy(p)
	}
}

// Run ticks every context until ctx is cancelled, then flushes them all.
func (h *Host) Run(ctx context.Context) error {
	t := time.NewTicker(h.cfg.TickInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return nil
		case <-t.C:
			h.Tick(ctx)
		}
	}
}

// Tick advances each context by one second, evaluates its prompts and evicts
// contexts idle for longer than the configured timeout.
func (h *Host) Tick(ctx context.Context) {
	now := h.clock.Now()
	for _, c := range h.snapshot() {
		if h.cfg.IdleTimeout > 0 && c.idleSince(now) > h.cfg.IdleTimeout {
			if h.remove(c.ID) != nil {
				c.Flusher.Flush(ctx, "idle")
				h.logger.Debug().Str("session_id", c.ID).Msg("idle context evicted")
			}
			continue
		}
		c.Recorder.Tick()
		c.Monitor.Evaluate(ctx)
	}
}

func (h *Host) shutdown() {
	// flush with a fresh context; the run context is already cancelled
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, c := range h.snapshot() {
		if h.remove(c.ID) != nil {
			c.Flusher.Flush(ctx, "shutdown")
		}
	}
}

func (h *Host) snapshot() []*Context {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Context, 0, len(h.contexts))
	for _, c := range h.contexts {
		out = append(out, c)
	}
	return out
}

func (h *Host) remove(id string) *Context {
	h.mu.Lock()
	c, ok := h.contexts[id]
	if ok {
		delete(h.contexts, id)
	}
	n := len(h.contexts)
	h.mu.Unlock()
	if !ok {
		return nil
	}
	metrics.ActiveContexts.Set(float64(n))
	return c
}
