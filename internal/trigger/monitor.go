package trigger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/gyaneshwarpardhi/engage/internal/clock"
	"github.com/gyaneshwarpardhi/engage/internal/dismissal"
	"github.com/gyaneshwarpardhi/engage/internal/metrics"
	"github.com/gyaneshwarpardhi/engage/internal/score"
	"github.com/gyaneshwarpardhi/engage/internal/session"
)

// Decision tells the UI to show a prompt.
type Decision struct {
	Prompt    string    `json:"prompt"`
	Trigger   Kind      `json:"trigger"`
	SessionID string    `json:"sessionId"`
	Score     int       `json:"score"`
	At        time.Time `json:"at"`
}

// Monitor turns level-sensitive rules into one-off show decisions for a single
// browsing context.
type Monitor struct {
	rec        *session.Recorder
	dismissals *dismissal.Store
	clock      clock.Clock
	logger     zerolog.Logger
	policy     atomic.Pointer[Policy]

	mu      sync.Mutex
	level   map[string]bool
	fired   map[string]bool
	subs    []func(Decision)
	pending []Decision
}

// NewMonitor wires a monitor to its session. A nil policy means DefaultPolicy.
func NewMonitor(rec *session.Recorder, dismissals *dismissal.Store, policy *Policy, clk clock.Clock, logger zerolog.Logger) *Monitor {
	if policy == nil {
		policy = DefaultPolicy()
	}
	m := &Monitor{
		rec:        rec,
		dismissals: dismissals,
		clock:      clk,
		logger:     logger,
		level:      make(map[string]bool),
		fired:      make(map[string]bool),
	}
	m.policy.Store(policy)
	return m
}

// SetPolicy swaps the rule set. Edge state is kept per prompt name.
func (m *Monitor) SetPolicy(p *Policy) {
	if p != nil {
		m.policy.Store(p)
	}
}

// Policy returns the active rule set.
func (m *Monitor) Policy() *Policy { return m.policy.Load() }

// Subscribe registers fn for every decision. Callbacks run on the goroutine
// that produced the decision and must not block.
func (m *Monitor) Subscribe(fn func(Decision)) {
	m.mu.Lock()
	m.subs = append(m.subs, fn)
	m.mu.Unlock()
}

// OnExitIntent registers fn for exit-intent decisions.
func (m *Monitor) OnExitIntent(fn func()) {
	m.Subscribe(func(d Decision) {
		if d.Trigger == OnExitIntent {
			fn()
		}
	})
}

// OnEngagementPrompt registers fn for the engagement prompt.
func (m *Monitor) OnEngagementPrompt(fn func()) {
	m.Subscribe(func(d Decision) {
		if d.Prompt == PromptEngagement {
			fn()
		}
	})
}

// Evaluate runs the tick rules and fires those whose condition just became
// true. Dismissed prompts consume their edge without firing.
func (m *Monitor) Evaluate(ctx context.Context) []Decision {
	s := m.rec.Snapshot()
	total := score.Compute(s)

	var out []Decision
	for _, r := range m.policy.Load().rules {
		if r.Trigger != OnTick {
			continue
		}
		ok, err := r.Match(s)
		if err != nil {
			m.logger.Warn().Err(err).Str("prompt", r.Prompt).Msg("rule evaluation failed")
			ok = false
		}

		m.mu.Lock()
		rising := ok && !m.level[r.Prompt]
		m.level[r.Prompt] = ok
		spent := r.OneShot && m.fired[r.Prompt]
		m.mu.Unlock()

		if !rising || spent || m.dismissals.IsDismissed(ctx, r.Prompt) {
			continue
		}
		m.mu.Lock()
		m.fired[r.Prompt] = true
		m.mu.Unlock()
		out = append(out, m.decide(r, s.ID, total))
	}
	m.emit(out)
	return out
}

// OnExitGesture evaluates the exit-intent rules after the cursor left the
// document. A one-shot rule consumes the session's exit-intent latch, so the
// modal is offered at most once per session.
func (m *Monitor) OnExitGesture(ctx context.Context) []Decision {
	s := m.rec.Snapshot()
	total := score.Compute(s)

	var out []Decision
	for _, r := range m.policy.Load().rules {
		if r.Trigger != OnExitIntent {
			continue
		}
		if r.OneShot && s.ExitIntentShown {
			continue
		}
		ok, err := r.Match(s)
		if err != nil {
			m.logger.Warn().Err(err).Str("prompt", r.Prompt).Msg("rule evaluation failed")
			continue
		}
		if !ok || m.dismissals.IsDismissed(ctx, r.Prompt) {
			continue
		}
		if r.OneShot && !m.rec.MarkExitIntentShown() {
			continue
		}
		out = append(out, m.decide(r, s.ID, total))
	}
	m.emit(out)
	return out
}

// Dismiss suppresses prompt for hours, falling back to the rule's cooldown and
// then to dismissal.DefaultCooldownHours.
func (m *Monitor) Dismiss(ctx context.Context, prompt string, hours float64) dismissal.Record {
	if hours <= 0 {
		if r, ok := m.policy.Load().Rule(prompt); ok && r.CooldownHours > 0 {
			hours = r.CooldownHours
		} else {
			hours = dismissal.DefaultCooldownHours
		}
	}
	return m.dismissals.Dismiss(ctx, prompt, hours)
}

// Drain returns and clears the decisions not yet collected by the UI.
func (m *Monitor) Drain() []Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.pending
	m.pending = nil
	return out
}

func (m *Monitor) decide(r Rule, sessionID string, total int) Decision {
	metrics.PromptDecisions.WithLabelValues(r.Prompt).Inc()
	m.logger.Info().Str("prompt", r.Prompt).Int("score", total).Msg("prompt triggered")
	return Decision{
		Prompt:    r.Prompt,
		Trigger:   r.Trigger,
		SessionID: sessionID,
		Score:     total,
		At:        m.clock.Now(),
	}
}

func (m *Monitor) emit(ds []Decision) {
	if len(ds) == 0 {
		return
	}
	m.mu.Lock()
	m.pending = append(m.pending, ds...)
	subs := make([]func(Decision), len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()
	for _, d := range ds {
		for _, fn := range subs {
			fn(d)
		}
	}
}
