package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gyaneshwarpardhi/engage/internal/clock"
	"github.com/gyaneshwarpardhi/engage/internal/event"
	"github.com/gyaneshwarpardhi/engage/internal/metrics"
)

var (
	ErrNotStarted  = errors.New("session: recorder not started")
	ErrUnknownKind = errors.New("session: unknown event kind")
)

// DefaultMilestoneInterval is the number of seconds between time_milestone events.
const DefaultMilestoneInterval = 30

// Dispatcher receives high-priority events the moment they are recorded.
// Implementations must not block.
type Dispatcher interface {
	SendImmediate(s Session, events []event.Event)
}

// StartContext describes the page load that opens a session.
type StartContext struct {
	SessionID     string // optional; generated when empty
	Path          string
	Referrer      string
	ViewportWidth int
}

// Recorder is the only component allowed to mutate a Session.
// Each method runs to completion under the recorder lock, so tick and signal
// handlers never interleave; dispatch happens after the lock is released.
type Recorder struct {
	mu                sync.Mutex
	clock             clock.Clock
	dispatcher        Dispatcher
	logger            zerolog.Logger
	milestoneInterval int

	started bool
	path    string
	s       Session
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithMilestoneInterval overrides the time_milestone cadence in seconds.
func WithMilestoneInterval(seconds int) Option {
	return func(r *Recorder) {
		if seconds > 0 {
			r.milestoneInterval = seconds
		}
	}
}

// NewRecorder creates an unstarted Recorder. dispatcher may be nil.
func NewRecorder(clk clock.Clock, dispatcher Dispatcher, logger zerolog.Logger, opts ...Option) *Recorder {
	r := &Recorder{
		clock:             clk,
		dispatcher:        dispatcher,
		logger:            logger,
		milestoneInterval: DefaultMilestoneInterval,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// NewID returns an opaque session identifier.
func NewID(clk clock.Clock) string {
	entropy := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("session_%d_%s", clk.Now().UnixMilli(), entropy[:9])
}

// Start opens the session and records the landing page view. Only the first
// call has any effect; later calls return the existing session.
func (r *Recorder) Start(sc StartContext) Session {
	r.mu.Lock()
	if r.started {
		snap := r.s.Clone()
		r.mu.Unlock()
		return snap
	}
	id := sc.SessionID
	if id == "" {
		id = NewID(r.clock)
	}
	path := sc.Path
	if path == "" {
		path = "/"
	}
	r.started = true
	r.path = path
	r.s = Session{
		ID:          id,
		StartedAt:   r.clock.Now(),
		PagesViewed: []string{path},
		Events:      []event.Event{},
		DeviceClass: ClassifyDevice(sc.ViewportWidth),
		Referrer:    sc.Referrer,
	}
	r.logger = r.logger.With().Str("session_id", id).Logger()
	r.appendLocked(event.KindPageView, event.Payload{"path": path})
	snap := r.s.Clone()
	r.mu.Unlock()

	r.logger.Debug().Str("device", string(snap.DeviceClass)).Str("path", path).Msg("session started")
	return snap
}

// Started reports whether Start has run.
func (r *Recorder) Started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

// ID returns the session id, or "" before Start.
func (r *Recorder) ID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.s.ID
}

// CurrentPath returns the path active for new events.
func (r *Recorder) CurrentPath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

// RecordEvent appends an event for the current page. High-priority kinds are
// also handed to the dispatcher right away.
func (r *Recorder) RecordEvent(kind event.Kind, payload event.Payload) error {
	return r.record(kind, payload, "")
}

// record appends one event and, when conv is set, converts the session in the
// same critical section so the dispatched snapshot already carries it.
func (r *Recorder) record(kind event.Kind, payload event.Payload, conv ConversionKind) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return ErrNotStarted
	}
	ev := r.appendLocked(kind, payload)
	if conv != "" {
		r.convertLocked(conv)
	}
	var snap Session
	if kind.HighPriority() {
		snap = r.s.Clone()
	}
	r.mu.Unlock()

	r.logger.Debug().Str("kind", string(kind)).Str("page", ev.Page).Msg("event recorded")
	if kind.HighPriority() && r.dispatcher != nil {
		r.dispatcher.SendImmediate(snap, []event.Event{ev.Clone()})
	}
	return nil
}

func (r *Recorder) appendLocked(kind event.Kind, payload event.Payload) event.Event {
	ev := event.Event{
		Kind:       kind,
		Payload:    payload,
		OccurredAt: r.clock.Now(),
		SessionID:  r.s.ID,
		Page:       r.path,
	}
	r.s.Events = append(r.s.Events, ev)
	if kind == event.KindPageView && !contains(r.s.PagesViewed, r.path) {
		r.s.PagesViewed = append(r.s.PagesViewed, r.path)
	}
	metrics.EventsRecorded.WithLabelValues(string(kind)).Inc()
	return ev
}

func (r *Recorder) convertLocked(kind ConversionKind) bool {
	if r.s.IsConverted {
		return false
	}
	r.s.IsConverted = true
	r.s.ConversionKind = kind
	return true
}

// Navigate switches the current path after an in-app navigation and records
// a page_view for it.
func (r *Recorder) Navigate(path string) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return ErrNotStarted
	}
	r.path = path
	ev := r.appendLocked(event.KindPageView, event.Payload{"path": path})
	r.mu.Unlock()

	r.logger.Debug().Str("kind", string(ev.Kind)).Str("page", ev.Page).Msg("event recorded")
	return nil
}

// Tick advances the dwell counter by one second.
func (r *Recorder) Tick() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return
	}
	r.s.SecondsOnSite++
	if r.s.SecondsOnSite%r.milestoneInterval == 0 {
		r.appendLocked(event.KindTimeMilestone, event.Payload{"seconds": r.s.SecondsOnSite})
	}
}

// MarkConverted converts the session. The first kind wins; it reports whether
// this call changed anything.
func (r *Recorder) MarkConverted(kind ConversionKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return false
	}
	return r.convertLocked(kind)
}

// ObserveScroll folds a scroll depth percentage into the session and records
// each 25/50/75 threshold the first time it is crossed.
func (r *Recorder) ObserveScroll(depth int) {
	if depth < 0 {
		depth = 0
	}
	if depth > 100 {
		depth = 100
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started || depth <= r.s.MaxScrollDepth {
		return
	}
	r.s.MaxScrollDepth = depth
	for _, th := range ScrollThresholds {
		fired := r.s.ScrollMilestones.flag(th)
		if depth >= th && !*fired {
			*fired = true
			r.appendLocked(event.KindScrollDepth, event.Payload{"depth": th})
		}
	}
}

// MarkExitIntentShown sets the one-shot exit-intent latch. It returns false if
// the latch was already set.
func (r *Recorder) MarkExitIntentShown() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started || r.s.ExitIntentShown {
		return false
	}
	r.s.ExitIntentShown = true
	return true
}

// Snapshot returns a deep copy of the current session.
func (r *Recorder) Snapshot() Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.s.Clone()
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
