// Package observer translates browser signals into recorder calls. Observers
// hold no business logic of their own.
package observer

import (
	"context"
	"math"
	"strings"

	"github.com/rs/zerolog"

	"github.com/gyaneshwarpardhi/engage/internal/metrics"
	"github.com/gyaneshwarpardhi/engage/internal/session"
	"github.com/gyaneshwarpardhi/engage/internal/trigger"
)

// DefaultExitThreshold is the clientY, in pixels, below which a pointer leaving
// the document counts as an exit gesture.
const DefaultExitThreshold = 50

// Flusher persists and ships the session when the page may be going away.
type Flusher interface {
	Flush(ctx context.Context, reason string)
}

// ExitHandler reacts to an exit gesture.
type ExitHandler interface {
	OnExitGesture(ctx context.Context) []trigger.Decision
}

// Hub owns the observers of one browsing context.
type Hub struct {
	rec           *session.Recorder
	flusher       Flusher
	exit          ExitHandler
	exitThreshold float64
	logger        zerolog.Logger
}

type Option func(*Hub)

// WithExitThreshold overrides DefaultExitThreshold.
func WithExitThreshold(px float64) Option {
	return func(h *Hub) {
		if px > 0 {
			h.exitThreshold = px
		}
	}
}

// NewHub wires the observers. flusher and exit may be nil.
func NewHub(rec *session.Recorder, flusher Flusher, exit ExitHandler, logger zerolog.Logger, opts ...Option) *Hub {
	h := &Hub{
		rec:           rec,
		flusher:       flusher,
		exit:          exit,
		exitThreshold: DefaultExitThreshold,
		logger:        logger,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Dispatch routes sig to its observer. Unknown signals are ignored.
func (h *Hub) Dispatch(ctx context.Context, sig Signal) {
	if sig == nil {
		return
	}
	metrics.SignalsIngested.WithLabelValues(sig.Name()).Inc()
	switch s := sig.(type) {
	case ScrollSignal:
		h.onScroll(s)
	case ClickSignal:
		h.onClick(s)
	case VisibilitySignal:
		if s.Hidden {
			h.flush(ctx, "hidden")
		}
	case UnloadSignal:
		h.flush(ctx, "unload")
	case NavigateSignal:
		if err := h.rec.Navigate(s.Path); err != nil {
			h.logger.Debug().Err(err).Msg("navigate ignored")
		}
	case PointerSignal:
		if s.ClientY < h.exitThreshold && h.exit != nil {
			h.exit.OnExitGesture(ctx)
		}
	default:
		h.logger.Debug().Str("signal", sig.Name()).Msg("unhandled signal")
	}
}

// ScrollDepth converts a scroll position into a 0..100 percentage. ok is false
// when the document is not scrollable.
func ScrollDepth(s ScrollSignal) (depth int, ok bool) {
	scrollable := s.ScrollHeight - s.ViewportHeight
	if scrollable <= 0 {
		return 0, false
	}
	// Clamp before converting: int(±Inf) is implementation defined.
	pct := s.ScrollTop / scrollable * 100
	switch {
	case !(pct > 0):
		return 0, true
	case pct > 100:
		return 100, true
	}
	return int(math.Round(pct)), true
}

func (h *Hub) onScroll(s ScrollSignal) {
	if d, ok := ScrollDepth(s); ok {
		h.rec.ObserveScroll(d)
	}
}

func (h *Hub) onClick(s ClickSignal) {
	href := strings.TrimSpace(s.Href)
	switch {
	case hasScheme(href, "tel:"):
		h.rec.TrackPhoneClick(href)
	case hasScheme(href, "mailto:"):
		h.rec.TrackEmailClick(href)
	}
}

func (h *Hub) flush(ctx context.Context, reason string) {
	if h.flusher != nil {
		h.flusher.Flush(ctx, reason)
	}
}

func hasScheme(href, scheme string) bool {
	return len(href) >= len(scheme) && strings.EqualFold(href[:len(scheme)], scheme)
}
