// Package dismissal records how long a dismissed prompt stays suppressed.
package dismissal

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/gyaneshwarpardhi/engage/internal/clock"
	"github.com/gyaneshwarpardhi/engage/internal/kv"
	"github.com/gyaneshwarpardhi/engage/internal/metrics"
)

// DefaultCooldownHours is the cooldown every current prompt uses.
const DefaultCooldownHours = 24

// MaxCooldownHours caps a cooldown at ten years, well inside time.Duration.
const MaxCooldownHours = 10 * 365 * 24

const keyPrefix = "dismissed:"

// Record is the cooldown state of one prompt.
type Record struct {
	PromptName      string    `json:"promptName"`
	SuppressedUntil time.Time `json:"suppressedUntil"`
}

// Store answers "may this prompt be shown again yet".
// Every lookup goes to the backing kv.Store so a dismissal written by another
// tab or replica is seen immediately.
type Store struct {
	kv        kv.Store
	clock     clock.Clock
	logger    zerolog.Logger
	namespace string
}

// Option configures a Store.
type Option func(*Store)

// WithNamespace scopes records to one browser profile.
func WithNamespace(profileID string) Option {
	return func(s *Store) { s.namespace = profileID }
}

// New creates a Store over backing storage.
func New(store kv.Store, clk clock.Clock, logger zerolog.Logger, opts ...Option) *Store {
	s := &Store{kv: store, clock: clk, logger: logger}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ForProfile returns a Store sharing backing storage but scoped to profileID.
func (s *Store) ForProfile(profileID string) *Store {
	cp := *s
	cp.namespace = profileID
	return &cp
}

func (s *Store) key(prompt string) string {
	if s.namespace == "" {
		return keyPrefix + prompt
	}
	return s.namespace + ":" + keyPrefix + prompt
}

// IsDismissed reports whether prompt is still inside its cooldown.
// Storage failures count as "not dismissed".
func (s *Store) IsDismissed(ctx context.Context, prompt string) bool {
	until, ok := s.SuppressedUntil(ctx, prompt)
	if !ok {
		return false
	}
	return s.clock.Now().Before(until)
}

// SuppressedUntil returns the stored cooldown end, if a readable record exists.
func (s *Store) SuppressedUntil(ctx context.Context, prompt string) (time.Time, bool) {
	raw, ok, err := s.kv.Get(ctx, s.key(prompt))
	if err != nil {
		metrics.StorageErrors.WithLabelValues("dismissal_get").Inc()
		s.logger.Warn().Err(err).Str("prompt", prompt).Msg("dismissal lookup failed, showing prompt")
		return time.Time{}, false
	}
	if !ok {
		return time.Time{}, false
	}
	until, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		s.logger.Warn().Err(err).Str("prompt", prompt).Str("value", raw).Msg("corrupt dismissal record ignored")
		return time.Time{}, false
	}
	return until, true
}

// cooldown converts hours to a duration, saturating at MaxCooldownHours.
// NaN and negative values mean no cooldown.
func cooldown(hours float64) time.Duration {
	switch {
	case hours > MaxCooldownHours:
		hours = MaxCooldownHours
	case !(hours > 0):
		return 0
	}
	return time.Duration(hours * float64(time.Hour))
}

// Dismiss suppresses prompt for the given number of hours from now.
// Write failures are logged and otherwise ignored.
func (s *Store) Dismiss(ctx context.Context, prompt string, hours float64) Record {
	rec := Record{
		PromptName:      prompt,
		SuppressedUntil: s.clock.Now().Add(cooldown(hours)),
	}
	if err := s.kv.Set(ctx, s.key(prompt), rec.SuppressedUntil.UTC().Format(time.RFC3339Nano)); err != nil {
		metrics.StorageErrors.WithLabelValues("dismissal_set").Inc()
		s.logger.Warn().Err(fmt.Errorf("dismiss %s: %w", prompt, err)).Msg("dismissal not persisted")
		return rec
	}
	metrics.Dismissals.WithLabelValues(prompt).Inc()
	return rec
}
