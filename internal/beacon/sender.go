// Package beacon ships session telemetry to the ingestion endpoint on a
// best-effort basis: nothing here ever blocks a caller or returns an error.
package beacon

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/gyaneshwarpardhi/engage/internal/event"
	"github.com/gyaneshwarpardhi/engage/internal/metrics"
	"github.com/gyaneshwarpardhi/engage/internal/session"
)

const (
	ModeImmediate = "immediate"
	ModeFlush     = "flush"
)

// Config controls the send pool.
type Config struct {
	Workers     int
	QueueDepth  int
	FlushWindow int           // events included in a flush beacon
	Timeout     time.Duration // per send
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 256
	}
	if c.FlushWindow <= 0 {
		c.FlushWindow = 10
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	return c
}

// Sender hands payloads to a Transport from a bounded worker pool.
// It satisfies session.Dispatcher.
type Sender struct {
	transport Transport
	cfg       Config
	logger    zerolog.Logger
	pool      *pool[Payload]
}

var _ session.Dispatcher = (*Sender)(nil)

// NewSender starts the pool. Workers exit once Close drains the queue.
func NewSender(ctx context.Context, transport Transport, cfg Config, logger zerolog.Logger) *Sender {
	if transport == nil {
		transport = NopTransport{}
	}
	s := &Sender{
		transport: transport,
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
	s.pool = newPool[Payload](ctx, s.cfg.Workers, s.cfg.QueueDepth, s.send)
	return s
}

// SendImmediate queues events for delivery right away, bypassing batching.
func (s *Sender) SendImmediate(sess session.Session, events []event.Event) {
	s.enqueue(newPayload(sess, events, ModeImmediate))
}

// FlushOnHide queues the session together with its most recent events.
// It does not wait for delivery.
func (s *Sender) FlushOnHide(sess session.Session) {
	s.enqueue(newPayload(sess, sess.LastEvents(s.cfg.FlushWindow), ModeFlush))
}

// newPayload carries the whole session, event log included. Ingestion reads
// session.events, so neither event list may encode as null.
func newPayload(sess session.Session, events []event.Event, mode string) Payload {
	if sess.Events == nil {
		sess.Events = []event.Event{}
	}
	if events == nil {
		events = []event.Event{}
	}
	return Payload{Session: sess, Events: events, Mode: mode}
}

func (s *Sender) enqueue(p Payload) {
	if !s.pool.Submit(p) {
		metrics.BeaconsDropped.Inc()
		s.logger.Warn().Str("session_id", p.Session.ID).Str("mode", p.Mode).Msg("beacon queue full, payload dropped")
	}
	metrics.BeaconQueueUtilization.Set(s.Utilization())
}

func (s *Sender) send(ctx context.Context, p Payload) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	if err := s.transport.Send(ctx, p); err != nil {
		metrics.BeaconsSent.WithLabelValues(p.Mode, "error").Inc()
		s.logger.Warn().Err(err).Str("session_id", p.Session.ID).Str("mode", p.Mode).Msg("beacon not delivered")
		return
	}
	metrics.BeaconsSent.WithLabelValues(p.Mode, "ok").Inc()
}

// Utilization is the fraction of the queue currently in use.
func (s *Sender) Utilization() float64 {
	return float64(s.pool.QueueLen()) / float64(s.pool.QueueCap())
}

// Close delivers what is queued and releases the transport.
func (s *Sender) Close() error {
	s.pool.Drain()
	metrics.BeaconQueueUtilization.Set(0)
	return s.transport.Close()
}
