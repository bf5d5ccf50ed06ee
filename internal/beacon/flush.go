package beacon

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/gyaneshwarpardhi/engage/internal/kv"
	"github.com/gyaneshwarpardhi/engage/internal/metrics"
	"github.com/gyaneshwarpardhi/engage/internal/score"
	"github.com/gyaneshwarpardhi/engage/internal/session"
)

const snapshotPrefix = "leadSession:"

// Snapshots keeps the latest summary of each session in the local store.
type Snapshots struct {
	kv     kv.Store
	logger zerolog.Logger
}

func NewSnapshots(store kv.Store, logger zerolog.Logger) *Snapshots {
	return &Snapshots{kv: store, logger: logger}
}

// Save writes the session summary. Failures are logged and ignored.
func (s *Snapshots) Save(ctx context.Context, sess session.Session) {
	raw, err := json.Marshal(sess.Summary())
	if err == nil {
		err = s.kv.Set(ctx, snapshotPrefix+sess.ID, string(raw))
	}
	if err != nil {
		metrics.StorageErrors.WithLabelValues("snapshot_set").Inc()
		s.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("session snapshot not saved")
	}
}

// Load returns the last saved summary for id.
func (s *Snapshots) Load(ctx context.Context, id string) (session.Session, bool, error) {
	raw, ok, err := s.kv.Get(ctx, snapshotPrefix+id)
	if err != nil || !ok {
		return session.Session{}, false, err
	}
	var sess session.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return session.Session{}, false, fmt.Errorf("decode snapshot %s: %w", id, err)
	}
	return sess, true, nil
}

// Flusher binds one recorder to the sender and the snapshot store. It is the
// page-hide and unload hook of a browsing context.
type Flusher struct {
	rec       *session.Recorder
	sender    *Sender
	snapshots *Snapshots
	logger    zerolog.Logger
}

// NewFlusher wires a flush hook. snapshots may be nil.
func NewFlusher(rec *session.Recorder, sender *Sender, snapshots *Snapshots, logger zerolog.Logger) *Flusher {
	return &Flusher{rec: rec, sender: sender, snapshots: snapshots, logger: logger}
}

func (f *Flusher) Flush(ctx context.Context, reason string) {
	sess := f.rec.Snapshot()
	if sess.ID == "" {
		return
	}
	total := score.Compute(sess)
	metrics.EngagementScore.Observe(float64(total))
	f.logger.Debug().Str("reason", reason).Int("score", total).Int("events", len(sess.Events)).Msg("flushing session")

	f.sender.FlushOnHide(sess)
	if f.snapshots != nil {
		f.snapshots.Save(ctx, sess)
	}
}
