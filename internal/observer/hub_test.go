package observer_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/engage/internal/clock"
	"github.com/gyaneshwarpardhi/engage/internal/event"
	"github.com/gyaneshwarpardhi/engage/internal/observer"
	"github.com/gyaneshwarpardhi/engage/internal/session"
	"github.com/gyaneshwarpardhi/engage/internal/trigger"
)

type flushSpy struct{ reasons []string }

func (f *flushSpy) Flush(_ context.Context, reason string) { f.reasons = append(f.reasons, reason) }

type exitSpy struct{ calls int }

func (e *exitSpy) OnExitGesture(context.Context) []trigger.Decision {
	e.calls++
	return nil
}

func newHub(t *testing.T, opts ...observer.Option) (*observer.Hub, *session.Recorder, *flushSpy, *exitSpy) {
	t.Helper()
	rec := session.NewRecorder(clock.NewFake(time.Unix(1_700_000_000, 0)), nil, zerolog.Nop())
	rec.Start(session.StartContext{SessionID: "s1", Path: "/", ViewportWidth: 1440})
	fl, ex := &flushSpy{}, &exitSpy{}
	return observer.NewHub(rec, fl, ex, zerolog.Nop(), opts...), rec, fl, ex
}

func kinds(s session.Session) []event.Kind {
	out := make([]event.Kind, 0, len(s.Events))
	for _, e := range s.Events {
		out = append(out, e.Kind)
	}
	return out
}

func TestScrollDepth(t *testing.T) {
	cases := []struct {
		name   string
		sig    observer.ScrollSignal
		want   int
		wantOK bool
	}{
		{"top", observer.ScrollSignal{ScrollTop: 0, ScrollHeight: 2000, ViewportHeight: 800}, 0, true},
		{"half", observer.ScrollSignal{ScrollTop: 600, ScrollHeight: 2000, ViewportHeight: 800}, 50, true},
		{"rounds", observer.ScrollSignal{ScrollTop: 299, ScrollHeight: 2000, ViewportHeight: 800}, 25, true},
		{"bottom", observer.ScrollSignal{ScrollTop: 1200, ScrollHeight: 2000, ViewportHeight: 800}, 100, true},
		{"overscroll clamped", observer.ScrollSignal{ScrollTop: 1500, ScrollHeight: 2000, ViewportHeight: 800}, 100, true},
		{"negative clamped", observer.ScrollSignal{ScrollTop: -40, ScrollHeight: 2000, ViewportHeight: 800}, 0, true},
		{"huge offset", observer.ScrollSignal{ScrollTop: 1e308, ScrollHeight: 801, ViewportHeight: 800}, 100, true},
		{"huge negative offset", observer.ScrollSignal{ScrollTop: -1e308, ScrollHeight: 801, ViewportHeight: 800}, 0, true},
		{"not scrollable", observer.ScrollSignal{ScrollTop: 0, ScrollHeight: 800, ViewportHeight: 800}, 0, false},
		{"shorter than viewport", observer.ScrollSignal{ScrollHeight: 500, ViewportHeight: 800}, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := observer.ScrollDepth(tc.sig)
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestHub_Scroll(t *testing.T) {
	h, rec, _, _ := newHub(t)
	ctx := context.Background()

	h.Dispatch(ctx, observer.ScrollSignal{ScrollTop: 600, ScrollHeight: 2000, ViewportHeight: 800})
	h.Dispatch(ctx, observer.ScrollSignal{ScrollTop: 0, ScrollHeight: 800, ViewportHeight: 800})
	h.Dispatch(ctx, observer.ScrollSignal{ScrollTop: 300, ScrollHeight: 2000, ViewportHeight: 800})

	s := rec.Snapshot()
	assert.Equal(t, 50, s.MaxScrollDepth)
	assert.Equal(t, []event.Kind{event.KindPageView, event.KindScrollDepth, event.KindScrollDepth}, kinds(s))
}

func TestHub_Click(t *testing.T) {
	cases := []struct {
		href      string
		wantKind  event.Kind
		wantConv  session.ConversionKind
		wantEvent bool
	}{
		{"tel:(602) 818-5834", event.KindPhoneClick, session.ConversionPhoneCall, true},
		{"TEL:+15550100", event.KindPhoneClick, session.ConversionPhoneCall, true},
		{"mailto:help@example.com", event.KindEmailClick, session.ConversionEmail, true},
		{"MailTo:help@example.com?subject=hi", event.KindEmailClick, session.ConversionEmail, true},
		{"https://example.com/contact", "", "", false},
		{"", "", "", false},
		{"tel", "", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.href, func(t *testing.T) {
			h, rec, _, _ := newHub(t)
			h.Dispatch(context.Background(), observer.ClickSignal{Href: tc.href})
			s := rec.Snapshot()
			if !tc.wantEvent {
				assert.Len(t, s.Events, 1)
				assert.False(t, s.IsConverted)
				return
			}
			require.Len(t, s.Events, 2)
			assert.Equal(t, tc.wantKind, s.Events[1].Kind)
			assert.True(t, s.IsConverted)
			assert.Equal(t, tc.wantConv, s.ConversionKind)
		})
	}
}

func TestHub_FlushOnHiddenAndUnload(t *testing.T) {
	h, _, fl, _ := newHub(t)
	ctx := context.Background()

	h.Dispatch(ctx, observer.VisibilitySignal{Hidden: false})
	h.Dispatch(ctx, observer.VisibilitySignal{Hidden: true})
	h.Dispatch(ctx, observer.UnloadSignal{})

	assert.Equal(t, []string{"hidden", "unload"}, fl.reasons)
}

func TestHub_Navigate(t *testing.T) {
	h, rec, _, _ := newHub(t)
	h.Dispatch(context.Background(), observer.NavigateSignal{Path: "/services"})
	assert.Equal(t, "/services", rec.CurrentPath())
	assert.Equal(t, []string{"/", "/services"}, rec.Snapshot().PagesViewed)
}

func TestHub_ExitGesture(t *testing.T) {
	h, _, _, ex := newHub(t)
	ctx := context.Background()

	h.Dispatch(ctx, observer.PointerSignal{ClientY: 300})
	h.Dispatch(ctx, observer.PointerSignal{ClientY: 50})
	assert.Equal(t, 0, ex.calls)

	h.Dispatch(ctx, observer.PointerSignal{ClientY: 49})
	h.Dispatch(ctx, observer.PointerSignal{ClientY: -5})
	assert.Equal(t, 2, ex.calls)
}

func TestHub_CustomExitThreshold(t *testing.T) {
	h, _, _, ex := newHub(t, observer.WithExitThreshold(10))
	h.Dispatch(context.Background(), observer.PointerSignal{ClientY: 20})
	h.Dispatch(context.Background(), observer.PointerSignal{ClientY: 5})
	assert.Equal(t, 1, ex.calls)
}

func TestHub_NilCollaborators(t *testing.T) {
	rec := session.NewRecorder(clock.Real{}, nil, zerolog.Nop())
	h := observer.NewHub(rec, nil, nil, zerolog.Nop())
	ctx := context.Background()
	assert.NotPanics(t, func() {
		h.Dispatch(ctx, nil)
		h.Dispatch(ctx, observer.UnloadSignal{})
		h.Dispatch(ctx, observer.PointerSignal{ClientY: 0})
		h.Dispatch(ctx, observer.NavigateSignal{Path: "/x"}) // recorder not started
		h.Dispatch(ctx, observer.ClickSignal{Href: "tel:1"})
	})
}

func TestDecode(t *testing.T) {
	cases := []struct {
		raw  string
		want observer.Signal
	}{
		{`{"type":"scroll","scrollTop":10,"scrollHeight":100,"viewportHeight":50}`, observer.ScrollSignal{ScrollTop: 10, ScrollHeight: 100, ViewportHeight: 50}},
		{`{"type":"click","href":"tel:1"}`, observer.ClickSignal{Href: "tel:1"}},
		{`{"type":"visibility","hidden":true}`, observer.VisibilitySignal{Hidden: true}},
		{`{"type":"unload"}`, observer.UnloadSignal{}},
		{`{"type":"navigate","path":"/a"}`, observer.NavigateSignal{Path: "/a"}},
		{`{"type":"pointer","clientY":12}`, observer.PointerSignal{ClientY: 12}},
	}
	for _, tc := range cases {
		got, err := observer.Decode(json.RawMessage(tc.raw))
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got)
	}

	_, err := observer.Decode(json.RawMessage(`{"type":"resize"}`))
	assert.True(t, errors.Is(err, observer.ErrUnknownSignal))

	_, err = observer.Decode(json.RawMessage(`{"type":"scroll","scrollTop":"high"}`))
	assert.Error(t, err)

	_, err = observer.Decode(json.RawMessage(`not json`))
	assert.Error(t, err)
}
