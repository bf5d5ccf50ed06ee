// Package session holds the per-visit state and its single authoritative mutator.
package session

import (
	"time"

	"github.com/gyaneshwarpardhi/engage/internal/event"
)

// DeviceClass is derived once from the viewport width at session start.
type DeviceClass string

const (
	DeviceDesktop DeviceClass = "desktop"
	DeviceTablet  DeviceClass = "tablet"
	DeviceMobile  DeviceClass = "mobile"
)

// ClassifyDevice maps a viewport width in CSS pixels to a device class.
func ClassifyDevice(viewportWidth int) DeviceClass {
	switch {
	case viewportWidth <= 768:
		return DeviceMobile
	case viewportWidth <= 1024:
		return DeviceTablet
	default:
		return DeviceDesktop
	}
}

// ConversionKind is the goal action that converted a session.
type ConversionKind string

const (
	ConversionQuickQuote  ConversionKind = "quick_quote"
	ConversionContactForm ConversionKind = "contact_form"
	ConversionPhoneCall   ConversionKind = "phone_call"
	ConversionEmail       ConversionKind = "email"
)

// ScrollThresholds are the depth percentages reported as scroll_depth events.
var ScrollThresholds = [...]int{25, 50, 75}

// ScrollMilestones records which thresholds already fired.
type ScrollMilestones struct {
	Reached25 bool `json:"25"`
	Reached50 bool `json:"50"`
	Reached75 bool `json:"75"`
}

func (m *ScrollMilestones) flag(threshold int) *bool {
	switch threshold {
	case 25:
		return &m.Reached25
	case 50:
		return &m.Reached50
	case 75:
		return &m.Reached75
	}
	return nil
}

// Session is one browsing-context visit. All latch state lives in plain
// fields so the whole value serialises into beacon snapshots.
type Session struct {
	ID               string           `json:"id"`
	StartedAt        time.Time        `json:"startTime"`
	SecondsOnSite    int              `json:"timeOnSite"`
	PagesViewed      []string         `json:"pagesViewed"`
	Events           []event.Event    `json:"events"`
	IsConverted      bool             `json:"isConverted"`
	ConversionKind   ConversionKind   `json:"conversionType,omitempty"`
	DeviceClass      DeviceClass      `json:"deviceType"`
	Referrer         string           `json:"referrer,omitempty"`
	MaxScrollDepth   int              `json:"maxScrollDepth"`
	ScrollMilestones ScrollMilestones `json:"scrollMilestones"`
	ExitIntentShown  bool             `json:"exitIntentShown"`
}

// Clone returns a deep copy of s.
func (s Session) Clone() Session {
	out := s
	out.PagesViewed = append([]string(nil), s.PagesViewed...)
	if s.Events != nil {
		out.Events = make([]event.Event, len(s.Events))
		for i, e := range s.Events {
			out.Events[i] = e.Clone()
		}
	}
	return out
}

// IntentEvents counts cta_click, form_start, phone_click and email_click events.
func (s Session) IntentEvents() int {
	n := 0
	for _, e := range s.Events {
		if e.Kind.Intent() {
			n++
		}
	}
	return n
}

// LastEvents returns up to n of the most recent events.
func (s Session) LastEvents(n int) []event.Event {
	if n <= 0 || len(s.Events) == 0 {
		return nil
	}
	if n > len(s.Events) {
		n = len(s.Events)
	}
	return append([]event.Event(nil), s.Events[len(s.Events)-n:]...)
}

// Summary is the session without its event log. Events is empty, not nil,
// so it encodes as [].
func (s Session) Summary() Session {
	out := s.Clone()
	out.Events = []event.Event{}
	return out
}
