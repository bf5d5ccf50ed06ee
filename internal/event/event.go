package event

import "time"

// Kind names one observed visitor behaviour.
type Kind string

const (
	KindPageView      Kind = "page_view"
	KindTimeMilestone Kind = "time_milestone"
	KindScrollDepth   Kind = "scroll_depth"
	KindCTAClick      Kind = "cta_click"
	KindFormStart     Kind = "form_start"
	KindFormSubmit    Kind = "form_submit"
	KindPhoneClick    Kind = "phone_click"
	KindEmailClick    Kind = "email_click"
)

// Kinds lists every known kind in declaration order.
var Kinds = []Kind{
	KindPageView,
	KindTimeMilestone,
	KindScrollDepth,
	KindCTAClick,
	KindFormStart,
	KindFormSubmit,
	KindPhoneClick,
	KindEmailClick,
}

// Valid reports whether k is part of the taxonomy.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// HighPriority kinds are beaconed immediately instead of waiting for a flush.
func (k Kind) HighPriority() bool {
	switch k {
	case KindFormSubmit, KindPhoneClick, KindEmailClick:
		return true
	}
	return false
}

// Intent kinds count towards the intent contribution of the engagement score.
func (k Kind) Intent() bool {
	switch k {
	case KindCTAClick, KindFormStart, KindPhoneClick, KindEmailClick:
		return true
	}
	return false
}

// Payload is the kind-specific event data ({depth: 25}, {ctaType, location}, ...).
type Payload map[string]any

// Event is an immutable record of one observed behaviour.
type Event struct {
	Kind       Kind      `json:"type"`
	Payload    Payload   `json:"data,omitempty"`
	OccurredAt time.Time `json:"timestamp"`
	SessionID  string    `json:"sessionId"`
	Page       string    `json:"page"`
}

// Clone returns a copy whose payload map is not shared with e.
func (e Event) Clone() Event {
	if e.Payload != nil {
		p := make(Payload, len(e.Payload))
		for k, v := range e.Payload {
			p[k] = v
		}
		e.Payload = p
	}
	return e
}
