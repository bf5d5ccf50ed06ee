package session

import (
	"github.com/gyaneshwarpardhi/engage/internal/event"
)

// Manual instrumentation for call sites the generic observers cannot see.
// None of these report failures: a tracking problem must never reach the
// page that called it, so errors and panics are logged and dropped here.

func (r *Recorder) swallow(op string, err error) {
	if err != nil {
		r.logger.Debug().Err(err).Str("op", op).Msg("tracking call dropped")
	}
}

func (r *Recorder) recoverTracking(op string) {
	if p := recover(); p != nil {
		r.logger.Error().Interface("panic", p).Str("op", op).Msg("tracking call panicked")
	}
}

// TrackPageView records a page_view for the current path.
func (r *Recorder) TrackPageView() {
	defer r.recoverTracking("trackPageView")
	r.swallow("trackPageView", r.RecordEvent(event.KindPageView, event.Payload{"path": r.CurrentPath()}))
}

// TrackCTAClick records a call-to-action click.
func (r *Recorder) TrackCTAClick(ctaType, location string) {
	defer r.recoverTracking("trackCTAClick")
	r.swallow("trackCTAClick", r.RecordEvent(event.KindCTAClick, event.Payload{"ctaType": ctaType, "location": location}))
}

// TrackFormStart records the first interaction with a lead form.
func (r *Recorder) TrackFormStart(formType string) {
	defer r.recoverTracking("trackFormStart")
	r.swallow("trackFormStart", r.RecordEvent(event.KindFormStart, event.Payload{"formType": formType}))
}

// TrackFormSubmit records a form submission. A successful quick_quote form
// converts as quick_quote, any other successful form as contact_form.
func (r *Recorder) TrackFormSubmit(formType string, success bool) {
	defer r.recoverTracking("trackFormSubmit")
	var conv ConversionKind
	if success {
		conv = ConversionContactForm
		if formType == string(ConversionQuickQuote) {
			conv = ConversionQuickQuote
		}
	}
	r.swallow("trackFormSubmit", r.record(event.KindFormSubmit, event.Payload{"formType": formType, "success": success}, conv))
}

// TrackPhoneClick records a tel: click and converts the session as phone_call.
func (r *Recorder) TrackPhoneClick(number string) {
	defer r.recoverTracking("trackPhoneClick")
	r.swallow("trackPhoneClick", r.record(event.KindPhoneClick, event.Payload{"phoneNumber": number}, ConversionPhoneCall))
}

// TrackEmailClick records a mailto: click and converts the session as email.
func (r *Recorder) TrackEmailClick(address string) {
	defer r.recoverTracking("trackEmailClick")
	r.swallow("trackEmailClick", r.record(event.KindEmailClick, event.Payload{"email": address}, ConversionEmail))
}
