package score

import "github.com/gyaneshwarpardhi/engage/internal/session"

// Insights summarises a scored session for whoever receives its beacons.
func Insights(s session.Session, total int) []string {
	var out []string
	switch {
	case total > 70:
		out = append(out, "High engagement - excellent prospect")
	case total > 40:
		out = append(out, "Moderate engagement - good lead potential")
	default:
		out = append(out, "Low engagement - may need different approach")
	}
	if s.SecondsOnSite > 120 {
		out = append(out, "Spent significant time on site - strong interest")
	}
	if len(s.PagesViewed) > 3 {
		out = append(out, "Explored multiple pages - researching actively")
	}
	if s.MaxScrollDepth > 75 {
		out = append(out, "Read content thoroughly - engaged reader")
	}
	if s.DeviceClass == session.DeviceMobile {
		out = append(out, "Mobile user - ensure mobile-optimized experience")
	}
	return out
}
