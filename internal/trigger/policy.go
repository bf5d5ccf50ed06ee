// Package trigger decides when lead-capture prompts should be shown.
package trigger

import (
	"errors"
	"fmt"

	"github.com/gyaneshwarpardhi/engage/internal/expr"
	"github.com/gyaneshwarpardhi/engage/internal/score"
	"github.com/gyaneshwarpardhi/engage/internal/session"
)

// Prompt names shared with the UI shim.
const (
	PromptQuickQuote = "quickQuoteModal"
	PromptExitIntent = "exitIntentModal"
	PromptEngagement = "engagementPrompt"
	PromptStickyBar  = "stickyContactBar"
)

// Kind says which stimulus evaluates a rule.
type Kind string

const (
	OnTick       Kind = "tick"
	OnExitIntent Kind = "exit_intent"
)

// ShouldShowEngagementPrompt reports whether an engaged, unconverted visitor
// should be offered the engagement prompt.
func ShouldShowEngagementPrompt(s session.Session) bool {
	return score.Compute(s) > 30 && s.SecondsOnSite > 45 && !s.IsConverted
}

// ShouldShowExitIntent reports whether a visitor leaving the page should be
// offered the exit-intent modal.
func ShouldShowExitIntent(s session.Session) bool {
	return score.Compute(s) > 15 && s.SecondsOnSite > 20 && !s.IsConverted
}

// Rule binds a prompt to the condition that shows it.
type Rule struct {
	Prompt        string
	Expression    string
	Trigger       Kind
	CooldownHours float64
	OneShot       bool

	program *expr.Program
}

// Policy is an immutable, compiled rule set.
type Policy struct {
	rules []Rule
}

var errEmptyPolicy = errors.New("trigger: policy has no rules")

// NewPolicy compiles every rule, rejects variables Vars does not provide and
// dry-runs the rule against an empty session, so bad rules fail at load time
// rather than on a tick.
func NewPolicy(rules []Rule) (*Policy, error) {
	if len(rules) == 0 {
		return nil, errEmptyPolicy
	}
	known := Vars(session.Session{})
	seen := make(map[string]bool, len(rules))
	out := make([]Rule, 0, len(rules))
	for i, r := range rules {
		if r.Prompt == "" {
			return nil, fmt.Errorf("trigger: rule %d: prompt is required", i)
		}
		if seen[r.Prompt] {
			return nil, fmt.Errorf("trigger: rule %d: duplicate prompt %q", i, r.Prompt)
		}
		seen[r.Prompt] = true
		switch r.Trigger {
		case "":
			r.Trigger = OnTick
		case OnTick, OnExitIntent:
		default:
			return nil, fmt.Errorf("trigger: rule %q: unknown trigger %q", r.Prompt, r.Trigger)
		}
		if r.CooldownHours < 0 {
			return nil, fmt.Errorf("trigger: rule %q: negative cooldown", r.Prompt)
		}
		p, err := expr.Compile(r.Expression)
		if err != nil {
			return nil, fmt.Errorf("trigger: rule %q: %w", r.Prompt, err)
		}
		for _, name := range p.Idents() {
			if _, ok := known[name]; !ok {
				return nil, fmt.Errorf("trigger: rule %q: unknown variable %q", r.Prompt, name)
			}
		}
		if _, err := p.Eval(known); err != nil {
			return nil, fmt.Errorf("trigger: rule %q: %w", r.Prompt, err)
		}
		r.program = p
		out = append(out, r)
	}
	return &Policy{rules: out}, nil
}

// DefaultPolicy mirrors ShouldShowEngagementPrompt and ShouldShowExitIntent.
func DefaultPolicy() *Policy {
	p, err := NewPolicy([]Rule{
		{
			Prompt:     PromptEngagement,
			Expression: "score > 30 AND seconds_on_site > 45",
			Trigger:    OnTick,
		},
		{
			Prompt:     PromptExitIntent,
			Expression: "score > 15 AND seconds_on_site > 20",
			Trigger:    OnExitIntent,
			OneShot:    true,
		},
	})
	if err != nil {
		panic(err)
	}
	return p
}

// Rules returns a copy of the rule list.
func (p *Policy) Rules() []Rule {
	return append([]Rule(nil), p.rules...)
}

// Rule looks a rule up by prompt name.
func (p *Policy) Rule(prompt string) (Rule, bool) {
	for _, r := range p.rules {
		if r.Prompt == prompt {
			return r, true
		}
	}
	return Rule{}, false
}

// Match evaluates r against s. A converted session never matches.
func (r Rule) Match(s session.Session) (bool, error) {
	if s.IsConverted {
		return false, nil
	}
	if r.program == nil {
		return false, fmt.Errorf("trigger: rule %q is not compiled", r.Prompt)
	}
	return r.program.Eval(Vars(s))
}

// Vars exposes a session to rule expressions.
func Vars(s session.Session) expr.Vars {
	return expr.Vars{
		"score":            score.Compute(s),
		"seconds_on_site":  s.SecondsOnSite,
		"pages_viewed":     len(s.PagesViewed),
		"max_scroll_depth": s.MaxScrollDepth,
		"intent_events":    s.IntentEvents(),
		"converted":        s.IsConverted,
		"device":           string(s.DeviceClass),
	}
}
