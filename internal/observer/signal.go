package observer

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Signal is a raw browser observation forwarded by the page shim.
type Signal interface {
	Name() string
}

// ScrollSignal carries the document scroll position in CSS pixels.
type ScrollSignal struct {
	ScrollTop      float64 `json:"scrollTop"`
	ScrollHeight   float64 `json:"scrollHeight"`
	ViewportHeight float64 `json:"viewportHeight"`
}

// ClickSignal carries the href of the nearest anchor around the click target,
// empty when the click did not land inside a link.
type ClickSignal struct {
	Href string `json:"href"`
}

type VisibilitySignal struct {
	Hidden bool `json:"hidden"`
}

type UnloadSignal struct{}

// NavigateSignal reports an in-app route change.
type NavigateSignal struct {
	Path string `json:"path"`
}

// PointerSignal is sent when the cursor leaves the document.
type PointerSignal struct {
	ClientY float64 `json:"clientY"`
}

func (ScrollSignal) Name() string     { return "scroll" }
func (ClickSignal) Name() string      { return "click" }
func (VisibilitySignal) Name() string { return "visibility" }
func (UnloadSignal) Name() string     { return "unload" }
func (NavigateSignal) Name() string   { return "navigate" }
func (PointerSignal) Name() string    { return "pointer" }

// ErrUnknownSignal is returned by Decode for an unrecognised type tag.
var ErrUnknownSignal = errors.New("observer: unknown signal type")

// Decode parses one signal from its wire form {"type": "...", ...fields}.
func Decode(raw json.RawMessage) (Signal, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("observer: decode signal: %w", err)
	}
	var sig Signal
	switch head.Type {
	case "scroll":
		var s ScrollSignal
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("observer: decode %s: %w", head.Type, err)
		}
		sig = s
	case "click":
		var s ClickSignal
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("observer: decode %s: %w", head.Type, err)
		}
		sig = s
	case "visibility":
		var s VisibilitySignal
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("observer: decode %s: %w", head.Type, err)
		}
		sig = s
	case "unload":
		sig = UnloadSignal{}
	case "navigate":
		var s NavigateSignal
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("observer: decode %s: %w", head.Type, err)
		}
		sig = s
	case "pointer":
		var s PointerSignal
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("observer: decode %s: %w", head.Type, err)
		}
		sig = s
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSignal, head.Type)
	}
	return sig, nil
}
