package device

import (
	"strings"

	"github.com/quern/quern/internal/models"
)

// switchOffsetFraction is the fraction of frame width used to hit a
// switch's knob rather than its geometric center, per spec §4.6.
const switchOffsetFraction = 0.85

// defaultTapDurationMillis is the minimum reliable tap duration spec §4.6
// calls out; zero-duration taps are silently ignored by some controls.
const defaultTapDurationMillis = 50

// isSwitchLike reports whether element should use the switch tap-point
// offset instead of its frame center.
func isSwitchLike(element *models.UIElement) bool {
	switch element.Type {
	case "CheckBox", "Switch":
		return true
	}
	if strings.EqualFold(element.RoleDescription, "switch") {
		return true
	}
	for _, trait := range element.Traits {
		if strings.EqualFold(trait, "switch") {
			return true
		}
	}
	return false
}

// GetTapPoint computes the (x, y) to tap for element, per spec §4.6's
// get_tap_point algorithm: switch-like elements offset to 85% of frame
// width to hit the knob; everything else uses the frame center.
func GetTapPoint(element *models.UIElement) (x, y float64) {
	f := element.Frame
	if isSwitchLike(element) {
		return f.X + f.W*switchOffsetFraction, f.CenterY()
	}
	return f.CenterX(), f.CenterY()
}

// ElementFilter narrows a tap_element lookup by label/identifier/type, per
// spec §4.6. Label ∪ identifier ∪ type: any non-empty field must match the
// corresponding attribute.
type ElementFilter struct {
	Label       string
	Identifier  string
	ElementType string
}

func (f ElementFilter) matches(e *models.UIElement) bool {
	if f.Label != "" && e.Label != f.Label {
		return false
	}
	if f.Identifier != "" && e.Identifier != f.Identifier {
		return false
	}
	if f.ElementType != "" && e.Type != f.ElementType {
		return false
	}
	return f.Label != "" || f.Identifier != "" || f.ElementType != ""
}

// FindElements returns every element in tree matching filter.
func FindElements(tree *models.UIElement, filter ElementFilter) []*models.UIElement {
	var matches []*models.UIElement
	for _, e := range models.Flatten(tree) {
		if filter.matches(e) {
			matches = append(matches, e)
		}
	}
	return matches
}

// TapElementResult is the outcome of a tap_element call: exactly one of
// Tapped, Ambiguous or NotFound is populated, matching spec §4.6's
// "ambiguous is informational, not an error" rule.
type TapElementResult struct {
	Tapped     *models.UIElement
	TapX, TapY float64
	Ambiguous  []*models.UIElement
	NotFound   bool
}

// ResolveTapElement applies the 0/1/many-match rule from spec §4.6 without
// performing the tap itself, so callers can run the stability pre-tap
// check against a freshly re-read tree before committing.
func ResolveTapElement(tree *models.UIElement, filter ElementFilter) TapElementResult {
	matches := FindElements(tree, filter)
	switch len(matches) {
	case 0:
		return TapElementResult{NotFound: true}
	case 1:
		x, y := GetTapPoint(matches[0])
		return TapElementResult{Tapped: matches[0], TapX: x, TapY: y}
	default:
		return TapElementResult{Ambiguous: matches}
	}
}

// FramesEquivalent reports whether two frames are close enough to be
// considered "the same location" for the stability pre-tap check — exact
// equality would be too strict against sub-pixel jitter from repeated
// accessibility queries.
func FramesEquivalent(a, b models.Frame) bool {
	const epsilon = 0.5
	return absf(a.X-b.X) < epsilon && absf(a.Y-b.Y) < epsilon &&
		absf(a.W-b.W) < epsilon && absf(a.H-b.H) < epsilon
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
