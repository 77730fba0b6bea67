// Package summary produces the token-efficient log and flow digests
// described in spec §4.8: counts, fuzzy-deduplicated top error patterns,
// resolution detection, lifecycle event mentions and a prose paragraph for
// logs; by-host aggregation, top error patterns and top slow requests for
// flows. Generation is purely template-based, never an external model call.
package summary

import "regexp"

var (
	uuidPattern   = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
	hexPattern    = regexp.MustCompile(`0[xX][0-9a-fA-F]+`)
	numberPattern = regexp.MustCompile(`[0-9]+`)
)

// normalizePattern collapses numerals, UUIDs and hex addresses out of a
// message so that otherwise-identical errors differing only by an
// instance-specific id or pid group together, per spec §4.8's fuzzy dedup
// rule. UUIDs and hex addresses are folded first since they themselves
// contain digits that would otherwise be collapsed piecemeal.
func normalizePattern(message string) string {
	s := uuidPattern.ReplaceAllString(message, "<uuid>")
	s = hexPattern.ReplaceAllString(s, "<hex>")
	s = numberPattern.ReplaceAllString(s, "#")
	return s
}
