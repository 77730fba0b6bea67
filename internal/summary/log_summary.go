package summary

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/quern/quern/internal/models"
)

// resolutionWindow bounds how far forward from a repeated error a
// same-subsystem info/notice message is searched for before it stops
// counting as a resolution, per spec §4.8's "within window" phrasing.
const resolutionWindow = 5 * time.Minute

var lifecycleKeywords = []string{"launch", "background", "foreground"}

var recoveryKeywords = []string{"connected", "recovered", "success", "succeeded", "resumed", "restored", "reachable", "reconnected"}

// ErrorPattern is one fuzzy-deduplicated group of repeated error/fault
// entries.
type ErrorPattern struct {
	Pattern   string
	Example   string
	Count     int
	FirstSeen time.Time
	LastSeen  time.Time
}

// ResolvedIssue records a repeated error pattern followed, within
// resolutionWindow, by an apparent recovery message from the same
// subsystem and process (each compared only when the error group has one).
type ResolvedIssue struct {
	ErrorPattern string
	ErrorCount   int
	ResolvedBy   string
	ResolvedAt   time.Time
}

// LifecycleMention counts occurrences of a lifecycle keyword (launch,
// background, foreground) across the summarized window.
type LifecycleMention struct {
	Event string
	Count int
}

// LogDigest is the full output of SummarizeLogs.
type LogDigest struct {
	GeneratedAt time.Time
	Since       *time.Time
	Until       time.Time
	Cursor      uint64

	Counts    map[models.LogLevel]int
	TopErrors []ErrorPattern
	Resolved  []ResolvedIssue
	Lifecycle []LifecycleMention

	Prose string
}

// SummarizeLogs builds a LogDigest over entries, which the caller has
// already narrowed to the desired window or since_cursor delta (typically
// via ringbuffer.RingBuffer.Query). entries need not be sorted; the digest
// sorts internally. now is injected so callers control the "generated at"
// timestamp rather than the package reaching for the wall clock.
func SummarizeLogs(entries []models.LogEntry, now time.Time) LogDigest {
	digest := LogDigest{
		GeneratedAt: now,
		Until:       now,
		Counts:      make(map[models.LogLevel]int),
	}
	if len(entries) == 0 {
		digest.Prose = "No log activity in this window."
		return digest
	}

	sorted := make([]models.LogEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Sequence < sorted[j].Sequence
		}
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	oldest := sorted[0].Timestamp
	digest.Since = &oldest
	digest.Cursor = sorted[len(sorted)-1].Sequence

	groups := map[string]*ErrorPattern{}
	var groupOrder []string
	lifecycleCounts := map[string]int{}

	for _, e := range sorted {
		digest.Counts[e.Level]++

		lower := strings.ToLower(e.Message)
		for _, kw := range lifecycleKeywords {
			if strings.Contains(lower, kw) {
				lifecycleCounts[kw]++
			}
		}

		if e.Level != models.LevelError && e.Level != models.LevelFault {
			continue
		}
		pattern := normalizePattern(e.Message)
		key := pattern + "\x00" + e.Subsystem + "\x00" + e.Process
		g, ok := groups[key]
		if !ok {
			g = &ErrorPattern{Pattern: pattern, Example: e.Message, FirstSeen: e.Timestamp, LastSeen: e.Timestamp}
			groups[key] = g
			groupOrder = append(groupOrder, key)
		}
		g.Count++
		if e.Timestamp.After(g.LastSeen) {
			g.LastSeen = e.Timestamp
		}
	}

	for _, key := range groupOrder {
		digest.TopErrors = append(digest.TopErrors, *groups[key])
	}
	sort.Slice(digest.TopErrors, func(i, j int) bool {
		if digest.TopErrors[i].Count != digest.TopErrors[j].Count {
			return digest.TopErrors[i].Count > digest.TopErrors[j].Count
		}
		return digest.TopErrors[i].LastSeen.After(digest.TopErrors[j].LastSeen)
	})
	const maxTopErrors = 10
	if len(digest.TopErrors) > maxTopErrors {
		digest.TopErrors = digest.TopErrors[:maxTopErrors]
	}

	digest.Resolved = detectResolutions(sorted, groups)

	for _, kw := range lifecycleKeywords {
		if n := lifecycleCounts[kw]; n > 0 {
			digest.Lifecycle = append(digest.Lifecycle, LifecycleMention{Event: kw, Count: n})
		}
	}

	digest.Prose = renderLogProse(digest, len(sorted))
	return digest
}

// detectResolutions looks, for each repeated error pattern, for a
// subsequent info/notice entry from the same subsystem and process (each
// compared only when the group has one) whose
// message contains a recovery keyword within resolutionWindow of the
// error's last occurrence.
func detectResolutions(sorted []models.LogEntry, groups map[string]*ErrorPattern) []ResolvedIssue {
	var resolved []ResolvedIssue
	for key, g := range groups {
		if g.Count < 2 {
			continue
		}
		parts := strings.SplitN(key, "\x00", 3)
		subsystem, process := parts[1], parts[2]

		for _, e := range sorted {
			if e.Level != models.LevelInfo && e.Level != models.LevelNotice {
				continue
			}
			if e.Timestamp.Before(g.LastSeen) || e.Timestamp.After(g.LastSeen.Add(resolutionWindow)) {
				continue
			}
			if subsystem != "" && e.Subsystem != subsystem {
				continue
			}
			if process != "" && e.Process != process {
				continue
			}
			lower := strings.ToLower(e.Message)
			isRecovery := false
			for _, kw := range recoveryKeywords {
				if strings.Contains(lower, kw) {
					isRecovery = true
					break
				}
			}
			if !isRecovery {
				continue
			}
			resolved = append(resolved, ResolvedIssue{
				ErrorPattern: g.Pattern,
				ErrorCount:   g.Count,
				ResolvedBy:   e.Message,
				ResolvedAt:   e.Timestamp,
			})
			break
		}
	}
	sort.Slice(resolved, func(i, j int) bool { return resolved[i].ResolvedAt.Before(resolved[j].ResolvedAt) })
	return resolved
}

func renderLogProse(d LogDigest, total int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d log entries observed", total)
	if d.Since != nil {
		fmt.Fprintf(&b, " between %s and %s", d.Since.UTC().Format(time.RFC3339), d.Until.UTC().Format(time.RFC3339))
	}
	b.WriteString(". ")

	if n := d.Counts[models.LevelError] + d.Counts[models.LevelFault]; n > 0 {
		fmt.Fprintf(&b, "%d error/fault entries", n)
		if len(d.TopErrors) > 0 {
			top := d.TopErrors[0]
			fmt.Fprintf(&b, ", most frequently \"%s\" (%d times)", top.Pattern, top.Count)
		}
		b.WriteString(". ")
	} else {
		b.WriteString("No errors or faults. ")
	}

	if len(d.Resolved) > 0 {
		fmt.Fprintf(&b, "%d error pattern(s) appear resolved by a later recovery message. ", len(d.Resolved))
	}

	if len(d.Lifecycle) > 0 {
		events := make([]string, 0, len(d.Lifecycle))
		for _, m := range d.Lifecycle {
			events = append(events, fmt.Sprintf("%s(%d)", m.Event, m.Count))
		}
		fmt.Fprintf(&b, "Lifecycle mentions: %s.", strings.Join(events, ", "))
	}

	return strings.TrimSpace(b.String())
}
