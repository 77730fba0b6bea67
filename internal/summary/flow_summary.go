package summary

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/quern/quern/internal/models"
)

// HostAggregate summarizes all flows observed against a single host.
type HostAggregate struct {
	Host             string
	Total            int
	Success          int
	Status4xx        int
	Status5xx        int
	ConnectionErrors int
	AvgLatencyMs     float64
}

// FlowErrorPattern groups flows by method/path/outcome, e.g.
// "POST /v1/login -> 401".
type FlowErrorPattern struct {
	Pattern   string
	Count     int
	FirstSeen time.Time
	LastSeen  time.Time
}

// SlowRequest is one of the slowest flows by total duration.
type SlowRequest struct {
	FlowID  string
	Method  string
	Path    string
	Host    string
	TotalMs float64
}

// FlowDigest is the full output of SummarizeFlows.
type FlowDigest struct {
	GeneratedAt time.Time
	Cursor      uint64

	ByHost    []HostAggregate
	TopErrors []FlowErrorPattern
	TopSlow   []SlowRequest

	Prose string
}

// SummarizeFlows builds a FlowDigest over flows, already narrowed by the
// caller to the desired window or since_cursor delta (typically via
// flowstore.FlowStore.Query).
func SummarizeFlows(flows []models.FlowRecord, now time.Time) FlowDigest {
	digest := FlowDigest{GeneratedAt: now}
	if len(flows) == 0 {
		digest.Prose = "No flow activity in this window."
		return digest
	}

	sorted := make([]models.FlowRecord, len(flows))
	copy(sorted, flows)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Sequence < sorted[j].Sequence
		}
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	digest.Cursor = sorted[len(sorted)-1].Sequence

	hostAgg := map[string]*HostAggregate{}
	var hostOrder []string
	errGroups := map[string]*FlowErrorPattern{}
	var errOrder []string

	for _, f := range sorted {
		host := f.Request.Host
		if host == "" {
			host = f.Request.URL
		}
		agg, ok := hostAgg[host]
		if !ok {
			agg = &HostAggregate{Host: host}
			hostAgg[host] = agg
			hostOrder = append(hostOrder, host)
		}
		agg.Total++

		switch {
		case f.Error != "":
			agg.ConnectionErrors++
		case f.Response != nil:
			switch {
			case f.Response.StatusCode >= 500:
				agg.Status5xx++
			case f.Response.StatusCode >= 400:
				agg.Status4xx++
			case f.Response.StatusCode >= 200 && f.Response.StatusCode < 300:
				agg.Success++
			}
		}

		if f.Timing.Total != nil {
			agg.AvgLatencyMs += *f.Timing.Total
		}

		if f.Error != "" || (f.Response != nil && f.Response.StatusCode >= 400) {
			outcome := f.Error
			if outcome == "" {
				outcome = fmt.Sprintf("%d", f.Response.StatusCode)
			}
			key := fmt.Sprintf("%s %s -> %s", strings.ToUpper(f.Request.Method), f.Request.Path, outcome)
			g, ok := errGroups[key]
			if !ok {
				g = &FlowErrorPattern{Pattern: key, FirstSeen: f.Timestamp, LastSeen: f.Timestamp}
				errGroups[key] = g
				errOrder = append(errOrder, key)
			}
			g.Count++
			if f.Timestamp.After(g.LastSeen) {
				g.LastSeen = f.Timestamp
			}
		}
	}

	for _, host := range hostOrder {
		agg := *hostAgg[host]
		if agg.Total > 0 {
			agg.AvgLatencyMs /= float64(agg.Total)
		}
		digest.ByHost = append(digest.ByHost, agg)
	}
	sort.Slice(digest.ByHost, func(i, j int) bool { return digest.ByHost[i].Total > digest.ByHost[j].Total })

	for _, key := range errOrder {
		digest.TopErrors = append(digest.TopErrors, *errGroups[key])
	}
	sort.Slice(digest.TopErrors, func(i, j int) bool { return digest.TopErrors[i].Count > digest.TopErrors[j].Count })
	const maxTopErrors = 10
	if len(digest.TopErrors) > maxTopErrors {
		digest.TopErrors = digest.TopErrors[:maxTopErrors]
	}

	for _, f := range sorted {
		if f.Timing.Total == nil {
			continue
		}
		digest.TopSlow = append(digest.TopSlow, SlowRequest{
			FlowID:  f.ID,
			Method:  f.Request.Method,
			Path:    f.Request.Path,
			Host:    f.Request.Host,
			TotalMs: *f.Timing.Total,
		})
	}
	sort.Slice(digest.TopSlow, func(i, j int) bool { return digest.TopSlow[i].TotalMs > digest.TopSlow[j].TotalMs })
	const maxSlow = 10
	if len(digest.TopSlow) > maxSlow {
		digest.TopSlow = digest.TopSlow[:maxSlow]
	}

	digest.Prose = renderFlowProse(digest, len(sorted))
	return digest
}

func renderFlowProse(d FlowDigest, total int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d flows observed across %d host(s). ", total, len(d.ByHost))

	for i, h := range d.ByHost {
		if i >= 3 {
			break
		}
		fmt.Fprintf(&b, "%s: %d total", h.Host, h.Total)
		if h.Success > 0 {
			fmt.Fprintf(&b, ", %d succeeded", h.Success)
		}
		if h.Status4xx > 0 {
			fmt.Fprintf(&b, ", %d client errors", h.Status4xx)
		}
		if h.Status5xx > 0 {
			fmt.Fprintf(&b, ", %d server errors", h.Status5xx)
		}
		if h.ConnectionErrors > 0 {
			fmt.Fprintf(&b, ", %d connection errors", h.ConnectionErrors)
		}
		b.WriteString(". ")
	}

	if len(d.TopErrors) > 0 {
		top := d.TopErrors[0]
		fmt.Fprintf(&b, "Most frequent error: %s (%d times). ", top.Pattern, top.Count)
	}

	if len(d.TopSlow) > 0 {
		slow := d.TopSlow[0]
		fmt.Fprintf(&b, "Slowest request: %s %s at %.0fms.", slow.Method, slow.Path, slow.TotalMs)
	}

	return strings.TrimSpace(b.String())
}
