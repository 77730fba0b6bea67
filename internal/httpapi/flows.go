package httpapi

import (
	"net/http"
	"time"

	"github.com/quern/quern/internal/flowstore"
	"github.com/quern/quern/internal/models"
	"github.com/quern/quern/internal/summary"
)

// flowFilterFromQuery builds a flowstore.Filter from a proxy/flows-style
// query: host, path, method, status_min, status_max, has_error, device_id,
// since, until.
func flowFilterFromQuery(r *http.Request) flowstore.Filter {
	f := flowstore.Filter{
		Host:         r.URL.Query().Get("host"),
		PathContains: r.URL.Query().Get("path"),
		Method:       r.URL.Query().Get("method"),
		StatusMin:    queryInt(r, "status_min", 0),
		StatusMax:    queryInt(r, "status_max", 0),
		DeviceID:     r.URL.Query().Get("device_id"),
		Since:        queryTime(r, "since"),
		Until:        queryTime(r, "until"),
	}
	if v := r.URL.Query().Get("has_error"); v != "" {
		b := queryBool(r, "has_error", false)
		f.HasError = &b
	}
	return f
}

func summarizeFlowsNow(flows []models.FlowRecord) summary.FlowDigest {
	return summary.SummarizeFlows(flows, time.Now())
}
