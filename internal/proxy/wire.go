package proxy

import "github.com/quern/quern/internal/models"

// event is the envelope for every interceptor→server line on the
// JSON-lines control plane, per spec §4.5. Fields not relevant to Type
// are left zero.
type event struct {
	Type string `json:"type"`

	Flow *models.FlowRecord `json:"flow,omitempty"`

	Status string `json:"status,omitempty"`
	RuleID string `json:"rule_id,omitempty"`
	Filter string `json:"filter,omitempty"`
	Action string `json:"action,omitempty"`
	Error  string `json:"error,omitempty"`
}

const (
	eventFlow   = "flow"
	eventStatus = "status"
)

const (
	statusStarted         = "started"
	statusClientConnected = "client_connected"
	statusError           = "error"
	statusRuleEcho        = "rule_echo"
)

// command is the envelope for every server→interceptor line.
type command struct {
	Type string `json:"type"`

	Pattern    string          `json:"pattern,omitempty"`
	Action     string          `json:"action,omitempty"`
	RuleID     string          `json:"rule_id,omitempty"`
	StatusCode int             `json:"status_code,omitempty"`
	Headers    []models.Header `json:"headers,omitempty"`
	Body       string          `json:"body,omitempty"`

	FlowID        string         `json:"flow_id,omitempty"`
	ReplayAs      string         `json:"replay_as,omitempty"`
	Modifications *Modifications `json:"modifications,omitempty"`

	Filter  string `json:"filter,omitempty"`
	Timeout int    `json:"timeout,omitempty"`
}

const (
	cmdSetIntercept   = "set_intercept"
	cmdClearIntercept = "clear_intercept"
	cmdSetMock        = "set_mock"
	cmdUpdateMock     = "update_mock"
	cmdClearMocks     = "clear_mocks"
	cmdRelease        = "release"
	cmdDrop           = "drop"
	cmdSetFilter      = "set_filter"
	cmdReplay         = "replay"
)

// Modifications overrides applied to a held flow on release, or to the
// reconstructed request on replay.
type Modifications struct {
	Headers    []models.Header `json:"headers,omitempty"`
	Body       string          `json:"body,omitempty"`
	StatusCode int             `json:"status_code,omitempty"`
}
