package proxy

import (
	"github.com/google/uuid"

	"github.com/quern/quern/internal/errs"
	"github.com/quern/quern/internal/models"
)

// Replay reconstructs flowID's original request, optionally overridden by
// mods, and resends it through the interceptor, per spec §4.5. The
// interceptor owns the actual network send since it already holds the
// TLS/transport context for the target host; the server only assigns the
// new flow id the interceptor is told to tag the resend with.
func (p *Proxy) Replay(flowID string, mods *Modifications) (string, error) {
	original, ok := p.flows.Get(flowID)
	if !ok {
		return "", errs.NotFound("flow", flowID)
	}

	newFlowID := uuid.NewString()
	cmd := command{
		Type:          cmdReplay,
		FlowID:        original.ID,
		ReplayAs:      newFlowID,
		Modifications: replayModifications(original, mods),
	}
	if err := p.send(cmd); err != nil {
		return "", err
	}
	return newFlowID, nil
}

// replayModifications folds the caller's overrides on top of the original
// request so the interceptor receives one complete picture of what to
// resend.
func replayModifications(original models.FlowRecord, mods *Modifications) *Modifications {
	result := &Modifications{
		Headers: original.Request.Headers,
		Body:    original.Request.Body,
	}
	if mods != nil {
		if mods.Headers != nil {
			result.Headers = mods.Headers
		}
		if mods.Body != "" {
			result.Body = mods.Body
		}
	}
	return result
}
