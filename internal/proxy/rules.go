package proxy

import (
	"time"

	"github.com/quern/quern/internal/errs"
	"github.com/quern/quern/internal/filterexpr"
	"github.com/quern/quern/internal/models"
)

// SetIntercept registers a new hold rule matching pattern and forwards it
// to the interceptor. The server mirror is updated before the send so a
// racing rule-echo can never be mistaken for the authoritative write.
func (p *Proxy) SetIntercept(pattern string) (models.InterceptRule, error) {
	if _, err := filterexpr.Compile(pattern); err != nil {
		return models.InterceptRule{}, errs.Validation("invalid filter expression: " + err.Error())
	}
	rule := models.InterceptRule{RuleID: newRuleID(), Filter: pattern, Action: models.HoldAction}

	p.rulesMu.Lock()
	p.intercepts[rule.RuleID] = rule
	p.rulesMu.Unlock()

	if err := p.send(command{Type: cmdSetIntercept, Pattern: pattern, Action: string(models.HoldAction), RuleID: rule.RuleID}); err != nil {
		p.rulesMu.Lock()
		delete(p.intercepts, rule.RuleID)
		p.rulesMu.Unlock()
		return models.InterceptRule{}, err
	}
	return rule, nil
}

// ClearIntercept removes one intercept rule, or all of them when ruleID
// is empty.
func (p *Proxy) ClearIntercept(ruleID string) error {
	p.rulesMu.Lock()
	if ruleID == "" {
		p.intercepts = make(map[string]models.InterceptRule)
	} else {
		delete(p.intercepts, ruleID)
	}
	p.rulesMu.Unlock()
	return p.send(command{Type: cmdClearIntercept, RuleID: ruleID})
}

// SetMock registers a mock rule; mocks take strict precedence over
// intercepts per spec §4.5.
func (p *Proxy) SetMock(pattern string, statusCode int, headers []models.Header, body string) (models.MockRule, error) {
	if _, err := filterexpr.Compile(pattern); err != nil {
		return models.MockRule{}, errs.Validation("invalid filter expression: " + err.Error())
	}
	rule := models.MockRule{RuleID: newRuleID(), Filter: pattern, StatusCode: statusCode, Headers: headers, Body: body}

	p.rulesMu.Lock()
	p.mocks[rule.RuleID] = rule
	p.rulesMu.Unlock()

	if err := p.send(command{Type: cmdSetMock, Pattern: pattern, StatusCode: statusCode, Headers: headers, Body: body, RuleID: rule.RuleID}); err != nil {
		p.rulesMu.Lock()
		delete(p.mocks, rule.RuleID)
		p.rulesMu.Unlock()
		return models.MockRule{}, err
	}
	return rule, nil
}

// UpdateMock partially updates an existing mock rule by id.
func (p *Proxy) UpdateMock(ruleID string, statusCode *int, headers []models.Header, body *string) (models.MockRule, error) {
	p.rulesMu.Lock()
	rule, ok := p.mocks[ruleID]
	if !ok {
		p.rulesMu.Unlock()
		return models.MockRule{}, errs.NotFound("mock_rule", ruleID)
	}
	if statusCode != nil {
		rule.StatusCode = *statusCode
	}
	if headers != nil {
		rule.Headers = headers
	}
	if body != nil {
		rule.Body = *body
	}
	p.mocks[ruleID] = rule
	p.rulesMu.Unlock()

	cmd := command{Type: cmdUpdateMock, RuleID: ruleID, StatusCode: rule.StatusCode, Headers: rule.Headers, Body: rule.Body}
	if err := p.send(cmd); err != nil {
		return models.MockRule{}, err
	}
	return rule, nil
}

// ListMocks returns every currently registered mock rule.
func (p *Proxy) ListMocks() []models.MockRule {
	p.rulesMu.Lock()
	defer p.rulesMu.Unlock()
	out := make([]models.MockRule, 0, len(p.mocks))
	for _, rule := range p.mocks {
		out = append(out, rule)
	}
	return out
}

// ListIntercepts returns every currently registered intercept rule.
func (p *Proxy) ListIntercepts() []models.InterceptRule {
	p.rulesMu.Lock()
	defer p.rulesMu.Unlock()
	out := make([]models.InterceptRule, 0, len(p.intercepts))
	for _, rule := range p.intercepts {
		out = append(out, rule)
	}
	return out
}

// ClearMocks removes one mock rule, or all of them when ruleID is empty.
func (p *Proxy) ClearMocks(ruleID string) error {
	p.rulesMu.Lock()
	if ruleID == "" {
		p.mocks = make(map[string]models.MockRule)
	} else {
		delete(p.mocks, ruleID)
	}
	p.rulesMu.Unlock()
	return p.send(command{Type: cmdClearMocks, RuleID: ruleID})
}

// matchMock finds the first mock rule matching flow's request, if any.
func (p *Proxy) matchMock(flow models.FlowRecord) (models.MockRule, bool) {
	env := filterexpr.Env{URL: flow.Request.URL, Host: flow.Request.Host, Method: flow.Request.Method, Device: flow.DeviceID}
	p.rulesMu.Lock()
	defer p.rulesMu.Unlock()
	for _, rule := range p.mocks {
		expr, err := filterexpr.Compile(rule.Filter)
		if err != nil {
			continue
		}
		if matched, err := expr.Match(env); err == nil && matched {
			return rule, true
		}
	}
	return models.MockRule{}, false
}

// matchIntercept finds the first intercept rule matching flow's request.
func (p *Proxy) matchIntercept(flow models.FlowRecord) (models.InterceptRule, bool) {
	env := filterexpr.Env{URL: flow.Request.URL, Host: flow.Request.Host, Method: flow.Request.Method, Device: flow.DeviceID}
	p.rulesMu.Lock()
	defer p.rulesMu.Unlock()
	for _, rule := range p.intercepts {
		expr, err := filterexpr.Compile(rule.Filter)
		if err != nil {
			continue
		}
		if matched, err := expr.Match(env); err == nil && matched {
			return rule, true
		}
	}
	return models.InterceptRule{}, false
}

// applyMock synthesizes the response a matching mock rule describes,
// short-circuiting before the flow ever reaches the held table.
func applyMock(flow models.FlowRecord, rule models.MockRule) models.FlowRecord {
	flow.Status = models.FlowComplete
	flow.Response = &models.Response{
		StatusCode:   rule.StatusCode,
		Headers:      rule.Headers,
		Body:         rule.Body,
		BodySize:     int64(len(rule.Body)),
		BodyEncoding: models.EncodingUTF8,
	}
	flow.Tags = append(flow.Tags, "mocked:"+rule.RuleID)
	return flow
}

// ListHeld returns held flows matching an optional filter, long-polling
// up to timeout if none yet match, per spec §4.5's "server-side wait
// beats client polling" principle. Each pass first runs the expired-hold
// sweep, so holds past their deadline are released and removed.
func (p *Proxy) ListHeld(filter string, timeout time.Duration) ([]models.HeldFlow, error) {
	var expr *filterexpr.Expression
	if filter != "" {
		compiled, err := filterexpr.Compile(filter)
		if err != nil {
			return nil, errs.Validation("invalid filter expression: " + err.Error())
		}
		expr = compiled
	}

	deadline := time.Now().Add(timeout)
	for {
		p.sweepExpiredHeld()
		matched := p.snapshotHeld(expr)
		if len(matched) > 0 || timeout <= 0 || time.Now().After(deadline) {
			return matched, nil
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func (p *Proxy) snapshotHeld(expr *filterexpr.Expression) []models.HeldFlow {
	p.heldMu.Lock()
	defer p.heldMu.Unlock()

	now := time.Now()
	var out []models.HeldFlow
	for _, h := range p.held {
		if h.Expired(now) {
			// Already past its deadline; sweepExpiredHeld will release it
			// through the interceptor and remove it shortly. Don't report
			// it as still held in the meantime.
			continue
		}
		if expr == nil {
			out = append(out, *h)
			continue
		}
		flow, ok := p.flows.Get(h.FlowID)
		if !ok {
			continue
		}
		env := filterexpr.Env{URL: flow.Request.URL, Host: flow.Request.Host, Method: flow.Request.Method, Device: flow.DeviceID}
		if matched, err := expr.Match(env); err == nil && matched {
			out = append(out, *h)
		}
	}
	return out
}

// Release resolves a held flow: forwards modifications (or none) to the
// interceptor and clears the hold.
func (p *Proxy) Release(flowID string, mods *Modifications) error {
	p.heldMu.Lock()
	h, ok := p.held[flowID]
	p.heldMu.Unlock()
	if !ok {
		return errs.NotFound("held_flow", flowID)
	}

	outcome := models.OutcomeRelease
	if mods != nil {
		outcome = models.OutcomeModifyRelease
	}

	if err := p.send(command{Type: cmdRelease, FlowID: flowID, Modifications: mods}); err != nil {
		return err
	}

	p.heldMu.Lock()
	h.Outcome = outcome
	delete(p.held, flowID)
	p.heldMu.Unlock()
	return nil
}

// Drop discards a held flow without forwarding it.
func (p *Proxy) Drop(flowID string) error {
	p.heldMu.Lock()
	h, ok := p.held[flowID]
	p.heldMu.Unlock()
	if !ok {
		return errs.NotFound("held_flow", flowID)
	}

	if err := p.send(command{Type: cmdDrop, FlowID: flowID}); err != nil {
		return err
	}

	p.heldMu.Lock()
	h.Outcome = models.OutcomeDrop
	delete(p.held, flowID)
	p.heldMu.Unlock()
	return nil
}
