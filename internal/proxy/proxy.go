// Package proxy owns the single interception subprocess and brokers its
// JSON-lines control plane, per spec §4.5. Grounded on
// services/accountpool/service.go (r3e-network-service_layer) for the facade-over-a-long-
// lived-resource shape, generalized from a pooled blockchain account to a
// single owned child process with a bidirectional line protocol; the
// rule-echo-ignoring originator check is grounded on the comment in spec
// §4.5 itself describing the observed race and its fix.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/quern/quern/internal/errs"
	"github.com/quern/quern/internal/filterexpr"
	"github.com/quern/quern/internal/flowstore"
	"github.com/quern/quern/internal/logging"
	"github.com/quern/quern/internal/models"
	"github.com/quern/quern/internal/subprocess"
)

// Status mirrors the proxy subsystem's externally visible lifecycle.
type Status string

const (
	StatusStopped Status = "stopped"
	StatusRunning Status = "running"
	StatusCrashed Status = "crashed"
)

// terminateGrace bounds how long Stop waits for a soft shutdown before
// hard-killing the interceptor.
const terminateGrace = 5 * time.Second

// Proxy owns the interceptor subprocess, the flow store it feeds, and the
// server-side mirrors of intercept/mock rules and held flows.
type Proxy struct {
	log     *logging.Logger
	flows   *flowstore.FlowStore
	command string
	args    []string

	mu       sync.Mutex
	handle   *subprocess.Handle
	status   Status
	filter   string
	stopping bool

	rulesMu    sync.Mutex
	intercepts map[string]models.InterceptRule
	mocks      map[string]models.MockRule

	heldMu sync.Mutex
	held   map[string]*models.HeldFlow

	cronSched *cron.Cron

	onCrash func()
}

// New builds a Proxy that will spawn command/args when Start is called.
func New(log *logging.Logger, flows *flowstore.FlowStore, command string, args []string) *Proxy {
	return &Proxy{
		log:        log,
		flows:      flows,
		command:    command,
		args:       args,
		status:     StatusStopped,
		intercepts: make(map[string]models.InterceptRule),
		mocks:      make(map[string]models.MockRule),
		held:       make(map[string]*models.HeldFlow),
	}
}

// OnCrash registers a callback fired once, from the watchdog goroutine,
// when the interceptor exits unexpectedly.
func (p *Proxy) OnCrash(fn func()) {
	p.onCrash = fn
}

// Start spawns the interceptor and begins consuming its event stream.
func (p *Proxy) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handle != nil {
		return errs.Conflict("proxy is already running")
	}

	h, err := subprocess.Start(ctx, "mitm", p.command, p.args, nil)
	if err != nil {
		return err
	}
	p.handle = h
	p.status = StatusRunning
	p.stopping = false

	go p.consume(h)
	go p.watchdog(h)

	p.cronSched = cron.New()
	if _, err := p.cronSched.AddFunc("@every 5s", p.sweepExpiredHeld); err != nil {
		p.log.WithContext(context.Background()).WithError(err).Warn("proxy: failed to schedule held-flow sweep; expired holds will only clear on the next ListHeld poll")
	} else {
		p.cronSched.Start()
	}

	return nil
}

// Stop terminates the interceptor and marks the proxy stopped.
func (p *Proxy) Stop() error {
	p.mu.Lock()
	h := p.handle
	p.stopping = true
	sched := p.cronSched
	p.cronSched = nil
	p.mu.Unlock()

	if sched != nil {
		sched.Stop()
	}

	if h == nil {
		return nil
	}

	err := h.Terminate(terminateGrace)

	p.mu.Lock()
	p.handle = nil
	p.status = StatusStopped
	p.stopping = false
	p.mu.Unlock()

	return err
}

// sweepExpiredHeld runs on a cron schedule so a hold's 30s auto-release
// deadline is enforced even when no client is polling ListHeld. Unlike the
// lazy check inside snapshotHeld, this actually tells the interceptor to
// let the request through — without it, the real device stays blocked past
// its deadline regardless of what Quern's own table reports.
func (p *Proxy) sweepExpiredHeld() {
	now := time.Now()

	p.heldMu.Lock()
	var expired []string
	for id, h := range p.held {
		if h.Expired(now) {
			h.Outcome = models.OutcomeAutoRelease
			expired = append(expired, id)
		}
	}
	p.heldMu.Unlock()

	for _, id := range expired {
		if err := p.send(command{Type: cmdRelease, FlowID: id}); err != nil {
			p.log.WithContext(context.Background()).WithError(err).Warn("proxy: failed to auto-release expired held flow")
		}
		p.heldMu.Lock()
		delete(p.held, id)
		p.heldMu.Unlock()
	}
}

// StatusValue reports the current lifecycle status.
func (p *Proxy) StatusValue() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// consume reads the interceptor's stdout line by line, decoding each as
// an event and dispatching it.
func (p *Proxy) consume(h *subprocess.Handle) {
	for line := range h.Lines {
		var e event
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			p.log.WithContext(context.Background()).WithError(err).Warn("proxy: malformed event line")
			continue
		}
		p.handleEvent(e)
	}
}

func (p *Proxy) handleEvent(e event) {
	switch e.Type {
	case eventFlow:
		if e.Flow != nil {
			p.handleFlow(*e.Flow)
		}
	case eventStatus:
		p.handleStatus(e)
	}
}

// handleFlow applies the mock-precedence rule from spec §4.5: a flow
// matching a mock short-circuits and never reaches the held table. A flow
// matching an intercept rule is held; everything else is stored as-is.
func (p *Proxy) handleFlow(flow models.FlowRecord) {
	if rule, ok := p.matchMock(flow); ok {
		flow = applyMock(flow, rule)
		p.flows.Add(flow)
		return
	}

	if rule, ok := p.matchIntercept(flow); ok && flow.Status != models.FlowComplete {
		phase := models.HeldAtRequest
		if flow.Response != nil {
			phase = models.HeldAtResponse
		}
		h := models.NewHeldFlow(flow.ID, phase, time.Now())
		p.heldMu.Lock()
		p.held[flow.ID] = &h
		p.heldMu.Unlock()
		flow.Status = models.FlowHeld
		flow.Tags = append(flow.Tags, "intercepted:"+rule.RuleID)
	}

	p.flows.Add(flow)
}

func (p *Proxy) handleStatus(e event) {
	switch e.Status {
	case statusRuleEcho:
		// The interceptor echoes rule state after applying a command; since
		// the server is the single writer of rule state, per spec §4.5,
		// echoes never clobber the server-side mirror — they are purely
		// informational acks.
		return
	case statusError:
		p.log.WithContext(context.Background()).WithError(errors.New(e.Error)).Error("proxy: interceptor reported an error")
	case statusStarted, statusClientConnected:
		p.log.WithContext(context.Background()).WithField("status", e.Status).Debug("proxy: status event")
	}
}

// send marshals cmd as one JSON line and writes it to the interceptor's
// stdin, the only write path for rule state per spec §4.5.
func (p *Proxy) send(cmd command) error {
	p.mu.Lock()
	h := p.handle
	p.mu.Unlock()
	if h == nil {
		return errs.Validation("proxy is not running")
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return errs.Internal("encode proxy command", err)
	}
	_, err = h.Stdin.Write(append(data, '\n'))
	if err != nil {
		return errs.Wrap(errs.CodeSubprocessFailed, 500, "write to interceptor stdin", err).WithTool("mitm")
	}
	return nil
}

// SetFilter compiles pattern to validate it, then forwards it to the
// interceptor and remembers it for ListHeld-less local display.
func (p *Proxy) SetFilter(pattern string) error {
	if _, err := filterexpr.Compile(pattern); err != nil {
		return errs.Validation("invalid filter expression: " + err.Error())
	}
	p.mu.Lock()
	p.filter = pattern
	p.mu.Unlock()
	return p.send(command{Type: cmdSetFilter, Filter: pattern})
}

func newRuleID() string {
	return uuid.NewString()
}
