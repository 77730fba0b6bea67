package device

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/quern/quern/internal/errs"
	"github.com/quern/quern/internal/logging"
	"github.com/quern/quern/internal/models"
	"github.com/quern/quern/internal/subprocess"
)

const terminateGraceDefault = 5 * time.Second

// PreviewManager owns per-device screen-mirroring subprocesses (e.g. a
// simulator video-recording or AirPlay-style preview helper), one per
// udid, started and stopped independently of the rest of device control.
// Grounded on internal/proxy's single-owned-subprocess shape, generalized
// from one process for the whole daemon to one process per device.
type PreviewManager struct {
	log       *logging.Logger
	startTool string
	startArgs func(udid string) []string

	mu      sync.Mutex
	handles map[string]*subprocess.Handle
}

func NewPreviewManager(log *logging.Logger, startTool string, startArgs func(udid string) []string) *PreviewManager {
	return &PreviewManager{log: log, startTool: startTool, startArgs: startArgs, handles: make(map[string]*subprocess.Handle)}
}

// Start launches the preview helper for udid, replacing any existing one.
func (m *PreviewManager) Start(ctx context.Context, udid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.handles[udid]; ok {
		_ = h.Terminate(terminateGraceDefault)
	}
	h, err := subprocess.Start(ctx, m.startTool, m.startTool, m.startArgs(udid), nil)
	if err != nil {
		return err
	}
	m.handles[udid] = h
	return nil
}

// Stop terminates the preview helper for udid, if running.
func (m *PreviewManager) Stop(udid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[udid]
	if !ok {
		return nil
	}
	delete(m.handles, udid)
	return h.Terminate(terminateGraceDefault)
}

// Status reports whether a preview helper is currently running for udid.
func (m *PreviewManager) Status(udid string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[udid]
	return ok && h.Alive()
}

// WDAManager runs the WebDriverAgent setup/start/stop lifecycle for
// physical-device UI automation through configured external tool
// invocations, the same subprocess-contract pattern used for simctl/idb
// rather than embedding an Xcode build graph in the daemon.
type WDAManager struct {
	log       *logging.Logger
	setupTool string
	setupArgs func(udid string) []string
	startTool string
	startArgs func(udid string) []string

	mu      sync.Mutex
	handles map[string]*subprocess.Handle

	port   int
	client *http.Client
}

// wdaDefaultPort is the port WebDriverAgent's own HTTP server listens on
// once forwarded to localhost via the usual `iproxy`/`xcodebuild
// test-without-building` launch.
const wdaDefaultPort = 8100

func NewWDAManager(log *logging.Logger, setupTool string, setupArgs func(udid string) []string, startTool string, startArgs func(udid string) []string) *WDAManager {
	return &WDAManager{
		log: log, setupTool: setupTool, setupArgs: setupArgs, startTool: startTool, startArgs: startArgs,
		handles: make(map[string]*subprocess.Handle),
		port:    wdaDefaultPort,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// WithPort overrides the local port WDA listens on (default 8100),
// returning m for chaining at construction time.
func (m *WDAManager) WithPort(port int) *WDAManager {
	m.port = port
	return m
}

// Setup runs the one-shot WDA build/install step for udid.
func (m *WDAManager) Setup(ctx context.Context, udid string) error {
	if m.setupTool == "" {
		return errs.ToolMissing("wda", "no WebDriverAgent setup tool configured")
	}
	_, err := subprocess.Run(ctx, "wda", m.setupTool, m.setupArgs(udid), nil, 0)
	return err
}

// Start launches the WDA session for udid.
func (m *WDAManager) Start(ctx context.Context, udid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.handles[udid]; ok {
		_ = h.Terminate(terminateGraceDefault)
	}
	h, err := subprocess.Start(ctx, "wda", m.startTool, m.startArgs(udid), nil)
	if err != nil {
		return err
	}
	m.handles[udid] = h
	return nil
}

// Stop terminates the WDA session for udid, if running.
func (m *WDAManager) Stop(udid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[udid]
	if !ok {
		return nil
	}
	delete(m.handles, udid)
	return h.Terminate(terminateGraceDefault)
}

// ==========================================================================
// REST client against a running WDA instance's own HTTP server
// ==========================================================================
//
// WebDriverAgent exposes its accessibility/tap/swipe/type surface over
// plain HTTP on m.port, independent of udid (only one session runs at a
// time per forwarded port, matching the per-udid subprocess Start/Stop
// above). These methods assume Start has already been called for udid.

func (m *WDAManager) wdaURL(path string) string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", m.port, path)
}

func (m *WDAManager) wdaPost(ctx context.Context, path string, body interface{}) (json.RawMessage, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, errs.Internal("encode wda request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.wdaURL(path), bytes.NewReader(data))
	if err != nil {
		return nil, errs.Internal("build wda request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return m.wdaDo(req)
}

func (m *WDAManager) wdaGet(ctx context.Context, path string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.wdaURL(path), nil)
	if err != nil {
		return nil, errs.Internal("build wda request", err)
	}
	return m.wdaDo(req)
}

func (m *WDAManager) wdaDo(req *http.Request) (json.RawMessage, error) {
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.CodeSubprocessFailed, 502, "wda request failed", err).WithTool("wda")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Internal("read wda response", err)
	}
	if resp.StatusCode >= 400 {
		return nil, errs.Wrap(errs.CodeSubprocessFailed, 502, "wda returned "+strconv.Itoa(resp.StatusCode), nil).
			WithTool("wda").WithDetails("body", string(raw))
	}

	var envelope struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return raw, nil
	}
	return envelope.Value, nil
}

// wdaElement mirrors the subset of WDA's /source?format=json accessibility
// node shape this daemon cares about.
type wdaElement struct {
	Type            string       `json:"type"`
	Label           string       `json:"label"`
	Name            string       `json:"name"`
	Value           string       `json:"value"`
	Rect            wdaRect      `json:"rect"`
	Enabled         bool         `json:"enabled"`
	Visible         bool         `json:"visible"`
	RoleDescription string       `json:"roleDescription"`
	Children        []wdaElement `json:"children"`
}

type wdaRect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (e wdaElement) toModel() models.UIElement {
	children := make([]models.UIElement, 0, len(e.Children))
	for _, c := range e.Children {
		children = append(children, c.toModel())
	}
	return models.UIElement{
		Type:       e.Type,
		Label:      e.Label,
		Identifier: e.Name,
		Value:      e.Value,
		Frame: models.Frame{
			X: e.Rect.X, Y: e.Rect.Y, W: e.Rect.Width, H: e.Rect.Height,
		},
		Enabled:         e.Enabled,
		Visible:         e.Visible,
		RoleDescription: e.RoleDescription,
		Children:        children,
	}
}

// FetchTree pulls the current accessibility tree from the running WDA
// session and converts it into Quern's UIElement shape.
func (m *WDAManager) FetchTree(ctx context.Context, udid string) (*models.UIElement, error) {
	value, err := m.wdaGet(ctx, "/source?format=json")
	if err != nil {
		return nil, err
	}
	var root wdaElement
	if err := json.Unmarshal(value, &root); err != nil {
		return nil, errs.Internal("decode wda accessibility tree", err)
	}
	tree := root.toModel()
	models.LinkParents(&tree)
	return &tree, nil
}

// Tap issues a single-finger tap at (x, y) in screen points. duration is
// accepted for interface symmetry with Swipe; WDA's /wda/tap endpoint has
// no press-and-hold parameter, so anything beyond an instantaneous tap
// would need /wda/touchAndHold instead.
func (m *WDAManager) Tap(ctx context.Context, udid string, x, y float64, duration time.Duration) error {
	_, err := m.wdaPost(ctx, "/session/0/wda/tap/0", map[string]float64{"x": x, "y": y})
	return err
}

// Swipe drags from (x0, y0) to (x1, y1) over duration.
func (m *WDAManager) Swipe(ctx context.Context, udid string, x0, y0, x1, y1 float64, duration time.Duration) error {
	_, err := m.wdaPost(ctx, "/session/0/wda/dragfromtoforduration", map[string]float64{
		"fromX": x0, "fromY": y0, "toX": x1, "toY": y1,
		"duration": duration.Seconds(),
	})
	return err
}

// TypeText sends text to whatever element currently has keyboard focus.
func (m *WDAManager) TypeText(ctx context.Context, udid, text string) error {
	_, err := m.wdaPost(ctx, "/session/0/wda/keys", map[string][]string{"value": {text}})
	return err
}

// Screenshot returns the raw PNG bytes of the current screen.
func (m *WDAManager) Screenshot(ctx context.Context, udid string) ([]byte, error) {
	value, err := m.wdaGet(ctx, "/screenshot")
	if err != nil {
		return nil, err
	}
	var b64 string
	if err := json.Unmarshal(value, &b64); err != nil {
		return nil, errs.Internal("decode wda screenshot response", err)
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, errs.Internal("decode wda screenshot base64", err)
	}
	return data, nil
}
