package httpapi

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/quern/quern/internal/device"
	"github.com/quern/quern/internal/errs"
	"github.com/quern/quern/internal/models"
)

func (s *Server) registerDeviceRoutes(r *mux.Router) {
	d := r.PathPrefix("/device").Subrouter()
	d.HandleFunc("/list", s.handleDeviceList).Methods(http.MethodGet)
	d.HandleFunc("/boot", s.handleDeviceBoot).Methods(http.MethodPost)
	d.HandleFunc("/shutdown", s.handleDeviceShutdown).Methods(http.MethodPost)

	d.HandleFunc("/app/install", s.handleAppInstall).Methods(http.MethodPost)
	d.HandleFunc("/app/launch", s.handleAppLaunch).Methods(http.MethodPost)
	d.HandleFunc("/app/terminate", s.handleAppTerminate).Methods(http.MethodPost)
	d.HandleFunc("/app/uninstall", s.handleAppUninstall).Methods(http.MethodPost)
	d.HandleFunc("/app/list", s.handleAppList).Methods(http.MethodGet)

	d.HandleFunc("/screenshot", s.handleScreenshot).Methods(http.MethodGet)
	d.HandleFunc("/screenshot/annotated", s.handleScreenshotAnnotated).Methods(http.MethodGet)

	d.HandleFunc("/ui", s.handleUITree).Methods(http.MethodGet)
	d.HandleFunc("/ui/element", s.handleUIElement).Methods(http.MethodGet)
	d.HandleFunc("/ui/wait-for-element", s.handleUIWaitForElement).Methods(http.MethodGet)
	d.HandleFunc("/screen-summary", s.handleScreenSummary).Methods(http.MethodGet)

	d.HandleFunc("/ui/tap", s.handleUITap).Methods(http.MethodPost)
	d.HandleFunc("/ui/tap-element", s.handleUITapElement).Methods(http.MethodPost)
	d.HandleFunc("/ui/swipe", s.handleUISwipe).Methods(http.MethodPost)
	d.HandleFunc("/ui/type", s.handleUIType).Methods(http.MethodPost)
	d.HandleFunc("/ui/clear", s.handleUIClear).Methods(http.MethodPost)
	d.HandleFunc("/ui/press", s.handleUIPress).Methods(http.MethodPost)

	d.HandleFunc("/location", s.handleSetLocation).Methods(http.MethodPost)
	d.HandleFunc("/permission", s.handleGrantPermission).Methods(http.MethodPost)

	d.HandleFunc("/logging/device/start", s.handleLoggingStart("device")).Methods(http.MethodPost)
	d.HandleFunc("/logging/device/stop", s.handleLoggingStop("device")).Methods(http.MethodPost)
	d.HandleFunc("/logging/simulator/start", s.handleLoggingStart("simulator")).Methods(http.MethodPost)
	d.HandleFunc("/logging/simulator/stop", s.handleLoggingStop("simulator")).Methods(http.MethodPost)

	d.HandleFunc("/preview/start", s.handlePreviewStart).Methods(http.MethodPost)
	d.HandleFunc("/preview/stop", s.handlePreviewStop).Methods(http.MethodPost)
	d.HandleFunc("/preview/status", s.handlePreviewStatus).Methods(http.MethodGet)

	d.HandleFunc("/wda/setup", s.handleWDASetup).Methods(http.MethodPost)
	d.HandleFunc("/wda/start", s.handleWDAStart).Methods(http.MethodPost)
	d.HandleFunc("/wda/stop", s.handleWDAStop).Methods(http.MethodPost)
}

// resolveBackend looks up udid (falling back to the controller's
// active-device/explicit resolution rules) and returns the backend that
// drives it, per spec §4.6's per-device-type dispatch.
func (s *Server) resolveBackend(r *http.Request) (string, device.Backend, error) {
	udid, err := s.controller.ResolveUDID(r.Context(), r.URL.Query().Get("udid"))
	if err != nil {
		return "", nil, err
	}
	d, err := s.controller.FindDevice(r.Context(), udid)
	if err != nil {
		return "", nil, err
	}
	return udid, s.controller.BackendFor(d.DeviceType), nil
}

func (s *Server) handleDeviceList(w http.ResponseWriter, r *http.Request) {
	state := models.DeviceState(r.URL.Query().Get("state"))
	deviceType := models.DeviceType(r.URL.Query().Get("device_type"))
	devices, err := s.controller.ListDevices(r.Context(), state, deviceType)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONPretty(r, w, http.StatusOK, map[string]interface{}{"devices": devices})
}

type udidBody struct {
	UDID       string            `json:"udid"`
	DeviceType models.DeviceType `json:"device_type"`
}

func (s *Server) handleDeviceBoot(w http.ResponseWriter, r *http.Request) {
	var req udidBody
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.controller.Boot(r.Context(), req.UDID, req.DeviceType); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"booted": true})
}

func (s *Server) handleDeviceShutdown(w http.ResponseWriter, r *http.Request) {
	var req udidBody
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.controller.Shutdown(r.Context(), req.UDID, req.DeviceType); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"shutdown": true})
}

func (s *Server) handleAppInstall(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UDID string `json:"udid"`
		Path string `json:"path"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	_, backend, err := s.backendForUDID(r, req.UDID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := backend.Install(r.Context(), req.UDID, req.Path); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"installed": true})
}

func (s *Server) handleAppLaunch(w http.ResponseWriter, r *http.Request) {
	s.appAction(w, r, func(backend device.Backend, udid, bundle string) error {
		return backend.Launch(r.Context(), udid, bundle)
	})
}

func (s *Server) handleAppTerminate(w http.ResponseWriter, r *http.Request) {
	s.appAction(w, r, func(backend device.Backend, udid, bundle string) error {
		return backend.Terminate(r.Context(), udid, bundle)
	})
}

func (s *Server) handleAppUninstall(w http.ResponseWriter, r *http.Request) {
	s.appAction(w, r, func(backend device.Backend, udid, bundle string) error {
		return backend.Uninstall(r.Context(), udid, bundle)
	})
}

func (s *Server) appAction(w http.ResponseWriter, r *http.Request, action func(device.Backend, string, string) error) {
	var req struct {
		UDID   string `json:"udid"`
		Bundle string `json:"bundle"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	_, backend, err := s.backendForUDID(r, req.UDID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := action(backend, req.UDID, req.Bundle); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (s *Server) handleAppList(w http.ResponseWriter, r *http.Request) {
	udid, backend, err := s.resolveBackend(r)
	if err != nil {
		writeError(w, err)
		return
	}
	apps, err := backend.ListApps(r.Context(), udid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"apps": apps})
}

func (s *Server) backendForUDID(r *http.Request, udid string) (string, device.Backend, error) {
	if udid == "" {
		resolved, backend, err := s.resolveBackend(r)
		return resolved, backend, err
	}
	d, err := s.controller.FindDevice(r.Context(), udid)
	if err != nil {
		return "", nil, err
	}
	return udid, s.controller.BackendFor(d.DeviceType), nil
}

func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	udid, backend, err := s.resolveBackend(r)
	if err != nil {
		writeError(w, err)
		return
	}
	scale := queryFloat(r, "scale", 1.0)
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "png"
	}
	quality := queryInt(r, "quality", 100)
	data, err := backend.Screenshot(r.Context(), udid, scale, format, quality)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/"+format)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleScreenshotAnnotated returns the screenshot alongside the flat
// element list (label, identifier, frame) a client overlays as tappable
// bounding boxes itself. No image-compositing library appears anywhere in
// the corpus, so drawing the overlay server-side would mean hand-rolling
// pixel manipulation on the standard library alone; returning the
// geometry instead keeps the daemon from reinventing an image toolkit for
// one endpoint.
func (s *Server) handleScreenshotAnnotated(w http.ResponseWriter, r *http.Request) {
	udid, backend, err := s.resolveBackend(r)
	if err != nil {
		writeError(w, err)
		return
	}
	data, err := backend.Screenshot(r.Context(), udid, queryFloat(r, "scale", 1.0), "png", 100)
	if err != nil {
		writeError(w, err)
		return
	}
	tree, err := s.controller.UITree(r.Context(), backend, udid, time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	elements := models.Flatten(tree)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"image_base64": base64.StdEncoding.EncodeToString(data),
		"elements":     elements,
	})
}

func (s *Server) handleUITree(w http.ResponseWriter, r *http.Request) {
	udid, backend, err := s.resolveBackend(r)
	if err != nil {
		writeError(w, err)
		return
	}
	tree, err := s.controller.UITree(r.Context(), backend, udid, time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tree": tree})
}

func elementFilterFromQuery(r *http.Request) device.ElementFilter {
	return device.ElementFilter{
		Label:       r.URL.Query().Get("label"),
		Identifier:  r.URL.Query().Get("identifier"),
		ElementType: r.URL.Query().Get("type"),
	}
}

func (s *Server) handleUIElement(w http.ResponseWriter, r *http.Request) {
	udid, backend, err := s.resolveBackend(r)
	if err != nil {
		writeError(w, err)
		return
	}
	tree, err := s.controller.UITree(r.Context(), backend, udid, time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	matches := device.FindElements(tree, elementFilterFromQuery(r))
	writeJSON(w, http.StatusOK, map[string]interface{}{"elements": matches})
}

// handleUIWaitForElement long-polls for a matching element to appear,
// returning matched=false (never an error status) on timeout, per spec
// §4.9's long-polling semantics generalized from flows to UI elements.
func (s *Server) handleUIWaitForElement(w http.ResponseWriter, r *http.Request) {
	udid, backend, err := s.resolveBackend(r)
	if err != nil {
		writeError(w, err)
		return
	}
	filter := elementFilterFromQuery(r)
	timeout := clampTimeout(r, 5*time.Second)
	deadline := time.Now().Add(timeout)
	pollInterval := 250 * time.Millisecond

	for {
		tree, err := s.controller.UITree(r.Context(), backend, udid, time.Now())
		if err != nil {
			writeError(w, err)
			return
		}
		if matches := device.FindElements(tree, filter); len(matches) > 0 {
			writeJSON(w, http.StatusOK, map[string]interface{}{"matched": true, "elements": matches})
			return
		}
		if time.Now().After(deadline) {
			writeJSON(w, http.StatusOK, map[string]interface{}{"matched": false})
			return
		}
		select {
		case <-r.Context().Done():
			writeJSON(w, http.StatusOK, map[string]interface{}{"matched": false})
			return
		case <-time.After(pollInterval):
		}
	}
}

// handleScreenSummary renders a short, template-based prose description
// of the current screen's visible elements, the same style of
// fact-then-prose composition the log/flow digest engines use, applied to
// a UI tree instead of a log window.
func (s *Server) handleScreenSummary(w http.ResponseWriter, r *http.Request) {
	udid, backend, err := s.resolveBackend(r)
	if err != nil {
		writeError(w, err)
		return
	}
	tree, err := s.controller.UITree(r.Context(), backend, udid, time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	elements := models.Flatten(tree)
	var visible, labeled int
	var b strings.Builder
	for _, e := range elements {
		if e.Visible {
			visible++
		}
		if e.Label != "" {
			labeled++
		}
	}
	fmt.Fprintf(&b, "Screen has %d elements (%d visible, %d labeled).", len(elements), visible, labeled)
	writeJSON(w, http.StatusOK, map[string]interface{}{"summary": b.String(), "element_count": len(elements)})
}

func (s *Server) handleUITap(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UDID string  `json:"udid"`
		X    float64 `json:"x"`
		Y    float64 `json:"y"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	_, backend, err := s.backendForUDID(r, req.UDID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.controller.Tap(r.Context(), backend, req.UDID, req.X, req.Y); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tapped": true})
}

func (s *Server) handleUITapElement(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UDID               string `json:"udid"`
		Label              string `json:"label"`
		Identifier         string `json:"identifier"`
		ElementType        string `json:"type"`
		SkipStabilityCheck bool   `json:"skip_stability_check"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	udid, backend, err := s.backendForUDID(r, req.UDID)
	if err != nil {
		writeError(w, err)
		return
	}
	filter := device.ElementFilter{Label: req.Label, Identifier: req.Identifier, ElementType: req.ElementType}
	result, err := s.controller.TapElement(r.Context(), backend, udid, filter, req.SkipStabilityCheck, time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	resp := map[string]interface{}{}
	switch {
	case len(result.Ambiguous) > 0:
		resp["ambiguous"] = result.Ambiguous
	case result.Tapped != nil:
		resp["tapped"] = result.Tapped
		resp["x"] = result.TapX
		resp["y"] = result.TapY
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUISwipe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UDID       string  `json:"udid"`
		X0         float64 `json:"x0"`
		Y0         float64 `json:"y0"`
		X1         float64 `json:"x1"`
		Y1         float64 `json:"y1"`
		DurationMs int     `json:"duration_ms"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	_, backend, err := s.backendForUDID(r, req.UDID)
	if err != nil {
		writeError(w, err)
		return
	}
	duration := time.Duration(req.DurationMs) * time.Millisecond
	if duration <= 0 {
		duration = 300 * time.Millisecond
	}
	if err := s.controller.Swipe(r.Context(), backend, req.UDID, req.X0, req.Y0, req.X1, req.Y1, duration); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"swiped": true})
}

func (s *Server) handleUIType(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UDID string `json:"udid"`
		Text string `json:"text"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	_, backend, err := s.backendForUDID(r, req.UDID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.controller.TypeText(r.Context(), backend, req.UDID, req.Text); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"typed": true})
}

func (s *Server) handleUIClear(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UDID string `json:"udid"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	_, backend, err := s.backendForUDID(r, req.UDID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.controller.ClearText(r.Context(), backend, req.UDID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cleared": true})
}

func (s *Server) handleUIPress(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UDID   string `json:"udid"`
		Button string `json:"button"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	udid, backend, err := s.backendForUDID(r, req.UDID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := backend.PressButton(r.Context(), udid, req.Button); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pressed": true})
}

func (s *Server) handleSetLocation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UDID string  `json:"udid"`
		Lat  float64 `json:"lat"`
		Lon  float64 `json:"lon"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	udid, backend, err := s.backendForUDID(r, req.UDID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := backend.SetLocation(r.Context(), udid, req.Lat, req.Lon); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"set": true})
}

func (s *Server) handleGrantPermission(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UDID       string `json:"udid"`
		Bundle     string `json:"bundle"`
		Permission string `json:"permission"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	udid, backend, err := s.backendForUDID(r, req.UDID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := backend.GrantPermission(r.Context(), udid, req.Bundle, req.Permission); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"granted": true})
}

func (s *Server) handleLoggingStart(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UDID string `json:"udid"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
		if s.onDemand == nil {
			writeError(w, errs.ToolMissing("logging", "on-demand logging is not configured"))
			return
		}
		var err error
		if kind == "device" {
			_, err = s.onDemand.StartSyslog(req.UDID, s.syslogTool, []string{req.UDID})
		} else {
			_, err = s.onDemand.StartOSLog(req.UDID, s.oslogTool, []string{req.UDID})
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"started": true})
	}
}

func (s *Server) handleLoggingStop(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UDID string `json:"udid"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
		if s.onDemand == nil {
			writeJSON(w, http.StatusOK, map[string]interface{}{"stopped": true})
			return
		}
		streamKind := "oslog"
		if kind == "device" {
			streamKind = "syslog"
		}
		if err := s.onDemand.Stop(req.UDID, streamKind); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"stopped": true})
	}
}

func (s *Server) handlePreviewStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UDID string `json:"udid"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if s.previews == nil {
		writeError(w, errs.ToolMissing("preview", "preview is not configured"))
		return
	}
	if err := s.previews.Start(r.Context(), req.UDID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"started": true})
}

func (s *Server) handlePreviewStop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UDID string `json:"udid"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if s.previews == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"stopped": true})
		return
	}
	if err := s.previews.Stop(req.UDID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"stopped": true})
}

func (s *Server) handlePreviewStatus(w http.ResponseWriter, r *http.Request) {
	udid := r.URL.Query().Get("udid")
	running := s.previews != nil && s.previews.Status(udid)
	writeJSON(w, http.StatusOK, map[string]interface{}{"running": running})
}

func (s *Server) handleWDASetup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UDID string `json:"udid"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if s.wda == nil {
		writeError(w, errs.ToolMissing("wda", "WebDriverAgent is not configured"))
		return
	}
	if err := s.wda.Setup(r.Context(), req.UDID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ready": true})
}

func (s *Server) handleWDAStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UDID string `json:"udid"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if s.wda == nil {
		writeError(w, errs.ToolMissing("wda", "WebDriverAgent is not configured"))
		return
	}
	if err := s.wda.Start(r.Context(), req.UDID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"started": true})
}

func (s *Server) handleWDAStop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UDID string `json:"udid"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if s.wda == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"stopped": true})
		return
	}
	if err := s.wda.Stop(req.UDID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"stopped": true})
}
