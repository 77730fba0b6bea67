package httpapi

import (
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"

	"github.com/quern/quern/internal/errs"
	"github.com/quern/quern/internal/models"
	"github.com/quern/quern/internal/proxy"
)

func (s *Server) registerProxyRoutes(r *mux.Router) {
	p := r.PathPrefix("/proxy").Subrouter()
	p.HandleFunc("/status", s.handleProxyStatus).Methods(http.MethodGet)
	p.HandleFunc("/start", s.handleProxyStart).Methods(http.MethodPost)
	p.HandleFunc("/stop", s.handleProxyStop).Methods(http.MethodPost)
	p.HandleFunc("/configure-system", s.handleProxyConfigureSystem).Methods(http.MethodPost)
	p.HandleFunc("/unconfigure-system", s.handleProxyUnconfigureSystem).Methods(http.MethodPost)
	p.HandleFunc("/local-capture", s.handleProxyLocalCapture).Methods(http.MethodPost)
	p.HandleFunc("/cert", s.handleProxyCertDownload).Methods(http.MethodGet)
	p.HandleFunc("/cert/verify", s.handleProxyCertVerify).Methods(http.MethodGet)
	p.HandleFunc("/cert/install", s.handleProxyCertInstall).Methods(http.MethodPost)
	p.HandleFunc("/flows", s.handleProxyFlows).Methods(http.MethodGet)
	p.HandleFunc("/flows/{id}", s.handleProxyFlowDetail).Methods(http.MethodGet)
	p.HandleFunc("/flows/wait", s.handleProxyFlowsWait).Methods(http.MethodGet)
	p.HandleFunc("/flows/summary", s.handleProxyFlowsSummary).Methods(http.MethodGet)
	p.HandleFunc("/intercept", s.handleProxyInterceptSet).Methods(http.MethodPost)
	p.HandleFunc("/intercept", s.handleProxyInterceptClear).Methods(http.MethodDelete)
	p.HandleFunc("/intercept/held", s.handleProxyInterceptHeld).Methods(http.MethodGet)
	p.HandleFunc("/intercept/release", s.handleProxyInterceptRelease).Methods(http.MethodPost)
	p.HandleFunc("/replay/{id}", s.handleProxyReplay).Methods(http.MethodPost)
	p.HandleFunc("/mocks", s.handleProxyMocksList).Methods(http.MethodGet)
	p.HandleFunc("/mocks", s.handleProxyMocksCreate).Methods(http.MethodPost)
	p.HandleFunc("/mocks", s.handleProxyMocksUpdate).Methods(http.MethodPatch)
	p.HandleFunc("/mocks", s.handleProxyMocksDelete).Methods(http.MethodDelete)
	p.HandleFunc("/setup-guide", s.handleProxySetupGuide).Methods(http.MethodGet)
}

func (s *Server) handleProxyStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": s.proxy.StatusValue()})
}

func (s *Server) handleProxyStart(w http.ResponseWriter, r *http.Request) {
	if err := s.proxy.Start(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": s.proxy.StatusValue()})
}

func (s *Server) handleProxyStop(w http.ResponseWriter, r *http.Request) {
	if err := s.proxy.Stop(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": s.proxy.StatusValue()})
}

func (s *Server) handleProxyConfigureSystem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Host string `json:"host"`
		Port int    `json:"port"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	snapshot, err := s.sysProxy.Configure(r.Context(), req.Host, req.Port)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"snapshot": snapshot})
}

func (s *Server) handleProxyUnconfigureSystem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Snapshot models.SystemProxySnapshot `json:"snapshot"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.sysProxy.Restore(r.Context(), req.Snapshot); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"restored": true})
}

// handleProxyLocalCapture answers the device-local capture route (traffic
// routed to the interceptor without touching the host's system proxy)
// with the interceptor's current status only. It does not change any
// capture setting and does not report a listen address.
func (s *Server) handleProxyLocalCapture(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": s.proxy.StatusValue()})
}

func (s *Server) handleProxyCertDownload(w http.ResponseWriter, r *http.Request) {
	if s.certPath == "" {
		writeError(w, errs.NotFound("cert", "root-ca"))
		return
	}
	data, err := os.ReadFile(s.certPath)
	if err != nil {
		writeError(w, errs.Internal("read certificate", err))
		return
	}
	w.Header().Set("Content-Type", "application/x-x509-ca-cert")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleProxyCertVerify(w http.ResponseWriter, r *http.Request) {
	devices, err := s.controller.ListDevices(r.Context(), "", "")
	if err != nil {
		writeError(w, err)
		return
	}
	deviceType := models.DeviceType(r.URL.Query().Get("device_type"))
	stateFilter := models.DeviceState(r.URL.Query().Get("state"))
	reports, erased, err := s.certVerifier.VerifyCert(r.Context(), devices, deviceType, stateFilter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reports": reports, "erased": erased})
}

func (s *Server) handleProxyCertInstall(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UDID string `json:"udid"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	d, err := s.controller.FindDevice(r.Context(), req.UDID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.certVerifier.InstallCert(r.Context(), d, s.certPath); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"installed": true})
}

func (s *Server) handleProxyFlows(w http.ResponseWriter, r *http.Request) {
	filter := flowFilterFromQuery(r)
	flows := s.flows.Query(filter, queryInt(r, "limit", 100), queryInt(r, "offset", 0))
	writeJSON(w, http.StatusOK, map[string]interface{}{"flows": flows})
}

func (s *Server) handleProxyFlowDetail(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	flow, ok := s.flows.Get(id)
	if !ok {
		writeError(w, errs.NotFound("flow", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"flow": flow})
}

// handleProxyFlowsWait long-polls for the next flow matching filter,
// returning matched=false (never an error status) on timeout, per spec
// §4.9.
func (s *Server) handleProxyFlowsWait(w http.ResponseWriter, r *http.Request) {
	filter := flowFilterFromQuery(r)
	timeout := clampTimeout(r, 10*time.Second)
	flow, matched := s.flows.Wait(r.Context(), filter, queryTime(r, "since"), timeout)
	if !matched {
		writeJSON(w, http.StatusOK, map[string]interface{}{"matched": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"matched": true, "flow": flow})
}

func (s *Server) handleProxyFlowsSummary(w http.ResponseWriter, r *http.Request) {
	filter := flowFilterFromQuery(r)
	flows := s.flows.Query(filter, 0, 0)
	digest := summarizeFlowsNow(flows)
	writeJSON(w, http.StatusOK, map[string]interface{}{"digest": digest})
}

func (s *Server) handleProxyInterceptSet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Pattern string `json:"pattern"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	rule, err := s.proxy.SetIntercept(req.Pattern)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rule": rule})
}

func (s *Server) handleProxyInterceptClear(w http.ResponseWriter, r *http.Request) {
	ruleID := r.URL.Query().Get("rule_id")
	if err := s.proxy.ClearIntercept(ruleID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cleared": true})
}

func (s *Server) handleProxyInterceptHeld(w http.ResponseWriter, r *http.Request) {
	timeout := clampTimeout(r, 0)
	held, err := s.proxy.ListHeld(r.URL.Query().Get("filter"), timeout)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"held": held, "matched": len(held) > 0})
}

func (s *Server) handleProxyInterceptRelease(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FlowID string                `json:"flow_id"`
		Drop   bool                  `json:"drop"`
		Mods   *proxy.Modifications `json:"modifications"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	var err error
	if req.Drop {
		err = s.proxy.Drop(req.FlowID)
	} else {
		err = s.proxy.Release(req.FlowID, req.Mods)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"released": true})
}

func (s *Server) handleProxyReplay(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		Modifications *proxy.Modifications `json:"modifications"`
	}
	_ = decodeJSON(r, &req) // an empty body means replay unmodified
	newFlowID, err := s.proxy.Replay(id, req.Modifications)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"flow_id": newFlowID})
}

func (s *Server) handleProxyMocksList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"mocks": s.proxy.ListMocks()})
}

func (s *Server) handleProxyMocksCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Pattern    string          `json:"pattern"`
		StatusCode int             `json:"status_code"`
		Headers    []models.Header `json:"headers"`
		Body       string          `json:"body"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	rule, err := s.proxy.SetMock(req.Pattern, req.StatusCode, req.Headers, req.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rule": rule})
}

func (s *Server) handleProxyMocksUpdate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RuleID     string          `json:"rule_id"`
		StatusCode *int            `json:"status_code"`
		Headers    []models.Header `json:"headers"`
		Body       *string         `json:"body"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	rule, err := s.proxy.UpdateMock(req.RuleID, req.StatusCode, req.Headers, req.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rule": rule})
}

func (s *Server) handleProxyMocksDelete(w http.ResponseWriter, r *http.Request) {
	ruleID := r.URL.Query().Get("rule_id")
	if err := s.proxy.ClearMocks(ruleID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cleared": true})
}

// handleProxySetupGuide returns the steps a developer follows to trust
// the root CA and route a device's traffic through the interceptor,
// referencing the same cert/configure-system/local-capture endpoints
// above rather than duplicating their logic.
func (s *Server) handleProxySetupGuide(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"steps": []string{
			"POST /api/v1/proxy/cert/install or download /api/v1/proxy/cert on the device's Safari and trust it in Settings > General > About > Certificate Trust Settings",
			"POST /api/v1/proxy/start to launch the interceptor",
			"POST /api/v1/proxy/configure-system to route simulator traffic through it, or use device-local capture for physical devices",
			"GET /api/v1/proxy/cert/verify to confirm the trust store shows the certificate installed",
		},
	})
}
