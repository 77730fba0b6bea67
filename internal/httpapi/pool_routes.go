package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/quern/quern/internal/errs"
	"github.com/quern/quern/internal/models"
	"github.com/quern/quern/internal/pool"
)

// registerPoolRoutes wires the device-pool protocol under /api/v1/devices,
// distinct from the per-device control routes under /api/v1/device, per
// spec §6's naming split between the pool's collective operations and a
// single device's imperative commands.
func (s *Server) registerPoolRoutes(r *mux.Router) {
	p := r.PathPrefix("/devices").Subrouter()
	p.HandleFunc("/pool", s.handlePoolList).Methods(http.MethodGet)
	p.HandleFunc("/claim", s.handlePoolResolve).Methods(http.MethodPost)
	p.HandleFunc("/release", s.handlePoolRelease).Methods(http.MethodPost)
	p.HandleFunc("/resolve", s.handlePoolResolve).Methods(http.MethodPost)
	p.HandleFunc("/ensure", s.handlePoolEnsure).Methods(http.MethodPost)
	p.HandleFunc("/cleanup", s.handlePoolCleanup).Methods(http.MethodPost)
	p.HandleFunc("/refresh", s.handlePoolRefresh).Methods(http.MethodPost)
}

func (s *Server) poolConfigured(w http.ResponseWriter) bool {
	if s.pool == nil {
		writeError(w, errs.ToolMissing("pool", "device pool is not configured"))
		return false
	}
	return true
}

func (s *Server) handlePoolList(w http.ResponseWriter, r *http.Request) {
	if !s.poolConfigured(w) {
		return
	}
	devices, err := s.pool.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONPretty(r, w, http.StatusOK, map[string]interface{}{"devices": devices})
}

type poolCriteriaBody struct {
	UDID        string            `json:"udid"`
	Name        string            `json:"name"`
	OSVersion   string            `json:"os_version"`
	DeviceType  models.DeviceType `json:"device_type"`
	Tags        []string          `json:"tags"`
	AutoBoot    bool              `json:"auto_boot"`
	WaitIfBusy  bool              `json:"wait_if_busy"`
	WaitTimeout float64           `json:"wait_timeout"`
	SessionID   string            `json:"session_id"`
}

func (b poolCriteriaBody) toCriteria() pool.Criteria {
	return pool.Criteria{
		UDID:        b.UDID,
		Name:        b.Name,
		OSVersion:   b.OSVersion,
		DeviceType:  b.DeviceType,
		Tags:        b.Tags,
		AutoBoot:    b.AutoBoot,
		WaitIfBusy:  b.WaitIfBusy,
		WaitTimeout: time.Duration(b.WaitTimeout * float64(time.Second)),
		SessionID:   b.SessionID,
	}
}

func (s *Server) handlePoolResolve(w http.ResponseWriter, r *http.Request) {
	if !s.poolConfigured(w) {
		return
	}
	var req poolCriteriaBody
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.pool.Resolve(r.Context(), req.toCriteria())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"device":  res.Device,
		"token":   res.Token,
		"claimed": res.Claimed,
	})
}

func (s *Server) handlePoolRelease(w http.ResponseWriter, r *http.Request) {
	if !s.poolConfigured(w) {
		return
	}
	var req struct {
		UDID  string `json:"udid"`
		Token string `json:"token"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.UDID == "" {
		writeError(w, errs.MissingParameter("udid"))
		return
	}
	if err := s.pool.Release(req.UDID, req.Token); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"released": true})
}

func (s *Server) handlePoolEnsure(w http.ResponseWriter, r *http.Request) {
	if !s.poolConfigured(w) {
		return
	}
	var req struct {
		poolCriteriaBody
		Count int `json:"count"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Count <= 0 {
		writeError(w, errs.Validation("count must be positive"))
		return
	}
	results, err := s.pool.EnsureN(r.Context(), req.poolCriteriaBody.toCriteria(), req.Count)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"resolutions": results})
}

func (s *Server) handlePoolCleanup(w http.ResponseWriter, r *http.Request) {
	if !s.poolConfigured(w) {
		return
	}
	if err := s.pool.Cleanup(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cleaned": true})
}

func (s *Server) handlePoolRefresh(w http.ResponseWriter, r *http.Request) {
	if !s.poolConfigured(w) {
		return
	}
	devices, err := s.pool.Refresh(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONPretty(r, w, http.StatusOK, map[string]interface{}{"devices": devices})
}
