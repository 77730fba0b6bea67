package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/quern/quern/internal/errs"
)

func (s *Server) registerBuildCrashRoutes(r *mux.Router) {
	r.HandleFunc("/builds/latest", s.handleBuildsLatest).Methods(http.MethodGet)
	r.HandleFunc("/builds/parse-file", s.handleBuildsParseFile).Methods(http.MethodPost)
	r.HandleFunc("/crashes/latest", s.handleCrashesLatest).Methods(http.MethodGet)
}

func (s *Server) handleBuildsLatest(w http.ResponseWriter, r *http.Request) {
	issues, tests := s.builds.Latest()
	writeJSON(w, http.StatusOK, map[string]interface{}{"issues": issues, "tests": tests})
}

func (s *Server) handleBuildsParseFile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Path == "" {
		writeError(w, errs.MissingParameter("path"))
		return
	}
	if err := s.builds.ConsumeFile(req.Path); err != nil {
		writeError(w, errs.Internal("parse build log", err))
		return
	}
	issues, tests := s.builds.Latest()
	writeJSON(w, http.StatusOK, map[string]interface{}{"issues": issues, "tests": tests})
}

func (s *Server) handleCrashesLatest(w http.ResponseWriter, r *http.Request) {
	report, ok := s.crash.Latest()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{"report": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"report": report})
}
