// Package httpapi wires every Quern subsystem into the HTTP surface from
// spec §6: logs, builds/crashes, proxy, device control and the device
// pool, plus SSE streaming and long-polling. Grounded on r3e-network-service_layer's
// infrastructure/middleware package for the response/error-envelope shape,
// rebuilt on gorilla/mux (already in go.mod) instead of a bare ServeMux so
// route groups and path parameters read the way r3e-network-service_layer's own service
// routers do.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/tidwall/pretty"

	"github.com/quern/quern/internal/errs"
)

// writeJSON encodes v as the response body with status, matching the
// r3e-network-service_layer's health/readiness handlers' encode-and-log-on-failure shape.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	writeJSONPretty(nil, w, status, v)
}

// writeJSONPretty is writeJSON for handlers worth curling directly from a
// terminal: a request with ?pretty=1 gets indented, colorless output via
// tidwall/pretty instead of json.Encoder's own compact default.
func writeJSONPretty(r *http.Request, w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if r != nil && r.URL.Query().Get("pretty") != "" {
		data = pretty.Pretty(data)
	}
	_, _ = w.Write(data)
}

// errorBody is the JSON shape every error response takes, mirroring
// errs.QuernError's own fields so a client never has to special-case the
// transport layer's view of an error versus a subsystem's.
type errorBody struct {
	Code    errs.Code              `json:"code"`
	Message string                 `json:"message"`
	Tool    string                 `json:"tool,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// writeError maps err to its HTTP status via errs.HTTPStatus and writes
// the structured body, falling back to a bare 500 for errors that never
// went through the errs package.
func writeError(w http.ResponseWriter, err error) {
	status := errs.HTTPStatus(err)
	body := errorBody{Code: errs.CodeInternal, Message: err.Error()}
	if qe, ok := errs.As(err); ok {
		body.Code = qe.Code
		body.Message = qe.Message
		body.Tool = qe.Tool
		body.Details = qe.Details
	}
	writeJSON(w, status, body)
}

// decodeJSON parses the request body into v, returning a Validation error
// on malformed JSON so handlers can return it straight to writeError.
func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return errs.Validation("request body is required")
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errs.Validation("malformed request body: " + err.Error())
	}
	return nil
}
