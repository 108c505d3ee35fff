package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/samvad-hq/samvad-relay/internal/relay"
	"github.com/samvad-hq/samvad-relay/internal/storage"
	"github.com/samvad-hq/samvad-relay/pkg/clientip"
	"github.com/samvad-hq/samvad-relay/pkg/profiles"
	"github.com/samvad-hq/samvad-relay/pkg/request"
)

const maxBodyBytes = 1 << 20

// relayRequest is the body of POST /v1/relay.
type relayRequest struct {
	Protocol string            `json:"protocol"`
	Hostname string            `json:"hostname"`
	Path     string            `json:"path"`
	Port     int               `json:"port"`
	Method   string            `json:"method"`
	Headers  map[string]string `json:"headers"`
	Data     profiles.Payload  `json:"data"`
	Queries  profiles.Payload  `json:"queries"`
	Proxy    string            `json:"proxy"`
}

func (rr relayRequest) options() request.Options {
	method := strings.TrimSpace(rr.Method)
	if method == "" {
		method = http.MethodGet
	}
	return request.Options{
		Protocol: request.ParseProtocol(rr.Protocol),
		Hostname: strings.TrimSpace(rr.Hostname),
		Path:     rr.Path,
		Port:     rr.Port,
		Method:   method,
		Data:     rr.Data.Value,
		Queries:  rr.Queries.Value,
		Proxy:    strings.TrimSpace(rr.Proxy),
		Headers:  rr.Headers,
	}
}

// overridesRequest is the optional body of POST /v1/profiles/{id}/run.
type overridesRequest struct {
	Headers map[string]string `json:"headers"`
	Data    profiles.Payload  `json:"data"`
	Queries profiles.Payload  `json:"queries"`
	Proxy   string            `json:"proxy"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleClientIP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ip":       clientip.ClientIP(r),
		"resolved": clientip.ResolvedIP(r.Context()),
	})
}

func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	var body relayRequest
	if err := decodeBody(r, &body, false); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	opts := body.options()
	if opts.Hostname == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_body", "hostname is required")
		return
	}

	s.dispatch(w, r, relay.Call{ClientIP: clientip.ClientIP(r), Options: opts})
}

func (s *Server) handleRunProfile(w http.ResponseWriter, r *http.Request) {
	var body overridesRequest
	if err := decodeBody(r, &body, true); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	call, err := s.relay.Profile(chi.URLParam(r, "id"), clientip.ClientIP(r), relay.Overrides{
		Headers: body.Headers,
		Data:    body.Data.Value,
		Queries: body.Queries.Value,
		Proxy:   strings.TrimSpace(body.Proxy),
	})
	if err != nil {
		if errors.Is(err, relay.ErrProfileNotFound) {
			writeJSONError(w, http.StatusNotFound, "profile_not_found", err.Error())
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	s.dispatch(w, r, call)
}

// dispatch runs call inline, or in the background when ?async=1 is set.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, call relay.Call) {
	if isAsync(r) {
		id, _ := s.relay.Start(r.Context(), call)
		writeJSON(w, http.StatusAccepted, relay.Result{ID: id, Status: storage.StatusPending})
		return
	}

	res, err := s.relay.Run(r.Context(), call)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, ok, err := s.relay.Lookup(id)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	if !ok {
		writeJSONError(w, http.StatusNotFound, "not_found", "no call with id "+id)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.relay.Abort(id) {
		writeJSONError(w, http.StatusNotFound, "not_in_flight", "no in-flight call with id "+id)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "aborted": true})
}

func isAsync(r *http.Request) bool {
	switch strings.ToLower(r.URL.Query().Get("async")) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// decodeBody reads a JSON body into dst. An empty body is accepted only when
// optional is set.
func decodeBody(r *http.Request, dst any, optional bool) error {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		if optional {
			return nil
		}
		return errors.New("request body is required")
	}
	return json.Unmarshal(raw, dst)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error":   code,
		"message": message,
	})
}
