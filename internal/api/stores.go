package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/urumi/internal/admission"
	"github.com/seantiz/urumi/internal/catalog"
	"github.com/seantiz/urumi/internal/model"
	"github.com/seantiz/urumi/internal/provision"
	"github.com/seantiz/urumi/internal/store"
)

const maxBodySize = 1 << 20 // 1 MB

// errorResponse is the JSON body of every error response.
type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func (s *Server) handleListStores(w http.ResponseWriter, r *http.Request) {
	stores, err := s.svc.List(r.Context())
	if err != nil {
		s.writeServiceError(w, err, "list stores")
		return
	}

	if stores == nil {
		stores = []*model.Store{}
	}
	s.writeJSON(w, http.StatusOK, stores)
}

func (s *Server) handleGetStore(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, err, "get store")
		return
	}

	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleCreateStore(w http.ResponseWriter, r *http.Request) {
	var req provision.CreateRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	st, err := s.svc.Create(r.Context(), req, clientOrigin(r))
	if err != nil {
		s.writeServiceError(w, err, "create store")
		return
	}

	s.writeJSON(w, http.StatusCreated, st)
}

func (s *Server) handleDeleteStore(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Teardown may outlast the server write timeout.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for delete", "error", err)
	}

	if err := s.svc.Delete(r.Context(), id); err != nil {
		s.writeServiceError(w, err, "delete store")
		return
	}

	if s.broker != nil {
		s.broker.Forget(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeServiceError maps a provisioning error to its HTTP status.
func (s *Server) writeServiceError(w http.ResponseWriter, err error, action string) {
	var ve *provision.ValidationError
	var rej *admission.RejectionError

	switch {
	case errors.As(err, &ve):
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request", Fields: ve.Fields})
	case errors.Is(err, catalog.ErrUnknownEngine):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &rej):
		if rej.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(rej.RetryAfter.Seconds()))))
		}
		s.writeError(w, http.StatusTooManyRequests, rej.Err.Error())
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "store not found")
	case errors.Is(err, provision.ErrTeardownFailed):
		s.logger.Warn(action, "error", err)
		s.writeError(w, http.StatusBadGateway, "teardown failed, store kept")
	case errors.Is(err, provision.ErrEnqueueFailed):
		s.logger.Error(action, "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "provisioning queue unavailable")
	default:
		s.logger.Error(action, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to "+action)
	}
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorResponse{Error: message})
}
