package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"oidkeeper/internal/app/documents"
	"oidkeeper/internal/application/session"
	"oidkeeper/internal/domain/models"
	"oidkeeper/internal/domain/ports"
	"oidkeeper/internal/infrastructure/repositories/codec"
	"oidkeeper/internal/infrastructure/repositories/filter"
)

const maxDocumentSize = 1 << 20

// ErrorResponse is the body of a failed request
type ErrorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// objectsHandler exposes documents.Service under /objects/
type objectsHandler struct {
	docs    *documents.Service
	limiter *rate.Limiter
	logger  logr.Logger
}

func (h *objectsHandler) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /objects/{type}", h.limited(h.list))
	mux.HandleFunc("POST /objects/{type}", h.limited(h.create))
	mux.HandleFunc("GET /objects/{type}/{key}", h.limited(h.get))
	mux.HandleFunc("PATCH /objects/{type}/{key}", h.limited(h.patch))
	mux.HandleFunc("DELETE /objects/{type}/{key}", h.limited(h.remove))
}

// limited rejects requests above the configured rate with 429; a nil limiter lets everything through
func (h *objectsHandler) limited(next http.HandlerFunc) http.HandlerFunc {
	if h.limiter == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.limiter.Allow() {
			writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
				Message: "too many requests, please retry later",
				Error:   "rate limit exceeded",
			})
			return
		}
		next(w, r)
	}
}

func (h *objectsHandler) get(w http.ResponseWriter, r *http.Request) {
	view, err := h.docs.Get(r.Context(), pathOid(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *objectsHandler) list(w http.ResponseWriter, r *http.Request) {
	q := documents.Query{
		TypeTag: r.PathValue("type"),
		Filter:  r.URL.Query().Get("filter"),
		Keys:    r.URL.Query()["key"],
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: "invalid limit", Error: limit})
			return
		}
		q.Limit = n
	}

	views, err := h.docs.List(r.Context(), q)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *objectsHandler) create(w http.ResponseWriter, r *http.Request) {
	doc, err := readBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: "invalid document", Error: err.Error()})
		return
	}
	view, err := h.docs.Put(r.Context(), r.PathValue("type"), doc)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (h *objectsHandler) patch(w http.ResponseWriter, r *http.Request) {
	doc, err := readBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: "invalid document", Error: err.Error()})
		return
	}
	view, err := h.docs.Patch(r.Context(), pathOid(r), doc)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *objectsHandler) remove(w http.ResponseWriter, r *http.Request) {
	if err := h.docs.Delete(r.Context(), pathOid(r)); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *objectsHandler) writeError(w http.ResponseWriter, err error) {
	code := statusOf(err)
	if code == http.StatusInternalServerError {
		h.logger.Error(err, "request failed")
	}
	writeJSON(w, code, ErrorResponse{Message: session.UserMessage(err), Error: err.Error()})
}

func statusOf(err error) int {
	switch {
	case models.IsNotFound(err):
		return http.StatusNotFound
	case models.IsConcurrencyConflict(err):
		return http.StatusConflict
	case errors.Is(err, models.ErrNotPersistable),
		errors.Is(err, models.ErrMalformedIdentifier),
		errors.Is(err, filter.ErrInvalidFilter),
		errors.Is(err, documents.ErrNotDocument):
		return http.StatusBadRequest
	case errors.Is(err, ports.ErrStoreClosed), errors.Is(err, session.ErrSessionClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func pathOid(r *http.Request) models.Oid {
	return models.NewRootOid(r.PathValue("type"), r.PathValue("key"))
}

func readBody(r *http.Request) (map[string]any, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentSize))
	if err != nil {
		return nil, err
	}
	return codec.DocumentOf(data)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
