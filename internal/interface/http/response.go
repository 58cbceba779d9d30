package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gamilit/ranks-engine/internal/interface/http/handlers"
)

// JSONResponse is the success envelope of every route.
type JSONResponse struct {
	Success   bool          `json:"success"`
	Data      any           `json:"data,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
	Meta      *ResponseMeta `json:"meta,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

// APIError mirrors handlers.ErrorDetail for clients decoding either shape.
type APIError = handlers.ErrorDetail

// ResponseMeta carries paging and version stamps.
type ResponseMeta struct {
	Timestamp  time.Time `json:"timestamp"`
	Version    string    `json:"version,omitempty"`
	TotalCount int       `json:"total_count,omitempty"`
	Limit      int       `json:"limit,omitempty"`
	HasMore    bool      `json:"has_more,omitempty"`
}

func respond(w http.ResponseWriter, r *http.Request, status int, data any) {
	respondPage(w, r, status, data, nil)
}

func respondPage(w http.ResponseWriter, r *http.Request, status int, data any, meta *ResponseMeta) {
	if meta == nil {
		meta = new(ResponseMeta)
	}
	meta.Timestamp, meta.Version = time.Now().UTC(), "v1"

	body := JSONResponse{
		Success:   status >= 200 && status < 300,
		Data:      data,
		Meta:      meta,
		RequestID: requestIDFrom(r.Context()),
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func fail(w http.ResponseWriter, status int, code, message string) {
	handlers.WriteError(w, status, code, message)
}

func queryInt(r *http.Request, key string, fallback int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return fallback
	}
	return n
}
