// Package server exposes the strain dashboard and the request workflow over
// HTTP as JSON.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/cgem-lab/strainboard/internal/dashboard"
	"github.com/cgem-lab/strainboard/internal/loader"
	"github.com/cgem-lab/strainboard/internal/metrics"
	"github.com/cgem-lab/strainboard/internal/requests"
	"github.com/cgem-lab/strainboard/internal/strains"
)

// Identity headers set by the fronting auth proxy.
const (
	HeaderEmail   = "X-Auth-Email"
	HeaderName    = "X-Auth-Name"
	HeaderSubject = "X-Auth-Subject"
)

const maxBodyBytes = 1 << 20

// Handler serves the JSON API.
type Handler struct {
	Engine   *dashboard.Engine
	Requests *requests.Service
	Metrics  *metrics.Recorder
	Logger   *zap.Logger
	// AfterRefresh runs after a successful refresh, e.g. to reload lab emails.
	AfterRefresh func(ctx context.Context)
}

// New wraps h with access logging and request metrics.
func New(h *Handler) http.Handler {
	if h.Logger == nil {
		h.Logger = zap.NewNop()
	}
	return h.middleware(h)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case path == "/healthz":
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	case path == "/metrics":
		if h.Metrics == nil {
			http.NotFound(w, r)
			return
		}
		h.Metrics.Handler(h.Logger).ServeHTTP(w, r)
	case h.Engine == nil && strings.HasPrefix(path, "/api/v1/") && !strings.HasPrefix(path, "/api/v1/requests"):
		writeError(w, http.StatusInternalServerError, "inventory not configured")
	case path == "/api/v1/strains":
		h.allow(w, r, http.MethodGet, h.handleStrains)
	case path == "/api/v1/counts":
		h.allow(w, r, http.MethodGet, h.handleCounts)
	case path == "/api/v1/selection":
		h.handleSelection(w, r)
	case path == "/api/v1/refresh":
		h.allow(w, r, http.MethodPost, h.handleRefresh)
	case path == "/api/v1/status":
		h.allow(w, r, http.MethodGet, h.handleStatus)
	case path == "/api/v1/requests" || strings.HasPrefix(path, "/api/v1/requests/"):
		if h.Requests == nil {
			http.NotFound(w, r)
			return
		}
		h.handleRequests(w, r, strings.TrimPrefix(path, "/api/v1/requests"))
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) allow(w http.ResponseWriter, r *http.Request, method string, fn http.HandlerFunc) {
	if r.Method != method {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	fn(w, r)
}

type strainsResponse struct {
	Columns []strains.Column `json:"columns"`
	Rows    [][]string       `json:"rows"`
	Total   int              `json:"total"`
}

func (h *Handler) handleStrains(w http.ResponseWriter, _ *http.Request) {
	v := h.Engine.View()
	cols := make([]strains.Column, 0, len(v.Current.Columns))
	widths := map[string]strains.Column{}
	for _, c := range strains.TableColumns {
		widths[c.Name] = c
	}
	for _, name := range v.Current.Columns {
		c, ok := widths[name]
		if !ok {
			c = strains.Column{Name: name}
		}
		cols = append(cols, c)
	}
	rows := v.Current.Records()
	if rows == nil {
		rows = [][]string{}
	}
	writeJSON(w, http.StatusOK, strainsResponse{Columns: cols, Rows: rows, Total: v.Full.Len()})
}

type countsResponse struct {
	Counts    []dashboard.CountEntry `json:"counts"`
	Baseline  []dashboard.CountEntry `json:"baseline"`
	Universe  dashboard.Universe     `json:"universe"`
	Selection []dashboard.Pair       `json:"selection"`
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func (h *Handler) handleCounts(w http.ResponseWriter, _ *http.Request) {
	v := h.Engine.View()
	writeJSON(w, http.StatusOK, countsResponse{
		Counts:    nonNil(v.Counts),
		Baseline:  nonNil(v.Baseline),
		Universe:  nonNil(v.Universe),
		Selection: nonNil(v.Selection),
	})
}

type selectionRequest struct {
	Pairs []dashboard.Pair `json:"pairs"`
}

type viewSummary struct {
	Rows      int              `json:"rows"`
	Total     int              `json:"total"`
	Selection []dashboard.Pair `json:"selection"`
	Loading   bool             `json:"loading"`
}

func summarize(v dashboard.View) viewSummary {
	return viewSummary{Rows: v.Current.Len(), Total: v.Full.Len(), Selection: nonNil(v.Selection), Loading: v.Loading}
}

func (h *Handler) handleSelection(w http.ResponseWriter, r *http.Request) {
	var pairs []dashboard.Pair
	switch r.Method {
	case http.MethodPut:
		var req selectionRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		pairs = req.Pairs
	case http.MethodDelete:
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := h.Engine.ApplySelection(pairs); err != nil {
		if errors.Is(err, dashboard.ErrLoading) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summarize(h.Engine.View()))
}

type statusResponse struct {
	Message  string `json:"message"`
	Loading  bool   `json:"loading"`
	Rows     int    `json:"rows"`
	Total    int    `json:"total"`
	Source   string `json:"source,omitempty"`
	LoadedAt string `json:"loaded_at,omitempty"`
}

func (h *Handler) status() statusResponse {
	v := h.Engine.View()
	st := statusResponse{Loading: v.Loading, Rows: v.Current.Len(), Total: v.Full.Len(), Source: v.Source}
	switch {
	case v.Loading:
		st.Message = "Loading..."
	case v.LoadedAt.IsZero():
		st.Message = "Spreadsheet not loaded yet."
	default:
		st.Message = loader.StatusLine(v.LoadedAt)
		st.LoadedAt = v.LoadedAt.UTC().Format("2006-01-02T15:04:05Z")
	}
	return st
}

func (h *Handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.status())
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if h.Engine.Loading() {
		writeError(w, http.StatusConflict, dashboard.ErrLoading.Error())
		return
	}
	if err := h.Engine.Refresh(r.Context()); err != nil {
		if errors.Is(err, dashboard.ErrDataUnavailable) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if h.AfterRefresh != nil {
		h.AfterRefresh(r.Context())
	}
	writeJSON(w, http.StatusOK, h.status())
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid JSON body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
