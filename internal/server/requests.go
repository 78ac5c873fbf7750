package server

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/cgem-lab/strainboard/internal/requests"
)

// currentUser resolves the caller from the proxy headers and records the
// sign-in. It writes the error response itself and returns nil on failure.
func (h *Handler) currentUser(w http.ResponseWriter, r *http.Request) *requests.User {
	email := strings.TrimSpace(r.Header.Get(HeaderEmail))
	if email == "" {
		writeError(w, http.StatusUnauthorized, "sign in required")
		return nil
	}
	u, err := h.Requests.EnsureUser(r.Context(), requests.Identity{
		Subject: r.Header.Get(HeaderSubject),
		Name:    r.Header.Get(HeaderName),
		Email:   email,
	})
	if err != nil {
		h.writeWorkflowError(w, err)
		return nil
	}
	if !u.Member {
		writeError(w, http.StatusForbidden, requests.ErrNotMember.Error())
		return nil
	}
	return u
}

// handleRequests serves /api/v1/requests and everything below it. rest is
// the path after the collection, "" or "/{id}[/action]".
func (h *Handler) handleRequests(w http.ResponseWriter, r *http.Request, rest string) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	if rest == "" {
		switch r.Method {
		case http.MethodGet:
			h.handleListRequests(w, r, user)
		case http.MethodPost:
			h.handlePlace(w, r, user)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
		return
	}
	segments := strings.Split(strings.TrimPrefix(rest, "/"), "/")
	id := segments[0]
	if id == "" || len(segments) > 2 {
		writeError(w, http.StatusNotFound, "request endpoint not found")
		return
	}
	if len(segments) == 1 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		detail, err := h.Requests.Get(r.Context(), id)
		if err != nil {
			h.writeWorkflowError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, detail)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	switch segments[1] {
	case "volunteer":
		rq, err := h.Requests.Volunteer(r.Context(), user, id)
		if err != nil {
			h.writeWorkflowError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"request": rq})
	case "status":
		var body struct {
			Status string `json:"status"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		rq, err := h.Requests.SetStatus(r.Context(), user, id, body.Status)
		if err != nil {
			h.writeWorkflowError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"request": rq})
	case "comments":
		var body struct {
			Body string `json:"body"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		c, err := h.Requests.AddComment(r.Context(), user, id, body.Body)
		if err != nil {
			h.writeWorkflowError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"comment": c})
	default:
		writeError(w, http.StatusNotFound, "request endpoint not found")
	}
}

func (h *Handler) handleListRequests(w http.ResponseWriter, r *http.Request, user *requests.User) {
	q := r.URL.Query()
	opts := requests.ListOptions{ActiveOnly: q.Get("active") == "true"}
	if q.Get("mine") == "true" {
		opts.RequesterID = user.ID
	}
	items, err := h.Requests.List(r.Context(), opts)
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": items})
}

func (h *Handler) handlePlace(w http.ResponseWriter, r *http.Request, user *requests.User) {
	var in requests.PlaceInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rq, err := h.Requests.Place(r.Context(), user, in)
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"request": rq})
}

func (h *Handler) writeWorkflowError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, requests.ErrNotFound), errors.Is(err, requests.ErrStrainNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, requests.ErrInvalidInput), errors.Is(err, requests.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, requests.ErrNotMember):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, requests.ErrClosed):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.Logger.Error("request workflow", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
