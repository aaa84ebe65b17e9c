package http

import (
	"errors"
	"net/http"

	"github.com/Strob0t/ReviewForge/internal/domain/assignment"
	"github.com/Strob0t/ReviewForge/internal/service"
)

type assignResponse struct {
	Assigned bool `json:"assigned"`
	*assignment.Assignment
}

// Assign handles POST /api/v1/assignments
//
// An exhausted pool is not an error: the response carries assigned=false.
func (h *Handlers) Assign(w http.ResponseWriter, r *http.Request) {
	var opts service.AssignOptions
	if r.ContentLength != 0 {
		var ok bool
		if opts, ok = readJSON[service.AssignOptions](w, r, bodyLimit); !ok {
			return
		}
	}
	a, err := h.Assignment.Assign(r.Context(), actor(r), opts)
	if errors.Is(err, assignment.ErrNoDocumentsAvailable) {
		writeJSON(w, http.StatusOK, assignResponse{Assigned: false})
		return
	}
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, assignResponse{Assigned: true, Assignment: a})
}

type heartbeatRequest struct {
	DocumentID string `json:"document_id"`
}

// Heartbeat handles POST /api/v1/assignments/heartbeat
func (h *Handlers) Heartbeat(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[heartbeatRequest](w, r, bodyLimit)
	if !ok {
		return
	}
	held, err := h.Assignment.Touch(r.Context(), actor(r), req.DocumentID)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	if !held {
		writeError(w, http.StatusConflict, "document already has the maximum number of reviewers")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"document_id": req.DocumentID,
		"timeout_sec": int(h.Assignment.Timeout().Seconds()),
	})
}

// Release handles DELETE /api/v1/assignments/{doc}
func (h *Handlers) Release(w http.ResponseWriter, r *http.Request) {
	released, err := h.Assignment.Release(r.Context(), actor(r), urlParam(r, "doc"))
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"released": released})
}

// CurrentAssignment handles GET /api/v1/assignments/current
func (h *Handlers) CurrentAssignment(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.Assignment.Current(r.Context(), actor(r))
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"assigned": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assigned": true, "document_id": doc})
}

// DocumentHolders handles GET /api/v1/locks/{doc}
func (h *Handlers) DocumentHolders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Assignment.WhoHolds(r.Context(), urlParam(r, "doc")))
}

// LockSnapshot handles GET /api/v1/locks
func (h *Handlers) LockSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Assignment.Snapshot(r.Context()))
}
