package http

import (
	"net/http"

	"github.com/Strob0t/ReviewForge/internal/domain/review"
	"github.com/Strob0t/ReviewForge/internal/service"
)

// ArbitrationQueue handles GET /api/v1/arbitration/queue
//
// Query: document_id, include_pending, all (every non-arbitrated verdict),
// limit.
func (h *Handlers) ArbitrationQueue(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	opts := service.DefaultQueueOptions()
	opts.DocumentID = r.URL.Query().Get("document_id")
	opts.IncludePending = queryBool(r, "include_pending", false)
	opts.OnlyConflicts = !queryBool(r, "all", false)
	opts.Limit = limit

	res, err := h.Arbitration.Queue(r.Context(), opts)
	if err != nil {
		writeDomainError(w, err, "document not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Decide handles POST /api/v1/arbitration/decide
func (h *Handlers) Decide(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[service.DecideRequest](w, r, bodyLimit)
	if !ok {
		return
	}
	req.Actor = actor(r)
	out, err := h.Arbitration.Decide(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "assertion not found")
		return
	}
	status := http.StatusOK
	if out.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, out)
}

// Undo handles POST /api/v1/arbitration/undo
func (h *Handlers) Undo(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[service.UndoRequest](w, r, bodyLimit)
	if !ok {
		return
	}
	req.Actor = actor(r)
	out, err := h.Arbitration.Undo(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "assertion not found")
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// ArbitrationHistory handles GET /api/v1/arbitration/history
func (h *Handlers) ArbitrationHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	recs, err := h.Arbitration.History(r.Context(), q.Get("document_id"), q.Get("assertion_key"))
	if err != nil {
		writeDomainError(w, err, "assertion not found")
		return
	}
	if recs == nil {
		recs = []review.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}
