package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/okian/standings/internal/domain/model"
	"github.com/okian/standings/pkg/logger"
)

const defaultMaxHistory = 500

// ControlHandler serves the queue controls, job history and tables.
type ControlHandler struct {
	deps       Dependencies
	logger     logger.Logger
	maxHistory int
}

type triggerRequest struct {
	// Priority is a level name or a number; empty uses the manual default.
	Priority    string `json:"priority"`
	Description string `json:"description"`
}

// HandleTrigger handles POST .../recalculate.
func (h *ControlHandler) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var p model.Priority
	if req.Priority != "" {
		var err error
		if p, err = model.ParsePriority(req.Priority); err != nil {
			writeError(w, r, h.logger, badRequest(err.Error()))
			return
		}
	}
	res, err := h.deps.TriggerRecalculation(r.Context(), keyFrom(r), p, req.Description)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

// HandlePause handles POST /api/v1/queue/pause.
func (h *ControlHandler) HandlePause(w http.ResponseWriter, r *http.Request) {
	h.deps.Pause(r.Context())
	writeJSON(w, http.StatusOK, h.deps.QueueStatus(r.Context()))
}

// HandleResume handles POST /api/v1/queue/resume.
func (h *ControlHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	h.deps.Resume(r.Context())
	writeJSON(w, http.StatusOK, h.deps.QueueStatus(r.Context()))
}

// HandleStatus handles GET /api/v1/queue.
func (h *ControlHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.QueueStatus(r.Context()))
}

// HandleHistory handles GET /api/v1/jobs?league=&limit=.
func (h *ControlHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if limit > h.maxHistory {
		writeError(w, r, h.logger, badRequest("limit exceeds maximum"))
		return
	}
	jobs, err := h.deps.History(r.Context(), r.URL.Query().Get("league"), limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if jobs == nil {
		jobs = []model.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// HandleJob handles GET /api/v1/jobs/{id}.
func (h *ControlHandler) HandleJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.deps.Job(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// HandleTable handles GET .../table.
func (h *ControlHandler) HandleTable(w http.ResponseWriter, r *http.Request) {
	entries, err := h.deps.Table(r.Context(), keyFrom(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if entries == nil {
		entries = []model.TableEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleCreateEntries handles POST .../table/entries: zeroed rows for teams
// that have none yet.
func (h *ControlHandler) HandleCreateEntries(w http.ResponseWriter, r *http.Request) {
	res, err := h.deps.CreateMissingEntries(r.Context(), keyFrom(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if res.Entries == nil {
		res.Entries = []model.TableEntry{}
	}
	writeJSON(w, http.StatusOK, res)
}
