package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/okian/standings/internal/domain/model"
	"github.com/okian/standings/pkg/logger"
)

// SnapshotHandler serves snapshot listing, capture, restore and retention.
type SnapshotHandler struct {
	deps   Dependencies
	logger logger.Logger
}

type createSnapshotRequest struct {
	Description string `json:"description"`
	CreatedBy   string `json:"created_by"`
}

type restoreRequest struct {
	Confirm bool   `json:"confirm"`
	Actor   string `json:"actor"`
}

type pruneRequest struct {
	// MaxAgeDays <= 0 uses the configured retention.
	MaxAgeDays int `json:"max_age_days"`
}

type pruneResponse struct {
	Pruned int `json:"pruned"`
}

// snapshotSummary leaves the rows out of listings.
type snapshotSummary struct {
	ID          string `json:"id"`
	LeagueID    string `json:"league_id"`
	SeasonID    string `json:"season_id"`
	Description string `json:"description"`
	CreatedBy   string `json:"created_by"`
	CreatedAt   string `json:"created_at"`
	Entries     int    `json:"entries"`
}

func summarize(list []model.Snapshot) []snapshotSummary {
	out := make([]snapshotSummary, 0, len(list))
	for _, s := range list {
		out = append(out, snapshotSummary{
			ID:          s.ID,
			LeagueID:    s.LeagueID,
			SeasonID:    s.SeasonID,
			Description: s.Description,
			CreatedBy:   s.CreatedBy,
			CreatedAt:   s.CreatedAt.Format(time.RFC3339),
			Entries:     len(s.Entries),
		})
	}
	return out
}

// HandleList handles GET .../snapshots of one league/season.
func (h *SnapshotHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, keyFrom(r))
}

// HandleListAll handles GET /api/v1/snapshots.
func (h *SnapshotHandler) HandleListAll(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, model.Key{})
}

func (h *SnapshotHandler) list(w http.ResponseWriter, r *http.Request, key model.Key) {
	list, err := h.deps.ListSnapshots(r.Context(), key)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, summarize(list))
}

// HandleCreate handles POST .../snapshots.
func (h *SnapshotHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createSnapshotRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	snap, err := h.deps.CreateSnapshot(r.Context(), keyFrom(r), req.Description, req.CreatedBy)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

// HandleGet handles GET /api/v1/snapshots/{id}.
func (h *SnapshotHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	snap, err := h.deps.GetSnapshot(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// HandleDelete handles DELETE /api/v1/snapshots/{id}.
func (h *SnapshotHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.DeleteSnapshot(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRestore handles POST /api/v1/snapshots/{id}/restore. The body must
// carry confirm=true.
func (h *SnapshotHandler) HandleRestore(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	res, err := h.deps.RestoreSnapshot(r.Context(), mux.Vars(r)["id"], req.Confirm, req.Actor)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandlePrune handles POST /api/v1/snapshots/prune.
func (h *SnapshotHandler) HandlePrune(w http.ResponseWriter, r *http.Request) {
	var req pruneRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	n, err := h.deps.PruneSnapshots(r.Context(), req.MaxAgeDays)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pruneResponse{Pruned: n})
}
