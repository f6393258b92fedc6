package api

import (
	"net/http"

	"github.com/gorilla/mux"

	service "github.com/okian/standings/internal/app"
	"github.com/okian/standings/internal/domain/model"
	"github.com/okian/standings/pkg/logger"
)

const headerIdempotencyKey = "Idempotency-Key"

// MatchesHandler saves matches and fires the match-event hooks.
type MatchesHandler struct {
	deps   Dependencies
	logger logger.Logger
}

// HandleCreate handles POST /api/v1/matches. An Idempotency-Key header
// makes client retries return the first result.
func (h *MatchesHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var m model.Match
	if err := decode(r, &m); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.save(w, r, &m, http.StatusCreated)
}

// HandleUpdate handles PUT /api/v1/matches/{id}?override=true. The override
// flag permits corrections to a finished match.
func (h *MatchesHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var m model.Match
	if err := decode(r, &m); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	id := mux.Vars(r)["id"]
	if m.ID != "" && m.ID != id {
		writeError(w, r, h.logger, badRequest("body id does not match path"))
		return
	}
	m.ID = id
	h.save(w, r, &m, http.StatusOK)
}

func (h *MatchesHandler) save(w http.ResponseWriter, r *http.Request, m *model.Match, status int) {
	res, err := h.deps.SaveMatch(r.Context(), m, service.SaveOptions{
		Override:       queryBool(r, "override"),
		IdempotencyKey: r.Header.Get(headerIdempotencyKey),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

// HandleGet handles GET /api/v1/matches/{id}.
func (h *MatchesHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	m, err := h.deps.GetMatch(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// HandleDelete handles DELETE /api/v1/matches/{id}.
func (h *MatchesHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	out, err := h.deps.DeleteMatch(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleList handles GET .../matches?status=&team=.
func (h *MatchesHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	f := model.ForKey(keyFrom(r))
	f.Status = model.MatchStatus(r.URL.Query().Get("status"))
	f.TeamID = r.URL.Query().Get("team")
	if f.Status != "" && !f.Status.Valid() {
		writeError(w, r, h.logger, badRequest("unknown status "+string(f.Status)))
		return
	}
	matches, err := h.deps.ListMatches(r.Context(), f)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if matches == nil {
		matches = []model.Match{}
	}
	writeJSON(w, http.StatusOK, matches)
}
