// Package api is the HTTP rendition of the control surface and the
// match-event interface.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/okian/standings/internal/adapters/http/swagger"
	service "github.com/okian/standings/internal/app"
	"github.com/okian/standings/internal/domain/model"
	"github.com/okian/standings/internal/domain/types"
	"github.com/okian/standings/pkg/logger"
	"github.com/okian/standings/pkg/metrics"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Dependencies required by HTTP handlers. *service.Service implements it.
type Dependencies interface {
	SaveMatch(ctx context.Context, m *model.Match, opts service.SaveOptions) (types.SaveResult, error)
	DeleteMatch(ctx context.Context, id string) (types.EventOutcome, error)
	GetMatch(ctx context.Context, id string) (*model.Match, error)
	ListMatches(ctx context.Context, f model.MatchFilter) ([]model.Match, error)

	TriggerRecalculation(ctx context.Context, key model.Key, p model.Priority, description string) (types.TriggerResult, error)
	Pause(ctx context.Context)
	Resume(ctx context.Context)
	QueueStatus(ctx context.Context) types.QueueStatus
	History(ctx context.Context, leagueID string, limit int) ([]model.Job, error)
	Job(ctx context.Context, id string) (model.Job, error)
	Table(ctx context.Context, key model.Key) ([]model.TableEntry, error)
	CreateMissingEntries(ctx context.Context, key model.Key) (types.EntriesResult, error)

	ListSnapshots(ctx context.Context, key model.Key) ([]model.Snapshot, error)
	GetSnapshot(ctx context.Context, id string) (*model.Snapshot, error)
	CreateSnapshot(ctx context.Context, key model.Key, description, createdBy string) (*model.Snapshot, error)
	DeleteSnapshot(ctx context.Context, id string) error
	RestoreSnapshot(ctx context.Context, id string, confirm bool, actor string) (types.RestoreResult, error)
	PruneSnapshots(ctx context.Context, maxAgeDays int) (int, error)

	Ready(ctx context.Context) error
	StatsProvider
}

// Option configures a Server.
type Option func(*Server)

// WithOrigins sets the CORS allow list. "*" allows every origin.
func WithOrigins(origins ...string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.origins = origins
		}
	}
}

// WithLogger sets the logger for request errors.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMaxHistory caps the limit accepted by the history endpoint.
func WithMaxHistory(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxHistory = n
		}
	}
}

// Server wires HTTP routes for the control surface.
type Server struct {
	deps       Dependencies
	origins    []string
	maxHistory int
	logger     logger.Logger

	healthHandler   *HealthHandler
	statsHandler    *StatsHandler
	matchesHandler  *MatchesHandler
	controlHandler  *ControlHandler
	snapshotHandler *SnapshotHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{
		deps:       deps,
		origins:    []string{"*"},
		maxHistory: defaultMaxHistory,
		logger:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.healthHandler = NewHealthHandler(deps)
	s.statsHandler = NewStatsHandler(deps)
	s.matchesHandler = &MatchesHandler{deps: deps, logger: s.logger}
	s.controlHandler = &ControlHandler{deps: deps, logger: s.logger, maxHistory: s.maxHistory}
	s.snapshotHandler = &SnapshotHandler{deps: deps, logger: s.logger}
	return s
}

// Register attaches all routes to r.
func (s *Server) Register(r *mux.Router) {
	r.Use(MetricsMiddleware)

	r.HandleFunc("/healthz", s.healthHandler.HandleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.healthHandler.HandleReady).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.statsHandler.HandleStats).Methods(http.MethodGet)
	swagger.Register(r)

	v1 := r.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/matches", s.matchesHandler.HandleCreate).Methods(http.MethodPost)
	v1.HandleFunc("/matches/{id}", s.matchesHandler.HandleGet).Methods(http.MethodGet)
	v1.HandleFunc("/matches/{id}", s.matchesHandler.HandleUpdate).Methods(http.MethodPut)
	v1.HandleFunc("/matches/{id}", s.matchesHandler.HandleDelete).Methods(http.MethodDelete)

	league := v1.PathPrefix("/leagues/{league}/seasons/{season}").Subrouter()
	league.HandleFunc("/matches", s.matchesHandler.HandleList).Methods(http.MethodGet)
	league.HandleFunc("/table", s.controlHandler.HandleTable).Methods(http.MethodGet)
	league.HandleFunc("/table/entries", s.controlHandler.HandleCreateEntries).Methods(http.MethodPost)
	league.HandleFunc("/recalculate", s.controlHandler.HandleTrigger).Methods(http.MethodPost)
	league.HandleFunc("/snapshots", s.snapshotHandler.HandleList).Methods(http.MethodGet)
	league.HandleFunc("/snapshots", s.snapshotHandler.HandleCreate).Methods(http.MethodPost)

	v1.HandleFunc("/queue", s.controlHandler.HandleStatus).Methods(http.MethodGet)
	v1.HandleFunc("/queue/pause", s.controlHandler.HandlePause).Methods(http.MethodPost)
	v1.HandleFunc("/queue/resume", s.controlHandler.HandleResume).Methods(http.MethodPost)
	v1.HandleFunc("/jobs", s.controlHandler.HandleHistory).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{id}", s.controlHandler.HandleJob).Methods(http.MethodGet)

	v1.HandleFunc("/snapshots", s.snapshotHandler.HandleListAll).Methods(http.MethodGet)
	v1.HandleFunc("/snapshots/prune", s.snapshotHandler.HandlePrune).Methods(http.MethodPost)
	v1.HandleFunc("/snapshots/{id}", s.snapshotHandler.HandleGet).Methods(http.MethodGet)
	v1.HandleFunc("/snapshots/{id}", s.snapshotHandler.HandleDelete).Methods(http.MethodDelete)
	v1.HandleFunc("/snapshots/{id}/restore", s.snapshotHandler.HandleRestore).Methods(http.MethodPost)
}

// Handler returns the routed handler wrapped in CORS.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	s.Register(r)
	return cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", headerIdempotencyKey},
	}).Handler(r)
}

func keyFrom(r *http.Request) model.Key {
	v := mux.Vars(r)
	return model.NewKey(v["league"], v["season"])
}

func decode(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return badRequest("invalid JSON body: " + err.Error())
	}
	return nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, badRequest(name + " must be a non-negative integer")
	}
	return n, nil
}

func queryBool(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return b
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
