package uiapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/awaistahir/tou-shift/internal/engine"
	"github.com/awaistahir/tou-shift/internal/metrics"
	"github.com/awaistahir/tou-shift/internal/planner"
	"github.com/awaistahir/tou-shift/internal/store"
)

const version = "1.0.0"

// CycleRunner runs a scheduling cycle on demand
type CycleRunner interface {
	Run(ctx context.Context) (*planner.Cycle, error)
}

// TariffFeed reports when the latest live tariff arrived
type TariffFeed interface {
	Received() time.Time
}

type Server struct {
	store         *store.Store
	runner        CycleRunner
	feed          TariffFeed
	defaultTariff engine.TouSpec
	gatherer      prometheus.Gatherer
	log           zerolog.Logger
	validate      *validator.Validate
	started       time.Time
}

// NewServer creates the API server. runner may be nil, which disables POST /api/plan.
func NewServer(st *store.Store, runner CycleRunner, defaultTariff engine.TouSpec, g prometheus.Gatherer, log zerolog.Logger) *Server {
	return &Server{
		store:         st,
		runner:        runner,
		defaultTariff: defaultTariff,
		gatherer:      g,
		log:           log,
		validate:      validator.New(),
		started:       time.Now(),
	}
}

// SetTariffFeed reports the live tariff's arrival time on /api/status
func (s *Server) SetTariffFeed(f TariffFeed) {
	s.feed = f
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))

	// CORS for local development
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	if s.gatherer != nil {
		r.Handle("/metrics", metrics.Handler(s.gatherer))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/tariff", s.handleGetTariff)
		r.Get("/appliances", s.handleGetAppliances)
		r.Post("/appliances", s.handleCreateAppliance)
		r.Get("/appliances/{id}", s.handleGetAppliance)
		r.Put("/appliances/{id}", s.handleUpdateAppliance)
		r.Delete("/appliances/{id}", s.handleDeleteAppliance)
		r.Get("/schedules", s.handleGetSchedules)
		r.Get("/analysis", s.handleGetAnalysis)
		r.Post("/plan", s.handlePlan)
	})

	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"version": version,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	}
	if run, err := s.store.LatestRun(r.Context()); err == nil {
		resp["last_run"] = map[string]any{"id": run.ID, "started_at": run.StartedAt}
	}
	if s.feed != nil {
		if at := s.feed.Received(); !at.IsZero() {
			resp["tariff_received_at"] = at
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

type tariffResponse struct {
	Spec       engine.TouSpec  `json:"spec"`
	Prices     engine.PriceMap `json:"prices"`
	Cached     bool            `json:"cached"`
	ReceivedAt *time.Time      `json:"received_at,omitempty"`
}

func (s *Server) handleGetTariff(w http.ResponseWriter, r *http.Request) {
	resp := tariffResponse{Spec: s.defaultTariff}
	cached, err := s.store.LatestTariff(r.Context())
	switch {
	case err == nil:
		resp.Spec, resp.Cached, resp.ReceivedAt = cached.Spec, true, &cached.ReceivedAt
	case !errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	pm, err := engine.Resolve(resp.Spec)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	resp.Prices = pm
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetAppliances(w http.ResponseWriter, r *http.Request) {
	appliances, err := s.store.GetAppliances(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, appliances)
}

type applianceRequest struct {
	Name           string  `json:"name" validate:"required,max=64"`
	PowerKWh       float64 `json:"power_kwh" validate:"gt=0"`
	MinOns         int     `json:"min_ons" validate:"gte=0,lte=24"`
	ThresholdRatio float64 `json:"threshold_ratio" validate:"gte=0,lte=1"`
	AllowPeak      bool    `json:"allow_peak"`
	Enabled        *bool   `json:"enabled"`
}

func (a applianceRequest) appliance() store.Appliance {
	ratio := a.ThresholdRatio
	if ratio == 0 {
		ratio = 0.8
	}
	return store.Appliance{
		Name:           a.Name,
		PowerKWh:       a.PowerKWh,
		MinOns:         a.MinOns,
		ThresholdRatio: ratio,
		AllowPeak:      a.AllowPeak,
		Enabled:        a.Enabled == nil || *a.Enabled,
	}
}

// decodeAppliance reads and validates an appliance payload, writing the error response itself
func (s *Server) decodeAppliance(w http.ResponseWriter, r *http.Request, name string) (store.Appliance, bool) {
	var req applianceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return store.Appliance{}, false
	}
	if name != "" {
		req.Name = name
	}
	if err := s.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, formatValidationErrors(err))
		return store.Appliance{}, false
	}
	return req.appliance(), true
}

func (s *Server) handleCreateAppliance(w http.ResponseWriter, r *http.Request) {
	appliance, ok := s.decodeAppliance(w, r, "")
	if !ok {
		return
	}

	if err := s.store.SaveAppliance(r.Context(), appliance); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, appliance)
}

func (s *Server) handleGetAppliance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	appliance, err := s.store.GetAppliance(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "appliance not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, appliance)
}

func (s *Server) handleUpdateAppliance(w http.ResponseWriter, r *http.Request) {
	appliance, ok := s.decodeAppliance(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	if err := s.store.SaveAppliance(r.Context(), appliance); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, appliance)
}

func (s *Server) handleDeleteAppliance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.store.DeleteAppliance(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "appliance not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "deleted", "id": id})
}

// latestRun writes a 404 when no cycle has completed yet
func (s *Server) latestRun(w http.ResponseWriter, r *http.Request) (store.Run, bool) {
	run, err := s.store.LatestRun(r.Context())
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "no schedules yet")
		return store.Run{}, false
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return store.Run{}, false
	}
	return run, true
}

func (s *Server) handleGetSchedules(w http.ResponseWriter, r *http.Request) {
	run, ok := s.latestRun(w, r)
	if !ok {
		return
	}

	schedules := make(map[string]engine.Schedule, len(run.Schedules))
	for _, rs := range run.Schedules {
		schedules[rs.Appliance] = rs.Final
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"run_id":     run.ID,
		"started_at": run.StartedAt,
		"schedules":  schedules,
	})
}

type applianceAnalysis struct {
	Appliance     string          `json:"appliance"`
	Outcome       string          `json:"outcome"`
	OriginalCost  float64         `json:"original_cost"`
	OptimizedCost float64         `json:"optimized_cost"`
	Savings       float64         `json:"savings"`
	Reasons       []engine.Reason `json:"reasons"`
}

type analysisResponse struct {
	RunID      string              `json:"run_id"`
	Currency   string              `json:"currency"`
	Appliances []applianceAnalysis `json:"appliances"`
	Baseline   float64             `json:"baseline"`
	Optimized  float64             `json:"optimized"`
	Savings    float64             `json:"savings"`
	Percent    float64             `json:"percent"`
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	run, ok := s.latestRun(w, r)
	if !ok {
		return
	}

	resp := analysisResponse{
		RunID:      run.ID,
		Currency:   run.Currency,
		Appliances: make([]applianceAnalysis, len(run.Schedules)),
		Baseline:   run.Baseline,
		Optimized:  run.Optimized,
		Savings:    run.Savings,
	}
	if run.Baseline > 0 {
		resp.Percent = 100 * run.Savings / run.Baseline
	}
	for i, rs := range run.Schedules {
		resp.Appliances[i] = applianceAnalysis{
			Appliance:     rs.Appliance,
			Outcome:       rs.Outcome,
			OriginalCost:  rs.Baseline,
			OptimizedCost: rs.Optimized,
			Savings:       rs.Savings,
			Reasons:       rs.Reasons,
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		respondError(w, http.StatusServiceUnavailable, "planning is not enabled")
		return
	}

	cycle, err := s.runner.Run(r.Context())
	switch {
	case errors.Is(err, engine.ErrInvalidConstraint), errors.Is(err, engine.ErrConfig):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		s.log.Error().Err(err).Msg("on-demand cycle failed")
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, cycle)
}

func formatValidationErrors(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := strings.ToLower(fe.Field()) + " failed " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		msgs = append(msgs, msg)
	}
	return strings.Join(msgs, ", ")
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
