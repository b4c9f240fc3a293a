package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/civictwin/Main/simulation/internal/auth"
	"github.com/civictwin/Main/simulation/internal/config"
	"github.com/civictwin/Main/simulation/internal/logging"
	"github.com/civictwin/Main/simulation/internal/models"
	"github.com/civictwin/Main/simulation/internal/service"
	"github.com/civictwin/Main/simulation/internal/store"
)

const maxBodyBytes = 1 << 20

type Server struct {
	cfg      config.Config
	service  *service.Service
	store    store.Store
	verifier *auth.Verifier
	logger   *slog.Logger
}

// New wires the HTTP API. verifier may be nil, which leaves submission open.
func New(cfg config.Config, svc *service.Service, st store.Store, verifier *auth.Verifier, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, service: svc, store: st, verifier: verifier, logger: logger}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors(s.cfg.CORSOrigins))
	if d := s.requestTimeout(); d > 0 {
		r.Use(middleware.Timeout(d))
	}

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		if s.verifier != nil {
			r.Use(s.verifier.Middleware(func(w http.ResponseWriter, r *http.Request, err error) {
				respondError(w, http.StatusUnauthorized, err.Error())
			}))
		}
		r.Post("/simulate", s.handleSimulate)
		r.Post("/resolve", s.handleResolve)
	})

	r.Get("/results", s.handleList)
	r.Get("/results/{id}", s.handleResult)

	return r
}

// requestTimeout is zero for inline dispatch: a synchronous run holds the
// handler and cannot be interrupted, so a deadline would only race its reply.
func (s *Server) requestTimeout() time.Duration {
	if s.cfg.Executor == "" || s.cfg.Executor == "inline" {
		return 0
	}
	return s.cfg.RequestTimeout
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := map[string]interface{}{
		"ok":   true,
		"time": time.Now().UTC(),
	}
	if err := s.store.Ping(ctx); err != nil {
		status["ok"] = false
		status["store"] = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	if n, err := s.store.Count(ctx); err == nil {
		status["jobs"] = n
	}
	respondJSON(w, http.StatusOK, status)
}

// simulateRequest accepts camelCase fields and the snake_case spellings
// older clients send.
type simulateRequest struct {
	models.SimulationConfig
	InfraSpendingAlt   *float64 `json:"infra_spending"`
	TrainingBudgetAlt  *float64 `json:"training_budget"`
	JobCreationRateAlt *float64 `json:"job_creation_rate"`
}

func (req simulateRequest) config() models.SimulationConfig {
	cfg := req.SimulationConfig
	if req.InfraSpendingAlt != nil {
		cfg.InfraSpending = *req.InfraSpendingAlt
	}
	if req.TrainingBudgetAlt != nil {
		cfg.TrainingBudget = *req.TrainingBudgetAlt
	}
	if req.JobCreationRateAlt != nil {
		cfg.JobCreationRate = *req.JobCreationRateAlt
	}
	return cfg
}

type submitResponse struct {
	JobID  uuid.UUID        `json:"jobId"`
	Status models.JobStatus `json:"status"`
}

func (s *Server) decodeConfig(w http.ResponseWriter, r *http.Request) (models.SimulationConfig, bool) {
	req := simulateRequest{SimulationConfig: models.DefaultSimulationConfig()}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return models.SimulationConfig{}, false
	}
	return req.config(), true
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	cfg, ok := s.decodeConfig(w, r)
	if !ok {
		return
	}
	async, _ := strconv.ParseBool(r.URL.Query().Get("async"))

	logger := s.logger.With("request_id", middleware.GetReqID(r.Context()))
	ctx := r.Context()
	if claims, ok := auth.ClaimsFromContext(ctx); ok {
		ctx = service.WithSubmitter(ctx, claims.Subject)
		logger = logger.With("submitted_by", claims.Subject)
	}
	ctx = logging.NewContext(ctx, logger)
	var (
		job models.Job
		err error
	)
	if async {
		job, err = s.service.SubmitAsync(ctx, cfg)
	} else {
		job, err = s.service.Submit(ctx, cfg)
	}
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	code := http.StatusOK
	if !job.Status.Terminal() {
		code = http.StatusAccepted
	}
	respondJSON(w, code, submitResponse{JobID: job.ID, Status: job.Status})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	cfg, ok := s.decodeConfig(w, r)
	if !ok {
		return
	}
	params, err := s.service.Resolve(cfg)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, params)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "simulation not found")
		return
	}
	job, err := s.service.GetResult(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ListJobsFilter{Status: models.JobStatus(q.Get("status"))}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		filter.Offset = n
	}
	jobs, err := s.service.ListJobs(r.Context(), filter)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	summaries := make([]submitResponse, 0, len(jobs))
	for _, job := range jobs {
		summaries = append(summaries, submitResponse{JobID: job.ID, Status: job.Status})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"jobs": summaries})
}

func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidConfiguration):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "simulation not found")
	case errors.Is(err, store.ErrFull):
		respondError(w, http.StatusServiceUnavailable, "too many retained simulations, retry later")
	default:
		s.logger.Error("request failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func cors(origins []string) func(http.Handler) http.Handler {
	allowAll := len(origins) == 0
	allowed := map[string]bool{}
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowAll || allowed[origin]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
				if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", strings.Join([]string{"Authorization", "Content-Type"}, ", "))
					w.WriteHeader(http.StatusNoContent)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

// respondJSON encodes before writing the header so an unencodable payload
// turns into a 500 instead of a truncated success.
func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		slog.Error("encode response", "error", err)
		buf.Reset()
		buf.WriteString(`{"error":"internal error"}` + "\n")
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
