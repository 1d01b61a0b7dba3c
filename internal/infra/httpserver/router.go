package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bryanwahyu/verification-orchestrator/internal/application/orchestration"
	appsm "github.com/bryanwahyu/verification-orchestrator/internal/application/statemachine"
	apptasks "github.com/bryanwahyu/verification-orchestrator/internal/application/tasks"
	domain "github.com/bryanwahyu/verification-orchestrator/internal/domain/statemachine"
	"github.com/bryanwahyu/verification-orchestrator/internal/domain/verificationtask"
	"github.com/bryanwahyu/verification-orchestrator/internal/domain/workertask"
	"github.com/bryanwahyu/verification-orchestrator/internal/middleware"
)

// Options pengaturan router di luar service
type Options struct {
	// APIKeys api key -> account id. APIKeys dan WorkerKeys kosong = auth dimatikan.
	APIKeys map[string]string
	// WorkerKeys kredensial khusus analysis worker, terpisah dari key tenant
	WorkerKeys     []string
	AllowedOrigins []string
	RateLimiter    *middleware.RateLimiter
	HealthCheckers map[string]middleware.HealthChecker
	// RequiredChecks nama checker yang wajib sehat untuk /ready
	RequiredChecks []string
	Logger         *zap.Logger
}

type Router struct {
	orchestration *orchestration.Service
	stateMachines *appsm.Service
	tasks         *apptasks.Service
}

func NewRouter(orch *orchestration.Service, sms *appsm.Service, tasks *apptasks.Service, opts Options) http.Handler {
	r := &Router{orchestration: orch, stateMachines: sms, tasks: tasks}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	mux := chi.NewRouter()
	mux.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	mux.Use(middleware.Logging(logger), middleware.Metrics)
	authEnabled := len(opts.APIKeys) > 0 || len(opts.WorkerKeys) > 0

	mux.Get("/health", middleware.HealthHandler(opts.HealthCheckers, opts.RequiredChecks...))
	mux.Get("/ready", middleware.ReadinessHandler(opts.HealthCheckers, opts.RequiredChecks...))
	mux.Get("/live", middleware.LivenessHandler)
	mux.Handle("/metrics", promhttp.Handler())

	mux.Route("/v1/workers/tasks", func(rt chi.Router) {
		if authEnabled {
			rt.Use(middleware.WorkerKeyAuth(opts.WorkerKeys))
		}
		if opts.RateLimiter != nil {
			rt.Use(middleware.RateLimit(opts.RateLimiter))
		}
		rt.Post("/lease", r.wrap(r.handleLeaseWorkerTask))
		rt.Post("/{id}/status", r.wrap(r.handleReportWorkerTask))
	})

	mux.Route("/v1/{account}", func(rt chi.Router) {
		if authEnabled {
			rt.Use(middleware.APIKeyAuth(opts.APIKeys))
		}
		rt.Use(middleware.RequireAccount)
		if opts.RateLimiter != nil {
			rt.Use(middleware.RateLimit(opts.RateLimiter))
		}
		rt.Post("/analysis", r.wrap(r.handleQueueAnalysis))
		rt.Put("/verification-tasks/{id}", r.wrap(r.handleRegisterTask))
		rt.Get("/orchestrators/{taskId}", r.wrap(r.handleGetOrchestrator))
		rt.Get("/orchestrators/{taskId}/state-machine", r.wrap(r.handleGetStateMachine))
		rt.Post("/orchestrators/{taskId}/terminate", r.wrap(r.handleTerminate))
		rt.Get("/orchestrators/{taskId}/logs", r.wrap(r.handleLogs))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			http.Error(w, err.Error(), statusFor(err))
		}
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvariantViolation):
		return http.StatusConflict
	case errors.Is(err, domain.ErrLockUnavailable):
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(v)
}

func decode(req *http.Request, v any) error {
	dec := json.NewDecoder(req.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", domain.ErrValidation, err)
	}
	return nil
}

// POST /v1/{account}/analysis
// Body: {"verification_task_id": "...", "start_time": "...", "end_time": "..."}
func (r *Router) handleQueueAnalysis(w http.ResponseWriter, req *http.Request) error {
	account := chi.URLParam(req, "account")

	var body domain.AnalysisInput
	if err := decode(req, &body); err != nil {
		return err
	}
	if err := middleware.ValidateTaskID(body.VerificationTaskID); err != nil {
		return err
	}
	// task harus milik account ini
	if _, err := r.tasks.GetTask(req.Context(), account, body.VerificationTaskID); err != nil {
		return err
	}
	if err := r.orchestration.QueueAnalysis(req.Context(), body); err != nil {
		return err
	}

	return writeJSON(w, http.StatusAccepted, map[string]any{
		"status":               "queued",
		"verification_task_id": body.VerificationTaskID,
		"start_time":           body.StartTime,
		"end_time":             body.EndTime,
	})
}

// PUT /v1/{account}/verification-tasks/{id}
func (r *Router) handleRegisterTask(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateTaskID(id); err != nil {
		return err
	}
	var body struct {
		Type     verificationtask.Type     `json:"type"`
		DataType verificationtask.DataType `json:"data_type"`
		JobType  verificationtask.JobType  `json:"job_type"`
		Demo     bool                      `json:"demo"`
	}
	if err := decode(req, &body); err != nil {
		return err
	}

	task, err := r.tasks.RegisterTask(req.Context(), apptasks.RegisterTaskCommand{
		AccountID: chi.URLParam(req, "account"),
		ID:        id,
		Type:      body.Type,
		DataType:  body.DataType,
		JobType:   body.JobType,
		Demo:      body.Demo,
	})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, task)
}

// GET /v1/{account}/orchestrators/{taskId}
func (r *Router) handleGetOrchestrator(w http.ResponseWriter, req *http.Request) error {
	o, err := r.ownedOrchestrator(req)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, o)
}

// GET /v1/{account}/orchestrators/{taskId}/state-machine
func (r *Router) handleGetStateMachine(w http.ResponseWriter, req *http.Request) error {
	taskID := chi.URLParam(req, "taskId")
	if _, err := r.tasks.GetTask(req.Context(), chi.URLParam(req, "account"), taskID); err != nil {
		return err
	}
	sm, err := r.stateMachines.GetExecutingStateMachine(req.Context(), taskID)
	if err != nil {
		return err
	}
	if sm == nil {
		return fmt.Errorf("state machine for task %s: %w", taskID, domain.ErrNotFound)
	}
	return writeJSON(w, http.StatusOK, sm)
}

// POST /v1/{account}/orchestrators/{taskId}/terminate
func (r *Router) handleTerminate(w http.ResponseWriter, req *http.Request) error {
	o, err := r.ownedOrchestrator(req)
	if err != nil {
		return err
	}
	if err := r.orchestration.Terminate(req.Context(), o.VerificationTaskID); err != nil {
		return err
	}
	o, err = r.orchestration.GetAnalysisOrchestrator(req.Context(), o.VerificationTaskID)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, o)
}

// GET /v1/{account}/orchestrators/{taskId}/logs?limit=100
func (r *Router) handleLogs(w http.ResponseWriter, req *http.Request) error {
	lines, err := r.tasks.ExecutionLogs(req.Context(),
		chi.URLParam(req, "account"),
		chi.URLParam(req, "taskId"),
		middleware.ParseLimit(req.URL.Query().Get("limit")))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, lines)
}

// POST /v1/workers/tasks/lease
// 204 kalau tidak ada task yang antri
func (r *Router) handleLeaseWorkerTask(w http.ResponseWriter, req *http.Request) error {
	t, err := r.tasks.LeaseWorkerTask(req.Context())
	if err != nil {
		return err
	}
	if t == nil {
		w.WriteHeader(http.StatusNoContent)
		return nil
	}
	return writeJSON(w, http.StatusOK, t)
}

// POST /v1/workers/tasks/{id}/status
// Body: {"status": "SUCCESS", "fail_fast": false}
func (r *Router) handleReportWorkerTask(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")
	var body struct {
		Status   workertask.Status `json:"status"`
		FailFast bool              `json:"fail_fast"`
	}
	if err := decode(req, &body); err != nil {
		return err
	}
	if err := r.tasks.ReportWorkerTask(req.Context(), apptasks.ReportWorkerTaskCommand{
		ID:       id,
		Status:   body.Status,
		FailFast: body.FailFast,
	}); err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{
		"id":          id,
		"status":      body.Status,
		"reported_at": r.tasks.Clock.Now(),
	})
}

func (r *Router) ownedOrchestrator(req *http.Request) (*domain.AnalysisOrchestrator, error) {
	taskID := chi.URLParam(req, "taskId")
	o, err := r.orchestration.GetAnalysisOrchestrator(req.Context(), taskID)
	if err != nil {
		return nil, err
	}
	if o.AccountID != chi.URLParam(req, "account") {
		return nil, fmt.Errorf("orchestrator for task %s: %w", taskID, domain.ErrNotFound)
	}
	return o, nil
}
