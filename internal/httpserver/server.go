package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/postforge/autopost/internal/adapter"
	"github.com/postforge/autopost/internal/config"
	"github.com/postforge/autopost/internal/dispatch"
	"github.com/postforge/autopost/internal/ledger"
	"github.com/postforge/autopost/internal/lifecycle"
	"github.com/postforge/autopost/internal/models"
	"github.com/postforge/autopost/internal/platform"
	"github.com/postforge/autopost/internal/preview"
	"github.com/postforge/autopost/internal/store"
)

type Server struct {
	cfg         config.Config
	store       store.Store
	evaluator   *preview.Evaluator
	controller  *lifecycle.Controller
	coordinator *dispatch.Coordinator
	catalog     *platform.Catalog
	archiver    ledger.Archiver
	logger      *log.Logger

	// adapterHandlers serve this deployment's own adapter endpoints.
	adapterHandlers map[string]http.Handler
}

func New(cfg config.Config, st store.Store, ev *preview.Evaluator, ctrl *lifecycle.Controller, coord *dispatch.Coordinator, catalog *platform.Catalog, archiver ledger.Archiver) *Server {
	s := &Server{
		cfg:             cfg,
		store:           st,
		evaluator:       ev,
		controller:      ctrl,
		coordinator:     coord,
		catalog:         catalog,
		archiver:        archiver,
		logger:          log.New(os.Stdout, "[http] ", log.LstdFlags),
		adapterHandlers: map[string]http.Handler{},
	}
	for _, id := range catalog.IDs() {
		s.adapterHandlers[id] = adapter.NewHandler(id, adapter.NewLocal(id), []byte(cfg.AdapterTokenSecret))
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", s.handleHealth)

	r.Route("/rules", func(r chi.Router) {
		r.Post("/preview", s.handlePreview)
		r.Post("/", s.handleCreateRule)
		r.Get("/", s.handleListRules)
		r.Get("/{ruleID}", s.handleGetRule)
		r.Post("/{ruleID}/approve", s.handleApprove)
		r.Post("/{ruleID}/pause", s.handlePause)
		r.Post("/{ruleID}/resume", s.handleResume)
		r.Post("/{ruleID}/revoke", s.handleRevoke)
	})

	r.Get("/cron/dispatch", s.handleCronDispatch)
	r.Post("/cron/dispatch", s.handleCronDispatch)

	r.Get("/runs/{runID}", s.handleGetRun)
	r.Get("/runs/{runID}/results", s.handleRunResults)

	r.Handle("/adapters/{platformID}", http.HandlerFunc(s.handleAdapter))

	return r
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
		status["db"] = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var cfg preview.Config
	if err := decodeJSON(w, r, &cfg); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.evaluator.Evaluate(cfg))
}

type createRuleRequest struct {
	UserID       string          `json:"userId"`
	Platforms    []string        `json:"platforms"`
	Intensity    int             `json:"intensity"`
	Tones        []string        `json:"tones"`
	Cadence      string          `json:"cadence"`
	Timezone     string          `json:"timezone"`
	TimeSlots    []string        `json:"timeSlots"`
	PostsPerDay  int             `json:"postsPerDay"`
	RevenueSplit json.RawMessage `json:"revenueSplit"`
	Enabled      bool            `json:"enabled"`
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req createRuleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid userId")
		return
	}

	// The verdict is advisory: a non-READY draft may still be persisted,
	// with the verdict stored alongside it.
	verdict := s.evaluator.Evaluate(preview.Config{
		UserID:    userID,
		Platforms: req.Platforms,
		Intensity: req.Intensity,
		Tones:     req.Tones,
		Cadence:   req.Cadence,
		Enabled:   req.Enabled,
	})

	intensity := req.Intensity
	if verdict.Payload != nil {
		intensity = verdict.Payload.EffectiveIntensity
	}
	rule, err := s.store.CreateRule(r.Context(), store.RuleInput{
		UserID:          userID,
		Platforms:       req.Platforms,
		Intensity:       intensity,
		Tones:           req.Tones,
		Cadence:         req.Cadence,
		Timezone:        req.Timezone,
		TimeSlots:       req.TimeSlots,
		PostsPerDay:     req.PostsPerDay,
		RevenueSplit:    req.RevenueSplit,
		Enabled:         req.Enabled,
		AdmissionState:  verdict.State,
		AdmissionReason: verdict.Reason,
	})
	if err != nil {
		s.logger.Printf("create rule: %v", err)
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "could not persist rule")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":      rule,
		"admission": verdict,
	})
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	if userParam := r.URL.Query().Get("userId"); userParam != "" {
		userID, err := uuid.Parse(userParam)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid userId")
			return
		}
		rules, err := s.store.ListRulesByUser(r.Context(), userID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "STORE_ERROR", "could not list rules")
			return
		}
		respondJSON(w, http.StatusOK, rules)
		return
	}
	rules, err := s.store.ListRules(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "could not list rules")
		return
	}
	respondJSON(w, http.StatusOK, rules)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, chi.URLParam(r, "ruleID"))
	if !ok {
		return
	}
	rule, err := s.store.GetRule(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, models.CodeRuleNotFound, "rule not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "could not load rule")
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, chi.URLParam(r, "ruleID"))
	if !ok {
		return
	}
	var acks models.Acknowledgments
	if err := decodeJSON(w, r, &acks); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}
	rule, err := s.controller.Approve(r.Context(), id, acks)
	s.respondLifecycle(w, rule, err)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, chi.URLParam(r, "ruleID"))
	if !ok {
		return
	}
	rule, err := s.controller.Pause(r.Context(), id)
	s.respondLifecycle(w, rule, err)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, chi.URLParam(r, "ruleID"))
	if !ok {
		return
	}
	rule, err := s.controller.Resume(r.Context(), id)
	s.respondLifecycle(w, rule, err)
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, chi.URLParam(r, "ruleID"))
	if !ok {
		return
	}
	rule, err := s.controller.Revoke(r.Context(), id)
	s.respondLifecycle(w, rule, err)
}

func (s *Server) respondLifecycle(w http.ResponseWriter, rule models.Rule, err error) {
	if err == nil {
		respondJSON(w, http.StatusOK, rule)
		return
	}
	if le, ok := lifecycle.AsError(err); ok {
		respondError(w, lifecycleStatus(le.Code), le.Code, le.Message)
		return
	}
	s.logger.Printf("lifecycle: %v", err)
	respondError(w, http.StatusInternalServerError, "STORE_ERROR", "lifecycle update failed")
}

func lifecycleStatus(code string) int {
	switch code {
	case models.CodeRuleNotFound:
		return http.StatusNotFound
	case models.CodeAckRequired:
		return http.StatusUnprocessableEntity
	case models.CodeInvalidTransition:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

// handleCronDispatch is the external trigger entry point. Unauthenticated
// calls are rejected before any rule is read; individual dispatch failures
// are never surfaced here, only via the ledger.
func (s *Server) handleCronDispatch(w http.ResponseWriter, r *http.Request) {
	if !s.cronAuthorized(r) {
		respondJSON(w, http.StatusUnauthorized, map[string]interface{}{
			"ok":    false,
			"error": "unauthorized",
		})
		return
	}
	dryRun := isTruthy(r.URL.Query().Get("dry_run"))
	trigger := "cron"
	if t := r.URL.Query().Get("trigger"); t != "" {
		trigger = t
	}

	run, err := s.coordinator.RunOnce(r.Context(), trigger, dryRun)
	if err != nil {
		s.logger.Printf("dispatch run: %v", err)
		respondJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"ok":    false,
			"error": "dispatch run failed",
		})
		return
	}

	if s.archiver != nil {
		if key, err := s.archiveRun(r.Context(), run); err != nil {
			s.logger.Printf("archive run %s: %v", run.ID, err)
		} else {
			s.logger.Printf("archived run %s to %s", run.ID, key)
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"runId":   run.ID,
		"summary": run,
	})
}

func (s *Server) archiveRun(ctx context.Context, run models.Run) (string, error) {
	results, err := s.store.ListDispatchResultsByRun(ctx, run.ID)
	if err != nil {
		return "", err
	}
	return s.archiver.ArchiveRun(ctx, run, results)
}

// cronAuthorized accepts the shared secret in either header form:
// "Authorization: Bearer <secret>" (or an HS256 token signed with it) and
// "X-Cron-Secret: <secret>".
func (s *Server) cronAuthorized(r *http.Request) bool {
	if s.cfg.CronSecret == "" {
		return false
	}
	if v := r.Header.Get("X-Cron-Secret"); v != "" {
		return v == s.cfg.CronSecret
	}
	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return false
	}
	token := strings.TrimSpace(authz[7:])
	if token == s.cfg.CronSecret {
		return true
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(s.cfg.CronSecret), nil
	})
	return err == nil && parsed.Valid
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, chi.URLParam(r, "runID"))
	if !ok {
		return
	}
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "RUN_NOT_FOUND", "run not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "could not load run")
		return
	}
	respondJSON(w, http.StatusOK, run)
}

func (s *Server) handleRunResults(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, chi.URLParam(r, "runID"))
	if !ok {
		return
	}
	results, err := s.store.ListDispatchResultsByRun(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "could not load results")
		return
	}
	respondJSON(w, http.StatusOK, results)
}

func (s *Server) handleAdapter(w http.ResponseWriter, r *http.Request) {
	platformID := chi.URLParam(r, "platformID")
	h, ok := s.adapterHandlers[platformID]
	if !ok {
		respondError(w, http.StatusNotFound, models.CodeUnsupportedPlatform, "unknown platform "+platformID)
		return
	}
	h.ServeHTTP(w, r)
}

func (s *Server) parseID(w http.ResponseWriter, raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func isTruthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, code, msg string) {
	respondJSON(w, status, map[string]interface{}{
		"ok":            false,
		"error_code":    code,
		"error_message": msg,
	})
}
