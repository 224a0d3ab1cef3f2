package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tagrouter/internal/api"
	"tagrouter/internal/hierarchy"
	"tagrouter/internal/logging"
	"tagrouter/internal/orchestrator"
	"tagrouter/internal/services"
	"tagrouter/internal/thresholds"
)

const (
	maxBodyBytes        = 4 << 20
	healthCheckTimeout  = 5 * time.Second
	defaultHistoryLimit = 50
)

type apiServer struct {
	bind   string
	token  string
	logger *slog.Logger
	comps  Components

	handler http.Handler

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(bind, token string, comps Components, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:   strings.TrimSpace(bind),
		token:  strings.TrimSpace(token),
		logger: logging.NewComponentLogger(logger, "api-server"),
		comps:  comps,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/classify", srv.handleClassify)
	mux.HandleFunc("/thresholds", srv.handleThresholds)
	mux.HandleFunc("/thresholds/history", srv.handleThresholdHistory)
	mux.HandleFunc("/health", srv.handleHealth)
	mux.HandleFunc("/fast/predict", srv.handleFastPredict)
	mux.HandleFunc("/llm/predict", srv.handleLLMPredict)
	srv.handler = srv.withRequestID(mux)
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		return errors.New("api bind address is empty")
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      3 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}
	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

func (s *apiServer) address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.bind
	}
	return s.listener.Addr().String()
}

// withRequestID stores the caller's X-Request-ID, or a fresh UUID, in the
// request context and echoes it on the response.
func (s *apiServer) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(services.RequestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(services.RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(services.WithRequestID(r.Context(), id)))
	})
}

func (s *apiServer) handleClassify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req api.ClassifyRequest
	if !s.decode(w, r, &req) {
		return
	}
	overrides, err := api.ThresholdsFromWire(req.ConfidenceThresholds)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	known, err := api.ContextFromWire(req.Context)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.comps.Orchestrator.Classify(r.Context(), orchestrator.Request{
		Text:       req.Text,
		Levels:     req.PredictLevels,
		Thresholds: overrides,
		Context:    known,
	})
	if err != nil {
		s.writeServiceError(w, r, "classify", err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *apiServer) handleThresholds(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.currentThresholds(r.Context()))
	case http.MethodPut:
		s.authMiddleware(s.token, s.updateThresholds)(w, r)
	default:
		s.writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) currentThresholds(ctx context.Context) api.ThresholdsResponse {
	provider := s.comps.Thresholds
	if provider == nil {
		provider = thresholds.NewProvider(nil, nil, s.logger)
	}
	values, source := provider.Thresholds(ctx)
	return api.ThresholdsResponse{Thresholds: api.ThresholdsToWire(values), Source: source}
}

func (s *apiServer) updateThresholds(w http.ResponseWriter, r *http.Request) {
	if s.comps.Store == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "threshold store unavailable")
		return
	}
	var req api.ThresholdsUpdateRequest
	if !s.decode(w, r, &req) {
		return
	}
	changes, err := s.comps.Store.Set(r.Context(), thresholds.Update{
		Values:    req.Values(),
		UpdatedBy: req.UpdatedBy,
		Reason:    req.Reason,
	})
	if err != nil {
		s.writeServiceError(w, r, "update_thresholds", err)
		return
	}
	logging.WithContext(r.Context(), s.logger).Info("thresholds updated",
		logging.String("updated_by", strings.TrimSpace(req.UpdatedBy)),
		logging.Int("changes", len(changes)),
	)
	s.writeJSON(w, http.StatusOK, api.ThresholdsUpdateResponse{
		ThresholdsResponse: s.currentThresholds(r.Context()),
		Changes:            api.FromThresholdChanges(changes),
	})
}

func (s *apiServer) handleThresholdHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.comps.Store == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "threshold store unavailable")
		return
	}
	limit := defaultHistoryLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.writeError(w, r, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}
	changes, err := s.comps.Store.History(r.Context(), limit)
	if err != nil {
		s.writeServiceError(w, r, "threshold_history", err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ThresholdHistoryResponse{Changes: api.FromThresholdChanges(changes)})
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	orch := s.comps.Orchestrator
	components := []api.ComponentHealth{
		probe(ctx, "fast_classifier", orch.Ready() == nil, s.comps.FastHealth),
	}
	if orch.EscalationEnabled() {
		components = append(components, probe(ctx, "expensive_classifier", true, s.comps.ExpensiveHealth))
	} else {
		components = append(components, api.ComponentHealth{Name: "expensive_classifier", Ready: true, Detail: "disabled"})
	}
	if s.comps.Store != nil {
		components = append(components, probe(ctx, "threshold_store", true, s.comps.Store))
	} else {
		components = append(components, api.ComponentHealth{Name: "threshold_store", Ready: false, Detail: "not configured; defaults in use"})
	}

	resp := api.HealthResponse{Status: "ok", Components: components}
	for _, component := range components {
		if !component.Ready {
			resp.Status = "degraded"
		}
	}
	status := http.StatusOK
	if err := orch.Ready(); err != nil {
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

type storePinger interface {
	Ping(ctx context.Context) error
}

func probe(ctx context.Context, name string, present bool, checker any) api.ComponentHealth {
	if !present {
		return api.ComponentHealth{Name: name, Detail: "not initialized"}
	}
	var err error
	switch c := checker.(type) {
	case HealthChecker:
		err = c.HealthCheck(ctx)
	case storePinger:
		err = c.Ping(ctx)
	default:
		return api.ComponentHealth{Name: name, Ready: true, Detail: "embedded"}
	}
	if err != nil {
		return api.ComponentHealth{Name: name, Detail: err.Error()}
	}
	return api.ComponentHealth{Name: name, Ready: true}
}

func (s *apiServer) handleFastPredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.comps.EmbeddedFast == nil {
		s.writeError(w, r, http.StatusNotFound, "embedded fast classifier not enabled")
		return
	}
	var req api.FastPredictRequest
	if !s.decode(w, r, &req) {
		return
	}
	levels, err := hierarchy.ParseAll(req.Levels)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.comps.EmbeddedFast.Predict(r.Context(), req.Text, levels)
	if err != nil {
		s.writeServiceError(w, r, "fast_predict", err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromFastResult(result))
}

func (s *apiServer) handleLLMPredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.comps.EmbeddedExpensive == nil {
		s.writeError(w, r, http.StatusNotFound, "embedded expensive classifier not enabled")
		return
	}
	var req api.ExpensivePredictRequest
	if !s.decode(w, r, &req) {
		return
	}
	levels, err := hierarchy.ParseAll(req.Predict)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	known, err := api.ContextFromWire(req.Context)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.comps.EmbeddedExpensive.Predict(r.Context(), req.Text, levels, known)
	if err != nil {
		s.writeServiceError(w, r, "llm_predict", err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromExpensiveResult(*result))
}

func (s *apiServer) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func (s *apiServer) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := services.HTTPStatus(err)
	log := logging.WithContext(r.Context(), s.logger)
	if status >= http.StatusInternalServerError {
		logging.ErrorWithContext(log, "request failed", "request_failed",
			logging.String("operation", op),
			logging.Int("status", status),
			logging.Error(err),
		)
	} else {
		log.Debug("request rejected", logging.String("operation", op), logging.Error(err))
	}
	s.writeError(w, r, status, err.Error())
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	id, _ := services.RequestIDFromContext(r.Context())
	s.writeJSON(w, status, api.ErrorResponse{Error: message, RequestID: id})
}
