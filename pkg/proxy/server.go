package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vigia-recife/vigia-proxy/pkg/cache"
	"github.com/vigia-recife/vigia-proxy/pkg/client"
	"github.com/vigia-recife/vigia-proxy/pkg/config"
	"github.com/vigia-recife/vigia-proxy/pkg/metrics"
)

// Version is reported by /health.
const Version = "2.0.0"

// AvailableEndpoints is listed in the body of every 404 response.
var AvailableEndpoints = []string{
	"/health",
	"/metrics",
	"/api/datasets",
	"/api/dataset/:id",
	"/api/datastore/:resource_id",
	"/api/saude/medicamentos",
	"/api/mobilidade/acidentes",
	"/api/financeiro/receitas",
	"/api/financeiro/despesas",
	"/api/empresas/cadastro",
	"/api/156/demandas",
	"/api/search",
}

// HealthResponse is the /health body.
type HealthResponse struct {
	Status     string      `json:"status"`
	Timestamp  string      `json:"timestamp"`
	Version    string      `json:"version"`
	CacheStats cache.Stats `json:"cache_stats"`
}

type clientErrorBody struct {
	Error string `json:"error"`
}

type upstreamErrorBody struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

type internalErrorBody struct {
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

type notFoundBody struct {
	Error              string   `json:"error"`
	AvailableEndpoints []string `json:"availableEndpoints"`
}

// Server is the HTTP surface of the proxy.
type Server struct {
	service *Service
	router  *mux.Router
	handler http.Handler
	server  *http.Server
	logger  zerolog.Logger
	now     func() time.Time
}

// ServerOption customizes a Server.
type ServerOption func(*Server)

// WithServerLogger sets the request logger.
func WithServerLogger(logger zerolog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithServerClock sets the clock used for response timestamps.
func WithServerClock(now func() time.Time) ServerOption {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// NewServer creates the HTTP server for service.
func NewServer(service *Service, cfg config.ServerConfig, opts ...ServerOption) *Server {
	s := &Server{
		service: service,
		logger:  log.With().Str("component", "http").Logger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router = s.createRouter()
	s.handler = s.withRequestLogging(s.withRecovery(withSecurityHeaders(withCORS(s.router))))

	s.server = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address until Stop is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// createRouter creates and configures the HTTP router
func (s *Server) createRouter() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Methods(http.MethodGet).Subrouter()
	api.HandleFunc("/datasets", s.handleDatasets)
	api.HandleFunc("/dataset/{id}", s.handleDataset)
	api.HandleFunc("/datastore/{resource_id}", s.handleDatastore)
	api.HandleFunc("/saude/medicamentos", s.handleMedications)
	api.HandleFunc("/mobilidade/acidentes", s.handleAccidents)
	api.HandleFunc("/financeiro/receitas", s.handleRevenue)
	api.HandleFunc("/financeiro/despesas", s.handleExpenses)
	api.HandleFunc("/empresas/cadastro", s.handleCompanyRegistry)
	api.HandleFunc("/156/demandas", s.handleCitizenRequests)
	api.HandleFunc("/search", s.handleSearch)

	router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	router.MethodNotAllowedHandler = http.HandlerFunc(s.handleNotFound)

	return router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.CacheStats(r.Context())
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to read cache stats")
	}

	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:     "OK",
		Timestamp:  s.now().UTC().Format(time.RFC3339Nano),
		Version:    Version,
		CacheStats: stats,
	})
}

func (s *Server) handleDatasets(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.Datasets(r.Context())
	s.respond(w, res, err, "Erro ao acessar API de datasets")
}

func (s *Server) handleDataset(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	res, err := s.service.Dataset(r.Context(), id)
	s.respond(w, res, err, fmt.Sprintf("Erro ao acessar dataset %s", id))
}

func (s *Server) handleDatastore(w http.ResponseWriter, r *http.Request) {
	resourceID := mux.Vars(r)["resource_id"]
	defaults := s.service.Defaults()

	limit, err := queryInt(r, "limit", defaults.Limit)
	if err != nil {
		s.respond(w, Result{}, err, "")
		return
	}
	offset, err := queryInt(r, "offset", defaults.Offset)
	if err != nil {
		s.respond(w, Result{}, err, "")
		return
	}

	res, err := s.service.Datastore(r.Context(), resourceID, DatastoreQuery{
		Limit:   limit,
		Offset:  offset,
		Filters: r.URL.Query().Get("filters"),
	})
	s.respond(w, res, err, fmt.Sprintf("Erro ao acessar dados do resource %s", resourceID))
}

func (s *Server) handleMedications(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.Medications(r.Context())
	s.respond(w, res, err, "Erro ao acessar dados de medicamentos")
}

func (s *Server) handleAccidents(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.Accidents(r.Context())
	s.respond(w, res, err, "Erro ao acessar dados de acidentes")
}

func (s *Server) handleRevenue(w http.ResponseWriter, r *http.Request) {
	year, err := queryInt(r, "ano", s.service.Defaults().Year)
	if err != nil {
		s.respond(w, Result{}, err, "")
		return
	}
	res, err := s.service.Revenue(r.Context(), year)
	s.respond(w, res, err, "Erro ao acessar receitas")
}

func (s *Server) handleExpenses(w http.ResponseWriter, r *http.Request) {
	year, err := queryInt(r, "ano", s.service.Defaults().Year)
	if err != nil {
		s.respond(w, Result{}, err, "")
		return
	}
	res, err := s.service.Expenses(r.Context(), year)
	s.respond(w, res, err, "Erro ao acessar despesas")
}

func (s *Server) handleCompanyRegistry(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.CompanyRegistry(r.Context())
	s.respond(w, res, err, "Erro ao acessar cadastro de empresas")
}

func (s *Server) handleCitizenRequests(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.CitizenRequests(r.Context())
	s.respond(w, res, err, "Erro ao acessar demandas do 156")
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		s.respond(w, Result{}, &ClientInputError{Param: "q", Message: "Parâmetro de busca (q) é obrigatório"}, "")
		return
	}

	rows, err := queryInt(r, "rows", s.service.Defaults().Rows)
	if err != nil {
		s.respond(w, Result{}, err, "")
		return
	}

	res, err := s.service.Search(r.Context(), q, rows)
	s.respond(w, res, err, "Erro ao realizar busca")
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusNotFound, notFoundBody{
		Error:              "Endpoint não encontrado",
		AvailableEndpoints: AvailableEndpoints,
	})
}

// respond writes res, or maps err to its JSON error response. failure is
// the caller-facing message for upstream and cache failures.
func (s *Server) respond(w http.ResponseWriter, res Result, err error, failure string) {
	if err == nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if res.Cached {
			w.Header().Set("X-Cache", "HIT")
		} else {
			w.Header().Set("X-Cache", "MISS")
		}
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(res.Data); err != nil {
			s.logger.Error().Err(err).Msg("Failed to write response")
		}
		return
	}

	var inputErr *ClientInputError
	if errors.As(err, &inputErr) {
		s.writeJSON(w, http.StatusBadRequest, clientErrorBody{Error: inputErr.Error()})
		return
	}

	details := err.Error()
	var upstreamErr *client.UpstreamError
	if errors.As(err, &upstreamErr) {
		details = upstreamErr.Error()
	}

	s.logger.Error().Err(err).Str("error_message", failure).Msg("Request failed")
	s.writeJSON(w, http.StatusInternalServerError, upstreamErrorBody{
		Error:   failure,
		Details: details,
	})
}

// writeJSON writes v as a JSON response with the given status.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("Failed to write response")
	}
}

// queryInt reads a non-negative integer query parameter, falling back to
// def when it is absent or empty.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, invalidInt(name)
	}
	return n, nil
}
