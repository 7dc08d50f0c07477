package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"reflect"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/visitor-cli/internal/model"
	"github.com/sells-group/visitor-cli/internal/monitoring"
	"github.com/sells-group/visitor-cli/internal/resilience"
	"github.com/sells-group/visitor-cli/internal/store"
)

var servePort int

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the enrichment API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		env, err := initPipeline(ctx, "serve", reg)
		if err != nil {
			return err
		}
		defer env.Close()

		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Store),
				monitoring.NewAlerter(cfg.Monitoring),
				env.Metrics,
				cfg.Monitoring,
			)
			go checker.Run(ctx)
		}

		api := &apiServer{
			enricher: env.Pipeline,
			store:    env.Store,
			sink:     env.Events,
			secret:   []byte(cfg.Server.JWTSecret),
			origins:  cfg.Server.AllowedOrigins,
			gatherer: reg,
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           newRouter(api),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Requests and detached runs drain before env.Close.
		drained := make(chan struct{})
		go func() {
			defer close(drained)
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
			if !api.wait(shutdownCtx) {
				zap.L().Warn("async enrichments still running at shutdown")
			}
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		<-drained
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// apiStore is the part of the store the API reads and writes.
type apiStore interface {
	CreateVisit(ctx context.Context, v *model.Visit) error
	GetVisit(ctx context.Context, id string) (*model.Visit, error)
	GetLead(ctx context.Context, id string) (*model.Lead, error)
	GetLeadByVisit(ctx context.Context, visitID string) (*model.Lead, error)
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
}

type apiServer struct {
	enricher enricher
	store    apiStore
	sink     outcomeSink
	secret   []byte
	origins  []string
	gatherer prometheus.Gatherer

	runs sync.WaitGroup // detached enrichments
}

// wait blocks until every detached enrichment has finished or ctx is done.
// It reports whether all runs finished.
func (s *apiServer) wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// newRouter builds the HTTP API. /health and /metrics are public; every
// other route requires a bearer token.
func newRouter(s *apiServer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(requireToken(s.secret))
		r.Post("/visits", s.handleCreateVisit)
		r.Post("/enrich", s.handleEnrich)
		r.Get("/leads/{id}", s.handleGetLead)
		r.Get("/visits/{id}/lead", s.handleGetLeadByVisit)
	})
	return r
}

type createVisitRequest struct {
	WorkspaceID string `json:"workspace_id"`
	IP          string `json:"ip" validate:"required,ip"`
	PageURL     string `json:"page_url" validate:"required,url"`
	Referrer    string `json:"referrer" validate:"omitempty,max=2048"`
	UTMSource   string `json:"utm_source" validate:"omitempty,max=256"`
	UTMMedium   string `json:"utm_medium" validate:"omitempty,max=256"`
	UTMCampaign string `json:"utm_campaign" validate:"omitempty,max=256"`
	UserAgent   string `json:"user_agent" validate:"omitempty,max=1024"`
}

func (s *apiServer) handleCreateVisit(w http.ResponseWriter, r *http.Request) {
	var req createVisitRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if c := claimsFrom(r.Context()); c != nil && c.WorkspaceID != "" {
		req.WorkspaceID = c.WorkspaceID
	}
	if strings.TrimSpace(req.WorkspaceID) == "" {
		writeError(w, http.StatusBadRequest, "workspace_id is required")
		return
	}

	v := &model.Visit{
		WorkspaceID: req.WorkspaceID,
		IP:          req.IP,
		PageURL:     req.PageURL,
		Referrer:    req.Referrer,
		UTMSource:   req.UTMSource,
		UTMMedium:   req.UTMMedium,
		UTMCampaign: req.UTMCampaign,
		UserAgent:   req.UserAgent,
	}
	if err := s.store.CreateVisit(r.Context(), v); err != nil {
		zap.L().Error("api: create visit", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not store visit")
		return
	}
	writeJSONResponse(w, http.StatusCreated, v)
}

type enrichRequest struct {
	VisitID string `json:"visit_id" validate:"required,max=64"`
	Role    string `json:"role" validate:"omitempty,max=200"`
	Async   bool   `json:"async"`
}

func (s *apiServer) handleEnrich(w http.ResponseWriter, r *http.Request) {
	var req enrichRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if !s.visitVisible(w, r, req.VisitID) {
		return
	}

	if req.Async {
		// The run outlives the request; it is detached from its cancellation.
		ctx := context.WithoutCancel(r.Context())
		s.runs.Add(1)
		go func() {
			defer s.runs.Done()
			s.enrich(ctx, req)
		}()
		writeJSONResponse(w, http.StatusAccepted, map[string]string{
			"status":   "accepted",
			"visit_id": req.VisitID,
		})
		return
	}

	result := s.enrich(r.Context(), req)
	writeJSONResponse(w, http.StatusOK, result)
}

// visitVisible writes a 404 and returns false when a workspace-scoped token
// asks for a visit outside its workspace. Unscoped tokens see every visit.
func (s *apiServer) visitVisible(w http.ResponseWriter, r *http.Request, visitID string) bool {
	c := claimsFrom(r.Context())
	if c == nil || c.WorkspaceID == "" {
		return true
	}
	v, err := s.store.GetVisit(r.Context(), visitID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		zap.L().Error("api: get visit", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load visit")
		return false
	}
	if err != nil || v.WorkspaceID != c.WorkspaceID {
		writeError(w, http.StatusNotFound, "visit not found")
		return false
	}
	return true
}

func (s *apiServer) enrich(ctx context.Context, req enrichRequest) *model.EnrichmentResult {
	result := s.enricher.Enrich(ctx, req.VisitID, req.Role)
	handleOutcome(ctx, s.store, s.sink, result, req.Role)
	return result
}

func (s *apiServer) handleGetLead(w http.ResponseWriter, r *http.Request) {
	lead, err := s.store.GetLead(r.Context(), chi.URLParam(r, "id"))
	s.writeLead(w, r, lead, err)
}

func (s *apiServer) handleGetLeadByVisit(w http.ResponseWriter, r *http.Request) {
	lead, err := s.store.GetLeadByVisit(r.Context(), chi.URLParam(r, "id"))
	s.writeLead(w, r, lead, err)
}

func (s *apiServer) writeLead(w http.ResponseWriter, r *http.Request, lead *model.Lead, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "lead not found")
		return
	}
	if err != nil {
		zap.L().Error("api: get lead", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load lead")
		return
	}
	if c := claimsFrom(r.Context()); c != nil && c.WorkspaceID != "" && c.WorkspaceID != lead.WorkspaceID {
		writeError(w, http.StatusNotFound, "lead not found")
		return
	}
	writeJSONResponse(w, http.StatusOK, lead)
}

const maxBodyBytes = 1 << 20

func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request"
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		switch e.Tag() {
		case "required":
			msgs = append(msgs, e.Field()+" is required")
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", e.Field(), e.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s must be a valid %s", e.Field(), e.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

func writeJSONResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSONResponse(w, status, map[string]string{"error": msg})
}
