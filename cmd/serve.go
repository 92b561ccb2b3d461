package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lead-intake/internal/envelope"
	"github.com/sells-group/lead-intake/internal/intake"
	"github.com/sells-group/lead-intake/internal/lead"
	"github.com/sells-group/lead-intake/internal/plan"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the signal intake HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := migrateStores(ctx, env); err != nil {
			return eris.Wrap(err, "migrate stores")
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(env),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(),
				time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func newRouter(env *intakeEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Tenant-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	r.Post("/v1/signals", handleSignal(env))
	r.Get("/v1/leads", handleListLeads(env))
	r.Get("/v1/leads/{id}", handleGetLead(env))
	r.Get("/v1/tenants/{id}/usage", handleUsage(env))

	return r
}

func handleSignal(env *intakeEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := envelope.NewRequestID()

		var sig intake.Signal
		if err := json.NewDecoder(r.Body).Decode(&sig); err != nil {
			envelope.WriteError(w, requestID, &envelope.ValidationError{Reason: "malformed JSON body"})
			return
		}

		res, err := env.Pipeline.Process(r.Context(), sig)
		if err != nil {
			envelope.WriteError(w, requestID, err)
			return
		}

		status := http.StatusOK
		if res.Created {
			status = http.StatusCreated
		}
		envelope.WriteJSON(w, status, envelope.OK(requestID, res))
	}
}

// requestTenant reads the caller's tenant from the X-Tenant-ID header.
func requestTenant(r *http.Request) (string, error) {
	t := r.Header.Get("X-Tenant-ID")
	if t == "" {
		return "", &envelope.UnauthorizedError{Reason: "missing X-Tenant-ID header"}
	}
	return t, nil
}

func handleListLeads(env *intakeEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := envelope.NewRequestID()

		tenantID, err := requestTenant(r)
		if err != nil {
			envelope.WriteError(w, requestID, err)
			return
		}

		f := lead.ListFilter{
			Status: lead.Status(r.URL.Query().Get("status")),
			Source: lead.Source(r.URL.Query().Get("source")),
		}
		if v := r.URL.Query().Get("min_score"); v != "" {
			n, convErr := strconv.Atoi(v)
			if convErr != nil {
				envelope.WriteError(w, requestID, &envelope.ValidationError{Field: "min_score", Reason: "not a number"})
				return
			}
			f.MinScore = n
		}
		if v := r.URL.Query().Get("limit"); v != "" {
			n, convErr := strconv.Atoi(v)
			if convErr != nil {
				envelope.WriteError(w, requestID, &envelope.ValidationError{Field: "limit", Reason: "not a number"})
				return
			}
			f.Limit = n
		}

		leads, err := env.Leads.List(r.Context(), tenantID, f)
		if err != nil {
			envelope.WriteError(w, requestID, err)
			return
		}
		envelope.WriteOK(w, requestID, leads)
	}
}

func handleGetLead(env *intakeEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := envelope.NewRequestID()

		tenantID, err := requestTenant(r)
		if err != nil {
			envelope.WriteError(w, requestID, err)
			return
		}

		l, err := env.Leads.Get(r.Context(), tenantID, chi.URLParam(r, "id"))
		if err != nil {
			envelope.WriteError(w, requestID, err)
			return
		}
		if l == nil {
			envelope.WriteError(w, requestID, &envelope.NotFoundError{Resource: "lead"})
			return
		}
		envelope.WriteOK(w, requestID, l)
	}
}

// usageDoc is one metric's consumption against its plan ceiling.
type usageDoc struct {
	Used  int64  `json:"used"`
	Limit *int64 `json:"limit"` // null = unlimited
}

func handleUsage(env *intakeEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := envelope.NewRequestID()

		tenantID := chi.URLParam(r, "id")
		caller, err := requestTenant(r)
		if err != nil {
			envelope.WriteError(w, requestID, err)
			return
		}
		if caller != tenantID {
			envelope.WriteError(w, requestID, &envelope.ForbiddenError{Reason: "usage is visible to the owning tenant only"})
			return
		}

		res, err := env.Plans.Resolve(r.Context(), tenantID)
		if err != nil {
			envelope.WriteError(w, requestID, err)
			return
		}

		metrics := map[string]usageDoc{}
		for _, metric := range []string{
			plan.MetricAIConversations,
			plan.MetricEmailSends,
			plan.MetricSMSSends,
			plan.MetricLeadCaptures,
		} {
			used, usageErr := env.Quotas.Usage(r.Context(), tenantID, metric)
			if usageErr != nil {
				envelope.WriteError(w, requestID, usageErr)
				return
			}
			metrics[metric] = usageDoc{Used: used, Limit: res.Plan.Limit(metric)}
		}

		envelope.WriteOK(w, requestID, map[string]any{
			"tenantId": tenantID,
			"plan":     res.Plan.Name,
			"status":   res.Status,
			"period":   env.Quotas.Period(),
			"metrics":  metrics,
		})
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
