package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/relaycrm/import-cli/internal/importer"
	"github.com/relaycrm/import-cli/internal/model"
	"github.com/relaycrm/import-cli/internal/monitoring"
	"github.com/relaycrm/import-cli/internal/rowsource"
	"github.com/relaycrm/import-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the import API server",
	Long:  "Serves an HTTP API for submitting imports and inspecting runs, clients, and policies.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		if cfg.Monitoring.WebhookURL != "" {
			collector := monitoring.NewCollector(env.Runs, time.Duration(cfg.Monitoring.StaleRunMinutes)*time.Minute)
			alerter := monitoring.NewAlerter(cfg.Monitoring)
			go monitoring.NewChecker(collector, alerter, cfg.Monitoring).Run(ctx)
		}

		api := newAPIServer(env, ctx, cfg.Server.APIKey)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:        fmt.Sprintf(":%d", port),
			Handler:     api.Router(),
			ReadTimeout: 30 * time.Second,
			IdleTimeout: 60 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		// Let in-flight imports write their final run records.
		api.Wait()
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// apiServer holds the stores and the lifetime context shared by async
// import runs.
type apiServer struct {
	env    *importEnv
	runCtx context.Context
	apiKey string

	imports sync.WaitGroup
}

func newAPIServer(env *importEnv, runCtx context.Context, apiKey string) *apiServer {
	return &apiServer{env: env, runCtx: runCtx, apiKey: apiKey}
}

// Wait blocks until all asynchronous imports have finished.
func (s *apiServer) Wait() {
	s.imports.Wait()
}

// Router builds the chi router with all API routes.
func (s *apiServer) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(bearerAuth(s.apiKey))
		r.Post("/imports", s.handleImport)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{runID}", s.handleGetRun)
		r.Get("/clients/{clientID}", s.handleGetClient)
		r.Get("/policies", s.handleListPolicies)
	})

	return r
}

// bearerAuth rejects requests without the configured API key. An empty
// key disables the check.
func bearerAuth(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key != "" && r.Header.Get("Authorization") != "Bearer "+key {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// handleImport accepts a multipart upload and starts an import run. The
// default reply is 202 with the run started in the background; passing
// wait=true runs synchronously and returns the finished run record.
func (s *apiServer) handleImport(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	ownerID := r.FormValue("owner_id")
	if ownerID == "" {
		writeError(w, http.StatusBadRequest, "owner_id is required")
		return
	}
	groupID := r.FormValue("group_id")
	policyName := r.FormValue("policy_name")
	wait := r.FormValue("wait") == "true"

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close() //nolint:errcheck

	policy, err := resolveImportPolicy(r.Context(), s.env.Runs, ownerID, "", policyName)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tmpPath, err := saveUpload(file, header.Filename)
	if err != nil {
		zap.L().Error("save upload failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not store upload")
		return
	}

	imp, err := importer.New(s.env.Clients, s.env.Runs, policy, importer.Options{
		OwnerID: ownerID,
		GroupID: groupID,
		Source:  header.Filename,
	})
	if err != nil {
		_ = os.Remove(tmpPath)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if wait {
		defer os.Remove(tmpPath) //nolint:errcheck
		run, err := s.runImport(r.Context(), imp, tmpPath)
		if err != nil && run == nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, run)
		return
	}

	s.imports.Add(1)
	go func() {
		defer s.imports.Done()
		defer os.Remove(tmpPath) //nolint:errcheck

		run, err := s.runImport(s.runCtx, imp, tmpPath)
		if err != nil {
			zap.L().Error("import failed",
				zap.String("source", header.Filename),
				zap.Error(err),
			)
			return
		}
		zap.L().Info("import finished",
			zap.String("source", header.Filename),
			zap.String("run_id", run.ID),
			zap.String("status", string(run.Status)),
		)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"source": header.Filename,
	})
}

// runImport opens the saved upload and executes the run.
func (s *apiServer) runImport(ctx context.Context, imp *importer.Importer, path string) (*model.ImportRun, error) {
	src, cleanup, err := rowsource.Open(ctx, path, rowsource.Options{
		Columns:   rowsource.DefaultColumns(),
		HasHeader: true,
	}, fetchOptions())
	if err != nil {
		return nil, err
	}
	defer cleanup()

	return imp.Run(ctx, src)
}

func (s *apiServer) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := s.env.Runs.ListRuns(r.Context(), store.RunFilter{
		Status:  model.RunStatus(r.URL.Query().Get("status")),
		OwnerID: r.URL.Query().Get("owner"),
		Limit:   limit,
	})
	if err != nil {
		zap.L().Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not list runs")
		return
	}

	writeJSON(w, http.StatusOK, runs)
}

func (s *apiServer) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.env.Runs.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		zap.L().Error("get run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load run")
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *apiServer) handleGetClient(w http.ResponseWriter, r *http.Request) {
	c, err := s.env.Clients.GetClient(r.Context(), chi.URLParam(r, "clientID"))
	if err != nil {
		zap.L().Error("get client failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load client")
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "client not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *apiServer) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner is required")
		return
	}

	policies, err := s.env.Runs.ListPolicies(r.Context(), owner)
	if err != nil {
		zap.L().Error("list policies failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not list policies")
		return
	}

	writeJSON(w, http.StatusOK, policies)
}

// saveUpload copies an uploaded file to a temp path, keeping the
// extension so the source type can be detected.
func saveUpload(file io.Reader, filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	tmp, err := os.CreateTemp("", "upload-*"+ext)
	if err != nil {
		return "", eris.Wrap(err, "serve: create temp file")
	}
	if _, err := io.Copy(tmp, file); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", eris.Wrap(err, "serve: write upload")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", eris.Wrap(err, "serve: close upload")
	}
	return tmp.Name(), nil
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("json encode failed", zap.Error(err))
	}
}

// writeError writes a JSON error body.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
