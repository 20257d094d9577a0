package cli

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/matzehuels/depvet/pkg/buildinfo"
	"github.com/matzehuels/depvet/pkg/checkpoint"
	"github.com/matzehuels/depvet/pkg/stages"
)

// serveCommand creates the serve command.
func (c *CLI) serveCommand() *cobra.Command {
	var (
		store storeFlags
		addr  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve checkpoint records and stage summaries over HTTP",
		Long: `Serve exposes a small read-only audit API over the checkpoint store:

  GET /healthz                     liveness probe
  GET /api/summary                 per-stage record counts by status
  GET /api/stages/{stage}/records  records for one stage (?status= filters)

The server reads the store on every request, so it can run alongside an
active scan and always reflects current progress.`,
		Example: `  depvet serve --addr :8799
  depvet serve --store redis --redis-addr cache:6379`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := store.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			srv := &http.Server{
				Addr:              addr,
				Handler:           c.auditRouter(s),
				ReadHeaderTimeout: 5 * time.Second,
			}
			printInfo("Serving audit API on %s", addr)
			c.Logger.Info("listening", "addr", addr, "backend", store.backend)
			return srv.ListenAndServe()
		},
	}

	store.register(cmd)
	cmd.Flags().StringVar(&addr, "addr", ":8799", "listen address")

	return cmd
}

// auditRouter builds the read-only HTTP surface over the store.
func (c *CLI) auditRouter(s checkpoint.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(c.requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": buildinfo.Version})
	})

	r.Get("/api/summary", func(w http.ResponseWriter, req *http.Request) {
		summary := map[string]map[string]int{}
		for _, stageID := range auditStages() {
			counts := map[string]int{}
			records, err := scanRecords(req.Context(), s, stageID, "")
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			for _, rec := range records {
				counts[string(rec.Status)]++
			}
			summary[stageID] = counts
		}
		writeJSON(w, http.StatusOK, summary)
	})

	r.Get("/api/stages/{stage}/records", func(w http.ResponseWriter, req *http.Request) {
		stageID := chi.URLParam(req, "stage")
		records, err := scanRecords(req.Context(), s, stageID, req.URL.Query().Get("status"))
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if records == nil {
			records = []*checkpoint.Record{}
		}
		writeJSON(w, http.StatusOK, records)
	})

	return r
}

// requestLogger logs each request with method, path, and duration.
func (c *CLI) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)
		c.Logger.Debug("request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).Round(time.Microsecond),
		)
	})
}

// auditStages lists the stage IDs the audit API reports on.
func auditStages() []string {
	return []string{stages.StageDiscover, stages.StageResolve, stages.StageMetadata, stages.StageScore}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
