// CLAUDE:SUMMARY Entry point for the moisson control plane — chi router, SSE event feed, optional MCP over stdio.
// Command moisson runs the harvest engine behind an HTTP control plane.
//
// Usage:
//
//	moisson -config moisson.yaml
//
// Environment overrides: PORT, LOG_LEVEL, AUTH_USER, AUTH_PASSWORD_HASH,
// MCP_TRANSPORT=stdio.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/moisson/browser"
	"github.com/hazyhaar/moisson/checkpoint"
	"github.com/hazyhaar/moisson/dbopen"
	"github.com/hazyhaar/moisson/fetch"
	"github.com/hazyhaar/moisson/harvest"
	"github.com/hazyhaar/moisson/observability"
	"github.com/hazyhaar/moisson/record"
	"github.com/hazyhaar/moisson/shield"
	"github.com/hazyhaar/moisson/taskq"
)

func main() {
	configPath := flag.String("config", "moisson.yaml", "path to moisson.yaml config file")
	logLevel := flag.String("log-level", env("LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	// Logs go to stderr: with MCP_TRANSPORT=stdio the protocol owns stdout.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath); err != nil {
		logger.Error("moisson: fatal", "error", err)
		os.Exit(1)
	}
}

// appConfig is the moisson.yaml shape. Durations are integers with the
// unit in the field name; yaml.v3 does not parse "30s" into a
// time.Duration.
type appConfig struct {
	Listen    string `yaml:"listen"`
	DB        string `yaml:"db"`
	MetricsDB string `yaml:"metrics_db"` // empty disables the metrics store

	// MetricsRetentionDays bounds the timeseries; rows older than this
	// are swept daily.
	MetricsRetentionDays int `yaml:"metrics_retention_days"`

	Auth struct {
		User         string `yaml:"user"`
		PasswordHash string `yaml:"password_hash"`
	} `yaml:"auth"`

	Browser struct {
		Remote           string   `yaml:"remote"`
		Headful          bool     `yaml:"headful"`
		XvfbDisplay      string   `yaml:"xvfb_display"`
		MemoryLimitMB    int64    `yaml:"memory_limit_mb"`
		RecycleMinutes   int      `yaml:"recycle_minutes"`
		BlockResources   []string `yaml:"block_resources"`
		NavigateTimeoutS int      `yaml:"navigate_timeout_s"`
	} `yaml:"browser"`

	Session struct {
		CookieFile   string `yaml:"cookie_file"`
		ProbeURL     string `yaml:"probe_url"`
		LoginURLPart string `yaml:"login_url_part"`
	} `yaml:"session"`

	Target fetch.Config `yaml:"target"`

	Harvest struct {
		PageDelayMS    int `yaml:"page_delay_ms"`
		ErrorThreshold int `yaml:"error_threshold"`
		CircuitResetS  int `yaml:"circuit_reset_s"`
		MaxAuthRetries int `yaml:"max_auth_retries"`
		StallPages     int `yaml:"stall_pages"`
	} `yaml:"harvest"`
}

func loadConfig(path string) (*appConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &appConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *appConfig) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8085"
	}
	if c.DB == "" {
		c.DB = "db/moisson.db"
	}
	// Zero retention would sweep every row; 0 means "use the default",
	// not "keep nothing".
	if c.MetricsRetentionDays <= 0 {
		c.MetricsRetentionDays = 30
	}
}

func (c *appConfig) browserConfig(logger *slog.Logger) browser.Config {
	bc := browser.Config{
		RemoteURL:      c.Browser.Remote,
		Headful:        c.Browser.Headful,
		XvfbDisplay:    c.Browser.XvfbDisplay,
		BlockResources: c.Browser.BlockResources,
		Logger:         logger,
	}
	if c.Browser.MemoryLimitMB > 0 {
		bc.MemoryLimit = c.Browser.MemoryLimitMB << 20
	}
	if c.Browser.RecycleMinutes > 0 {
		bc.RecycleInterval = time.Duration(c.Browser.RecycleMinutes) * time.Minute
	}
	if c.Browser.NavigateTimeoutS > 0 {
		bc.NavigateTimeout = time.Duration(c.Browser.NavigateTimeoutS) * time.Second
	}
	return bc
}

func (c *appConfig) sessionConfig(logger *slog.Logger) browser.SessionConfig {
	return browser.SessionConfig{
		CookieFile:   c.Session.CookieFile,
		ProbeURL:     c.Session.ProbeURL,
		LoginURLPart: c.Session.LoginURLPart,
		Logger:       logger,
	}
}

func (c *appConfig) harvestConfig() harvest.Config {
	hc := harvest.Config{
		ErrorThreshold: c.Harvest.ErrorThreshold,
		MaxAuthRetries: c.Harvest.MaxAuthRetries,
		StallPages:     c.Harvest.StallPages,
	}
	if c.Harvest.PageDelayMS > 0 {
		hc.PageDelay = time.Duration(c.Harvest.PageDelayMS) * time.Millisecond
	}
	if c.Harvest.CircuitResetS > 0 {
		hc.CircuitReset = time.Duration(c.Harvest.CircuitResetS) * time.Second
	}
	return hc
}

func run(ctx context.Context, logger *slog.Logger, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := dbopen.Open(cfg.DB, dbopen.WithMkdirAll())
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	if err := record.ApplySchema(db); err != nil {
		return fmt.Errorf("record schema: %w", err)
	}
	if err := checkpoint.ApplySchema(db); err != nil {
		return fmt.Errorf("checkpoint schema: %w", err)
	}

	q := taskq.New(db, taskq.Options{Logger: logger})
	if err := q.EnsureTable(ctx); err != nil {
		return fmt.Errorf("task table: %w", err)
	}

	rec := record.New(db, logger)
	cps := checkpoint.NewStore(db)

	mgr := browser.NewManager(cfg.browserConfig(logger))
	if _, err := mgr.Start(ctx); err != nil {
		// The control plane still answers without Chrome; sessions
		// fail at fetch time with a clear error.
		logger.Warn("browser start issue", "error", err)
	}
	defer mgr.Close()

	var sess *browser.Session
	if cfg.Session.CookieFile != "" {
		sess = browser.NewSession(cfg.sessionConfig(logger), mgr)
		if err := sess.Load(); err != nil {
			logger.Warn("cookie jar", "file", cfg.Session.CookieFile, "error", err)
		}
	}

	fetcher, err := fetch.New(cfg.Target, mgr, sess, logger)
	if err != nil {
		return fmt.Errorf("fetcher: %w", err)
	}

	bus := harvest.NewBus(logger)
	defer bus.Close()

	var auth harvest.Authenticator
	if sess != nil {
		auth = sess
	}
	orc, err := harvest.New(cfg.harvestConfig(), harvest.Deps{
		Fetcher:     fetcher,
		Auth:        auth,
		Recorder:    rec,
		Tasks:       q,
		Checkpoints: cps,
	}, bus, logger)
	if err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}

	// The metrics store is its own database file so monitoring writes
	// never contend with the harvest WAL.
	var mm *observability.MetricsManager
	if cfg.MetricsDB != "" {
		obsDB, err := dbopen.Open(cfg.MetricsDB, dbopen.WithMkdirAll())
		if err != nil {
			return fmt.Errorf("open metrics db: %w", err)
		}
		defer obsDB.Close()
		if err := observability.Init(obsDB); err != nil {
			return fmt.Errorf("metrics schema: %w", err)
		}
		mm = observability.NewMetricsManager(obsDB, 100, 5*time.Second)
		defer mm.Close()

		hb := observability.NewHeartbeatWriter(obsDB, "moisson", 15*time.Second)
		hb.Start(ctx)
		defer hb.Stop()

		feed, unsub := bus.Subscribe(1024)
		defer unsub()
		go recordSessionMetrics(ctx, feed, mm)

		// Sweep aged metrics at boot and then daily.
		go func() {
			tick := time.NewTicker(24 * time.Hour)
			defer tick.Stop()
			for {
				if n, err := mm.Cleanup(ctx, cfg.MetricsRetentionDays); err != nil && ctx.Err() == nil {
					logger.Warn("metrics retention sweep", "error", err)
				} else if n > 0 {
					logger.Info("metrics retention sweep", "removed", n)
				}
				select {
				case <-ctx.Done():
					return
				case <-tick.C:
				}
			}
		}()
	}

	if env("MCP_TRANSPORT", "") == "stdio" {
		mcpSrv := mcp.NewServer(&mcp.Implementation{
			Name:    "moisson",
			Version: "1.0.0",
		}, nil)
		orc.RegisterMCP(ctx, mcpSrv, harvest.MCPStores{Checkpoints: cps, Profiles: rec})
		go func() {
			logger.Info("mcp serving on stdio")
			if err := mcpSrv.Run(ctx, &mcp.IOTransport{Reader: os.Stdin, Writer: os.Stdout}); err != nil && ctx.Err() == nil {
				logger.Error("mcp stdio", "error", err)
			}
		}()
	}

	authUser := env("AUTH_USER", cfg.Auth.User)
	authHash := env("AUTH_PASSWORD_HASH", cfg.Auth.PasswordHash)
	if authHash == "" {
		logger.Warn("api auth disabled; set AUTH_PASSWORD_HASH to enable")
	}

	r := newRouter(ctx, orc, rec, cps, q, mm, authUser, authHash)

	addr := cfg.Listen
	if p := os.Getenv("PORT"); p != "" {
		addr = ":" + p
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No WriteTimeout: the events route streams until the session ends.
	}

	go func() {
		logger.Info("server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}

	// Cancelled sessions park their checkpoints on the way out; give
	// those final writes a bounded window to land.
	deadline := time.Now().Add(5 * time.Second)
	for len(orc.Sessions()) > 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}

	logger.Info("server stopped")
	return nil
}

// newRouter wires the control-plane routes. appCtx bounds background
// sessions started over HTTP, so they outlive the request that
// launched them.
func newRouter(appCtx context.Context, orc *harvest.Orchestrator, rec *record.Store, cps *checkpoint.Store, tq *taskq.Q, mm *observability.MetricsManager, authUser, authHash string) http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.Stack() {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		if authHash != "" {
			r.Use(shield.BasicAuth(authUser, authHash))
		}

		r.Route("/harvests", func(r chi.Router) {
			r.Post("/", func(w http.ResponseWriter, r *http.Request) {
				var opts harvest.Options
				if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
					writeError(w, 400, err)
					return
				}
				id, err := orc.Start(appCtx, opts)
				if err != nil {
					if errors.Is(err, harvest.ErrAlreadyRunning) {
						writeError(w, 409, err)
						return
					}
					writeError(w, 400, err)
					return
				}
				writeJSON(w, 201, map[string]string{"session_id": id, "status": "started"})
			})

			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, 200, map[string]any{"sessions": orc.Sessions()})
			})

			r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
				id := chi.URLParam(r, "id")
				p, err := orc.Progress(r.Context(), id)
				if err != nil {
					writeError(w, httpStatus(err), err)
					return
				}
				resp := map[string]any{"progress": p}
				if m, err := orc.Metrics(id); err == nil {
					resp["metrics"] = m
				}
				writeJSON(w, 200, resp)
			})

			r.Post("/{id}/pause", func(w http.ResponseWriter, r *http.Request) {
				if err := orc.Pause(chi.URLParam(r, "id")); err != nil {
					writeError(w, httpStatus(err), err)
					return
				}
				writeJSON(w, 200, map[string]string{"status": "pausing"})
			})

			r.Post("/{id}/resume", func(w http.ResponseWriter, r *http.Request) {
				if err := orc.Resume(appCtx, chi.URLParam(r, "id")); err != nil {
					writeError(w, httpStatus(err), err)
					return
				}
				writeJSON(w, 200, map[string]string{"status": "resuming"})
			})

			r.Post("/{id}/stop", func(w http.ResponseWriter, r *http.Request) {
				if err := orc.Stop(chi.URLParam(r, "id")); err != nil {
					writeError(w, httpStatus(err), err)
					return
				}
				writeJSON(w, 200, map[string]string{"status": "stopping"})
			})

			r.Get("/{id}/events", streamEvents(appCtx, orc))

			r.Get("/{id}/candidates", func(w http.ResponseWriter, r *http.Request) {
				id := chi.URLParam(r, "id")
				cands, err := rec.ListCandidates(r.Context(), id, queryInt(r, "limit", 100))
				if err != nil {
					writeError(w, 500, err)
					return
				}
				writeJSON(w, 200, map[string]any{"candidates": candidateViews(cands), "count": len(cands)})
			})

			r.Get("/{id}/profiles", func(w http.ResponseWriter, r *http.Request) {
				id := chi.URLParam(r, "id")
				profs, err := rec.ListProfiles(r.Context(), id, queryInt(r, "limit", 100))
				if err != nil {
					writeError(w, 500, err)
					return
				}
				writeJSON(w, 200, map[string]any{"profiles": profileViews(profs), "count": len(profs)})
			})

			r.Get("/{id}/attempts", func(w http.ResponseWriter, r *http.Request) {
				id := chi.URLParam(r, "id")
				atts, err := rec.RecentAttempts(r.Context(), id, queryInt(r, "limit", 50))
				if err != nil {
					writeError(w, 500, err)
					return
				}
				writeJSON(w, 200, map[string]any{"attempts": attemptViews(atts), "count": len(atts)})
			})
		})

		r.Route("/checkpoints", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				var (
					list []*checkpoint.Checkpoint
					err  error
				)
				if v := r.URL.Query().Get("resumable"); v == "1" || v == "true" {
					list, err = cps.Resumable(r.Context())
				} else {
					list, err = cps.List(r.Context())
				}
				if err != nil {
					writeError(w, 500, err)
					return
				}
				writeJSON(w, 200, map[string]any{"checkpoints": checkpointViews(list), "count": len(list)})
			})

			r.Delete("/{id}", func(w http.ResponseWriter, r *http.Request) {
				id := chi.URLParam(r, "id")
				if _, err := orc.Metrics(id); err == nil {
					writeError(w, 409, errors.New("session is live; stop it first"))
					return
				}
				if err := cps.Delete(r.Context(), id); err != nil {
					writeError(w, 500, err)
					return
				}
				// The session's queued tasks are garbage once the
				// checkpoint is gone. Re-deleting retries the purge.
				if err := tq.Purge(r.Context(), id); err != nil {
					writeError(w, 500, err)
					return
				}
				writeJSON(w, 200, map[string]string{"status": "deleted"})
			})
		})

		r.Get("/search", func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query().Get("q")
			if q == "" {
				writeError(w, 400, errors.New("q is required"))
				return
			}
			hits, err := rec.SearchProfiles(r.Context(), q, queryInt(r, "limit", 20))
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, map[string]any{"results": searchViews(hits), "count": len(hits)})
		})

		if mm != nil {
			r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
				var start *time.Time
				if m := queryInt(r, "since_minutes", 0); m > 0 {
					t := time.Now().Add(-time.Duration(m) * time.Minute)
					start = &t
				}
				metrics, err := mm.Query(r.URL.Query().Get("name"), start, nil, queryInt(r, "limit", 200))
				if err != nil {
					writeError(w, 500, err)
					return
				}
				writeJSON(w, 200, map[string]any{"metrics": metricViews(metrics), "count": len(metrics)})
			})
		}
	})

	return r
}

// recordSessionMetrics drains a bus subscription into the metrics
// store so the tuner's decisions survive the process that made them.
func recordSessionMetrics(ctx context.Context, events <-chan harvest.Event, mm *observability.MetricsManager) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			labels := map[string]string{"session": ev.SessionID}
			switch ev.Type {
			case harvest.EventMetrics:
				data, ok := ev.Data.(map[string]any)
				if !ok {
					continue
				}
				put := func(key, name, unit string) {
					if v, ok := num(data[key]); ok {
						mm.Record(&observability.Metric{
							Name: name, Timestamp: time.Now(), Value: v, Labels: labels, Unit: unit,
						})
					}
				}
				put("throughput", observability.MetricThroughput, "per_minute")
				put("concurrency", observability.MetricConcurrency, "count")
				put("delay_ms", observability.MetricProfileDelayMS, "milliseconds")
				put("rpm", observability.MetricRPMCeiling, "per_minute")
				put("error_rate", observability.MetricErrorRate, "ratio")
			case harvest.EventPage:
				data, ok := ev.Data.(map[string]any)
				if !ok {
					continue
				}
				if v, ok := num(data["page"]); ok {
					mm.Record(&observability.Metric{
						Name: observability.MetricPagesFetched, Timestamp: time.Now(), Value: v, Labels: labels, Unit: "count",
					})
				}
			case harvest.EventProgress:
				p, ok := ev.Data.(harvest.Progress)
				if !ok {
					continue
				}
				mm.Record(&observability.Metric{
					Name: observability.MetricProfilesScraped, Timestamp: time.Now(),
					Value: float64(p.ProfilesScraped), Labels: labels, Unit: "count",
				})
				mm.Record(&observability.Metric{
					Name: observability.MetricProfilesFailed, Timestamp: time.Now(),
					Value: float64(p.ProfilesFailed), Labels: labels, Unit: "count",
				})
			}
		}
	}
}

// num coerces the numeric types that show up in event payloads. Events
// travel in process, so values keep their Go types rather than JSON's
// uniform float64.
func num(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// streamEvents bridges the event bus onto an SSE response. The stream
// carries only the named session and closes after its done event.
func streamEvents(appCtx context.Context, orc *harvest.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, 500, errors.New("streaming not supported"))
			return
		}

		p, err := orc.Progress(r.Context(), id)
		if err != nil {
			writeError(w, httpStatus(err), err)
			return
		}

		// Subscribe before the snapshot so no event falls in between.
		events, cancel := orc.Events().Subscribe(256)
		defer cancel()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		snapshot := harvest.Event{
			Type:      harvest.EventProgress,
			SessionID: id,
			At:        time.Now().UnixMilli(),
			Data:      p,
		}
		_ = writeSSEEvent(w, string(snapshot.Type), snapshot)
		flusher.Flush()

		if p.Status.Terminal() {
			return
		}

		for {
			select {
			case <-r.Context().Done():
				return
			case <-appCtx.Done():
				return
			case ev, open := <-events:
				if !open {
					return
				}
				if ev.SessionID != id {
					continue
				}
				if err := writeSSEEvent(w, string(ev.Type), ev); err != nil {
					return
				}
				flusher.Flush()
				if ev.Type == harvest.EventDone {
					return
				}
			}
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, event string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("event: " + event + "\n")); err != nil {
		return err
	}
	if _, err := w.Write([]byte("data: " + string(b) + "\n\n")); err != nil {
		return err
	}
	return nil
}

// httpStatus maps control sentinels to response codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, harvest.ErrUnknownSession), errors.Is(err, harvest.ErrNotRunning):
		return 404
	case errors.Is(err, harvest.ErrNotResumable), errors.Is(err, harvest.ErrNotPaused), errors.Is(err, harvest.ErrAlreadyRunning):
		return 409
	default:
		return 500
	}
}

// --- Response shaping ---

func checkpointViews(list []*checkpoint.Checkpoint) []map[string]any {
	out := make([]map[string]any, 0, len(list))
	for _, cp := range list {
		out = append(out, map[string]any{
			"session_id":       cp.SessionID,
			"query":            cp.SearchQuery,
			"status":           cp.Status,
			"current_page":     cp.CurrentPage,
			"profiles_scraped": cp.ProfilesScraped,
			"profiles_failed":  cp.ProfilesFailed,
			"error_count":      cp.ErrorCount,
			"resumable":        checkpoint.CanResume(cp),
			"updated_at":       cp.UpdatedAt,
		})
	}
	return out
}

func candidateViews(list []*record.Candidate) []map[string]any {
	out := make([]map[string]any, 0, len(list))
	for _, c := range list {
		out = append(out, map[string]any{
			"id":       c.ID,
			"url":      c.URL,
			"name":     c.Name,
			"headline": c.Headline,
			"location": c.Location,
			"snippet":  c.Snippet,
			"page":     c.Page,
		})
	}
	return out
}

func profileViews(list []*record.Profile) []map[string]any {
	out := make([]map[string]any, 0, len(list))
	for _, p := range list {
		out = append(out, map[string]any{
			"id":         p.ID,
			"url":        p.URL,
			"name":       p.Name,
			"markdown":   p.Markdown,
			"fields":     p.Fields,
			"fetched_at": p.FetchedAt,
		})
	}
	return out
}

func attemptViews(list []*record.Attempt) []map[string]any {
	out := make([]map[string]any, 0, len(list))
	for _, a := range list {
		out = append(out, map[string]any{
			"url":         a.URL,
			"status":      a.Status,
			"status_code": a.StatusCode,
			"error":       a.ErrorMsg,
			"duration_ms": a.DurationMS,
			"fetched_at":  a.FetchedAt,
		})
	}
	return out
}

func searchViews(list []*record.SearchResult) []map[string]any {
	out := make([]map[string]any, 0, len(list))
	for _, h := range list {
		out = append(out, map[string]any{
			"profile_id": h.ProfileID,
			"url":        h.URL,
			"name":       h.Name,
			"markdown":   h.Markdown,
			"rank":       h.Rank,
		})
	}
	return out
}

func metricViews(list []*observability.Metric) []map[string]any {
	out := make([]map[string]any, 0, len(list))
	for _, m := range list {
		out = append(out, map[string]any{
			"name":      m.Name,
			"timestamp": m.Timestamp.Unix(),
			"value":     m.Value,
			"labels":    m.Labels,
			"unit":      m.Unit,
		})
	}
	return out
}

// --- Helpers ---

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
