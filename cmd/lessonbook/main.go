// Command lessonbook is the main entry point for the Lessonbook voice command server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/lessonbook/lessonbook/internal/config"
	"github.com/lessonbook/lessonbook/internal/health"
	"github.com/lessonbook/lessonbook/internal/httpapi"
	"github.com/lessonbook/lessonbook/internal/observe"
	"github.com/lessonbook/lessonbook/internal/resilience"
	"github.com/lessonbook/lessonbook/internal/schedule"
	"github.com/lessonbook/lessonbook/internal/voice"
	"github.com/lessonbook/lessonbook/internal/voice/clarify"
	"github.com/lessonbook/lessonbook/internal/voice/resolver"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	rosterPath := flag.String("roster", "", "optional YAML roster file for the in-memory store")
	flag.Parse()

	// .env values become environment variables before the config is read, so
	// secrets like the DSN can stay out of config.yaml.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "lessonbook: load .env: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := &slog.LevelVar{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	// ── Configuration (watched for hot reload) ────────────────────────────────
	pipelineRef := &reloadablePipeline{}
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyReload(config.Diff(old, new), new, logLevel, pipelineRef)
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "lessonbook: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "lessonbook: %v\n", err)
		}
		return 1
	}
	defer watcher.Stop()

	cfg := watcher.Current()
	logLevel.Set(cfg.Server.LogLevel.Slog())

	if dsn := os.Getenv("LESSONBOOK_POSTGRES_DSN"); dsn != "" {
		cfg.Postgres.DSN = dsn
	}

	listenAddr := cfg.Server.ListenAddr
	if listenAddr == "" {
		listenAddr = ":8080"
	}

	slog.Info("lessonbook starting",
		"config", *configPath,
		"listen_addr", listenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "lessonbook"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Schedule store ────────────────────────────────────────────────────────
	store, storeCheck, closeStore, err := openStore(ctx, cfg.Postgres.DSN, *rosterPath)
	if err != nil {
		slog.Error("failed to open schedule store", "err", err)
		return 1
	}
	defer closeStore()

	// ── Voice pipeline ────────────────────────────────────────────────────────
	pipelineRef.store = store
	pipelineRef.set(buildPipeline(store, cfg.Voice))

	// ── HTTP server ───────────────────────────────────────────────────────────
	mux := http.NewServeMux()

	api := httpapi.NewServer(pipelineRef, httpapi.WithLogger(logger))
	api.Register(mux)

	health.New(health.Checker{Name: "store", Check: storeCheck}).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         listenAddr,
		Handler:      observe.Middleware(observe.DefaultMetrics())(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server ready — press Ctrl+C to shut down", "addr", listenAddr)
		var serveErr error
		if tls := cfg.Server.TLS; tls != nil {
			serveErr = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			serveErr = srv.ListenAndServe()
		}
		if errors.Is(serveErr, http.ErrServerClosed) {
			return nil
		}
		return serveErr
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Hot reload ────────────────────────────────────────────────────────────────

// reloadablePipeline is an [httpapi.Pipeline] whose backing [voice.Pipeline]
// can be swapped when the config file changes. Requests in flight keep the
// pipeline they started with.
type reloadablePipeline struct {
	store schedule.Store
	ptr   atomic.Pointer[voice.Pipeline]
}

func (r *reloadablePipeline) set(p *voice.Pipeline) { r.ptr.Store(p) }

func (r *reloadablePipeline) Handle(ctx context.Context, transcript, referenceDateKey string) (voice.Result, error) {
	return r.ptr.Load().Handle(ctx, transcript, referenceDateKey)
}

func (r *reloadablePipeline) Resume(ctx context.Context, token, optionID string) (voice.Result, error) {
	return r.ptr.Load().Resume(ctx, token, optionID)
}

func (r *reloadablePipeline) Confirm(ctx context.Context, token string, accept bool) (voice.Result, error) {
	return r.ptr.Load().Confirm(ctx, token, accept)
}

func (r *reloadablePipeline) Cancel(ctx context.Context, token string) (voice.Result, error) {
	return r.ptr.Load().Cancel(ctx, token)
}

// applyReload pushes hot-reloadable config changes into the running server.
func applyReload(d config.ConfigDiff, cfg *config.Config, logLevel *slog.LevelVar, pipelineRef *reloadablePipeline) {
	if d.LogLevelChanged {
		logLevel.Set(d.NewLogLevel.Slog())
		slog.Info("log level updated", "level", d.NewLogLevel)
	}
	if d.VoiceChanged && pipelineRef.store != nil {
		// Pending commands are lost on a tuning change; the new pipeline
		// starts with a fresh pending store.
		pipelineRef.set(buildPipeline(pipelineRef.store, cfg.Voice))
		slog.Info("voice pipeline tuning updated",
			"confidence_threshold", cfg.Voice.ConfidenceThreshold,
			"fuzzy_threshold", cfg.Voice.FuzzyThreshold,
		)
	}
	if d.PostgresChanged {
		slog.Warn("postgres.dsn changed; a restart is required for it to take effect")
	}
}

// buildPipeline assembles a [voice.Pipeline] from the voice config section.
func buildPipeline(store schedule.Store, vc config.VoiceConfig) *voice.Pipeline {
	var opts []voice.PipelineOption
	if vc.ConfidenceThreshold > 0 {
		opts = append(opts, voice.WithConfidenceThreshold(vc.ConfidenceThreshold))
	}
	if vc.FuzzyThreshold > 0 || vc.AmbiguityMargin > 0 {
		opts = append(opts, voice.WithResolverOptions(resolver.Options{
			FuzzyThreshold: vc.FuzzyThreshold,
			Margin:         vc.AmbiguityMargin,
		}))
	}
	if ttl := vc.PendingTTLDuration(); ttl > 0 {
		opts = append(opts, voice.WithPendingStore(clarify.NewPendingStore(clarify.WithTTL(ttl))))
	}
	return voice.NewPipeline(store, opts...)
}

// ── Schedule store ────────────────────────────────────────────────────────────

// openStore opens the Postgres-backed store when a DSN is configured, or an
// in-memory store (optionally seeded from a roster file) otherwise. The
// returned check function feeds the /readyz probe.
func openStore(ctx context.Context, dsn, rosterPath string) (schedule.Store, func(context.Context) error, func(), error) {
	if dsn == "" {
		students, err := loadRoster(rosterPath)
		if err != nil {
			return nil, nil, nil, err
		}
		store := schedule.NewMemStore(students...)
		slog.Info("using in-memory schedule store", "students", len(students))
		return store, func(context.Context) error { return nil }, func() {}, nil
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	pg := schedule.NewPostgresStore(pool)
	if err := pg.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("migrate schema: %w", err)
	}
	guarded := resilience.GuardStore(pg, resilience.CircuitBreakerConfig{Name: "postgres"})
	check := func(ctx context.Context) error {
		if guarded.State() == resilience.StateOpen {
			return resilience.ErrCircuitOpen
		}
		return pool.Ping(ctx)
	}
	slog.Info("using postgres schedule store")
	return guarded, check, pool.Close, nil
}

// rosterFile is the YAML shape of the -roster file.
type rosterFile struct {
	Students []rosterStudent `yaml:"students"`
}

type rosterStudent struct {
	ID        string       `yaml:"id"`
	FirstName string       `yaml:"first_name"`
	LastName  string       `yaml:"last_name"`
	Slots     []rosterSlot `yaml:"slots"`
}

type rosterSlot struct {
	Weekday     string `yaml:"weekday"`
	TimeOfDay   string `yaml:"time_of_day"`
	DurationMin int    `yaml:"duration_min"`
	RateCents   int    `yaml:"rate_cents"`
}

// loadRoster reads a roster YAML file into students for the in-memory store.
// An empty path yields an empty roster.
func loadRoster(path string) ([]schedule.Student, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster %q: %w", path, err)
	}
	var file rosterFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse roster %q: %w", path, err)
	}

	students := make([]schedule.Student, 0, len(file.Students))
	for i, rs := range file.Students {
		if rs.ID == "" {
			return nil, fmt.Errorf("roster students[%d]: id is required", i)
		}
		st := schedule.Student{
			ID:        rs.ID,
			FirstName: rs.FirstName,
			LastName:  rs.LastName,
		}
		for _, slot := range rs.Slots {
			wd, err := parseWeekday(slot.Weekday)
			if err != nil {
				return nil, fmt.Errorf("roster students[%d]: %w", i, err)
			}
			st.Slots = append(st.Slots, schedule.WeeklySlot{
				Weekday:     wd,
				TimeOfDay:   slot.TimeOfDay,
				DurationMin: slot.DurationMin,
				RateCents:   slot.RateCents,
			})
		}
		students = append(students, st)
	}
	return students, nil
}

func parseWeekday(name string) (time.Weekday, error) {
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if strings.EqualFold(wd.String(), name) {
			return wd, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", name)
}
