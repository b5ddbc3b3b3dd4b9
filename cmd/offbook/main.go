// Command offbook is the main entry point for the Offbook recitation
// assessment server.
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
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/offbookhq/offbook/internal/assess"
	"github.com/offbookhq/offbook/internal/attempt"
	"github.com/offbookhq/offbook/internal/config"
	"github.com/offbookhq/offbook/internal/health"
	"github.com/offbookhq/offbook/internal/observe"
	"github.com/offbookhq/offbook/internal/passage"
	"github.com/offbookhq/offbook/internal/resilience"
	"github.com/offbookhq/offbook/internal/server"
	"github.com/offbookhq/offbook/pkg/provider/llm"
	"github.com/offbookhq/offbook/pkg/provider/llm/anyllm"
	"github.com/offbookhq/offbook/pkg/provider/stt"
	openaistt "github.com/offbookhq/offbook/pkg/provider/stt/openai"
	"github.com/offbookhq/offbook/pkg/provider/stt/whisper"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "offbook: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "offbook: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("offbook starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Config watcher ────────────────────────────────────────────────────────
	// Log level changes apply live; anything else is logged as needing a
	// restart.
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level updated", "level", d.NewLogLevel)
		}
		if d.RestartRequired {
			slog.Warn("config changes need a restart to take effect", "sections", d.RestartReasons)
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "offbook",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	transcriber, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		slog.Error("failed to create stt provider", "name", cfg.Providers.STT.Name, "err", err)
		return 1
	}
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)

	judges, err := buildJudges(cfg, reg)
	if err != nil {
		slog.Error("failed to build judge panel", "err", err)
		return 1
	}

	// ── Passage catalog ───────────────────────────────────────────────────────
	catalog, err := passage.LoadCatalogDir(cfg.Catalog.Dir)
	if err != nil {
		slog.Error("failed to load passage catalog", "dir", cfg.Catalog.Dir, "err", err)
		return 1
	}
	slog.Info("passage catalog loaded", "dir", cfg.Catalog.Dir, "passages", catalog.Len())

	// ── Attempt store ─────────────────────────────────────────────────────────
	var (
		store    attempt.Store
		checkers []health.Checker
	)
	if dsn := cfg.Store.PostgresDSN; dsn != "" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			slog.Error("failed to connect to postgres", "err", err)
			return 1
		}
		defer pool.Close()

		pg := attempt.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("failed to migrate attempt schema", "err", err)
			return 1
		}
		store = pg
		checkers = append(checkers, health.PingChecker("database", pool))
		slog.Info("attempt store ready", "backend", "postgres")
	} else {
		store = attempt.NewMemoryStore()
		slog.Info("attempt store ready", "backend", "memory")
	}

	// ── Assessment engine ─────────────────────────────────────────────────────
	var panelOpts []assess.PanelOption
	if cfg.Assess.JudgeTimeout > 0 {
		panelOpts = append(panelOpts, assess.WithJudgeTimeout(cfg.Assess.JudgeTimeout))
	}
	panel := assess.NewPanel(judges, panelOpts...)

	var engineOpts []assess.AssessorOption
	if cfg.Assess.TranscribeTimeout > 0 {
		engineOpts = append(engineOpts, assess.WithTranscribeTimeout(cfg.Assess.TranscribeTimeout))
	}
	assessor := assess.NewAssessor(catalog, transcriber, panel, store, engineOpts...)

	// ── HTTP server ───────────────────────────────────────────────────────────
	checkers = append(checkers, health.Checker{
		Name: "catalog",
		Check: func(context.Context) error {
			if catalog.Len() == 0 {
				return errors.New("catalog is empty")
			}
			return nil
		},
	})

	srv := server.New(assessor, store, catalog,
		server.WithMaxAudioBytes(cfg.Assess.MaxAudioBytes),
		server.WithHistoryWindow(cfg.Assess.HistoryWindow),
		server.WithHealthCheckers(checkers...),
	)

	listenAddr := cfg.Server.ListenAddr
	if listenAddr == "" {
		listenAddr = ":8080"
	}
	httpSrv := &http.Server{
		Addr:              listenAddr,
		Handler:           srv.Handler(observe.DefaultMetrics()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	printStartupSummary(cfg, catalog.Len(), listenAddr)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server ready — press Ctrl+C to shut down", "addr", listenAddr)
		if tls := cfg.Server.TLS; tls != nil {
			errCh <- httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			errCh <- httpSrv.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			return 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if c, ok := transcriber.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			slog.Warn("transcriber close error", "err", err)
		}
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai, anthropic, gemini, deepseek, mistral, groq, llamacpp, llamafile
	// all share the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"openai", "anthropic", "gemini",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	// openai transcribes via the hosted Whisper API.
	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []openaistt.Option
		if entry.Model != "" {
			opts = append(opts, openaistt.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, openaistt.WithBaseURL(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, openaistt.WithLanguage(lang))
		}
		return openaistt.New(entry.APIKey, opts...)
	})

	// whisper runs a local whisper.cpp model; Model holds the ggml file path.
	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(modelPath, opts...)
	})
}

// judgeRoleOrder fixes the panel consult order regardless of how the config
// file orders its judge entries.
var judgeRoleOrder = []config.JudgeRole{
	config.RoleAccuracy,
	config.RoleFluency,
	config.RoleInterpretive,
}

// buildJudges instantiates the configured judges in fixed role order.
func buildJudges(cfg *config.Config, reg *config.Registry) ([]*assess.Judge, error) {
	byRole := make(map[config.JudgeRole]config.JudgeEntry, len(cfg.Providers.Judges))
	for _, j := range cfg.Providers.Judges {
		byRole[j.Role] = j
	}

	var judges []*assess.Judge
	for _, role := range judgeRoleOrder {
		entry, ok := byRole[role]
		if !ok {
			continue
		}
		provider, err := reg.CreateLLM(entry.Provider)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q for judge %q: %w", entry.Provider.Name, role, err)
		}
		if len(entry.Fallbacks) > 0 {
			fb := resilience.NewLLMFallback(provider, entry.Provider.Name, resilience.FallbackConfig{})
			for _, fbEntry := range entry.Fallbacks {
				fbProvider, err := reg.CreateLLM(fbEntry)
				if err != nil {
					return nil, fmt.Errorf("create fallback provider %q for judge %q: %w", fbEntry.Name, role, err)
				}
				fb.AddFallback(fbEntry.Name, fbProvider)
			}
			provider = fb
		}
		var opts []assess.JudgeOption
		if entry.Temperature > 0 {
			opts = append(opts, assess.WithTemperature(entry.Temperature))
		}
		judges = append(judges, assess.NewJudge(string(role), provider, opts...))
		slog.Info("judge ready", "role", role, "provider", entry.Provider.Name, "model", entry.Provider.Model)
	}
	if len(judges) == 0 {
		return nil, errors.New("no judges configured")
	}
	return judges, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, passages int, listenAddr string) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Offbook — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	for _, j := range cfg.Providers.Judges {
		printProvider("Judge/"+string(j.Role), j.Provider.Name, j.Provider.Model)
	}
	backend := "memory"
	if cfg.Store.PostgresDSN != "" {
		backend = "postgres"
	}
	fmt.Printf("║  Attempt store   : %-19s ║\n", backend)
	fmt.Printf("║  Passages loaded : %-19d ║\n", passages)
	fmt.Printf("║  Listen addr     : %-19s ║\n", listenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
