// veritasd is the orchestrator server: it exposes the job trigger and
// status HTTP API and runs triggered jobs to completion against a
// Postgres or sqlite-backed store.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/rivergate-labs/veritas/pkg/adapters"
	"github.com/rivergate-labs/veritas/pkg/api"
	"github.com/rivergate-labs/veritas/pkg/clock"
	"github.com/rivergate-labs/veritas/pkg/config"
	"github.com/rivergate-labs/veritas/pkg/evidence"
	"github.com/rivergate-labs/veritas/pkg/executor"
	"github.com/rivergate-labs/veritas/pkg/frontier"
	"github.com/rivergate-labs/veritas/pkg/gatekeeper"
	"github.com/rivergate-labs/veritas/pkg/orchestrator"
	"github.com/rivergate-labs/veritas/pkg/scheduler"
	"github.com/rivergate-labs/veritas/pkg/store"
	"github.com/rivergate-labs/veritas/pkg/store/sqlitestore"
	"github.com/rivergate-labs/veritas/pkg/telemetry"
	"github.com/rivergate-labs/veritas/pkg/trust"
	"github.com/rivergate-labs/veritas/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("warning: could not load %s: %v", envPath, err)
		log.Printf("continuing with existing environment variables")
	} else {
		log.Printf("loaded environment from %s", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	ginMode := getEnv("GIN_MODE", "release")
	gin.SetMode(ginMode)

	log.Printf("starting %s", version.Full())
	log.Printf("config directory: %s", *configDir)

	ctx := context.Background()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Fatalf("failed to initialize configuration: %v", err)
	}

	shutdownTelemetry, err := telemetry.Init(ctx, 30*time.Second)
	if err != nil {
		log.Fatalf("failed to initialize telemetry: %v", err)
	}
	defer func() {
		if err := shutdownTelemetry(ctx); err != nil {
			log.Printf("error shutting down telemetry: %v", err)
		}
	}()

	st, dialect, err := openStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Printf("error closing store: %v", err)
		}
	}()
	log.Printf("connected to store (dialect=%s)", dialect)

	sysClock := clock.System{}
	f := frontier.New(st, sysClock, dialect, cfg.LeaseDuration, cfg.MaxTaskAttempts)
	ev := evidence.New(st, sysClock, cfg.SourceCacheTTL)
	trustEngine := trust.New(cfg.Classifier(), sysClock)

	retry := executor.RetryPolicy{
		BaseDelay: cfg.RetryBaseDelay,
		Factor:    cfg.RetryFactor,
		Cap:       cfg.RetryCap,
		MaxTries:  cfg.RetryMaxTries,
	}
	credits := adapters.NewCreditState()
	ex := executor.New(unconfiguredAdapters(), ev, credits, sysClock, retry, cfg.RelevanceK)
	sched := scheduler.New(f, ex, cfg.MaxConcurrency, cfg.SliceDeadline, cfg.DrainMargin, cfg.DrainTimeout)
	gk := gatekeeper.New(nil)

	orch := orchestrator.New(orchestrator.Deps{
		Store:     st,
		Clock:     sysClock,
		Frontier:  f,
		Evidence:  ev,
		Trust:     trustEngine,
		Adapters:  unconfiguredAdapters(),
		Scheduler: sched,
		Gatekeeper: gk,
		Config: orchestrator.Config{
			MaxSlices:                 cfg.MaxSlices,
			RequiredFields:            cfg.RequiredFields,
			ImageFields:               cfg.ImageFields,
			ReflectionConfidenceFloor: cfg.ReflectionConfidenceFloor,
			MaxReflectionLoops:        cfg.MaxReflectionLoops,
			ReflectionQueryTemplate:   cfg.ReflectionQueryTemplate,
			SynthesisMaxDocs:          cfg.SynthesisMaxDocs,
			SynthesisMaxCharsPerDoc:   cfg.SynthesisMaxCharsPerDoc,
			RulesetVersion:            cfg.RulesetVersion,
			ParserVersion:             cfg.ParserVersion,
		},
	})

	server := api.NewServer(orch)

	log.Printf("HTTP server listening on :%s", httpPort)
	if err := server.Start(":" + httpPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server failed: %v", err)
	}
}

// openStore dispatches on a sqlite:// scheme (a file path or :memory: for
// single-process, container-free deployments) versus any other DSN, which
// is handed to the Postgres backend unchanged.
func openStore(ctx context.Context, databaseURL string) (*store.Store, frontier.Dialect, error) {
	if path, ok := strings.CutPrefix(databaseURL, "sqlite://"); ok {
		st, err := sqlitestore.Open(ctx, path)
		return st, frontier.DialectSQLite, err
	}
	st, err := store.Open(ctx, store.Config{DatabaseURL: databaseURL, MaxOpenConns: 10, MaxIdleConns: 5})
	return st, frontier.DialectPostgres, err
}

// unconfiguredAdapters returns the adapter Set this binary ships with:
// veritasd's core treats Search, Scrape, and LLMJSON as out-of-tree
// collaborators (spec §1's named-interfaces boundary), so a deployment
// must supply its own implementations. Until wired, every call fails
// Permanent with a message that says so, rather than panicking on a nil
// interface.
func unconfiguredAdapters() adapters.Set {
	u := unconfiguredAdapter{}
	return adapters.Set{Search: u, Scrape: u, LLMJSON: u}
}

type unconfiguredAdapter struct{}

func (unconfiguredAdapter) Search(_ context.Context, _ string, _ adapters.SearchOptions) ([]adapters.SearchHit, error) {
	return nil, adapters.WrapPermanent("search", errUnconfigured)
}

func (unconfiguredAdapter) Scrape(_ context.Context, _ string, _ adapters.ScrapeOptions) (adapters.ScrapeResult, error) {
	return adapters.ScrapeResult{}, adapters.WrapPermanent("scrape", errUnconfigured)
}

func (unconfiguredAdapter) LLMJSON(_ context.Context, _ string, _ map[string]any, _ map[string]any) (map[string]any, error) {
	return nil, adapters.WrapPermanent("llm_json", errUnconfigured)
}

var errUnconfigured = errUnconfiguredAdapter("no adapter implementation configured for this deployment")

type errUnconfiguredAdapter string

func (e errUnconfiguredAdapter) Error() string { return string(e) }
