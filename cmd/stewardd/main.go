// Command stewardd runs the multi-agent assistant daemon: HTTP transport,
// turn orchestrator, and background scheduler.
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
	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"

	"github.com/nevindra/steward"
	redischeckpoint "github.com/nevindra/steward/checkpoint/redis"
	"github.com/nevindra/steward/internal/config"
	"github.com/nevindra/steward/internal/httpapi"
	"github.com/nevindra/steward/internal/jobs"
	"github.com/nevindra/steward/observer"
	"github.com/nevindra/steward/provider/openaicompat"
	"github.com/nevindra/steward/store/sqlite"
	"github.com/nevindra/steward/tools/event"
	"github.com/nevindra/steward/tools/food"
	"github.com/nevindra/steward/tools/memory"
	"github.com/nevindra/steward/tools/reminder"
	"github.com/nevindra/steward/tools/task"
	vectorpg "github.com/nevindra/steward/vector/postgres"
)

func main() {
	configPath := flag.String("config", "", "path to steward.toml")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load(*configPath)

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	loc, err := time.LoadLocation(cfg.Server.Timezone)
	if err != nil {
		return err
	}

	// Tracing.
	var tracer steward.Tracer
	if cfg.Observer.Enabled {
		shutdown, err := observer.Init(ctx, cfg.Observer.ServiceName, cfg.Observer.OTLPEndpoint)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
		tracer = observer.NewTracer()
	}

	// Stores.
	store := sqlite.New(cfg.Datastore.Path, sqlite.WithLogger(logger))
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		return err
	}

	redisClient := goredis.NewClient(&goredis.Options{Addr: cfg.Checkpoint.RedisAddr})
	defer redisClient.Close()
	checkpointer := redischeckpoint.New(redisClient)

	var vectors *vectorpg.Store
	var embedder steward.EmbeddingProvider
	if cfg.Vector.PostgresURL != "" {
		pool, err := pgxpool.New(ctx, cfg.Vector.PostgresURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		vectors = vectorpg.New(pool, vectorpg.WithDimension(cfg.Embedding.Dimensions))
		if err := vectors.Init(ctx); err != nil {
			return err
		}
		embedder = openaicompat.NewEmbedder(cfg.LLM.APIKey, cfg.Embedding.Model, cfg.LLM.BaseURL, cfg.Embedding.Dimensions)
	}

	// LLM provider with retry middleware.
	llm := steward.WithRetry(
		openaicompat.New(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL,
			openaicompat.WithDeadline(cfg.LLM.Deadline.Value(openaicompat.DefaultDeadline)),
			openaicompat.WithLogger(logger)),
		steward.RetryLogger(logger),
	)

	// Agents and tools.
	agents := steward.NewAgentSet()
	for _, spec := range agentSpecs(vectors != nil) {
		if err := agents.Register(spec); err != nil {
			return err
		}
	}
	if cfg.Server.DefaultAgent != "" && !agents.Has(cfg.Server.DefaultAgent) {
		return fmt.Errorf("default_agent %q is not a registered agent", cfg.Server.DefaultAgent)
	}

	registry := steward.NewToolRegistry(
		steward.WithToolDeadline(cfg.Server.ToolDeadline.Value(15*time.Second)),
		steward.WithRegistryLogger(logger))
	toolSets := []interface {
		Register(*steward.ToolRegistry) error
	}{
		food.New(store, loc),
		task.New(store, loc),
		event.New(store, loc),
		reminder.New(store, loc),
	}
	if vectors != nil {
		toolSets = append(toolSets, memory.New(vectors, embedder))
	}
	for _, ts := range toolSets {
		if err := ts.Register(registry); err != nil {
			return err
		}
	}

	// Turn runtime.
	routerOpts := []steward.RouterOption{
		steward.WithRoutingTemperature(cfg.LLM.RoutingTemperature),
		steward.WithConfidenceFloor(cfg.Server.ConfidenceFloor),
		steward.WithRouterTracer(tracer),
		steward.WithRouterLogger(logger),
	}
	if cfg.Server.DefaultAgent != "" {
		routerOpts = append(routerOpts, steward.WithDefaultAgent(cfg.Server.DefaultAgent))
	}
	router := steward.NewRouter(agents, llm, routerOpts...)
	graph := steward.NewGraph(agents, router, registry, llm,
		steward.WithMaxMessages(cfg.Server.MaxMessages),
		steward.WithMaxHandoffs(cfg.Server.MaxHandoffs),
		steward.WithMaxToolRounds(cfg.Server.MaxToolRounds),
		steward.WithAgentTemperature(cfg.LLM.AgentTemperature),
		steward.WithGraphTracer(tracer),
		steward.WithGraphLogger(logger))
	orch := steward.NewOrchestrator(graph, checkpointer, agents,
		steward.WithMaxConcurrentTurns(cfg.Server.MaxConcurrent),
		steward.WithTurnBudget(cfg.Server.TurnBudget.Value(steward.DefaultTurnBudget)),
		steward.WithSessionTTL(cfg.Checkpoint.TTL.Value(steward.DefaultSessionTTL)),
		steward.WithTracer(tracer),
		steward.WithLogger(logger))

	// Background jobs.
	health := jobs.NewComponentHealth()
	var scheduler *steward.Scheduler
	if cfg.Scheduler.Enabled {
		scheduler = steward.NewScheduler(
			steward.WithSchedulerLogger(logger),
			steward.WithSchedulerTracer(tracer))
		jobList := []steward.Job{
			jobs.FireReminders(store, jobs.LogSink{Logger: logger}, logger),
			jobs.ExpandRecurringTasks(store, loc, logger),
			jobs.HealthProbe(store, checkpointer, vectors, health, logger),
		}
		if vectors != nil {
			jobList = append(jobList,
				jobs.CleanupOldData(store, vectors, logger),
				jobs.VaultSync(cfg.Vault.Path, vectors, embedder, logger))
		} else {
			jobList = append(jobList, jobs.CleanupOldData(store, nil, logger))
		}
		if cfg.External.BaseURL != "" {
			client := &jobs.RESTClient{BaseURL: cfg.External.BaseURL, Token: cfg.External.Token}
			jobList = append(jobList, jobs.ExternalSync(store, client, "default", logger))
		}
		for _, job := range jobList {
			if jc, ok := cfg.Scheduler.Jobs[job.Name]; ok {
				if jc.Enabled != nil {
					job.Enabled = *jc.Enabled
				}
				job.Interval = jc.Interval.Value(job.Interval)
			}
			if err := scheduler.Register(job); err != nil {
				return err
			}
		}
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	// HTTP transport.
	api := httpapi.New(orch, scheduler, health, logger)
	server := &http.Server{Addr: cfg.Server.ListenAddr, Handler: api.Router()}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.ListenAddr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
