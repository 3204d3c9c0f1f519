package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"

	"github.com/omnirouter/internal/aiconnectors"
	"github.com/omnirouter/internal/api"
	"github.com/omnirouter/internal/capture"
	"github.com/omnirouter/internal/config"
	"github.com/omnirouter/internal/conversation"
	"github.com/omnirouter/internal/core_processor"
	"github.com/omnirouter/internal/database"
	"github.com/omnirouter/internal/dispatch"
	"github.com/omnirouter/internal/jobqueue"
	"github.com/omnirouter/internal/logging"
	"github.com/omnirouter/internal/provider_input"
	output "github.com/omnirouter/internal/provider_output"
	emailout "github.com/omnirouter/internal/provider_output/email"
	instagramout "github.com/omnirouter/internal/provider_output/instagram"
	whatsappout "github.com/omnirouter/internal/provider_output/whatsapp"
	"github.com/omnirouter/internal/retry"
	"github.com/omnirouter/internal/routing"
	"github.com/omnirouter/internal/settings"
	"github.com/omnirouter/internal/takeover"
)

// ServeCommand returns the CLI command that runs the webhook router
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the webhook router and agent reply API",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the HTTP server (overrides server.port)",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if port := c.Int("port"); port > 0 {
		cfg.Server.Port = port
	}

	logger := logging.New(cfg.Log)
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, pool, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	cache := settings.NewCache(store, store, cfg.Cache)
	arbitrator := takeover.NewArbitrator(store)
	policy := routing.NewPolicy(cache, arbitrator, nil)

	graphClient := retry.NewClient(&http.Client{Timeout: cfg.Graph.Timeout}, retry.DefaultConfig(), logging.Component(logger, "graph"))
	limiter := output.NewOrgLimiter(cfg.Outbound.RateConfig)
	dispatcher := dispatch.NewDispatcher(map[conversation.Platform]output.Sender{
		conversation.PlatformWhatsApp:  whatsappout.NewAPIClient(graphClient, cfg.Graph.WhatsAppBaseURL, limiter, cfg.Graph.Timeout),
		conversation.PlatformInstagram: instagramout.NewAPIClient(graphClient, cfg.Graph.InstagramBaseURL, limiter, cfg.Graph.Timeout),
		conversation.PlatformEmail:     emailout.NewAPIClient(cfg.Outbound.MailgunAPIBase, limiter, cfg.Graph.Timeout),
	}, store, logger)

	deps := core_processor.Dependencies{
		Adapters:        provider_input.DefaultRegistry(),
		ProfileFetchers: provider_input.DefaultProfileFetchers(graphClient, cfg.Graph.InstagramBaseURL),
		Conversations:   store,
		Messages:        store,
		Integrations:    cache,
		Policy:          policy,
		Takeovers:       arbitrator,
		Delegate:        aiconnectors.NewAssistAIClient(cfg.AssistAI, nil, logger),
		Dispatcher:      dispatcher,
		Logger:          logger,
	}

	var queue *jobqueue.JobQueue
	if cfg.JobQueue.Enabled && pool != nil {
		queue, err = jobqueue.NewJobQueue(pool, cfg.JobQueue, logger)
		if err != nil {
			return err
		}
		deps.Undelivered = queue
	}

	router := core_processor.NewRouter(cfg.Router, deps)
	// Workers outlive the signal context so queued deliveries can drain.
	workCtx := context.WithoutCancel(ctx)
	router.Start(workCtx)

	if queue != nil {
		queue.Bind(router)
		if err := queue.Start(workCtx); err != nil {
			return fmt.Errorf("failed to start job queue: %w", err)
		}
	}

	server := api.NewServer(api.Options{
		Port:            cfg.Server.Port,
		BodyLimit:       cfg.Server.BodyLimit,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		JWTSecret:       cfg.Auth.JWTSecret,
	}, api.Dependencies{
		Adapters:      deps.Adapters,
		Integrations:  cache,
		Conversations: store,
		Deliveries:    router,
		Replies:       router,
		Recorder:      capture.NewRecorder(cfg.Server.CaptureDir, logger),
		Logger:        logger,
	})

	serveErr := server.Start(ctx)

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Router.DrainTimeout)
	defer cancel()
	var errs []error
	if serveErr != nil {
		errs = append(errs, serveErr)
	}
	if err := router.Stop(drainCtx); err != nil {
		errs = append(errs, fmt.Errorf("router drain: %w", err))
	}
	if queue != nil {
		if err := queue.Stop(drainCtx); err != nil {
			errs = append(errs, fmt.Errorf("job queue stop: %w", err))
		}
	}
	logger.Info().Msg("omnirouter stopped")
	return errors.Join(errs...)
}

// openStore returns the configured conversation store. The pool is nil for the memory driver.
func openStore(ctx context.Context, cfg *config.Config, logger logging.Logger) (conversation.Store, *pgxpool.Pool, error) {
	if cfg.Storage.Driver == config.StorageMemory {
		logger.Warn().Msg("using in-memory storage, conversations are lost on restart")
		return conversation.NewMemoryStore(), nil, nil
	}

	dbURL, err := database.ResolveURL(cfg.Database.URL)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Database.AutoMigrate {
		version, err := database.MigrateUp(dbURL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Uint("version", version).Msg("schema migrated")
	}

	pool, err := database.Connect(ctx, dbURL)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Database.AutoMigrate && cfg.JobQueue.Enabled {
		if _, err := jobqueue.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}
	return database.NewStore(pool), pool, nil
}
