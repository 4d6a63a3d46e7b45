package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/rendis/flowkit/internal/actions"
	"github.com/rendis/flowkit/internal/auth"
	"github.com/rendis/flowkit/internal/engine"
	"github.com/rendis/flowkit/internal/logging"
	"github.com/rendis/flowkit/internal/ontology"
	"github.com/rendis/flowkit/internal/scheduler"
	"github.com/rendis/flowkit/internal/store"
	"github.com/rendis/flowkit/internal/templates"
	"github.com/rendis/flowkit/internal/validation"
	"github.com/rendis/flowkit/pkg/mcp"
)

// app is the wired object graph shared by the subcommands.
type app struct {
	cfg       Config
	logger    *slog.Logger
	store     *store.LibSQLStore
	resolver  *templates.Resolver
	service   *ontology.Service
	scheduler *scheduler.Scheduler
	mcp       *mcp.Server
}

func newLogger(level string) *slog.Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logging.ParseLevel(level)})
	return slog.New(logging.NewCorrelationHandler(handler))
}

// openStore opens and migrates the configured database.
func openStore(ctx context.Context, cfg Config) (*store.LibSQLStore, error) {
	s, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return s, nil
}

func newApp(ctx context.Context, cfg Config) (*app, error) {
	logger := newLogger(cfg.LogLevel)

	s, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	resolver := templates.NewResolver(s, cfg.SystemOrgSlug)

	registry := actions.NewRegistry()
	if err := actions.RegisterBuiltins(registry, actions.BuiltinDeps{
		Store:    s,
		Resolver: resolver,
		Mail: actions.MailConfig{
			Endpoint:        cfg.MailEndpoint,
			APIKey:          cfg.MailAPIKey,
			From:            cfg.MailFrom,
			AdminRecipients: cfg.AdminRecipients,
			Timeout:         cfg.MailTimeout,
		},
	}); err != nil {
		s.Close()
		return nil, fmt.Errorf("register actions: %w", err)
	}

	validator, err := validation.NewBehaviorValidator(logger)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("compile behavior schemas: %w", err)
	}

	authorizer := auth.NewStoreAuthorizer(s)
	service := ontology.NewService(ontology.Config{
		Store:      s,
		Authorizer: authorizer,
		Validator:  validator,
		Runner: engine.NewExecutor(registry, engine.ExecutorConfig{
			ExecutionLogs: s,
			Logger:        logger,
		}),
		TriggerConcurrency: cfg.TriggerConcurrency,
		Logger:             logger,
	})

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    s,
		resolver: resolver,
		service:  service,
		scheduler: scheduler.NewScheduler(s, service, scheduler.Config{
			Interval: cfg.SchedulerInterval,
			Logger:   logger,
		}),
		mcp: mcp.NewServer(mcp.ServerDeps{
			Workflows:  service,
			Resolver:   resolver,
			Authorizer: authorizer,
			Executions: s,
			Logger:     logger,
		}),
	}, nil
}

func (a *app) Close() {
	if err := a.scheduler.Stop(); err != nil {
		a.logger.Warn("scheduler stop failed", slog.String("error", err.Error()))
	}
	a.service.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("store close failed", slog.String("error", err.Error()))
	}
}
