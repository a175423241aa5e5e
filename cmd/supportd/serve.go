package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/supportd/internal/a2a"
	"github.com/fyrsmithlabs/supportd/internal/advisory"
	"github.com/fyrsmithlabs/supportd/internal/chat"
	"github.com/fyrsmithlabs/supportd/internal/config"
	"github.com/fyrsmithlabs/supportd/internal/dispatch"
	"github.com/fyrsmithlabs/supportd/internal/events"
	"github.com/fyrsmithlabs/supportd/internal/guardrail"
	httpserver "github.com/fyrsmithlabs/supportd/internal/http"
	"github.com/fyrsmithlabs/supportd/internal/ledger"
	"github.com/fyrsmithlabs/supportd/internal/logging"
	"github.com/fyrsmithlabs/supportd/internal/orchestrator"
	"github.com/fyrsmithlabs/supportd/internal/redact"
	"github.com/fyrsmithlabs/supportd/internal/registry"
	"github.com/fyrsmithlabs/supportd/internal/telemetry"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the supportd daemon",
		Long: `Start the HTTP API, connect to the configured capability providers and
run the event bus.

Configuration is read from the config file and SUPPORTD_* environment
variables. Guardrail settings are reloaded when the file changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func loadConfig() (*config.Config, string, error) {
	path := configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return nil, "", err
		}
		path = p
	}
	cfg, err := config.LoadWithFile(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func newLogger(cfg config.LoggingConfig) (*logging.Logger, error) {
	logCfg := logging.NewDefaultConfig()
	level, err := logging.LevelFromString(cfg.Level)
	if err != nil {
		return nil, err
	}
	logCfg.Level = level
	logCfg.Format = cfg.Format
	logCfg.Output.OTEL = cfg.OTEL

	if cfg.OTEL {
		return logging.NewLogger(logCfg, global.GetLoggerProvider())
	}
	return logging.NewLogger(logCfg, nil)
}

// clientFactory builds provider clients that share one outbound limiter.
func clientFactory(cfg config.DispatchConfig) registry.ClientFactory {
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst)
	return func(address string) *a2a.Client {
		return a2a.NewClient(address,
			a2a.WithTimeout(cfg.RequestTimeout.Duration()),
			a2a.WithRateLimiter(limiter),
		)
	}
}

func newGuard(cfg *config.Config, logger *logging.Logger) (*guardrail.Guard, error) {
	allowlist := cfg.Output.AllowlistPath
	if allowlist != "" {
		p, err := config.ExpandPath(allowlist)
		if err != nil {
			return nil, err
		}
		allowlist = p
	}
	redactor, err := redact.New(&redact.Config{
		Rules:         redact.DefaultRules(),
		Credentials:   cfg.Output.Credentials,
		AllowlistPath: allowlist,
	})
	if err != nil {
		return nil, fmt.Errorf("create redactor: %w", err)
	}

	opts := []guardrail.Option{
		guardrail.WithLogger(logger),
		guardrail.WithAdvisoryTimeout(cfg.Advisory.Timeout.Duration()),
	}
	if cfg.Advisory.Enabled {
		completer, err := advisory.NewOpenAI(advisory.FromAppConfig(cfg.Advisory))
		if err != nil {
			// Deterministic checks still run without a classifier.
			logger.Warn(context.Background(), "advisory classifier disabled", zap.Error(err))
		} else {
			cls := advisory.NewClassifier(completer, logger)
			opts = append(opts, guardrail.WithInputClassifier(cls), guardrail.WithOutputChecker(cls))
		}
	}
	return guardrail.New(redactor, opts...), nil
}

func serve(ctx context.Context) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry, version))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			logger.Warn(sctx, "telemetry shutdown failed", zap.Error(err))
		}
	}()

	ledgerPath, err := config.ExpandPath(cfg.Ledger.Path)
	if err != nil {
		return err
	}
	store, err := ledger.Open(ctx, ledgerPath)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer store.Close()

	reg := registry.New(
		registry.WithClientFactory(clientFactory(cfg.Dispatch)),
		registry.WithHandshakeTimeout(cfg.Registry.HandshakeTimeout.Duration()),
		registry.WithLogger(logger),
	)
	connected := reg.Bootstrap(ctx, cfg.Registry.Addresses)
	logger.Info(ctx, "providers bootstrapped",
		zap.Int("connected", connected),
		zap.Int("configured", len(cfg.Registry.Addresses)),
		zap.Strings("names", reg.Names()),
	)

	dispatcher := dispatch.New(reg, dispatch.FromAppConfig(cfg.Dispatch),
		dispatch.WithLogger(logger),
		dispatch.WithTelemetry(tel),
		dispatch.WithObserver(orchestrator.RecordTasks(store, logger)),
	)
	orch, err := orchestrator.New(dispatcher, store, orchestrator.FromAppConfig(cfg.Pipeline),
		orchestrator.WithLogger(logger),
		orchestrator.WithTelemetry(tel),
	)
	if err != nil {
		return err
	}
	if err := orch.Preflight(); err != nil {
		logger.Warn(ctx, "pipeline not ready, requests fail until providers register", zap.Error(err))
	}
	logger.Info(ctx, "pipeline", zap.String("plan", orch.Plan().Description))

	guard, err := newGuard(cfg, logger)
	if err != nil {
		return err
	}

	bus, err := events.Open(cfg.Events, logger)
	if err != nil {
		return fmt.Errorf("open event bus: %w", err)
	}
	defer bus.Close()

	svc := chat.NewService(guard, orch,
		chat.WithPublisher(bus),
		chat.WithLogger(logger),
		chat.WithRequestTimeout(cfg.Server.RequestTimeout.Duration()),
		chat.WithInputOptions(guardrail.InputOptionsFromConfig(cfg.Input)),
		chat.WithOutputOptions(guardrail.OutputOptionsFromConfig(cfg.Output)),
	)

	if watcher, err := config.NewWatcher(path); err != nil {
		logger.Warn(ctx, "config reload disabled", zap.Error(err))
	} else {
		go func() {
			_ = watcher.Run(ctx, svc.Reload, func(err error) {
				logger.Warn(ctx, "config reload failed", zap.Error(err))
			})
		}()
	}

	server, err := httpserver.NewServer(svc, reg, logger, &httpserver.Config{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Version: version,
	}, httpserver.WithEvents(bus), httpserver.WithTelemetry(tel))
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := server.Shutdown(sctx); err != nil {
		logger.Warn(sctx, "http shutdown failed", zap.Error(err))
	}
	return nil
}
