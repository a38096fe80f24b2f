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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/openclaw/issue-dispatcher/internal/config"
	"github.com/openclaw/issue-dispatcher/internal/dispatch"
	"github.com/openclaw/issue-dispatcher/internal/followup"
	"github.com/openclaw/issue-dispatcher/internal/forge"
	"github.com/openclaw/issue-dispatcher/internal/logging"
	"github.com/openclaw/issue-dispatcher/internal/metrics"
	"github.com/openclaw/issue-dispatcher/internal/receiver"
	"github.com/openclaw/issue-dispatcher/internal/routing"
	"github.com/openclaw/issue-dispatcher/internal/state"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "issue-dispatcher:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	routingCfg, err := routing.Load(cfg.RoutingFilePath)
	if err != nil {
		return fmt.Errorf("loading routing config: %w", err)
	}

	store, err := state.Open(cfg.StateDir, log)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}

	forgeClient, err := forge.NewClient(forge.Config{
		Token:               cfg.ForgeToken,
		APIBaseURL:          cfg.ForgeAPIBase,
		GraphQLURL:          cfg.ForgeGraphQL,
		ReadTimeout:         cfg.ForgeReadTimeout,
		GraphQLTimeout:      cfg.ForgeGraphQLTimeout,
		CircuitBreakerName:  "github-forge",
		MaxConsecutiveTrips: 5,
	}, log)
	if err != nil {
		return fmt.Errorf("building forge client: %w", err)
	}

	followupMgr := followup.New(store, forgeClient, followup.Config{
		RoutingConfig:                 routingCfg,
		SecurityOverrideLabel:         cfg.SecurityOverrideLabel,
		SecuritySensitiveLabels:       cfg.SecuritySensitiveLabels,
		SecuritySensitivePathContains: cfg.SecuritySensitivePathContains,
		SecurityReviewerLogin:         cfg.SecurityReviewerLogin,
	}, log)

	invoker, err := dispatch.NewInvoker(cfg.HookCommandTemplate, cfg.DispatchTimeout)
	if err != nil {
		return fmt.Errorf("parsing hook command template: %w", err)
	}

	reg := prometheus.NewRegistry()
	metricsReg := metrics.NewRegistry(reg)

	srv := receiver.New(receiver.Config{
		WebhookSecret:           cfg.WebhookSecret,
		TriageForceLabel:        cfg.TriageForceLabel,
		AutoExecuteEnabled:      cfg.AutoExecuteEnabled,
		AutoExecuteOnlyOnOpened: cfg.AutoExecuteOnlyOnOpened,
		CommentPostTimeout:      cfg.CommentPostTimeout,
	}, store, routingCfg, forgeClient, followupMgr, invoker, metricsReg, log)

	mux := http.NewServeMux()
	mux.Handle("/", srv.Router())
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("issue-dispatcher: listening", zap.String("addr", cfg.Addr()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case sig := <-sigCh:
		log.Info("issue-dispatcher: shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}
