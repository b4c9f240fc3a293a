package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/civictwin/Main/simulation/internal/auth"
	"github.com/civictwin/Main/simulation/internal/config"
	"github.com/civictwin/Main/simulation/internal/dispatch"
	"github.com/civictwin/Main/simulation/internal/events"
	"github.com/civictwin/Main/simulation/internal/httpserver"
	"github.com/civictwin/Main/simulation/internal/logging"
	"github.com/civictwin/Main/simulation/internal/policy"
	"github.com/civictwin/Main/simulation/internal/runner"
	"github.com/civictwin/Main/simulation/internal/service"
	"github.com/civictwin/Main/simulation/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the simulation HTTP API",
	Long:  "serve accepts simulation jobs over HTTP. Configuration comes from SIM_* environment variables.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("config load: %w", err)
		}
		logger := logging.New(cfg.LogLevel, os.Stderr)
		slog.SetDefault(logger)

		resolver, err := newResolver(cfg.PolicyRulesFile)
		if err != nil {
			return err
		}
		executor, err := dispatch.New(cfg.Executor, cfg.Workers)
		if err != nil {
			return err
		}

		var publisher events.Publisher = events.Nop{}
		if len(cfg.KafkaBrokers) > 0 {
			kp, err := events.NewKafkaPublisher(events.KafkaConfig{
				Brokers: cfg.KafkaBrokers,
				Topic:   cfg.KafkaTopic,
			})
			if err != nil {
				return fmt.Errorf("kafka publisher init: %w", err)
			}
			publisher = kp
			logger.Info("publishing job events", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
		}

		var verifier *auth.Verifier
		if cfg.JWTSecret != "" {
			verifier, err = auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)
			if err != nil {
				return err
			}
		} else {
			logger.Warn("SIM_JWT_SECRET not set, submission endpoints are unauthenticated")
		}

		st := store.NewMemoryStore(store.MemoryConfig{Capacity: cfg.JobCapacity, TTL: cfg.JobTTL})
		rn := runner.New(runner.Config{
			MaxPopulation: cfg.MaxPopulation,
			MaxSteps:      cfg.MaxSteps,
			Logger:        logger,
		})
		svc := service.New(st, resolver, rn, service.Options{
			Executor:  executor,
			Publisher: publisher,
			Logger:    logger,
		})
		server := httpserver.New(cfg, svc, st, verifier, logger)

		httpServer := &http.Server{
			Addr:    cfg.Addr,
			Handler: server.Router(),
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info("simulation service listening", "addr", cfg.Addr, "executor", cfg.Executor)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		return waitForShutdown(logger, cfg, httpServer, svc, errCh)
	},
}

func waitForShutdown(logger *slog.Logger, cfg config.Config, srv *http.Server, svc *service.Service, errCh <-chan error) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	var serveErr error
	select {
	case <-stop:
	case serveErr = <-errCh:
		logger.Error("http server error", "error", serveErr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	// In-flight simulations finish before the process exits.
	if err := svc.Close(ctx); err != nil {
		logger.Error("draining simulations failed", "error", err)
	}
	logger.Info("simulation service stopped")
	return serveErr
}

func newResolver(rulesFile string) (*policy.Resolver, error) {
	if rulesFile == "" {
		return policy.NewResolver(nil)
	}
	rules, err := policy.LoadRules(rulesFile)
	if err != nil {
		return nil, err
	}
	return policy.NewResolver(rules)
}
