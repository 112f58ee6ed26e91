package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/amoylab/msgate/internal/apiserver"
	"github.com/amoylab/msgate/internal/auth"
	"github.com/amoylab/msgate/internal/auth/jwt"
	"github.com/amoylab/msgate/internal/auth/storage"
	"github.com/amoylab/msgate/internal/backend"
	"github.com/amoylab/msgate/internal/backend/simulator"
	"github.com/amoylab/msgate/internal/broadcast"
	"github.com/amoylab/msgate/internal/common/cnst"
	"github.com/amoylab/msgate/internal/common/config"
	"github.com/amoylab/msgate/internal/media"
	"github.com/amoylab/msgate/internal/session"
	"github.com/amoylab/msgate/pkg/logger"
	"github.com/amoylab/msgate/pkg/metrics"
	"github.com/amoylab/msgate/pkg/trace"
	"github.com/amoylab/msgate/pkg/utils"
	"github.com/amoylab/msgate/pkg/version"
)

const shutdownTimeout = 20 * time.Second

func run() error {
	cfg, cfgPath, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config %s: %w", cfgPath, err)
	}

	lg, err := logger.NewLogger(&cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = lg.Sync() }()

	lg.Info("Starting msgate",
		zap.String("version", version.Get()),
		zap.String("config", cfgPath),
		zap.Int("port", cfg.Port))

	if pidFile != "" {
		pf := utils.NewPIDFile(pidFile)
		if err := pf.Acquire(); err != nil {
			return fmt.Errorf("pid file: %w", err)
		}
		defer func() {
			if err := pf.Release(); err != nil {
				lg.Warn("Failed to remove PID file", zap.Error(err))
			}
		}()
	}

	ctx := context.Background()
	shutdownTracing, err := trace.InitTracing(ctx, &cfg.Tracing, lg)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			lg.Error("Failed to shutdown tracing", zap.Error(err))
		}
	}()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics)
	}

	store, err := storage.NewStore(lg, &cfg.Users)
	if err != nil {
		return fmt.Errorf("failed to initialize user store: %w", err)
	}
	defer store.Close()
	if err := storage.SeedSuperAdmin(ctx, lg, store, &cfg.SuperAdmin); err != nil {
		return fmt.Errorf("failed to seed super admin: %w", err)
	}

	tokens, err := jwt.NewService(jwt.Config{SecretKey: cfg.JWT.SecretKey, Duration: cfg.JWT.Duration})
	if err != nil {
		return fmt.Errorf("failed to initialize JWT service: %w", err)
	}
	gate, err := auth.NewGate(lg, store, tokens)
	if err != nil {
		return fmt.Errorf("failed to initialize auth gate: %w", err)
	}

	busOpts := []broadcast.Option{broadcast.WithBuffer(cfg.Realtime.SendBuffer), broadcast.WithMetrics(m)}
	var relay *broadcast.Relay
	if cfg.Relay.Enabled {
		relay, err = broadcast.NewRelay(ctx, lg, &cfg.Relay, m)
		if err != nil {
			return fmt.Errorf("failed to initialize event relay: %w", err)
		}
		busOpts = append(busOpts, broadcast.WithSink(relay))
	}
	bus := broadcast.New(lg, busOpts...)

	factory, err := newBackendFactory(lg, &cfg.Session.Backend)
	if err != nil {
		return err
	}
	registry := session.NewRegistry(lg, &cfg.Session, factory, bus, m)
	bus.SetSnapshotSource(registry)

	if cfg.Logger.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := apiserver.NewServer(lg, cfg, apiserver.Deps{
		Gate:     gate,
		Registry: registry,
		Bus:      bus,
		Media:    media.NewLoader(lg, &cfg.Media),
		Metrics:  m,
	})
	errCh := srv.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		lg.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			lg.Error("HTTP server stopped", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error("Failed to shutdown HTTP server", zap.Error(err))
	}
	if err := registry.Close(shutdownCtx); err != nil {
		lg.Error("Failed to tear down sessions", zap.Error(err))
	}
	if relay != nil {
		if err := relay.Close(shutdownCtx); err != nil {
			lg.Error("Failed to close event relay", zap.Error(err))
		}
	}
	lg.Info("Server shutdown completed")
	return nil
}

// newBackendFactory picks the messaging backend named in the config
func newBackendFactory(lg *zap.Logger, cfg *config.BackendConfig) (backend.Factory, error) {
	switch cfg.Type {
	case cnst.BackendSimulator:
		return simulator.NewFactory(lg, cfg.Simulator), nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", cfg.Type)
	}
}
