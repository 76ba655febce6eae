package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"voucherchain/config"
	"voucherchain/core"
	"voucherchain/native/voucher"
	"voucherchain/observability/eventlog"
	"voucherchain/observability/logging"
	telemetry "voucherchain/observability/otel"
	"voucherchain/rpc"
	"voucherchain/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	if err := run(*configFile); err != nil {
		fmt.Fprintf(os.Stderr, "voucherd: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.SetupWithOptions("voucherd", cfg.Environment, logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "voucherd",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Traces:      cfg.Telemetry.Traces,
		Metrics:     cfg.Telemetry.Metrics,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	addrs, err := cfg.Addresses()
	if err != nil {
		return err
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()

	node, err := core.NewNode(db, core.Config{
		Owner:      addrs.Owner,
		EscrowPool: addrs.EscrowPool,
		Vault:      addrs.Vault,
		MinPeriod:  cfg.MinPeriodSeconds,
		Params: voucher.Params{
			ComplainPeriod:    cfg.ComplainPeriodSeconds,
			CancelFaultPeriod: cfg.CancelFaultPeriodSeconds,
		},
		RelayDomain: cfg.RelayDomain,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("start node: %w", err)
	}

	eventPath := strings.TrimSpace(cfg.EventLog.Path)
	if eventPath == "" {
		eventPath = filepath.Join(cfg.DataDir, "events.db")
	}
	if err := ensureParent(eventPath); err != nil {
		return err
	}
	events, err := eventlog.Open(eventPath, logger)
	if err != nil {
		return err
	}
	defer events.Close()
	node.AddSink(events)

	idempotencyDB := events.DB()
	if path := strings.TrimSpace(cfg.RPC.IdempotencyDB); path != "" {
		if err := ensureParent(path); err != nil {
			return err
		}
		if idempotencyDB, err = eventlog.Dial(path); err != nil {
			return err
		}
	}
	idempotency, err := rpc.NewIdempotencyStore(idempotencyDB)
	if err != nil {
		return err
	}

	var jwtSecret string
	if env := strings.TrimSpace(cfg.RPC.JWTSecretEnv); env != "" {
		jwtSecret = os.Getenv(env)
	}
	if strings.TrimSpace(jwtSecret) == "" {
		logger.Warn("admin routes disabled: no JWT secret configured", slog.String("env", cfg.RPC.JWTSecretEnv))
	}

	server, err := rpc.NewServer(node, rpc.Config{
		RateLimitPerSecond: cfg.RPC.RateLimitPerSecond,
		RateLimitBurst:     cfg.RPC.RateLimitBurst,
		ReadTimeout:        time.Duration(cfg.RPC.ReadTimeout) * time.Second,
		WriteTimeout:       time.Duration(cfg.RPC.WriteTimeout) * time.Second,
		Auth: rpc.AuthConfig{
			HMACSecret: jwtSecret,
			Issuer:     cfg.RPC.JWTIssuer,
			Audience:   cfg.RPC.JWTAudience,
		},
		EventLog:    events,
		Idempotency: idempotency,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	logger.Info("voucherd starting",
		slog.String("rpc", cfg.RPCAddress),
		slog.String("owner", cfg.Owner),
		slog.String("escrowPool", cfg.EscrowPool),
		slog.String("vault", cfg.Vault),
		slog.String("relayDomain", node.RelayDomain()))

	if err := server.Serve(ctx, cfg.RPCAddress); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("voucherd stopped")
	return nil
}

func ensureParent(path string) error {
	if strings.Contains(path, "://") || strings.HasPrefix(path, "file:") {
		return nil
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
