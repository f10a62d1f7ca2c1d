package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"interra/config"
	"interra/core/events"
	"interra/core/state"
	"interra/native/limitorder"
	"interra/observability/logging"
	"interra/rpc"
	"interra/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("ITR_ENV"))
	logger := logging.Setup("orderd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	if env == "" {
		env = cfg.Env
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	manager := state.NewManager(db)
	broker := events.NewBroker()

	engine := limitorder.NewEngine()
	engine.SetState(manager)
	engine.SetEmitter(broker)
	engine.SetLocalChainID(cfg.ChainID)
	rent, err := cfg.ParsedOrderRent()
	if err != nil {
		logger.Error("Invalid OrderRent setting", slog.Any("error", err))
		os.Exit(1)
	}
	if rent != nil {
		engine.SetOrderRent(rent)
	}

	operatorKey, err := cfg.EnsureOperatorKey()
	if err != nil {
		logger.Error("Failed to load operator key", slog.Any("error", err))
		os.Exit(1)
	}
	operatorAddr := operatorKey.PubKey().Address()

	token := cfg.RPCToken()
	if token == "" && cfg.RPCTokenEnv != "" {
		logger.Warn("RPC auth token env is set but empty; mutating methods are unauthenticated",
			slog.String("env", cfg.RPCTokenEnv))
	}

	server := rpc.NewServer(engine, broker,
		rpc.WithAuthToken(token),
		rpc.WithRateLimit(cfg.RateLimitPerSecond, cfg.RateLimitBurst),
		rpc.WithLogger(logger),
	)

	logger.Info("order daemon starting",
		slog.String("network", cfg.NetworkName),
		slog.Uint64("chainId", cfg.ChainID),
		slog.String("dataDir", cfg.DataDir),
		slog.String("operator", operatorAddr.String()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	readTimeout := time.Duration(cfg.ReadTimeoutSeconds) * time.Second
	if err := server.Run(ctx, cfg.RPCAddress, readTimeout); err != nil {
		logger.Error("JSON-RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("order daemon stopped")
}
