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
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"ammpool-backend/internal/api"
	"ammpool-backend/internal/asset"
	busredis "ammpool-backend/internal/bus/redis"
	"ammpool-backend/internal/config"
	"ammpool-backend/internal/factory"
	"ammpool-backend/internal/identity"
	"ammpool-backend/internal/pool"
	"ammpool-backend/internal/store"
	"ammpool-backend/internal/store/postgres"
	"ammpool-backend/internal/store/sqlite"
)

func main() {
	configPath := flag.String("config", os.Getenv("POOL_CONFIG"), "path to TOML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("server: fatal", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)
	logger.Info("Starting AMM pool backend...", slog.String("store", cfg.Store.Driver))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	owner, err := ownerAddress(cfg.Factory)
	if err != nil {
		return err
	}
	operators := make([]common.Address, 0, len(cfg.Factory.Operators))
	for _, op := range cfg.Factory.Operators {
		operators = append(operators, common.HexToAddress(op))
	}

	ledger := asset.NewLedger(cfg.Asset.Symbol, nil)

	events, err := openEventStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer events.Close()

	g, gctx := errgroup.WithContext(ctx)

	hub := api.NewHub(logger)
	sinks := pool.MultiSink{pool.SinkFunc(events.Append)}
	var replay identity.ReplayGuard

	// With Redis enabled the hub is fed from the bus so that every replica
	// streams every pool's events.
	if cfg.Redis.Enabled {
		rdb, err := busredis.Dial(ctx, busredis.ClientConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		defer rdb.Close()

		bus := busredis.New(rdb, busredis.Config{
			Channel:      cfg.Redis.Channel,
			Stream:       cfg.Redis.Stream,
			StreamMaxLen: cfg.Redis.StreamMaxLen,
		}, logger)
		sinks = append(sinks, bus)
		replay = busredis.NewReplayGuard(rdb, cfg.Redis.Channel+":replay:",
			api.ReplayWindow(cfg.Server.SignatureMaxSkew.Duration))

		sub, err := bus.Subscribe(gctx)
		if err != nil {
			return err
		}
		g.Go(func() error {
			for ev := range sub {
				_ = hub.Publish(gctx, ev)
			}
			return nil
		})
		logger.Info("Redis event bus connected", slog.String("addr", cfg.Redis.Addr))
	} else {
		sinks = append(sinks, hub)
	}

	registry := factory.NewRegistry(factory.Config{
		Address:       common.HexToAddress(cfg.Factory.Address),
		Owner:         owner,
		Operators:     operators,
		Asset:         ledger,
		Sink:          sinks,
		Logger:        logger,
		HistorySize:   cfg.Pool.HistorySize,
		DefaultWeight: cfg.DefaultWeight(),
	})
	logger.Info("Factory initialized",
		slog.String("address", registry.Address().Hex()),
		slog.String("owner", owner.Hex()),
		slog.Int("operators", len(operators)),
	)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	if cfg.Watcher.Enabled {
		watcher := factory.NewWatcher(registry, cfg.Watcher.Interval.Duration, logger, nil)
		watcher.Start(gctx)
		defer watcher.Stop()
	}

	server := api.NewServer(api.Options{
		RequireSignatures: cfg.Server.RequireSignatures,
		SignatureMaxSkew:  cfg.Server.SignatureMaxSkew.Duration,
		Replay:            replay,
	}, registry, ledger, events, hub, logger)
	if !cfg.Server.RequireSignatures {
		logger.Warn("Request signatures disabled: X-Pool-Signer is trusted as-is")
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Info("Server starting", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func ownerAddress(cfg config.FactoryConfig) (common.Address, error) {
	if cfg.OwnerKey == "" {
		return common.HexToAddress(cfg.Owner), nil
	}
	signer, err := identity.NewSigner(cfg.OwnerKey)
	if err != nil {
		return common.Address{}, fmt.Errorf("factory owner key: %w", err)
	}
	return signer.Address(), nil
}

func openEventStore(ctx context.Context, cfg *config.Config) (store.EventStore, error) {
	switch strings.ToLower(cfg.Store.Driver) {
	case "sqlite":
		return sqlite.Open(cfg.Store.Path)
	case "postgres":
		client, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			MaxConns: cfg.Postgres.MaxConns,
			MinConns: cfg.Postgres.MinConns,
		})
		if err != nil {
			return nil, err
		}
		if cfg.Postgres.RunMigrations {
			if err := client.RunMigrations(ctx); err != nil {
				client.Close()
				return nil, err
			}
		}
		return postgres.NewEventStore(client), nil
	default:
		return store.NewMemory(), nil
	}
}
