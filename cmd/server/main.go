package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/wagerproto/wager-engine/internal/api"
	"github.com/wagerproto/wager-engine/internal/config"
	"github.com/wagerproto/wager-engine/internal/events"
	"github.com/wagerproto/wager-engine/internal/metrics"
	"github.com/wagerproto/wager-engine/internal/store"
	"github.com/wagerproto/wager-engine/internal/wager"
)

func main() {
	if err := run(); err != nil {
		slog.Error("wager-engine failed", "err", err)
		os.Exit(1)
	}
	fmt.Println("wager-engine stopped")
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	level, _ := cfg.SlogLevel()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Redis (cache + event channel) ---
	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("invalid redis url: %w", err)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		slog.Info("connected to Redis")
	}

	// --- Store ---
	var st store.Store
	if cfg.Database.DSN != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("database connection: %w", err)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if cfg.Database.RunMigrations {
			if err := pg.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		if rdb != nil {
			st = store.NewCachedStore(st, rdb, cfg.Redis.CacheTTL.Duration)
			slog.Info("Redis cache enabled", "ttl", cfg.Redis.CacheTTL.Duration)
		}
	} else {
		slog.Warn("database dsn not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// --- Event sinks ---
	hub := events.NewWSHub()
	sinks := events.Multi{hub}
	if rdb != nil {
		sinks = append(sinks, events.NewRedisPublisher(rdb, cfg.Redis.EventsChannel))
	}
	if cfg.NATS.URL != "" {
		nc, js, err := events.ConnectNATS(cfg.NATS.URL)
		if err != nil {
			return err
		}
		cleanup = append(cleanup, nc.Close)
		if err := events.EnsureStream(ctx, js, cfg.NATS.SubjectPrefix); err != nil {
			return err
		}
		sinks = append(sinks, events.NewNATSPublisher(js, cfg.NATS.SubjectPrefix))
	}

	svc := wager.NewService(st, cfg.Protocol.DevRecipient, wager.WithPublisher(sinks))
	if err := seedGauges(ctx, svc); err != nil {
		slog.Warn("could not seed market gauges", "err", err)
	}

	if cfg.Server.DevFaucet {
		slog.Warn("dev faucet enabled: accounts can be funded without backing")
	}
	handler := api.NewHandler(svc, api.WithFaucet(cfg.Server.DevFaucet))
	router := api.NewRouter(handler, api.RouterConfig{
		RequestTimeout: cfg.Server.RequestTimeout.Duration,
		RateLimit:      cfg.Server.RateLimit,
		RateBurst:      cfg.Server.RateBurst,
		Hub:            hub,
	})

	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  cfg.Server.IdleTimeout.Duration,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(gctx)
	})
	g.Go(func() error {
		slog.Info("wager-engine listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down wager-engine...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// seedGauges restores the active market gauge from persisted state.
func seedGauges(ctx context.Context, svc *wager.Service) error {
	markets, err := svc.Markets(ctx)
	if err != nil {
		return err
	}
	active := 0
	for _, m := range markets {
		if !m.Resolved {
			active++
		}
	}
	metrics.ActiveMarkets.Set(float64(active))
	return nil
}
