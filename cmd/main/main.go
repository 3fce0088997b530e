package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"climbSync/internal/config"
	"climbSync/internal/httpserver"
	"climbSync/internal/logger"
	"climbSync/internal/queue"
	"climbSync/internal/reaper"
	"climbSync/internal/rooms"
	"climbSync/internal/session"
	"climbSync/internal/store"
	"climbSync/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Env:       logger.ParseEnv(cfg.Logging.Env),
		Backend:   logger.Backend(cfg.Logging.Backend),
		Debug:     cfg.Logging.Debug,
		AddSource: cfg.Logging.AddSource,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var db store.Store = store.NewMemory()
	if cfg.Postgres.DSN != "" {
		p, err := store.Connect(ctx, cfg.Postgres.DSN)
		if err != nil {
			slog.Error("db connect", "err", err)
			os.Exit(1)
		}
		slog.Info("db connected")
		if err := store.Migrate(p); err != nil {
			slog.Error("migrate", "err", err)
			os.Exit(1)
		}
		slog.Info("db migrated")
		db = store.NewPostgres(p)
	} else {
		slog.Warn("DATABASE_URL not set, rooms are kept in memory only")
	}
	defer db.Close()

	var events queue.EventLog = queue.NewRing(cfg.Replay.Size)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Error("redis ping", "addr", cfg.Redis.Addr, "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		events = queue.NewRedisLog(rdb, cfg.Redis.KeyPrefix, cfg.Replay.Size, cfg.Reaper.TTL)
		slog.Info("redis replay log enabled", "addr", cfg.Redis.Addr)
	}

	queues := queue.NewStore(db)
	coord := rooms.NewCoordinator(rooms.NewRegistry(), db, queues)
	hub := ws.NewHub()
	svc := session.New(coord, queues, events, hub)

	rp := reaper.New(db, coord, events, cfg.Reaper.TTL, cfg.Reaper.Schedule)
	if err := rp.Start(ctx); err != nil {
		slog.Error("reaper", "err", err)
		os.Exit(1)
	}
	defer rp.Stop()

	if cfg.HTTP.AllowedOrigin != "" {
		ws.SetAllowedOrigin(cfg.HTTP.AllowedOrigin)
	}

	srv := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: httpserver.NewRouter(svc, httpserver.Options{
			PublicURL: cfg.HTTP.PublicURL,
			StaticDir: cfg.HTTP.StaticDir,
			WS:        ws.Handler(svc, hub),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("listening", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "err", err)
	}
}
