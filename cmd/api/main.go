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

	"github.com/joho/godotenv"

	"github.com/zhouzirui/consult-chat/backend/internal/config"
	"github.com/zhouzirui/consult-chat/backend/internal/handler"
	"github.com/zhouzirui/consult-chat/backend/internal/handler/stream"
	"github.com/zhouzirui/consult-chat/backend/internal/model/event"
	"github.com/zhouzirui/consult-chat/backend/internal/model/kv"
	"github.com/zhouzirui/consult-chat/backend/internal/service/coordinator"
	"github.com/zhouzirui/consult-chat/backend/internal/service/realtime"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, continuing with system environment variables only", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	level, _ := config.ParseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	store, err := openStore(cfg.Store)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}

	broker := stream.NewBroker(logger)

	var coord *coordinator.Coordinator
	var transport event.Emitter
	var client *realtime.Client
	if cfg.Realtime.Enabled() {
		client = realtime.NewClient(realtimeOptions(cfg.Realtime, logger), event.HandlerFunc(func(ev event.Event) {
			coord.HandleEvent(ev)
		}))
		transport = client
	} else {
		logger.Warn("REALTIME_URL 未配置，会话意图将无法发送")
	}

	coord = coordinator.New(transport, coordinator.Options{
		Viewer:       cfg.Session.Viewer(),
		SettleDelay:  cfg.Session.SettleDelay,
		TypingExpiry: cfg.Session.TypingExpiry,
		DedupTTL:     cfg.Session.DedupTTL,
		DedupSize:    cfg.Session.DedupSize,
		StaleAfter:   cfg.Session.StaleAfter,
		Store:        store,
		Notifier:     broker,
		Logger:       logger,
	})

	if client != nil {
		go func() {
			if err := client.Run(ctx); err != nil {
				logger.Error("realtime client stopped", "error", err)
			}
		}()
	}

	router := handler.NewRouter(coord, broker)

	startServer(ctx, logger, cfg.Server, router)
}

func openStore(cfg config.StoreConfig) (kv.Store, error) {
	if cfg.Dir == "" {
		return kv.NewMemoryStore(), nil
	}
	return kv.NewFileStore(cfg.Dir)
}

func realtimeOptions(cfg config.RealtimeConfig, logger *slog.Logger) realtime.Options {
	opts := realtime.DefaultOptions(cfg.URL)
	opts.MaxRetries = cfg.MaxRetries
	opts.PingInterval = cfg.PingInterval
	opts.ReadTimeout = cfg.ReadTimeout
	opts.AckTimeout = cfg.AckTimeout
	opts.Logger = logger
	if cfg.Token != "" {
		opts.Header = http.Header{"Authorization": []string{"Bearer " + cfg.Token}}
	}
	return opts
}

func startServer(ctx context.Context, logger *slog.Logger, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("consult chat backend listening", "addr", addr)
	if err := runServer(ctx, srv); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
