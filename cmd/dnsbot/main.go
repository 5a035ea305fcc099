package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dnsbot/internal/analytics"
	"dnsbot/internal/bot"
	"dnsbot/internal/config"
	"dnsbot/internal/logsink"
	"dnsbot/internal/metrics"
	"dnsbot/internal/modules/audit"
	"dnsbot/internal/netinfo"
	"dnsbot/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := config.BuildLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	m := metrics.New()
	var sink *logsink.Sink
	if cfg.LogWebhookURL != "" {
		webhooks, err := discordgo.New("")
		if err != nil {
			logger.Fatal("webhook session init failed", zap.Error(err))
		}
		sink, err = logsink.New(webhooks, cfg.LogWebhookURL, logsink.Config{
			QueueSize: cfg.LogSink.QueueSize,
			PerSecond: cfg.LogSink.PerSecond,
			Burst:     cfg.LogSink.Burst,
			OnDrop:    m.LogSinkDropped.Inc,
		}, logger.Named("logsink"))
		if err != nil {
			logger.Fatal("log sink init failed", zap.Error(err))
		}
		sink.Start()
		logger = logger.WithOptions(zap.Hooks(sink.Hook(zapcore.WarnLevel)))
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := storage.New(startCtx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("storage init failed", zap.Error(err))
	}
	defer store.Close()
	if err := store.Migrate(startCtx); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}
	cancelStart()
	if store == nil {
		logger.Info("storage disabled, audit log is not persisted")
	}

	auditLogger := audit.NewLogger(store, logger)
	tools := netinfo.NewTools(nil,
		netinfo.NewIPInfoClient(cfg.IPInfoToken),
		netinfo.NewWhoisClient(cfg.LookupTimeout()),
		cfg.LookupTimeout())

	botSvc, err := bot.New(cfg, logger, bot.Deps{
		Store:     store,
		Audit:     auditLogger,
		Analytics: analytics.New(store),
		Tools:     tools,
		Sink:      sink,
		Metrics:   m,
	})
	if err != nil {
		logger.Fatal("bot init failed", zap.Error(err))
	}

	if err := botSvc.Start(); err != nil {
		logger.Fatal("bot start failed", zap.Error(err))
	}
	logger.Info("bot started")

	var server *http.Server
	if cfg.Health.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		mux.Handle("/metrics", m.Handler())
		server = &http.Server{Addr: cfg.Health.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("health endpoint enabled", zap.String("addr", cfg.Health.Addr))
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("health server error", zap.Error(err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown requested")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if server != nil {
		_ = server.Shutdown(ctx)
	}
	botSvc.Close(ctx)
	if sink != nil {
		if err := sink.Close(ctx); err != nil {
			logger.Warn("log sink drain incomplete", zap.Int64("dropped", sink.Dropped()), zap.Error(err))
		}
	}
}
