package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"notice_hub/internal/api"
	"notice_hub/internal/bot"
	"notice_hub/internal/catalog"
	"notice_hub/internal/config"
	"notice_hub/internal/extract"
	"notice_hub/internal/fetcher"
	"notice_hub/internal/model"
	"notice_hub/internal/notify"
	"notice_hub/internal/pipeline"
	"notice_hub/internal/scheduler"
	"notice_hub/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel, cfg.LogFormat)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.SourcesFile != "" {
		n, err := catalog.Sync(ctx, store, cfg.SourcesFile)
		if err != nil {
			log.Error("sync sources catalogue", "path", cfg.SourcesFile, "error", err)
			os.Exit(1)
		}
		log.Info("sources catalogue loaded", "path", cfg.SourcesFile, "sources", n)
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	registry := fetcher.Registry{
		model.KindRSS:  fetcher.NewRSS(httpClient, cfg.UserAgent, log),
		model.KindAPI:  fetcher.NewAPI(httpClient, cfg.UserAgent, log),
		model.KindHTML: fetcher.NewHTML(httpClient, cfg.UserAgent, log),
	}

	extractor := extract.New(cfg.OpenAIAPIKey, cfg.LLMEndpoint, cfg.LLMModel, nil, log)

	dispatcher := notify.NewDispatcher(store, log)
	registerChannels(ctx, cfg, dispatcher, httpClient, log)

	p := pipeline.New(pipeline.Config{
		IngestWorkers:  cfg.IngestWorkers,
		ProcessWorkers: cfg.ProcessWorkers,
		NotifyWorkers:  cfg.NotifyWorkers,
		MaxAttempts:    cfg.MaxAttempts,
	}, store, registry, extractor, dispatcher, log)
	p.Start(ctx)

	sched := scheduler.New(store, p.Ingest, cfg.ScheduleCron, cfg.Location(), log)
	srv := api.New(store, p.Ingest, p.Stats, cfg.AdminToken, log)

	log.Info("starting worker")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := sched.Run(ctx); err != nil {
			log.Error("scheduler", "error", err)
			cancel()
		}
	}()
	go func() {
		defer wg.Done()
		if err := api.Serve(ctx, cfg.HTTPAddr, srv.Routes(), log); err != nil {
			log.Error("http server", "error", err)
			cancel()
		}
	}()
	if cfg.SourcesFile != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := catalog.Watch(ctx, store, cfg.SourcesFile, log); err != nil {
				log.Warn("catalogue watcher stopped", "error", err)
			}
		}()
	}

	if cfg.TelegramBotToken != "" {
		b, err := bot.New(cfg.TelegramBotToken, store, log)
		if err != nil {
			log.Error("telegram bot disabled", "error", err)
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				b.Run(ctx)
			}()
		}
	}

	<-ctx.Done()
	wg.Wait()
	p.Stop()

	log.Info("worker stopped")
}

// registerChannels adds every delivery channel that has credentials.
func registerChannels(ctx context.Context, cfg *config.Config, d *notify.Dispatcher, client *http.Client, log *slog.Logger) {
	burst := max(1, int(cfg.NotifyRatePerSec))

	if cfg.WebPushEnabled() {
		ch := notify.NewWebPush(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.VAPIDSubscriber, client)
		d.Register(notify.RateLimited(ch, cfg.NotifyRatePerSec, burst), model.PlatformWeb)
		log.Info("web push channel enabled")
	}

	if cfg.FirebaseCredentialsFile != "" {
		ch, err := notify.NewFCM(ctx, cfg.FirebaseCredentialsFile)
		if err != nil {
			log.Error("fcm channel disabled", "error", err)
		} else {
			d.Register(notify.RateLimited(ch, cfg.NotifyRatePerSec, burst), model.PlatformAndroid, model.PlatformIOS)
			log.Info("fcm channel enabled")
		}
	}

	if cfg.TelegramBotToken != "" {
		ch, err := notify.NewTelegram(cfg.TelegramBotToken)
		if err != nil {
			log.Error("telegram channel disabled", "error", err)
		} else {
			d.Register(notify.RateLimited(ch, cfg.NotifyRatePerSec, burst), model.PlatformTelegram)
			log.Info("telegram channel enabled")
		}
	}
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
