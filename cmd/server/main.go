package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kennelbook/internal/alert"
	"kennelbook/internal/api"
	"kennelbook/internal/cache"
	"kennelbook/internal/config"
	"kennelbook/internal/ledger"
	"kennelbook/internal/metrics"
	"kennelbook/internal/payment"
	"kennelbook/internal/pricing"
	"kennelbook/internal/store"
	"kennelbook/internal/sweeper"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	_ = godotenv.Load()

	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	cfg, err := config.Load(os.Getenv("KENNELBOOK_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid timezone")
	}

	db, err := store.NewDB(cfg.Database.Path, store.Defaults{
		Daycare:       cfg.Capacity.Daycare,
		BoardingSmall: cfg.Capacity.BoardingSmall,
		BoardingLarge: cfg.Capacity.BoardingLarge,
		Trial:         cfg.Capacity.Trial,
	}, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer db.Close()

	var rdb *redis.Client
	if cfg.Redis.Address != "" && cfg.CacheTTL() > 0 {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	readCache := cache.New(rdb, cfg.CacheTTL(), &logger)

	var notifier alert.Notifier = alert.Nop{}
	if cfg.Alerts.TelegramBotToken != "" && cfg.Alerts.TelegramChatID != 0 {
		tg, err := alert.NewTelegramNotifier(cfg.Alerts.TelegramBotToken, cfg.Alerts.TelegramChatID, &logger)
		if err != nil {
			logger.Error().Err(err).Msg("telegram notifier unavailable, alerts disabled")
		} else {
			notifier = tg
		}
	}

	led := ledger.New(db, cfg.ReservationTTL(), loc, &logger)
	pricer := pricing.NewEngine(pricing.Rates{
		DaycareFlat:      cfg.Pricing.DaycareFlat,
		TrialFlat:        cfg.Pricing.TrialFlat,
		BoardingOneDog:   cfg.Pricing.BoardingOneDog,
		BoardingTwoDogs:  cfg.Pricing.BoardingTwoDogs,
		LatePickupFee:    cfg.Pricing.LatePickupFee,
		LatePickupCutoff: cfg.Pricing.LatePickupCutoff,
	}, loc)

	provider := payment.NewHTTPProvider(cfg.Payments.BaseURL, cfg.Payments.APIKey, cfg.PaymentRequestTimeout())
	reconciler := payment.NewReconciler(led, db, provider, notifier, &logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sw := sweeper.New(led, cfg.SweepInterval(), &logger)
	go sw.Start(ctx)

	poller := payment.NewPoller(reconciler, db, cfg.PaymentPollInterval(), cfg.PaymentPollGrace(), &logger)
	go poller.Start(ctx)

	backup := store.NewBackupService(db, store.BackupConfig{
		Enabled:       cfg.Backup.Enabled,
		IntervalHours: cfg.Backup.IntervalHours,
		Path:          cfg.Backup.Path,
		RetentionDays: cfg.Backup.RetentionDays,
	}, &logger)
	go backup.Start(ctx)

	if cfg.Monitoring.HealthCheckPort == 0 {
		cfg.Monitoring.HealthCheckPort = 8090
	}
	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, db, rdb, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9090
		}
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	srv := api.NewHTTPServer(api.Options{
		Port:          cfg.Server.Port,
		AdminKey:      cfg.Server.AdminAPIKey,
		Currency:      cfg.Payments.Currency,
		Location:      loc,
		DB:            db,
		Ledger:        led,
		Pricer:        pricer,
		Cache:         readCache,
		Provider:      provider,
		Reconciler:    reconciler,
		Logger:        &logger,
		RatePerMinute: cfg.Reservations.RatePerMinute,
		RateBurst:     cfg.Reservations.RateBurst,
	})

	go func() {
		<-ctx.Done()
		sw.Stop()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctxShutdown); err != nil {
			logger.Error().Err(err).Msg("api shutdown error")
		}
	}()

	logger.Info().Msg("kennelbook started")
	if err := srv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("api server error")
	}
	logger.Info().Msg("kennelbook stopped")
}

func startHealthServer(ctx context.Context, port int, db *store.DB, rdb *redis.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := db.PingContext(ctxPing); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("health server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
