package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"studiobook/internal/api"
	"studiobook/internal/availability"
	"studiobook/internal/booking"
	"studiobook/internal/calendar"
	"studiobook/internal/catalog"
	"studiobook/internal/config"
	"studiobook/internal/database"
	"studiobook/internal/metrics"
	"studiobook/internal/models"
	"studiobook/internal/notify"
	"studiobook/internal/outbox"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	cfg, err := config.Load(os.Getenv("STUDIOBOOK_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	loc, err := time.LoadLocation(cfg.CalendarTimeZone())
	if err != nil {
		logger.Fatal().Err(err).Str("time_zone", cfg.CalendarTimeZone()).Msg("unknown time zone")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer db.Close()

	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
	}
	cacheLogger := logger.With().Str("component", "catalog").Logger()
	var cache *catalog.Cache
	if rdb != nil {
		cache = catalog.NewCache(rdb, cfg.CacheTTL(), &cacheLogger)
	}
	cat := catalog.NewService(db, cache, &cacheLogger)

	err = config.WatchCatalog(ctx, cfg.Catalog.Path, cfg.CatalogReloadInterval(), &cacheLogger, func(c *config.CatalogConfig) {
		if err := cat.ApplyConfig(ctx, c); err != nil {
			logger.Error().Err(err).Msg("failed to apply catalog")
		}
	})
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.Catalog.Path).Msg("failed to load catalog")
	}

	if err := db.SyncSubscribersFromConfig(ctx, cfg.Admins, models.AdminKinds); err != nil {
		logger.Fatal().Err(err).Msg("failed to sync admin subscribers")
	}

	var cal calendar.Sync
	if cfg.Calendar.Enabled {
		calLogger := logger.With().Str("component", "calendar").Logger()
		g, err := calendar.NewGoogleCalendar(ctx, cfg.Calendar.CredentialsFile, cfg.Calendar.CalendarID, cfg.CalendarTimeZone(), &calLogger)
		if err != nil {
			logger.Fatal().Err(err).Msg("create calendar client error")
		}
		cal = g
	} else {
		logger.Warn().Msg("Calendar sync is disabled")
	}

	notifier := buildNotifier(cfg, &logger)

	metrics.Register()
	outboxLogger := logger.With().Str("component", "outbox").Logger()
	dispatcher := outbox.NewDispatcher(db, outbox.Config{
		PollInterval:  cfg.OutboxPollInterval(),
		BatchSize:     cfg.Outbox.BatchSize,
		MaxAttempts:   cfg.Outbox.MaxAttempts,
		RetryDelays:   cfg.OutboxRetryDelays(),
		RatePerSecond: cfg.Outbox.RatePerSecond,
		Burst:         cfg.Outbox.Burst,
	}, outbox.NewMetrics(metrics.Namespace, prometheus.DefaultRegisterer), &outboxLogger)
	if cal != nil {
		outbox.NewCalendarHandler(db, cal, &outboxLogger).Register(dispatcher)
	}
	dispatcher.Register(models.TaskNotify, outbox.NotifyHandler(notifier))
	dispatcher.Start()
	defer dispatcher.Stop()

	avail := availability.NewService(cat, db, &logger)
	bookingLogger := logger.With().Str("component", "booking").Logger()
	bookings := booking.NewService(db, cat, avail, cal, dispatcher, booking.Options{
		MaxAdvanceDays:    cfg.MaxAdvanceDays(),
		SideEffectTimeout: cfg.SideEffectTimeout(),
		Location:          loc,
	}, &bookingLogger)

	backupLogger := logger.With().Str("component", "backup").Logger()
	go database.NewBackupService(db, cfg.Backup, &backupLogger).Start(ctx)

	if cfg.Monitoring.HealthCheckPort == 0 {
		cfg.Monitoring.HealthCheckPort = 8090
	}
	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, db, rdb, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9090
		}
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	if cfg.HTTP.AdminAPIKey == "" {
		logger.Warn().Msg("http.admin_api_key is empty, admin API is locked")
	}
	apiLogger := logger.With().Str("component", "api").Logger()
	server := api.NewHTTPServer(api.Config{
		Port:        cfg.HTTPPort(),
		AdminAPIKey: cfg.HTTP.AdminAPIKey,
		ReadTimeout: time.Duration(cfg.HTTP.ReadTimeoutSeconds) * time.Second,
		Location:    loc,
	}, cat, avail, bookings, &apiLogger)

	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctxShutdown); err != nil {
			logger.Error().Err(err).Msg("http api shutdown error")
		}
	}()

	logger.Info().Int("port", cfg.HTTPPort()).Msg("Studio booking server started")
	if err := server.Start(); err != nil {
		logger.Error().Err(err).Msg("http api error")
	}
	logger.Info().Msg("Studio booking server stopped")
}

// buildNotifier routes email and telegram messages to their senders. A
// disabled channel falls back to the log notifier.
func buildNotifier(cfg *config.Config, logger *zerolog.Logger) notify.Notifier {
	notifyLogger := logger.With().Str("component", "notify").Logger()
	router := notify.NewRouter(&notifyLogger)
	logNotifier := notify.NewLog(&notifyLogger)

	if cfg.Email.Enabled {
		email, err := notify.NewEmailNotifier(notify.EmailConfig{
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
		}, &notifyLogger)
		if err != nil {
			logger.Fatal().Err(err).Msg("create email notifier error")
		}
		router.Register(models.ChannelEmail, email)
	} else {
		router.Register(models.ChannelEmail, logNotifier)
	}

	if cfg.Telegram.Enabled {
		if cfg.Telegram.BotToken == "" || cfg.Telegram.BotToken == "YOUR_BOT_TOKEN_HERE" {
			logger.Fatal().Msg("set telegram.bot_token in config")
		}
		tg, err := notify.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.Debug, &notifyLogger)
		if err != nil {
			logger.Fatal().Err(err).Msg("create telegram notifier error")
		}
		router.Register(models.ChannelTelegram, tg)
	} else {
		router.Register(models.ChannelTelegram, logNotifier)
	}

	return router
}

func startHealthServer(ctx context.Context, port int, db *database.DB, rdb *redis.Client, logger *zerolog.Logger) {
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

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
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

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
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
