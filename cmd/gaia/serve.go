package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gaia/internal/access"
	"gaia/internal/api"
	"gaia/internal/audit"
	"gaia/internal/booking"
	"gaia/internal/bot"
	"gaia/internal/config"
	"gaia/internal/database"
	"gaia/internal/idempotency"
	"gaia/internal/metrics"
	"gaia/internal/monitoring"
	"gaia/internal/notify"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const hallsPollInterval = 30 * time.Second

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, staff bot, notifications and background jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, &logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) error {
	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer be.close()

	err = config.WatchHalls(ctx, cfg.HallsFile, hallsPollInterval,
		func(h *config.HallsConfig) {
			if err := be.store.SyncHalls(ctx, h.ModelHalls()); err != nil {
				logger.Error().Err(err).Msg("sync halls")
				return
			}
			logger.Info().Int("halls", len(h.Halls)).Msg("halls synced")
		},
		func(err error) { logger.Error().Err(err).Msg("halls config rejected, keeping previous") },
	)
	if err != nil {
		return fmt.Errorf("halls: %w", err)
	}

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
	}

	checks := monitoring.Checks{}
	if be.ping != nil {
		checks["db"] = be.ping
	}

	var idem idempotency.Store = idempotency.NewMemoryStore(cfg.Redis.IdempotencyTTL)
	if cfg.Redis.Address != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		redisStore := idempotency.NewRedisStore(rdb, cfg.Redis.IdempotencyTTL)
		checks["redis"] = redisStore.Ping
		idem = redisStore
	}

	var tg *tgbotapi.BotAPI
	if cfg.Telegram.BotToken != "" {
		tg, err = tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		tg.Debug = cfg.Telegram.Debug
	} else {
		logger.Warn().Msg("telegram.bot_token is empty, staff bot disabled")
	}

	policy, err := cfg.Facility.Policy()
	if err != nil {
		return fmt.Errorf("facility: %w", err)
	}

	sinks, closeSinks, err := buildSinks(ctx, cfg, tg, policy.Location(), logger)
	if err != nil {
		return err
	}
	defer closeSinks()

	dispatcher := notify.NewDispatcher(notify.Config{
		Workers:     cfg.Notify.Workers,
		QueueSize:   cfg.Notify.QueueSize,
		RetryDelays: cfg.Notify.RetryDelays,
		RatePerSec:  cfg.Notify.RatePerSec,
		Burst:       cfg.Notify.Burst,
	}, be.store.GetHall, logger, sinks...)
	dispatcher.Start(ctx)
	defer func() {
		ctxClose, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		dispatcher.Close(ctxClose)
	}()

	manager := booking.NewManager(be.store, policy, dispatcher, booking.Options{
		StoreTimeout: cfg.Database.StoreTimeout,
		Logger:       logger,
	})
	roles := access.NewService(cfg.Owners, be.store, *logger)

	if cfg.Monitoring.HealthCheckPort != 0 {
		go monitoring.StartHealthServer(ctx, cfg.Monitoring.HealthCheckPort, checks, logger)
	}
	if cfg.Monitoring.PrometheusEnabled && cfg.Monitoring.PrometheusPort != 0 {
		go monitoring.StartMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
	}
	if cfg.Monitoring.GRPCHealthPort != 0 {
		gh := monitoring.NewGRPCHealth(checks, 10*time.Second, logger)
		go func() {
			if err := gh.ListenAndServe(ctx, cfg.Monitoring.GRPCHealthPort); err != nil {
				logger.Error().Err(err).Msg("grpc health server error")
			}
		}()
	}

	if be.sqlite != nil {
		go database.NewBackupService(be.sqlite, cfg.Backup, logger).Start(ctx)
	}

	if cfg.Audit.Enabled {
		startAudit(ctx, cfg, be, tg, policy.Location(), logger)
	}

	if tg != nil {
		b, err := bot.New(tg, manager, roles, bot.Options{AdminChatIDs: cfg.Telegram.AdminChatIDs, Logger: logger})
		if err != nil {
			return err
		}
		b.StartDigest(ctx)
		go b.Start(ctx)
	}

	srv := api.NewHTTPServer(cfg.HTTP.Port, manager, roles, idem, logger)
	logger.Info().Str("driver", cfg.Database.Driver).Int("sinks", len(sinks)).Msg("gaia started")
	if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Msg("gaia stopped")
	return nil
}

// buildSinks wires every configured notification channel.
func buildSinks(ctx context.Context, cfg *config.Config, tg *tgbotapi.BotAPI, loc *time.Location, logger *zerolog.Logger) ([]notify.Sink, func(), error) {
	sinks := []notify.Sink{notify.NewLogSink(*logger)}
	closers := []func(){}
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if tg != nil && len(cfg.Telegram.AdminChatIDs) > 0 {
		sinks = append(sinks, notify.TelegramSinks(tg, cfg.Telegram.AdminChatIDs, loc, booking.NewFSM().AllowedActions)...)
	}
	if cfg.AMQP.URL != "" {
		amqpSink := notify.NewAMQPSink(cfg.AMQP.URL, cfg.AMQP.Queue, notify.DialAMQP)
		customerSink := notify.NewCustomerSink(cfg.AMQP.URL, cfg.AMQP.CustomerQueue, notify.DialAMQP, loc)
		sinks = append(sinks, amqpSink, customerSink)
		closers = append(closers, func() { _ = amqpSink.Close() }, func() { _ = customerSink.Close() })
	}
	if cfg.Sheets.Enabled {
		appender, err := notify.NewSheetsAppender(ctx, cfg.Sheets.CredentialsFile)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("sheets: %w", err)
		}
		sinks = append(sinks, notify.NewSheetsSink(appender, cfg.Sheets.SpreadsheetID, cfg.Sheets.SheetName, loc))
	}
	return sinks, closeAll, nil
}

func startAudit(ctx context.Context, cfg *config.Config, be *backend, tg *tgbotapi.BotAPI, loc *time.Location, logger *zerolog.Logger) {
	if be.exporter == nil {
		logger.Warn().Str("driver", cfg.Database.Driver).Msg("audit is not supported by this driver")
		return
	}
	var notifier audit.Notifier
	if tg != nil {
		notifier = audit.NewTelegramNotifier(tg, cfg.Telegram.AdminChatIDs)
	}
	svc := audit.NewService(audit.Config{
		RetentionDays: cfg.Audit.RetentionDays,
		ExportOnStart: cfg.Audit.ExportOnStart,
		Location:      loc,
	}, be.exporter, notifier, be.cleaner, logger)
	go svc.Start(ctx)
}
