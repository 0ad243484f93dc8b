package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"

	"tg-assist-bot/internal/adapters/repo"
	"tg-assist-bot/internal/adapters/telegram"
	"tg-assist-bot/internal/infra/config"
	"tg-assist-bot/internal/infra/db"
	"tg-assist-bot/internal/infra/log"
	"tg-assist-bot/internal/infra/metrics"
	"tg-assist-bot/internal/usecase/reminders"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv, "scheduler")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	metrics.MustRegister(prometheus.DefaultRegisterer)
	metrics.StartServer(rootCtx, logger, cfg.MetricsAddr)

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось подключиться к БД")
	}
	defer pool.Close()
	store := repo.NewPostgres(pool)

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось создать бота")
	}

	dispatcher := reminders.NewDispatcher(store, telegram.NewSender(botAPI, logger), logger, cfg.Scheduler.DeliveryTimeout)

	tick := func() {
		delivered, err := dispatcher.Tick(rootCtx, time.Now().UTC())
		if err != nil {
			logger.Error().Err(err).Msg("проход планировщика завершился с ошибкой")
			return
		}
		if delivered > 0 {
			logger.Info().Int("delivered", delivered).Msg("напоминания доставлены")
		}
	}

	logger.Info().Dur("period", cfg.Scheduler.PollPeriod).Msg("планировщик напоминаний запущен")
	ticker := time.NewTicker(cfg.Scheduler.PollPeriod)
	defer ticker.Stop()

	tick()
	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("остановка планировщика")
			return
		case <-ticker.C:
			tick()
		}
	}
}
