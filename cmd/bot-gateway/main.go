package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"tg-assist-bot/internal/adapters/bot"
	"tg-assist-bot/internal/adapters/repo"
	"tg-assist-bot/internal/adapters/telegram"
	"tg-assist-bot/internal/adapters/timeparse"
	"tg-assist-bot/internal/domain"
	"tg-assist-bot/internal/infra/cache"
	"tg-assist-bot/internal/infra/config"
	"tg-assist-bot/internal/infra/db"
	"tg-assist-bot/internal/infra/gemini"
	"tg-assist-bot/internal/infra/giphy"
	"tg-assist-bot/internal/infra/log"
	"tg-assist-bot/internal/infra/metrics"
	"tg-assist-bot/internal/infra/queue"
	"tg-assist-bot/internal/usecase/assistant"
	"tg-assist-bot/internal/usecase/metering"
	"tg-assist-bot/internal/usecase/reminders"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv, "bot-gateway")

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

	var publisher domain.ActivityPublisher
	if cfg.AMQP.URL != "" {
		rabbit, err := queue.NewRabbitActivityPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			logger.Error().Err(err).Msg("шина событий недоступна, журнал идёт только в БД")
		} else {
			defer rabbit.Close()
			publisher = rabbit
		}
	}

	meter := metering.NewService(store, store, publisher, logger)
	generator := gemini.NewClient(cfg.Gemini.APIKey, cfg.Gemini.BaseURL, cfg.Gemini.Model, cfg.Gemini.Timeout)
	gifs := giphy.NewClient(cfg.Giphy.APIKey, cfg.Giphy.BaseURL, cfg.Giphy.Timeout)
	assistantUC := assistant.NewService(store, generator, gifs, meter, logger)
	remindersUC := reminders.NewService(store, store, timeparse.NewParser(), logger)

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось создать бота")
	}
	if cfg.Telegram.WebhookURL != "" {
		wh, err := tgbotapi.NewWebhook(cfg.Telegram.WebhookURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("некорректный URL вебхука")
		}
		if _, err := botAPI.Request(wh); err != nil {
			logger.Fatal().Err(err).Msg("не удалось установить вебхук")
		}
	}

	dispatcher := bot.NewDispatcher(telegram.NewSender(botAPI, logger), store, assistantUC, remindersUC, logger)

	dedupe := cache.NewRedis(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))

	r := chi.NewRouter()
	r.Post("/bot/webhook", bot.NewWebhookHandler(dispatcher, dedupe, logger))

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: r}
	go func() {
		logger.Info().Int("port", cfg.Port).Msg("бот-гейтвей запущен")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("HTTP сервер остановлен")
		}
	}()

	<-rootCtx.Done()
	logger.Info().Msg("остановка бот-гейтвея")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("не удалось корректно остановить сервер")
		os.Exit(1)
	}
}

var _ domain.AccountRepo = (*repo.Postgres)(nil)
var _ domain.ReminderRepo = (*repo.Postgres)(nil)
var _ domain.ActivityRepo = (*repo.Postgres)(nil)
var _ domain.Generator = (*gemini.Client)(nil)
var _ domain.GifSearcher = (*giphy.Client)(nil)
var _ domain.Cache = (*cache.RedisCache)(nil)
