package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	MeteredActionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "metered_actions_total",
		Help: "Количество платных действий по типам и исходу",
	}, []string{"kind", "status"})

	CreditsDebitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "credits_debited_total",
		Help: "Суммарно списанные кредиты",
	})

	InsufficientCreditsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "insufficient_credits_total",
		Help: "Отказы из-за нехватки кредитов",
	})

	RemindersDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reminders_delivered_total",
		Help: "Успешно доставленные напоминания",
	})
	RemindersFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reminders_failed_total",
		Help: "Напоминания, помеченные отправленными после ошибки доставки",
	})
	ReminderTickSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "reminder_tick_seconds",
		Help:    "Длительность одного прохода планировщика",
		Buckets: prometheus.DefBuckets,
	})

	BotSendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_send_errors_total",
		Help: "Ошибки отправки сообщений ботом",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		MeteredActionsTotal,
		CreditsDebitedTotal,
		InsufficientCreditsTotal,
		RemindersDelivered,
		RemindersFailed,
		ReminderTickSeconds,
		BotSendErrors,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveMeteredAction учитывает исход платного действия.
func ObserveMeteredAction(kind string, cost int, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	MeteredActionsTotal.WithLabelValues(kind, status).Inc()
	if err == nil && cost > 0 {
		CreditsDebitedTotal.Add(float64(cost))
	}
}
