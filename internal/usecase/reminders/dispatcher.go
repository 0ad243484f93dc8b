package reminders

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tg-assist-bot/internal/domain"
	"tg-assist-bot/internal/infra/metrics"
)

// Dispatcher доставляет просроченные напоминания. Каждый элемент сначала
// захватывается условным обновлением sent=false->true и только потом
// отправляется: параллельные поллеры не могут доставить одно напоминание
// дважды. Ошибка доставки после захвата терминальна — напоминание
// остаётся помеченным, повторов не будет.
type Dispatcher struct {
	reminders       domain.ReminderRepo
	messenger       domain.Messenger
	log             zerolog.Logger
	deliveryTimeout time.Duration
}

// NewDispatcher создаёт диспетчер доставки.
func NewDispatcher(reminders domain.ReminderRepo, messenger domain.Messenger, log zerolog.Logger, deliveryTimeout time.Duration) *Dispatcher {
	if deliveryTimeout <= 0 {
		deliveryTimeout = 15 * time.Second
	}
	return &Dispatcher{reminders: reminders, messenger: messenger, log: log, deliveryTimeout: deliveryTimeout}
}

// Tick выполняет один проход: выбирает просроченные неотправленные
// напоминания и доставляет каждое под отдельным таймаутом. Сбой одного
// элемента не прерывает остальные.
func (d *Dispatcher) Tick(ctx context.Context, now time.Time) (int, error) {
	tickStart := time.Now()
	defer func() {
		metrics.ReminderTickSeconds.Observe(time.Since(tickStart).Seconds())
	}()

	due, err := d.reminders.ListDue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list due reminders: %w", err)
	}

	delivered := 0
	for _, reminder := range due {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		claimed, err := d.reminders.ClaimSent(ctx, reminder.ID)
		if err != nil {
			d.log.Error().Err(err).Int64("reminder", reminder.ID).Msg("не удалось захватить напоминание")
			continue
		}
		if !claimed {
			continue
		}
		if d.deliver(ctx, reminder) {
			delivered++
		}
	}
	return delivered, nil
}

func (d *Dispatcher) deliver(ctx context.Context, reminder domain.Reminder) bool {
	sendCtx, cancel := context.WithTimeout(ctx, d.deliveryTimeout)
	defer cancel()

	text := fmt.Sprintf("⏰ Reminder: %s", reminder.Body)
	if err := d.messenger.SendText(sendCtx, reminder.ChatID, text); err != nil {
		metrics.RemindersFailed.Inc()
		d.log.Error().Err(err).
			Int64("reminder", reminder.ID).
			Str("short_id", reminder.ShortID).
			Str("chat", reminder.ChatID).
			Msg("напоминание захвачено, но не доставлено")
		return false
	}
	metrics.RemindersDelivered.Inc()
	return true
}
