package metering

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tg-assist-bot/internal/domain"
	"tg-assist-bot/internal/infra/metrics"
)

// Service — шлюз платных действий: проверка баланса, выполнение внешнего
// вызова, условное списание и запись в журнал. Списание после удачной
// генерации не возвращается, даже если доставка результата не удалась.
type Service struct {
	accounts   domain.AccountRepo
	activities domain.ActivityRepo
	publisher  domain.ActivityPublisher
	log        zerolog.Logger
}

// NewService создаёт шлюз. Паблишер опционален (nil — без шины).
func NewService(accounts domain.AccountRepo, activities domain.ActivityRepo, publisher domain.ActivityPublisher, log zerolog.Logger) *Service {
	return &Service{accounts: accounts, activities: activities, publisher: publisher, log: log}
}

// Charge проводит одно платное действие через шлюз.
//
// Порядок строгий: баланс проверяется до вызова action, списание выполняется
// одним условным обновлением только после его успеха. Конкурент, успевший
// списать баланс первым, оставляет этому вызову ErrInsufficientCredits —
// результат action при этом отбрасывается. Запись журнала и публикация
// события best-effort: их ошибки логируются и не отменяют списание.
func Charge[T any](ctx context.Context, s *Service, account domain.Account, kind domain.ActivityKind, cost int, description string, action func(context.Context) (T, error)) (T, error) {
	var zero T

	if cost > 0 && account.Credits < cost {
		metrics.InsufficientCreditsTotal.Inc()
		metrics.ObserveMeteredAction(string(kind), cost, domain.ErrInsufficientCredits)
		return zero, domain.ErrInsufficientCredits
	}

	result, err := action(ctx)
	if err != nil {
		metrics.ObserveMeteredAction(string(kind), cost, err)
		return zero, err
	}

	if cost > 0 {
		if _, err := s.accounts.Debit(ctx, account.ID, cost); err != nil {
			if errors.Is(err, domain.ErrInsufficientCredits) {
				metrics.InsufficientCreditsTotal.Inc()
			}
			metrics.ObserveMeteredAction(string(kind), cost, err)
			return zero, err
		}
	}

	s.appendActivity(ctx, account.ID, kind, description, -cost)
	metrics.ObserveMeteredAction(string(kind), cost, nil)
	return result, nil
}

func (s *Service) appendActivity(ctx context.Context, accountID int64, kind domain.ActivityKind, description string, delta int) {
	if _, err := s.activities.Append(ctx, domain.Activity{
		AccountID:   accountID,
		Kind:        kind,
		Description: description,
		CreditDelta: delta,
	}); err != nil {
		s.log.Error().Err(err).Int64("account", accountID).Str("kind", string(kind)).Msg("не удалось записать действие в журнал")
	}
	if s.publisher == nil {
		return
	}
	event := domain.ActivityEvent{
		EventID:     uuid.NewString(),
		AccountID:   accountID,
		Kind:        kind,
		CreditDelta: delta,
		OccurredAt:  time.Now().UTC(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.log.Error().Err(err).Str("event", event.EventID).Msg("не удалось опубликовать событие журнала")
	}
}
