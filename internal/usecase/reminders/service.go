package reminders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tg-assist-bot/internal/domain"
)

// Service управляет жизненным циклом напоминаний со стороны пользователя:
// разбор текста, сохранение, список, удаление.
type Service struct {
	reminders  domain.ReminderRepo
	activities domain.ActivityRepo
	parser     domain.TimeParser
	log        zerolog.Logger
}

// NewService создаёт сервис напоминаний.
func NewService(reminders domain.ReminderRepo, activities domain.ActivityRepo, parser domain.TimeParser, log zerolog.Logger) *Service {
	return &Service{reminders: reminders, activities: activities, parser: parser, log: log}
}

// Create разбирает свободный текст напоминания и сохраняет его.
// Время резолвится в часовом поясе аккаунта и должно быть строго в будущем.
// Чат доставки фиксируется при создании: перенос привязки чата не
// перенаправляет уже запланированные напоминания.
func (s *Service) Create(ctx context.Context, account domain.Account, chatID, raw string, now time.Time) (domain.Reminder, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.Reminder{}, domain.ErrEmptyBody
	}

	expr, ok, err := s.parser.Parse(raw, now, account.Location())
	if err != nil {
		return domain.Reminder{}, fmt.Errorf("parse time: %w", err)
	}
	if !ok {
		return domain.Reminder{}, domain.ErrUnparseableTime
	}
	if !expr.At.After(now) {
		return domain.Reminder{}, domain.ErrPastTime
	}

	body := stripExpression(raw, expr)
	if body == "" {
		return domain.Reminder{}, domain.ErrEmptyBody
	}

	created, err := s.reminders.Create(ctx, domain.Reminder{
		AccountID: account.ID,
		ChatID:    chatID,
		Body:      body,
		DueAt:     expr.At.UTC(),
	})
	if err != nil {
		return domain.Reminder{}, err
	}

	if _, err := s.activities.Append(ctx, domain.Activity{
		AccountID:   account.ID,
		Kind:        domain.ActivityReminderCreated,
		Description: body,
	}); err != nil {
		s.log.Error().Err(err).Int64("account", account.ID).Msg("не удалось записать создание напоминания в журнал")
	}
	return created, nil
}

// List возвращает ещё не доставленные напоминания аккаунта.
func (s *Service) List(ctx context.Context, accountID int64) ([]domain.Reminder, error) {
	return s.reminders.ListPending(ctx, accountID)
}

// Delete удаляет напоминание владельца. Чужой или несуществующий код
// даёт ErrReminderNotFound.
func (s *Service) Delete(ctx context.Context, shortID string, accountID int64) error {
	shortID = strings.ToLower(strings.TrimSpace(shortID))
	if shortID == "" {
		return domain.ErrReminderNotFound
	}
	deleted, err := s.reminders.Delete(ctx, shortID, accountID)
	if err != nil {
		return err
	}
	if !deleted {
		return domain.ErrReminderNotFound
	}
	return nil
}

// stripExpression вырезает совпавший фрагмент времени и подчищает
// оставшиеся знаки препинания и висящие предлоги по краям.
func stripExpression(raw string, expr domain.TimeExpression) string {
	start := expr.Index
	end := expr.Index + len(expr.Text)
	if start < 0 || end > len(raw) || start > end {
		return strings.TrimSpace(raw)
	}
	body := raw[:start] + " " + raw[end:]
	body = strings.Join(strings.Fields(body), " ")
	body = strings.Trim(body, " ,.;:-")
	for _, suffix := range []string{" at", " on", " in", " by"} {
		if strings.HasSuffix(body, suffix) {
			body = strings.TrimSpace(strings.TrimSuffix(body, suffix))
		}
	}
	return body
}
