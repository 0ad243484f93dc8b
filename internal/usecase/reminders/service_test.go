package reminders

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tg-assist-bot/internal/domain"
)

type stubParser struct {
	expr domain.TimeExpression
	ok   bool
}

func (s stubParser) Parse(text string, base time.Time, loc *time.Location) (domain.TimeExpression, bool, error) {
	return s.expr, s.ok, nil
}

type memReminders struct {
	mu     sync.Mutex
	nextID int64
	rows   []domain.Reminder
}

func (m *memReminders) Create(ctx context.Context, r domain.Reminder) (domain.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	r.ID = m.nextID
	if r.ShortID == "" {
		r.ShortID = "r" + strings.Repeat("x", 6) + string(rune('a'+m.nextID%26))
	}
	m.rows = append(m.rows, r)
	return r, nil
}

func (m *memReminders) ListPending(ctx context.Context, accountID int64) ([]domain.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Reminder
	for _, r := range m.rows {
		if r.AccountID == accountID && !r.Sent {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memReminders) Delete(ctx context.Context, shortID string, accountID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.rows {
		if r.ShortID == shortID && r.AccountID == accountID {
			m.rows = append(m.rows[:i], m.rows[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *memReminders) ListDue(ctx context.Context, now time.Time) ([]domain.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Reminder
	for _, r := range m.rows {
		if !r.Sent && !r.DueAt.After(now) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memReminders) ClaimSent(ctx context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.rows {
		if r.ID == id && !r.Sent {
			m.rows[i].Sent = true
			return true, nil
		}
	}
	return false, nil
}

type nopActivities struct{}

func (nopActivities) Append(ctx context.Context, a domain.Activity) (domain.Activity, error) {
	return a, nil
}

func (nopActivities) ListByAccount(ctx context.Context, accountID int64, limit int) ([]domain.Activity, error) {
	return nil, nil
}

func TestCreateStripsTimeExpression(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	repo := &memReminders{}
	svc := NewService(repo, nopActivities{}, stubParser{
		expr: domain.TimeExpression{Index: 9, Text: "in 10 minutes", At: now.Add(10 * time.Minute)},
		ok:   true,
	}, zerolog.Nop())

	created, err := svc.Create(context.Background(), domain.Account{ID: 1}, "42", "call mom in 10 minutes", now)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.Body != "call mom" {
		t.Errorf("ожидали тело %q, получили %q", "call mom", created.Body)
	}
	if !created.DueAt.Equal(now.Add(10 * time.Minute)) {
		t.Errorf("неожиданное время %v", created.DueAt)
	}
	if created.ChatID != "42" {
		t.Errorf("чат доставки должен фиксироваться при создании, получили %q", created.ChatID)
	}
	if created.ShortID == "" {
		t.Error("ожидали короткий код")
	}
}

func TestCreateUnparseableTime(t *testing.T) {
	svc := NewService(&memReminders{}, nopActivities{}, stubParser{ok: false}, zerolog.Nop())
	_, err := svc.Create(context.Background(), domain.Account{ID: 1}, "42", "buy milk", time.Now())
	if !errors.Is(err, domain.ErrUnparseableTime) {
		t.Fatalf("ожидали ErrUnparseableTime, получили %v", err)
	}
}

func TestCreatePastTime(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	svc := NewService(&memReminders{}, nopActivities{}, stubParser{
		expr: domain.TimeExpression{Index: 9, Text: "yesterday", At: now.Add(-24 * time.Hour)},
		ok:   true,
	}, zerolog.Nop())
	_, err := svc.Create(context.Background(), domain.Account{ID: 1}, "42", "call mom yesterday", now)
	if !errors.Is(err, domain.ErrPastTime) {
		t.Fatalf("ожидали ErrPastTime, получили %v", err)
	}
}

func TestCreateEmptyBody(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	svc := NewService(&memReminders{}, nopActivities{}, stubParser{
		expr: domain.TimeExpression{Index: 0, Text: "in 10 minutes", At: now.Add(10 * time.Minute)},
		ok:   true,
	}, zerolog.Nop())
	_, err := svc.Create(context.Background(), domain.Account{ID: 1}, "42", "in 10 minutes", now)
	if !errors.Is(err, domain.ErrEmptyBody) {
		t.Fatalf("ожидали ErrEmptyBody, получили %v", err)
	}
}

func TestDeleteForeignShortIDLooksMissing(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	repo := &memReminders{}
	svc := NewService(repo, nopActivities{}, stubParser{
		expr: domain.TimeExpression{Index: 9, Text: "in 1 hour", At: now.Add(time.Hour)},
		ok:   true,
	}, zerolog.Nop())

	created, err := svc.Create(context.Background(), domain.Account{ID: 1}, "42", "call mom in 1 hour", now)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := svc.Delete(context.Background(), created.ShortID, 2); !errors.Is(err, domain.ErrReminderNotFound) {
		t.Fatalf("чужой код должен выглядеть несуществующим, получили %v", err)
	}
	if err := svc.Delete(context.Background(), created.ShortID, 1); err != nil {
		t.Fatalf("владелец должен удалять своё напоминание: %v", err)
	}
}
