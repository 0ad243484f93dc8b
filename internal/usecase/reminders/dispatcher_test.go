package reminders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tg-assist-bot/internal/domain"
)

type recordingMessenger struct {
	mu    sync.Mutex
	sent  []string
	fails map[string]error
}

func (m *recordingMessenger) SendText(ctx context.Context, chatID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.fails[chatID]; ok {
		return err
	}
	m.sent = append(m.sent, chatID+"|"+text)
	return nil
}

func TestTickDeliversOnceAcrossTicks(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	repo := &memReminders{}
	if _, err := repo.Create(context.Background(), domain.Reminder{
		AccountID: 1, ChatID: "42", Body: "call mom", DueAt: now.Add(-time.Minute),
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	msg := &recordingMessenger{}
	d := NewDispatcher(repo, msg, zerolog.Nop(), time.Second)

	for i := 0; i < 3; i++ {
		if _, err := d.Tick(context.Background(), now); err != nil {
			t.Fatalf("Tick %d: %v", i, err)
		}
	}
	if len(msg.sent) != 1 {
		t.Fatalf("ожидали ровно одну доставку, получили %d", len(msg.sent))
	}
}

func TestTickFailureIsTerminal(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	repo := &memReminders{}
	if _, err := repo.Create(context.Background(), domain.Reminder{
		AccountID: 1, ChatID: "dead", Body: "call mom", DueAt: now.Add(-time.Minute),
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	msg := &recordingMessenger{fails: map[string]error{"dead": errors.New("blocked by user")}}
	d := NewDispatcher(repo, msg, zerolog.Nop(), time.Second)

	if _, err := d.Tick(context.Background(), now); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	// Захваченное напоминание не возвращается в очередь после ошибки.
	due, err := repo.ListDue(context.Background(), now)
	if err != nil {
		t.Fatalf("ListDue: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("неудачная доставка не должна возвращать напоминание в очередь, осталось %d", len(due))
	}
	if len(msg.sent) != 0 {
		t.Fatalf("не ожидали доставок, получили %d", len(msg.sent))
	}
}

func TestTickOneFailureDoesNotStopOthers(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	repo := &memReminders{}
	for _, chat := range []string{"dead", "10", "11"} {
		if _, err := repo.Create(context.Background(), domain.Reminder{
			AccountID: 1, ChatID: chat, Body: "ping", DueAt: now.Add(-time.Minute),
		}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	msg := &recordingMessenger{fails: map[string]error{"dead": errors.New("blocked")}}
	d := NewDispatcher(repo, msg, zerolog.Nop(), time.Second)

	delivered, err := d.Tick(context.Background(), now)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if delivered != 2 {
		t.Fatalf("ожидали 2 доставки, получили %d", delivered)
	}
}

func TestTickConcurrentPollers(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	repo := &memReminders{}
	for i := 0; i < 20; i++ {
		if _, err := repo.Create(context.Background(), domain.Reminder{
			AccountID: 1, ChatID: "42", Body: "ping", DueAt: now.Add(-time.Minute),
		}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	msg := &recordingMessenger{}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d := NewDispatcher(repo, msg, zerolog.Nop(), time.Second)
			if _, err := d.Tick(context.Background(), now); err != nil {
				t.Errorf("Tick: %v", err)
			}
		}()
	}
	wg.Wait()

	if len(msg.sent) != 20 {
		t.Fatalf("ожидали 20 доставок суммарно, получили %d", len(msg.sent))
	}
}
