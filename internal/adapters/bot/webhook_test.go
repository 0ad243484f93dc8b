package bot

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tg-assist-bot/internal/domain"
)

type memCache struct {
	seen map[string]struct{}
	err  error
}

func newMemCache() *memCache {
	return &memCache{seen: map[string]struct{}{}}
}

func (c *memCache) Once(key string, ttl time.Duration, fn func() error) error {
	if c.err != nil {
		return c.err
	}
	if _, ok := c.seen[key]; ok {
		return nil
	}
	c.seen[key] = struct{}{}
	if err := fn(); err != nil {
		delete(c.seen, key)
		return err
	}
	return nil
}

func postUpdate(t *testing.T, handler http.HandlerFunc, updateID int, text string) *httptest.ResponseRecorder {
	t.Helper()
	body := `{"update_id":` + strconv.Itoa(updateID) + `,"message":{"chat":{"id":42},"text":"` + text + `"}}`
	req := httptest.NewRequest(http.MethodPost, "/bot/webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler(rec, req.WithContext(context.Background()))
	return rec
}

func TestWebhookSuppressesDuplicateUpdates(t *testing.T) {
	accounts := newMemAccounts(domain.Account{ID: 1, ChatID: "42", Credits: 5, AssistantActive: true})
	d, sender, _ := newDispatcher(accounts)
	handler := NewWebhookHandler(d, newMemCache(), zerolog.Nop())

	postUpdate(t, handler, 7, "list my reminders")
	postUpdate(t, handler, 7, "list my reminders")

	if len(sender.texts) != 1 {
		t.Fatalf("повторный апдейт должен гаситься, отправлено %d ответов", len(sender.texts))
	}
}

func TestWebhookHandlesUpdateWhenDedupeIsDown(t *testing.T) {
	accounts := newMemAccounts(domain.Account{ID: 1, ChatID: "42", Credits: 5, AssistantActive: true})
	d, sender, _ := newDispatcher(accounts)
	cache := newMemCache()
	cache.err = errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")
	handler := NewWebhookHandler(d, cache, zerolog.Nop())

	rec := postUpdate(t, handler, 7, "list my reminders")

	if rec.Code != http.StatusOK {
		t.Fatalf("ожидали 200, получили %d", rec.Code)
	}
	if len(sender.texts) != 1 {
		t.Fatalf("при недоступном Redis апдейт должен обработаться без дедупликации, отправлено %d ответов", len(sender.texts))
	}
}

func TestWebhookRejectsMalformedBody(t *testing.T) {
	accounts := newMemAccounts()
	d, sender, _ := newDispatcher(accounts)
	handler := NewWebhookHandler(d, newMemCache(), zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/bot/webhook", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("ожидали 400, получили %d", rec.Code)
	}
	if len(sender.texts) != 0 {
		t.Fatal("битый апдейт не должен доходить до маршрутизатора")
	}
}
