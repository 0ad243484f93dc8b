package gemini

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(url string) *Client {
	c := NewClient("test-key", url, "test-model", 5*time.Second)
	c.retry = RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 2.0}
	return c
}

func TestGenerateReplyRetriesOnOverload(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"code":503,"status":"UNAVAILABLE","message":"The model is overloaded."}}`))
			return
		}
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"привет"}]}}]}`))
	}))
	defer srv.Close()

	reply, err := newTestClient(srv.URL).GenerateReply(context.Background(), "", "hi")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if reply != "привет" {
		t.Fatalf("неожиданный ответ: %q", reply)
	}
	if calls.Load() != 3 {
		t.Fatalf("ожидали 3 запроса, получили %d", calls.Load())
	}
}

func TestGenerateReplyDoesNotRetryOtherErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"status":"INVALID_ARGUMENT","message":"bad prompt"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).GenerateReply(context.Background(), "", "hi")
	if err == nil {
		t.Fatal("ожидали ошибку")
	}
	if errors.Is(err, ErrOverloaded) {
		t.Fatalf("400 не должен классифицироваться как перегрузка: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("ожидали 1 запрос без повторов, получили %d", calls.Load())
	}
}

func TestGenerateReplyGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"status":"UNAVAILABLE","message":"overloaded"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).GenerateReply(context.Background(), "", "hi")
	if !errors.Is(err, ErrOverloaded) {
		t.Fatalf("ожидали ErrOverloaded, получили %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("ожидали ровно 3 попытки, получили %d", calls.Load())
	}
}

func TestClassifyStatusEmptyBody(t *testing.T) {
	err := classifyStatus(http.StatusInternalServerError, nil)
	if errors.Is(err, ErrOverloaded) {
		t.Fatal("500 без тела не должен считаться перегрузкой")
	}
}
