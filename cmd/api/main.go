package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"tg-assist-bot/internal/adapters/repo"
	"tg-assist-bot/internal/domain"
	"tg-assist-bot/internal/infra/config"
	"tg-assist-bot/internal/infra/db"
	httpinfra "tg-assist-bot/internal/infra/http"
	"tg-assist-bot/internal/infra/log"
	"tg-assist-bot/internal/infra/metrics"
)

type apiHandlers struct {
	accounts   domain.AccountRepo
	activities domain.ActivityRepo
	feedbacks  domain.FeedbackRepo
	log        zerolog.Logger
}

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv, "api")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось подключиться к БД")
	}
	defer pool.Close()
	store := repo.NewPostgres(pool)

	h := &apiHandlers{accounts: store, activities: store, feedbacks: store, log: logger}

	server := httpinfra.NewServer(logger)
	server.Router.Route("/api", func(r chi.Router) {
		r.Post("/payments/webhook", h.handlePaymentWebhook)
		r.Post("/accounts/{id}/assistant", h.handleAssistantToggle)
		r.Get("/accounts/{id}/activities", h.handleActivities)
		r.Post("/feedback", h.handleFeedback)
	})

	go func() {
		if err := server.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("HTTP сервер остановлен")
		}
	}()

	<-rootCtx.Done()
	logger.Info().Msg("остановка API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("не удалось корректно остановить сервер")
	}
}

type paymentWebhookRequest struct {
	AccountID int64  `json:"account_id"`
	Credits   int    `json:"credits"`
	PaymentID string `json:"payment_id"`
}

// handlePaymentWebhook зачисляет купленные кредиты. Провайдер может
// повторить колбэк, поэтому зачисление идемпотентно по payment_id.
func (h *apiHandlers) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var req paymentWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.AccountID <= 0 || req.Credits <= 0 {
		writeError(w, http.StatusBadRequest, "account_id and credits are required")
		return
	}
	key := req.PaymentID
	if key == "" {
		key = uuid.NewString()
	}

	balance, err := h.accounts.Credit(r.Context(), req.AccountID, req.Credits, key)
	if errors.Is(err, domain.ErrAccountNotFound) {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Int64("account", req.AccountID).Msg("не удалось зачислить кредиты")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if _, err := h.activities.Append(r.Context(), domain.Activity{
		AccountID:   req.AccountID,
		Kind:        domain.ActivityCreditsPurchased,
		Description: fmt.Sprintf("payment %s", key),
		CreditDelta: req.Credits,
	}); err != nil {
		h.log.Error().Err(err).Int64("account", req.AccountID).Msg("не удалось записать покупку в журнал")
	}

	writeJSON(w, http.StatusOK, map[string]any{"balance": balance})
}

type assistantToggleRequest struct {
	Active bool `json:"active"`
}

func (h *apiHandlers) handleAssistantToggle(w http.ResponseWriter, r *http.Request) {
	accountID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}
	var req assistantToggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	err = h.accounts.SetAssistantActive(r.Context(), accountID, req.Active)
	if errors.Is(err, domain.ErrAccountNotFound) {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Int64("account", accountID).Msg("не удалось переключить ассистента")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"active": req.Active})
}

func (h *apiHandlers) handleActivities(w http.ResponseWriter, r *http.Request) {
	accountID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, err := h.activities.ListByAccount(r.Context(), accountID, limit)
	if err != nil {
		h.log.Error().Err(err).Int64("account", accountID).Msg("не удалось получить журнал")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	type activityResponse struct {
		ID          int64     `json:"id"`
		Kind        string    `json:"kind"`
		Description string    `json:"description"`
		CreditDelta int       `json:"credit_delta"`
		CreatedAt   time.Time `json:"created_at"`
	}
	out := make([]activityResponse, 0, len(rows))
	for _, a := range rows {
		out = append(out, activityResponse{
			ID:          a.ID,
			Kind:        string(a.Kind),
			Description: a.Description,
			CreditDelta: a.CreditDelta,
			CreatedAt:   a.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type feedbackRequest struct {
	AccountID int64  `json:"account_id"`
	ChatID    string `json:"chat_id"`
	Message   string `json:"message"`
}

func (h *apiHandlers) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	created, err := h.feedbacks.CreateFeedback(r.Context(), domain.Feedback{
		AccountID: req.AccountID,
		ChatID:    req.ChatID,
		Message:   req.Message,
	})
	if err != nil {
		h.log.Error().Err(err).Int64("account", req.AccountID).Msg("не удалось сохранить отзыв")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": created.ID})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

var _ domain.FeedbackRepo = (*repo.Postgres)(nil)
