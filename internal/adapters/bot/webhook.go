package bot

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"tg-assist-bot/internal/domain"
)

// Telegram повторяет апдейт при медленном ответе; ключ по update_id
// живёт сутки и гасит дубликат.
const updateDedupeTTL = 24 * time.Hour

// NewWebhookHandler возвращает HTTP-обработчик вебхука Telegram.
// Дедупликация best-effort: при недоступном Redis апдейт обрабатывается
// без неё — редкий дубликат лучше молча потерянной команды.
func NewWebhookHandler(dispatcher *Dispatcher, dedupe domain.Cache, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var update tgbotapi.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		handled := false
		key := fmt.Sprintf("tg:update:%d", update.UpdateID)
		err := dedupe.Once(key, updateDedupeTTL, func() error {
			handled = true
			dispatcher.HandleUpdate(r.Context(), update)
			return nil
		})
		if err != nil && !handled {
			log.Error().Err(err).Int("update", update.UpdateID).Msg("дедупликация недоступна, апдейт обработан без неё")
			dispatcher.HandleUpdate(r.Context(), update)
		}
		w.WriteHeader(http.StatusOK)
	}
}
