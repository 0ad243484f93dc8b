package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"tg-assist-bot/internal/domain"
	"tg-assist-bot/internal/infra/metrics"
)

// Sender доставляет сообщения и файлы через Bot API.
type Sender struct {
	bot  *tgbotapi.BotAPI
	http *http.Client
	log  zerolog.Logger
}

// NewSender создаёт отправителя.
func NewSender(bot *tgbotapi.BotAPI, log zerolog.Logger) *Sender {
	return &Sender{
		bot:  bot,
		http: &http.Client{Timeout: 30 * time.Second},
		log:  log,
	}
}

// SendText отправляет текст, разбивая его под лимит Bot API.
func (s *Sender) SendText(ctx context.Context, chatID string, text string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	for _, part := range SplitMessage(text) {
		msg := tgbotapi.NewMessage(id, part)
		start := time.Now()
		_, err := s.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", chatID, start, err)
		if err != nil {
			metrics.BotSendErrors.Inc()
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

// SendPhoto отправляет изображение с подписью.
func (s *Sender) SendPhoto(ctx context.Context, chatID string, image []byte, caption string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	photo := tgbotapi.NewPhoto(id, tgbotapi.FileBytes{Name: "image.png", Bytes: image})
	photo.Caption = caption
	start := time.Now()
	_, err = s.bot.Send(photo)
	metrics.ObserveNetworkRequest("telegram_bot", "send_photo", chatID, start, err)
	if err != nil {
		metrics.BotSendErrors.Inc()
		return fmt.Errorf("send photo: %w", err)
	}
	return nil
}

// SendAnimation отправляет гифку по внешнему URL.
func (s *Sender) SendAnimation(ctx context.Context, chatID string, url string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	animation := tgbotapi.NewAnimation(id, tgbotapi.FileURL(url))
	start := time.Now()
	_, err = s.bot.Send(animation)
	metrics.ObserveNetworkRequest("telegram_bot", "send_animation", chatID, start, err)
	if err != nil {
		metrics.BotSendErrors.Inc()
		return fmt.Errorf("send animation: %w", err)
	}
	return nil
}

// DownloadFile скачивает файл по идентификатору Bot API.
func (s *Sender) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	start := time.Now()
	url, err := s.bot.GetFileDirectURL(fileID)
	metrics.ObserveNetworkRequest("telegram_bot", "get_file", fileID, start, err)
	if err != nil {
		return nil, fmt.Errorf("get file url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	start = time.Now()
	resp, err := s.http.Do(req)
	metrics.ObserveNetworkRequest("telegram_bot", "download_file", fileID, start, err)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func parseChatID(chatID string) (int64, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad chat id %q: %w", chatID, err)
	}
	return id, nil
}

var _ domain.Messenger = (*Sender)(nil)
