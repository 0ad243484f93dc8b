package assistant

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"tg-assist-bot/internal/domain"
	"tg-assist-bot/internal/usecase/metering"
)

// Service отвечает за платные возможности ассистента: ответы с учётом
// заметок аккаунта, генерацию и разбор изображений, поиск гифок.
type Service struct {
	accounts domain.AccountRepo
	gen      domain.Generator
	gifs     domain.GifSearcher
	meter    *metering.Service
	log      zerolog.Logger
}

// NewService создаёт сервис ассистента.
func NewService(accounts domain.AccountRepo, gen domain.Generator, gifs domain.GifSearcher, meter *metering.Service, log zerolog.Logger) *Service {
	return &Service{accounts: accounts, gen: gen, gifs: gifs, meter: meter, log: log}
}

// Reply генерирует ответ на свободный текст. Заметки аккаунта подаются
// модели системным контекстом в порядке добавления.
func (s *Service) Reply(ctx context.Context, account domain.Account, text string) (string, error) {
	notes, err := s.accounts.ListNotes(ctx, account.ID)
	if err != nil {
		return "", fmt.Errorf("list notes: %w", err)
	}
	system := buildPreamble(notes)
	return metering.Charge(ctx, s.meter, account, domain.ActivityReplySent, domain.CostReply, truncate(text, 200), func(ctx context.Context) (string, error) {
		return s.gen.GenerateReply(ctx, system, text)
	})
}

// GenerateImage создаёт изображение по описанию.
func (s *Service) GenerateImage(ctx context.Context, account domain.Account, prompt string) ([]byte, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, domain.ErrInvalidInput
	}
	return metering.Charge(ctx, s.meter, account, domain.ActivityImageGenerated, domain.CostImageGen, truncate(prompt, 200), func(ctx context.Context) ([]byte, error) {
		return s.gen.GenerateImage(ctx, prompt)
	})
}

// AnalyzeImage описывает присланную фотографию. Пустая подпись
// заменяется нейтральным вопросом.
func (s *Service) AnalyzeImage(ctx context.Context, account domain.Account, image []byte, caption string) (string, error) {
	prompt := strings.TrimSpace(caption)
	if prompt == "" {
		prompt = "Describe this image."
	}
	return metering.Charge(ctx, s.meter, account, domain.ActivityImageAnalyzed, domain.CostImageAnalyze, truncate(prompt, 200), func(ctx context.Context) (string, error) {
		return s.gen.AnalyzeImage(ctx, image, prompt)
	})
}

// Cartoonify возвращает стилизованную версию фотографии.
func (s *Service) Cartoonify(ctx context.Context, account domain.Account, image []byte) ([]byte, error) {
	return metering.Charge(ctx, s.meter, account, domain.ActivityCartoonified, domain.CostCartoonify, "cartoonify", func(ctx context.Context) ([]byte, error) {
		return s.gen.StylizeImage(ctx, image)
	})
}

// SearchGif ищет гифку. Действие бесплатное, но попадает в журнал.
func (s *Service) SearchGif(ctx context.Context, account domain.Account, term string) (string, error) {
	if strings.TrimSpace(term) == "" {
		return "", domain.ErrInvalidInput
	}
	// Непривязанный чат обслуживается без записи в журнал.
	if account.ID == 0 {
		return s.gifs.SearchGif(ctx, term)
	}
	return metering.Charge(ctx, s.meter, account, domain.ActivityGifSearched, domain.CostGifSearch, truncate(term, 200), func(ctx context.Context) (string, error) {
		return s.gifs.SearchGif(ctx, term)
	})
}

// buildPreamble собирает системный контекст из заметок: по строке
// "tag: content" в порядке добавления.
func buildPreamble(notes []domain.Note) string {
	if len(notes) == 0 {
		return "You are a personal assistant. Answer briefly and helpfully."
	}
	var b strings.Builder
	b.WriteString("You are a personal assistant. Here is what you know about the user:\n")
	for _, n := range notes {
		b.WriteString(n.Tag)
		b.WriteString(": ")
		b.WriteString(n.Content)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
