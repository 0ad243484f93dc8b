package domain

import (
	"context"
	"time"
)

// AccountRepo управляет аккаунтами и их балансом.
type AccountRepo interface {
	GetByID(ctx context.Context, id int64) (Account, error)
	GetByChatID(ctx context.Context, chatID string) (Account, error)
	// GetByLinkCode находит аккаунт по коду привязки из диплинка /start.
	GetByLinkCode(ctx context.Context, linkCode string) (Account, error)
	// BindChat привязывает чат к аккаунту. Привязка идемпотентна:
	// повторная привязка того же чата к тому же аккаунту — no-op,
	// привязка к другому аккаунту детерминированно переносит её.
	BindChat(ctx context.Context, accountID int64, chatID string) (Account, error)
	// Debit списывает cost кредитов одним условным обновлением.
	// Возвращает ErrInsufficientCredits, если баланс меньше cost.
	Debit(ctx context.Context, accountID int64, cost int) (int, error)
	// Credit пополняет баланс. Ключ идемпотентности защищает от повторных вебхуков.
	Credit(ctx context.Context, accountID int64, amount int, idempotencyKey string) (int, error)
	SetAssistantActive(ctx context.Context, accountID int64, active bool) error

	UpsertNote(ctx context.Context, accountID int64, tag, content string) (Note, error)
	ListNotes(ctx context.Context, accountID int64) ([]Note, error)
	DeleteNote(ctx context.Context, accountID int64, tag string) (bool, error)
}

// ReminderRepo управляет напоминаниями.
type ReminderRepo interface {
	Create(ctx context.Context, reminder Reminder) (Reminder, error)
	ListPending(ctx context.Context, accountID int64) ([]Reminder, error)
	// Delete удаляет напоминание по паре (shortID, accountID), чтобы чужой
	// shortID выглядел как несуществующий.
	Delete(ctx context.Context, shortID string, accountID int64) (bool, error)
	ListDue(ctx context.Context, now time.Time) ([]Reminder, error)
	// ClaimSent переводит sent false->true одним условным обновлением и
	// возвращает false, если напоминание уже забрал другой поллер.
	ClaimSent(ctx context.Context, id int64) (bool, error)
}

// ActivityRepo дополняет журнал действий.
type ActivityRepo interface {
	Append(ctx context.Context, activity Activity) (Activity, error)
	ListByAccount(ctx context.Context, accountID int64, limit int) ([]Activity, error)
}

// FeedbackRepo сохраняет отзывы.
type FeedbackRepo interface {
	CreateFeedback(ctx context.Context, feedback Feedback) (Feedback, error)
}

// TimeExpression — распознанное временное выражение внутри текста.
type TimeExpression struct {
	// Index и Text описывают совпавший фрагмент исходной строки.
	Index int
	Text  string
	At    time.Time
}

// TimeParser извлекает временное выражение из свободного текста.
// Возвращает ok=false, если выражение не найдено.
type TimeParser interface {
	Parse(text string, base time.Time, loc *time.Location) (TimeExpression, bool, error)
}

// Messenger доставляет текст в чат.
type Messenger interface {
	SendText(ctx context.Context, chatID string, text string) error
}

// Generator — внешняя генерация контента.
type Generator interface {
	GenerateReply(ctx context.Context, system string, message string) (string, error)
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)
	AnalyzeImage(ctx context.Context, image []byte, prompt string) (string, error)
	StylizeImage(ctx context.Context, image []byte) ([]byte, error)
}

// GifSearcher ищет гифки по запросу.
type GifSearcher interface {
	SearchGif(ctx context.Context, term string) (string, error)
}

// ActivityPublisher публикует события журнала во внешнюю шину.
// Публикация best-effort: ошибка логируется и не прерывает команду.
type ActivityPublisher interface {
	Publish(ctx context.Context, event ActivityEvent) error
}

// Cache дедуплицирует обработку по ключу с ограниченным временем жизни.
type Cache interface {
	Once(key string, ttl time.Duration, fn func() error) error
}
