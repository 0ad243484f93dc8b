package domain

import "time"

// Account описывает аккаунт сервиса с балансом кредитов.
type Account struct {
	ID              int64
	Name            string
	Email           string
	LinkCode        string
	Credits         int
	ChatID          string
	AssistantActive bool
	Timezone        string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Location возвращает часовой пояс аккаунта, по умолчанию UTC.
func (a Account) Location() *time.Location {
	if a.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Note хранит заметку аккаунта: тег уникален в пределах аккаунта.
type Note struct {
	ID        int64
	AccountID int64
	Tag       string
	Content   string
	Position  int
	CreatedAt time.Time
}

// Reminder описывает запланированное сообщение.
type Reminder struct {
	ID        int64
	ShortID   string
	AccountID int64
	ChatID    string
	Body      string
	DueAt     time.Time
	Sent      bool
	CreatedAt time.Time
}

// ActivityKind перечисляет типы учётных действий.
type ActivityKind string

const (
	ActivityReplySent        ActivityKind = "reply_sent"
	ActivityImageGenerated   ActivityKind = "image_generated"
	ActivityImageAnalyzed    ActivityKind = "image_analyzed"
	ActivityCartoonified     ActivityKind = "cartoonified"
	ActivityGifSearched      ActivityKind = "gif_searched"
	ActivityCreditsPurchased ActivityKind = "credits_purchased"
	ActivityReminderCreated  ActivityKind = "reminder_created"
)

// Activity — запись журнала действий. Журнал только дополняется.
type Activity struct {
	ID          int64
	AccountID   int64
	Kind        ActivityKind
	Description string
	CreditDelta int
	CreatedAt   time.Time
}

// Feedback представляет отзыв пользователя.
type Feedback struct {
	ID        int64
	AccountID int64
	ChatID    string
	Message   string
	CreatedAt time.Time
}

// ActivityEvent — событие журнала для публикации во внешнюю шину.
type ActivityEvent struct {
	EventID     string       `json:"event_id"`
	AccountID   int64        `json:"account_id"`
	Kind        ActivityKind `json:"kind"`
	CreditDelta int          `json:"credit_delta"`
	OccurredAt  time.Time    `json:"occurred_at"`
}
