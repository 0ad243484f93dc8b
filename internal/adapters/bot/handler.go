package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"tg-assist-bot/internal/domain"
	"tg-assist-bot/internal/usecase/assistant"
	"tg-assist-bot/internal/usecase/reminders"
)

// Sender — канал доставки ответов пользователю.
type Sender interface {
	SendText(ctx context.Context, chatID string, text string) error
	SendPhoto(ctx context.Context, chatID string, image []byte, caption string) error
	SendAnimation(ctx context.Context, chatID string, url string) error
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}

const (
	msgNotLinked    = "This chat is not linked to an account yet. Open your dashboard and use your personal /start link."
	msgNoCredits    = "You don't have enough credits for that. Top up in your dashboard."
	msgInternal     = "Something went wrong, please try again later."
	msgUnknownStart = "I don't recognize that link code. Copy the /start link from your dashboard."
)

// Dispatcher разбирает входящие сообщения и маршрутизирует команды.
// Явные команды работают независимо от переключателя ассистента;
// переключатель гасит только ответы на свободный текст.
type Dispatcher struct {
	sender      Sender
	accounts    domain.AccountRepo
	assistantUC *assistant.Service
	remindersUC *reminders.Service
	log         zerolog.Logger
}

// NewDispatcher создаёт маршрутизатор команд.
func NewDispatcher(sender Sender, accounts domain.AccountRepo, assistantUC *assistant.Service, remindersUC *reminders.Service, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		sender:      sender,
		accounts:    accounts,
		assistantUC: assistantUC,
		remindersUC: remindersUC,
		log:         log,
	}
}

// HandleUpdate обрабатывает входящий апдейт вебхука.
func (d *Dispatcher) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message == nil {
		return
	}
	d.handleMessage(ctx, upd.Message)
}

func (d *Dispatcher) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := strconv.FormatInt(msg.Chat.ID, 10)

	if len(msg.Photo) > 0 {
		d.withAccount(ctx, chatID, false, func(acc domain.Account) {
			d.handlePhoto(ctx, acc, chatID, msg)
		})
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	switch {
	case strings.HasPrefix(text, "/start"):
		payload := strings.TrimSpace(strings.TrimPrefix(text, "/start"))
		d.handleStart(ctx, chatID, payload)
	case strings.HasPrefix(text, "remember "):
		payload := strings.TrimPrefix(text, "remember ")
		d.withAccount(ctx, chatID, false, func(acc domain.Account) {
			d.handleRemember(ctx, acc, chatID, payload)
		})
	case text == "list my info":
		d.withAccount(ctx, chatID, false, func(acc domain.Account) {
			d.handleListInfo(ctx, acc, chatID)
		})
	case strings.HasPrefix(text, "forget "):
		tag := strings.TrimSpace(strings.TrimPrefix(text, "forget "))
		d.withAccount(ctx, chatID, false, func(acc domain.Account) {
			d.handleForget(ctx, acc, chatID, tag)
		})
	case strings.HasPrefix(text, "remind me to "):
		payload := strings.TrimPrefix(text, "remind me to ")
		d.withAccount(ctx, chatID, false, func(acc domain.Account) {
			d.handleRemindCreate(ctx, acc, chatID, payload)
		})
	case text == "list my reminders":
		d.withAccount(ctx, chatID, false, func(acc domain.Account) {
			d.handleRemindList(ctx, acc, chatID)
		})
	case strings.HasPrefix(text, "delete reminder "):
		shortID := strings.TrimSpace(strings.TrimPrefix(text, "delete reminder "))
		d.withAccount(ctx, chatID, false, func(acc domain.Account) {
			d.handleRemindDelete(ctx, acc, chatID, shortID)
		})
	case strings.HasPrefix(text, "generate image "):
		prompt := strings.TrimSpace(strings.TrimPrefix(text, "generate image "))
		d.withAccount(ctx, chatID, false, func(acc domain.Account) {
			d.handleGenerateImage(ctx, acc, chatID, prompt)
		})
	case strings.HasPrefix(text, "search gif "):
		term := strings.TrimSpace(strings.TrimPrefix(text, "search gif "))
		d.handleSearchGif(ctx, chatID, term)
	case strings.HasPrefix(text, "/"):
		// Неизвестные слэш-команды не должны уходить в платный ответ.
		d.reply(ctx, chatID, "I don't know that command. Try \"remember <tag> <text>\" or \"remind me to <something> in 2 hours\".")
	default:
		d.handleFreeText(ctx, chatID, text)
	}
}

// withAccount резолвит аккаунт по чату и передаёт его обработчику.
// silent подавляет ответ для непривязанных чатов: свободный текст от
// незнакомца игнорируется, явная команда получает подсказку.
func (d *Dispatcher) withAccount(ctx context.Context, chatID string, silent bool, fn func(domain.Account)) {
	acc, err := d.accounts.GetByChatID(ctx, chatID)
	if errors.Is(err, domain.ErrAccountNotFound) {
		if !silent {
			d.reply(ctx, chatID, msgNotLinked)
		}
		return
	}
	if err != nil {
		d.log.Error().Err(err).Str("chat", chatID).Msg("не удалось получить аккаунт по чату")
		if !silent {
			d.reply(ctx, chatID, msgInternal)
		}
		return
	}
	fn(acc)
}

func (d *Dispatcher) handleStart(ctx context.Context, chatID, linkCode string) {
	if linkCode == "" {
		d.reply(ctx, chatID, "Hi! Use the /start link from your dashboard to connect this chat to your account.")
		return
	}
	acc, err := d.accounts.GetByLinkCode(ctx, linkCode)
	if errors.Is(err, domain.ErrAccountNotFound) {
		d.reply(ctx, chatID, msgUnknownStart)
		return
	}
	if err != nil {
		d.log.Error().Err(err).Str("chat", chatID).Msg("не удалось найти аккаунт по коду привязки")
		d.reply(ctx, chatID, msgInternal)
		return
	}
	if _, err := d.accounts.BindChat(ctx, acc.ID, chatID); err != nil {
		d.log.Error().Err(err).Int64("account", acc.ID).Str("chat", chatID).Msg("не удалось привязать чат")
		d.reply(ctx, chatID, msgInternal)
		return
	}
	name := acc.Name
	if name == "" {
		name = "there"
	}
	d.reply(ctx, chatID, fmt.Sprintf("Hey %s, this chat is now linked to your account. I'm your assistant — try \"remember wife Her name is Sasha\" or \"remind me to call mom in 2 hours\".", name))
}

func (d *Dispatcher) handleRemember(ctx context.Context, acc domain.Account, chatID, payload string) {
	parts := strings.SplitN(strings.TrimSpace(payload), " ", 2)
	if len(parts) < 2 || strings.TrimSpace(parts[1]) == "" {
		d.reply(ctx, chatID, "Use: remember <tag> <what to remember>, e.g. remember wife Her name is Sasha")
		return
	}
	note, err := d.accounts.UpsertNote(ctx, acc.ID, parts[0], strings.TrimSpace(parts[1]))
	if errors.Is(err, domain.ErrInvalidInput) {
		d.reply(ctx, chatID, "Use: remember <tag> <what to remember>")
		return
	}
	if err != nil {
		d.log.Error().Err(err).Int64("account", acc.ID).Msg("не удалось сохранить заметку")
		d.reply(ctx, chatID, msgInternal)
		return
	}
	d.reply(ctx, chatID, fmt.Sprintf("Got it. I'll remember your %s.", note.Tag))
}

func (d *Dispatcher) handleListInfo(ctx context.Context, acc domain.Account, chatID string) {
	notes, err := d.accounts.ListNotes(ctx, acc.ID)
	if err != nil {
		d.log.Error().Err(err).Int64("account", acc.ID).Msg("не удалось получить заметки")
		d.reply(ctx, chatID, msgInternal)
		return
	}
	if len(notes) == 0 {
		d.reply(ctx, chatID, "I don't know anything about you yet. Teach me: remember <tag> <text>")
		return
	}
	var b strings.Builder
	b.WriteString("Here's what I know about you:\n")
	for _, n := range notes {
		b.WriteString(fmt.Sprintf("• %s: %s\n", n.Tag, n.Content))
	}
	d.reply(ctx, chatID, strings.TrimRight(b.String(), "\n"))
}

func (d *Dispatcher) handleForget(ctx context.Context, acc domain.Account, chatID, tag string) {
	if tag == "" {
		d.reply(ctx, chatID, "Use: forget <tag>")
		return
	}
	deleted, err := d.accounts.DeleteNote(ctx, acc.ID, tag)
	if err != nil {
		d.log.Error().Err(err).Int64("account", acc.ID).Msg("не удалось удалить заметку")
		d.reply(ctx, chatID, msgInternal)
		return
	}
	if !deleted {
		d.reply(ctx, chatID, fmt.Sprintf("I don't have a note tagged %q.", tag))
		return
	}
	d.reply(ctx, chatID, fmt.Sprintf("Forgotten: %s.", tag))
}

func (d *Dispatcher) handleRemindCreate(ctx context.Context, acc domain.Account, chatID, payload string) {
	created, err := d.remindersUC.Create(ctx, acc, chatID, payload, time.Now().UTC())
	switch {
	case errors.Is(err, domain.ErrUnparseableTime):
		d.reply(ctx, chatID, "I couldn't find a time in that. Try: remind me to call mom in 2 hours")
		return
	case errors.Is(err, domain.ErrPastTime):
		d.reply(ctx, chatID, "That time is already in the past.")
		return
	case errors.Is(err, domain.ErrEmptyBody):
		d.reply(ctx, chatID, "What should I remind you about? Try: remind me to call mom in 2 hours")
		return
	case err != nil:
		d.log.Error().Err(err).Int64("account", acc.ID).Msg("не удалось создать напоминание")
		d.reply(ctx, chatID, msgInternal)
		return
	}
	when := created.DueAt.In(acc.Location()).Format("Mon, 2 Jan at 15:04")
	d.reply(ctx, chatID, fmt.Sprintf("Will do. I'll remind you to %s on %s.\nTo cancel: delete reminder %s", created.Body, when, created.ShortID))
}

func (d *Dispatcher) handleRemindList(ctx context.Context, acc domain.Account, chatID string) {
	pending, err := d.remindersUC.List(ctx, acc.ID)
	if err != nil {
		d.log.Error().Err(err).Int64("account", acc.ID).Msg("не удалось получить напоминания")
		d.reply(ctx, chatID, msgInternal)
		return
	}
	if len(pending) == 0 {
		d.reply(ctx, chatID, "No reminders scheduled. Create one: remind me to call mom in 2 hours")
		return
	}
	var b strings.Builder
	b.WriteString("Your reminders:\n")
	for _, r := range pending {
		b.WriteString(fmt.Sprintf("• [%s] %s — %s\n", r.ShortID, r.Body, r.DueAt.In(acc.Location()).Format("Mon, 2 Jan at 15:04")))
	}
	d.reply(ctx, chatID, strings.TrimRight(b.String(), "\n"))
}

func (d *Dispatcher) handleRemindDelete(ctx context.Context, acc domain.Account, chatID, shortID string) {
	err := d.remindersUC.Delete(ctx, shortID, acc.ID)
	if errors.Is(err, domain.ErrReminderNotFound) {
		d.reply(ctx, chatID, "No reminder with that id.")
		return
	}
	if err != nil {
		d.log.Error().Err(err).Int64("account", acc.ID).Msg("не удалось удалить напоминание")
		d.reply(ctx, chatID, msgInternal)
		return
	}
	d.reply(ctx, chatID, "Deleted.")
}

func (d *Dispatcher) handleGenerateImage(ctx context.Context, acc domain.Account, chatID, prompt string) {
	image, err := d.assistantUC.GenerateImage(ctx, acc, prompt)
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		d.reply(ctx, chatID, "Use: generate image <description>")
		return
	case errors.Is(err, domain.ErrInsufficientCredits):
		d.reply(ctx, chatID, msgNoCredits)
		return
	case err != nil:
		d.log.Error().Err(err).Int64("account", acc.ID).Msg("не удалось сгенерировать изображение")
		d.reply(ctx, chatID, msgInternal)
		return
	}
	if err := d.sender.SendPhoto(ctx, chatID, image, prompt); err != nil {
		d.log.Error().Err(err).Str("chat", chatID).Msg("не удалось отправить изображение")
	}
}

func (d *Dispatcher) handleSearchGif(ctx context.Context, chatID, term string) {
	// Поиск гифок бесплатный и доступен без привязки; непривязанный чат
	// просто не попадает в журнал.
	var acc domain.Account
	if resolved, err := d.accounts.GetByChatID(ctx, chatID); err == nil {
		acc = resolved
	}
	url, err := d.assistantUC.SearchGif(ctx, acc, term)
	if errors.Is(err, domain.ErrInvalidInput) {
		d.reply(ctx, chatID, "Use: search gif <term>")
		return
	}
	if err != nil {
		d.log.Error().Err(err).Str("chat", chatID).Msg("поиск гифки не удался")
		d.reply(ctx, chatID, "Couldn't find a gif for that, sorry.")
		return
	}
	if err := d.sender.SendAnimation(ctx, chatID, url); err != nil {
		d.log.Error().Err(err).Str("chat", chatID).Msg("не удалось отправить гифку")
	}
}

func (d *Dispatcher) handlePhoto(ctx context.Context, acc domain.Account, chatID string, msg *tgbotapi.Message) {
	// Bot API отдаёт варианты фото по возрастанию размера.
	fileID := msg.Photo[len(msg.Photo)-1].FileID
	image, err := d.sender.DownloadFile(ctx, fileID)
	if err != nil {
		d.log.Error().Err(err).Str("chat", chatID).Msg("не удалось скачать фото")
		d.reply(ctx, chatID, msgInternal)
		return
	}

	caption := strings.TrimSpace(msg.Caption)
	if strings.HasPrefix(caption, "cartoonify") {
		stylized, err := d.assistantUC.Cartoonify(ctx, acc, image)
		if errors.Is(err, domain.ErrInsufficientCredits) {
			d.reply(ctx, chatID, msgNoCredits)
			return
		}
		if err != nil {
			d.log.Error().Err(err).Int64("account", acc.ID).Msg("не удалось стилизовать фото")
			d.reply(ctx, chatID, msgInternal)
			return
		}
		if err := d.sender.SendPhoto(ctx, chatID, stylized, "Here you go!"); err != nil {
			d.log.Error().Err(err).Str("chat", chatID).Msg("не удалось отправить стилизованное фото")
		}
		return
	}

	answer, err := d.assistantUC.AnalyzeImage(ctx, acc, image, caption)
	if errors.Is(err, domain.ErrInsufficientCredits) {
		d.reply(ctx, chatID, msgNoCredits)
		return
	}
	if err != nil {
		d.log.Error().Err(err).Int64("account", acc.ID).Msg("не удалось разобрать фото")
		d.reply(ctx, chatID, msgInternal)
		return
	}
	d.reply(ctx, chatID, answer)
}

// handleFreeText отвечает на свободный текст. Непривязанный чат и
// выключенный ассистент молча игнорируются.
func (d *Dispatcher) handleFreeText(ctx context.Context, chatID, text string) {
	d.withAccount(ctx, chatID, true, func(acc domain.Account) {
		if !acc.AssistantActive {
			return
		}
		answer, err := d.assistantUC.Reply(ctx, acc, text)
		if errors.Is(err, domain.ErrInsufficientCredits) {
			d.reply(ctx, chatID, msgNoCredits)
			return
		}
		if err != nil {
			d.log.Error().Err(err).Int64("account", acc.ID).Msg("не удалось сгенерировать ответ")
			d.reply(ctx, chatID, msgInternal)
			return
		}
		d.reply(ctx, chatID, answer)
	})
}

func (d *Dispatcher) reply(ctx context.Context, chatID, text string) {
	if err := d.sender.SendText(ctx, chatID, text); err != nil {
		d.log.Error().Err(err).Str("chat", chatID).Msg("не удалось отправить сообщение")
	}
}
