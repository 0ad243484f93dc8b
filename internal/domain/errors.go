package domain

import "errors"

var (
	// ErrAccountNotFound — аккаунт не найден.
	ErrAccountNotFound = errors.New("account not found")
	// ErrNotLinked — чат не привязан ни к одному аккаунту.
	ErrNotLinked = errors.New("chat is not linked to an account")
	// ErrInsufficientCredits — на балансе недостаточно кредитов.
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrInvalidInput — некорректные аргументы команды.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnparseableTime — во фразе не найдено временное выражение.
	ErrUnparseableTime = errors.New("no time expression found")
	// ErrPastTime — распознанное время не в будущем.
	ErrPastTime = errors.New("time is not in the future")
	// ErrEmptyBody — текст напоминания пуст после вырезания времени.
	ErrEmptyBody = errors.New("reminder body is empty")
	// ErrReminderNotFound — напоминание не найдено у данного аккаунта.
	ErrReminderNotFound = errors.New("reminder not found")
	// ErrShortIDExhausted — не удалось подобрать свободный короткий код.
	ErrShortIDExhausted = errors.New("could not generate unique short id")
)
