package repo

import (
	"context"
	crand "crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tg-assist-bot/internal/domain"
	"tg-assist-bot/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

const (
	// Алфавит без похожих символов (0/O, 1/l/I), чтобы код можно было
	// набрать руками из уведомления.
	shortIDAlphabet = "abcdefghjkmnpqrstuvwxyz23456789"
	shortIDLength   = 8
	shortIDRetryMax = 5
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func generateShortID() (string, error) {
	buf := make([]byte, shortIDLength)
	if _, err := crand.Read(buf); err != nil {
		return "", err
	}
	var b strings.Builder
	b.Grow(shortIDLength)
	for _, raw := range buf {
		b.WriteByte(shortIDAlphabet[int(raw)%len(shortIDAlphabet)])
	}
	return b.String(), nil
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return p.connCtx()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

const accountColumns = `id, name, email, link_code, credits, chat_id, assistant_active, tz, created_at, updated_at`

func scanAccount(row pgx.Row) (domain.Account, error) {
	var (
		acc    domain.Account
		chatID *string
		tz     *string
	)
	err := row.Scan(&acc.ID, &acc.Name, &acc.Email, &acc.LinkCode, &acc.Credits, &chatID, &acc.AssistantActive, &tz, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		return domain.Account{}, err
	}
	if chatID != nil {
		acc.ChatID = *chatID
	}
	if tz != nil {
		acc.Timezone = *tz
	}
	return acc, nil
}

// GetByID возвращает аккаунт по идентификатору.
func (p *Postgres) GetByID(ctx context.Context, id int64) (domain.Account, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	acc, err := scanAccount(p.pool.QueryRow(ctx, `
SELECT `+accountColumns+` FROM accounts WHERE id=$1
`, id))
	metrics.ObserveNetworkRequest("postgres", "accounts_get_by_id", "accounts", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	return acc, err
}

// GetByChatID возвращает аккаунт, привязанный к чату.
func (p *Postgres) GetByChatID(ctx context.Context, chatID string) (domain.Account, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	acc, err := scanAccount(p.pool.QueryRow(ctx, `
SELECT `+accountColumns+` FROM accounts WHERE chat_id=$1
`, chatID))
	metrics.ObserveNetworkRequest("postgres", "accounts_get_by_chat", "accounts", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	return acc, err
}

// GetByLinkCode находит аккаунт по коду привязки из диплинка /start.
func (p *Postgres) GetByLinkCode(ctx context.Context, linkCode string) (domain.Account, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	acc, err := scanAccount(p.pool.QueryRow(ctx, `
SELECT `+accountColumns+` FROM accounts WHERE link_code=$1
`, linkCode))
	metrics.ObserveNetworkRequest("postgres", "accounts_get_by_link_code", "accounts", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	return acc, err
}

// BindChat привязывает чат к аккаунту. Частичный уникальный индекс по chat_id
// гарантирует, что два аккаунта не могут претендовать на один чат; перенос
// привязки выполняется детерминированно в одной транзакции.
func (p *Postgres) BindChat(ctx context.Context, accountID int64, chatID string) (domain.Account, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "accounts", start, err)
	if err != nil {
		return domain.Account{}, err
	}
	defer tx.Rollback(ctx)

	start = time.Now()
	_, err = tx.Exec(ctx, `UPDATE accounts SET chat_id=NULL, updated_at=now() WHERE chat_id=$1 AND id<>$2`, chatID, accountID)
	metrics.ObserveNetworkRequest("postgres", "accounts_unbind_chat", "accounts", start, err)
	if err != nil {
		return domain.Account{}, err
	}

	start = time.Now()
	acc, err := scanAccount(tx.QueryRow(ctx, `
UPDATE accounts SET chat_id=$2, updated_at=now() WHERE id=$1
RETURNING `+accountColumns+`
`, accountID, chatID))
	metrics.ObserveNetworkRequest("postgres", "accounts_bind_chat", "accounts", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	if err != nil {
		return domain.Account{}, err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "accounts", start, err)
	if err != nil {
		return domain.Account{}, err
	}
	return acc, nil
}

// Debit списывает кредиты одним условным обновлением: проверка и списание
// не разнесены, поэтому два конкурентных действия не пройдут по одному
// и тому же остатку.
func (p *Postgres) Debit(ctx context.Context, accountID int64, cost int) (int, error) {
	if cost < 0 {
		return 0, fmt.Errorf("negative cost %d", cost)
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var balance int
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
UPDATE accounts SET credits = credits - $2, updated_at=now()
WHERE id=$1 AND credits >= $2
RETURNING credits
`, accountID, cost).Scan(&balance)
	metrics.ObserveNetworkRequest("postgres", "accounts_debit", "accounts", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrInsufficientCredits
	}
	return balance, err
}

// Credit пополняет баланс. Ключ идемпотентности защищает от повторной
// доставки вебхука платёжного провайдера.
func (p *Postgres) Credit(ctx context.Context, accountID int64, amount int, idempotencyKey string) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("non-positive amount %d", amount)
	}
	if idempotencyKey == "" {
		return 0, fmt.Errorf("idempotency key is required")
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "credit_topups", start, err)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	start = time.Now()
	tag, err := tx.Exec(ctx, `
INSERT INTO credit_topups (idempotency_key, account_id, amount)
VALUES ($1, $2, $3)
ON CONFLICT (idempotency_key) DO NOTHING
`, idempotencyKey, accountID, amount)
	metrics.ObserveNetworkRequest("postgres", "credit_topups_insert", "credit_topups", start, err)
	if err != nil {
		return 0, err
	}

	var balance int
	if tag.RowsAffected() == 0 {
		start = time.Now()
		err = tx.QueryRow(ctx, `SELECT credits FROM accounts WHERE id=$1`, accountID).Scan(&balance)
		metrics.ObserveNetworkRequest("postgres", "accounts_get_credits", "accounts", start, err)
	} else {
		start = time.Now()
		err = tx.QueryRow(ctx, `
UPDATE accounts SET credits = credits + $2, updated_at=now() WHERE id=$1
RETURNING credits
`, accountID, amount).Scan(&balance)
		metrics.ObserveNetworkRequest("postgres", "accounts_credit", "accounts", start, err)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrAccountNotFound
	}
	if err != nil {
		return 0, err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "credit_topups", start, err)
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// SetAssistantActive переключает автоответы ассистента.
func (p *Postgres) SetAssistantActive(ctx context.Context, accountID int64, active bool) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `UPDATE accounts SET assistant_active=$2, updated_at=now() WHERE id=$1`, accountID, active)
	metrics.ObserveNetworkRequest("postgres", "accounts_set_assistant", "accounts", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// UpsertNote сохраняет заметку: существующий тег получает новый текст,
// позиция вставки при этом сохраняется.
func (p *Postgres) UpsertNote(ctx context.Context, accountID int64, tag, content string) (domain.Note, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	normalized := strings.ToLower(strings.TrimSpace(tag))
	if normalized == "" {
		return domain.Note{}, domain.ErrInvalidInput
	}

	var note domain.Note
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO account_notes (account_id, tag, content, position)
VALUES ($1, $2, $3, COALESCE((SELECT MAX(position)+1 FROM account_notes WHERE account_id=$1), 0))
ON CONFLICT (account_id, tag) DO UPDATE SET content = EXCLUDED.content
RETURNING id, account_id, tag, content, position, created_at
`, accountID, normalized, content).Scan(&note.ID, &note.AccountID, &note.Tag, &note.Content, &note.Position, &note.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "account_notes_upsert", "account_notes", start, err)
	return note, err
}

// ListNotes возвращает заметки в порядке добавления.
func (p *Postgres) ListNotes(ctx context.Context, accountID int64) ([]domain.Note, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, account_id, tag, content, position, created_at
FROM account_notes WHERE account_id=$1
ORDER BY position
`, accountID)
	metrics.ObserveNetworkRequest("postgres", "account_notes_list", "account_notes", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var notes []domain.Note
	for rows.Next() {
		var n domain.Note
		if err := rows.Scan(&n.ID, &n.AccountID, &n.Tag, &n.Content, &n.Position, &n.CreatedAt); err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// DeleteNote удаляет заметку по тегу.
func (p *Postgres) DeleteNote(ctx context.Context, accountID int64, tag string) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `DELETE FROM account_notes WHERE account_id=$1 AND tag=$2`,
		accountID, strings.ToLower(strings.TrimSpace(tag)))
	metrics.ObserveNetworkRequest("postgres", "account_notes_delete", "account_notes", start, err)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

// Create сохраняет напоминание, подбирая свободный короткий код.
// Коллизия кода крайне маловероятна (31^8 вариантов), но вставка
// повторяется ограниченное число раз, а не до бесконечности.
func (p *Postgres) Create(ctx context.Context, reminder domain.Reminder) (domain.Reminder, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	for attempt := 0; attempt < shortIDRetryMax; attempt++ {
		shortID, err := generateShortID()
		if err != nil {
			return domain.Reminder{}, err
		}

		var created domain.Reminder
		start := time.Now()
		err = p.pool.QueryRow(ctx, `
INSERT INTO reminders (short_id, account_id, chat_id, body, due_at, sent)
VALUES ($1, $2, $3, $4, $5, false)
RETURNING id, short_id, account_id, chat_id, body, due_at, sent, created_at
`, shortID, reminder.AccountID, reminder.ChatID, reminder.Body, reminder.DueAt).
			Scan(&created.ID, &created.ShortID, &created.AccountID, &created.ChatID, &created.Body, &created.DueAt, &created.Sent, &created.CreatedAt)
		metrics.ObserveNetworkRequest("postgres", "reminders_insert", "reminders", start, err)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "reminders_short_id_key" {
				continue
			}
			return domain.Reminder{}, err
		}
		return created, nil
	}
	return domain.Reminder{}, domain.ErrShortIDExhausted
}

// ListPending возвращает неотправленные напоминания аккаунта.
func (p *Postgres) ListPending(ctx context.Context, accountID int64) ([]domain.Reminder, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, short_id, account_id, chat_id, body, due_at, sent, created_at
FROM reminders WHERE account_id=$1 AND sent=false
ORDER BY due_at
`, accountID)
	metrics.ObserveNetworkRequest("postgres", "reminders_list_pending", "reminders", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReminders(rows)
}

// Delete удаляет напоминание владельца. Чужой short_id выглядит как
// несуществующий: выборка всегда ограничена account_id.
func (p *Postgres) Delete(ctx context.Context, shortID string, accountID int64) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `DELETE FROM reminders WHERE short_id=$1 AND account_id=$2`, shortID, accountID)
	metrics.ObserveNetworkRequest("postgres", "reminders_delete", "reminders", start, err)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

// ListDue возвращает просроченные неотправленные напоминания.
func (p *Postgres) ListDue(ctx context.Context, now time.Time) ([]domain.Reminder, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, short_id, account_id, chat_id, body, due_at, sent, created_at
FROM reminders WHERE due_at <= $1 AND sent=false
`, now)
	metrics.ObserveNetworkRequest("postgres", "reminders_list_due", "reminders", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReminders(rows)
}

// ClaimSent помечает напоминание отправленным одним условным обновлением.
// Возвращает false, если его уже забрал другой поллер.
func (p *Postgres) ClaimSent(ctx context.Context, id int64) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `UPDATE reminders SET sent=true WHERE id=$1 AND sent=false`, id)
	metrics.ObserveNetworkRequest("postgres", "reminders_claim", "reminders", start, err)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

func collectReminders(rows pgx.Rows) ([]domain.Reminder, error) {
	var reminders []domain.Reminder
	for rows.Next() {
		var r domain.Reminder
		if err := rows.Scan(&r.ID, &r.ShortID, &r.AccountID, &r.ChatID, &r.Body, &r.DueAt, &r.Sent, &r.CreatedAt); err != nil {
			return nil, err
		}
		reminders = append(reminders, r)
	}
	return reminders, rows.Err()
}

// Append дополняет журнал действий.
func (p *Postgres) Append(ctx context.Context, activity domain.Activity) (domain.Activity, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO activities (account_id, kind, description, credit_delta)
VALUES ($1, $2, $3, $4)
RETURNING id, created_at
`, activity.AccountID, activity.Kind, activity.Description, activity.CreditDelta).
		Scan(&activity.ID, &activity.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "activities_insert", "activities", start, err)
	return activity, err
}

// ListByAccount возвращает журнал аккаунта, новые записи первыми.
func (p *Postgres) ListByAccount(ctx context.Context, accountID int64, limit int) ([]domain.Activity, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}
	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, account_id, kind, description, credit_delta, created_at
FROM activities WHERE account_id=$1
ORDER BY created_at DESC, id DESC
LIMIT $2
`, accountID, limit)
	metrics.ObserveNetworkRequest("postgres", "activities_list", "activities", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var activities []domain.Activity
	for rows.Next() {
		var a domain.Activity
		if err := rows.Scan(&a.ID, &a.AccountID, &a.Kind, &a.Description, &a.CreditDelta, &a.CreatedAt); err != nil {
			return nil, err
		}
		activities = append(activities, a)
	}
	return activities, rows.Err()
}

// CreateFeedback сохраняет отзыв.
func (p *Postgres) CreateFeedback(ctx context.Context, feedback domain.Feedback) (domain.Feedback, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO feedbacks (account_id, chat_id, message)
VALUES ($1, $2, $3)
RETURNING id, created_at
`, feedback.AccountID, feedback.ChatID, feedback.Message).
		Scan(&feedback.ID, &feedback.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "feedbacks_insert", "feedbacks", start, err)
	return feedback, err
}
