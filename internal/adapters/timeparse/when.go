package timeparse

import (
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"tg-assist-bot/internal/domain"
)

// Parser извлекает временные выражения из английского текста.
type Parser struct {
	w *when.Parser
}

// NewParser собирает парсер с английскими и общими правилами.
func NewParser() *Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return &Parser{w: w}
}

// Parse ищет первое временное выражение в тексте. Базовое время
// переводится в часовой пояс аккаунта до разбора, чтобы "at 9pm"
// означало вечер пользователя, а не сервера.
func (p *Parser) Parse(text string, base time.Time, loc *time.Location) (domain.TimeExpression, bool, error) {
	if loc == nil {
		loc = time.UTC
	}
	result, err := p.w.Parse(text, base.In(loc))
	if err != nil {
		return domain.TimeExpression{}, false, err
	}
	if result == nil {
		return domain.TimeExpression{}, false, nil
	}
	return domain.TimeExpression{
		Index: result.Index,
		Text:  result.Text,
		At:    result.Time,
	}, true, nil
}

var _ domain.TimeParser = (*Parser)(nil)
