package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"tg-assist-bot/internal/domain"
	"tg-assist-bot/internal/infra/metrics"
)

// RabbitActivityPublisher публикует события журнала в exchange RabbitMQ.
// Публикация best-effort: вызывающий код логирует ошибку и продолжает.
type RabbitActivityPublisher struct {
	url      string
	exchange string

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewRabbitActivityPublisher создаёт издателя. Соединение ленивое:
// поднимается при первой публикации и переоткрывается после обрыва.
func NewRabbitActivityPublisher(url, exchange string) (*RabbitActivityPublisher, error) {
	if url == "" {
		return nil, errors.New("amqp url is empty")
	}
	if exchange == "" {
		return nil, errors.New("exchange name is empty")
	}
	return &RabbitActivityPublisher{url: url, exchange: exchange}, nil
}

func (p *RabbitActivityPublisher) ensureChannel() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil && !p.conn.IsClosed() {
		return p.channel, nil
	}
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, "fanout", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	p.conn = conn
	p.channel = ch
	return ch, nil
}

// Publish отправляет событие в exchange.
func (p *RabbitActivityPublisher) Publish(ctx context.Context, event domain.ActivityEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	ch, err := p.ensureChannel()
	if err != nil {
		return err
	}
	start := time.Now()
	err = ch.PublishWithContext(ctx, p.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   event.EventID,
		Timestamp:   event.OccurredAt,
		Body:        payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", p.exchange, start, err)
	if err != nil {
		p.mu.Lock()
		if p.channel != nil {
			_ = p.channel.Close()
			p.channel = nil
		}
		if p.conn != nil {
			_ = p.conn.Close()
			p.conn = nil
		}
		p.mu.Unlock()
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Close закрывает соединение.
func (p *RabbitActivityPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		_ = p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		err := p.conn.Close()
		p.conn = nil
		return err
	}
	return nil
}

var _ domain.ActivityPublisher = (*RabbitActivityPublisher)(nil)
