package domain

import (
	"context"
	"time"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// OutboxPublisher публикует сообщения outbox во внешний брокер.
type OutboxPublisher interface {
	Publish(ctx context.Context, msg OutboxMessage) error
}
