package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultConsumerMaxAttempts = 3
	defaultConsumerRetryDelay  = 200 * time.Millisecond
)

var consumerTracer = otel.Tracer("ordersvc/kafka/consumer")

// ErrNonRetryable помечает ошибку, которую повтор не исправит (битый payload,
// неполное событие). Такое сообщение сразу уходит в DLQ.
var ErrNonRetryable = errors.New("non-retryable message")

// NonRetryable оборачивает err в ErrNonRetryable.
func NonRetryable(err error) error {
	if err == nil || errors.Is(err, ErrNonRetryable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrNonRetryable, err)
}

// MessageHandler обрабатывает сообщение из Kafka.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// ConsumerOption настраивает Consumer.
type ConsumerOption func(*Consumer)

// WithConsumerLogger задаёт logger.
func WithConsumerLogger(logger *log.Entry) ConsumerOption {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDeadLetterProducer включает отправку необработанных сообщений в TopicDeadLetterQueue.
func WithDeadLetterProducer(producer *Producer) ConsumerOption {
	return func(c *Consumer) {
		c.dlq = producer
	}
}

// WithMaxAttempts задаёт число попыток обработки с учётом x-retry-count.
func WithMaxAttempts(attempts int) ConsumerOption {
	return func(c *Consumer) {
		if attempts > 0 {
			c.maxAttempts = attempts
		}
	}
}

// WithRetryDelay задаёт паузу между попытками.
func WithRetryDelay(delay time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if delay >= 0 {
			c.retryDelay = delay
		}
	}
}

// Consumer читает топики через consumer group и передаёт сообщения в MessageHandler.
type Consumer struct {
	consumer    sarama.ConsumerGroup
	groupID     string
	topics      []string
	handler     MessageHandler
	logger      *log.Entry
	wg          sync.WaitGroup
	dlq         *Producer
	maxAttempts int
	retryDelay  time.Duration
	now         func() time.Time
}

// NewConsumer создаёт consumer group и Consumer поверх неё.
func NewConsumer(brokers []string, groupID string, topics []string, handler MessageHandler, options ...ConsumerOption) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	return newConsumer(group, groupID, topics, handler, options...), nil
}

func newConsumer(group sarama.ConsumerGroup, groupID string, topics []string, handler MessageHandler, options ...ConsumerOption) *Consumer {
	c := &Consumer{
		consumer:    group,
		groupID:     groupID,
		topics:      topics,
		handler:     handler,
		logger:      log.WithField("component", "kafka-consumer"),
		maxAttempts: defaultConsumerMaxAttempts,
		retryDelay:  defaultConsumerRetryDelay,
		now:         time.Now,
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// Start запускает чтение в фоне.
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			// Consume возвращается при каждом rebalance.
			if err := c.consumer.Consume(ctx, c.topics, c); err != nil {
				c.logger.WithError(err).Error("error from consumer")
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.consumer.Errors() {
			c.logger.WithError(err).Error("consumer error")
		}
	}()

	c.logger.WithFields(log.Fields{
		"topics": c.topics,
		"group":  c.groupID,
	}).Info("kafka consumer started")
	return nil
}

// Stop закрывает consumer group и ждёт фоновые горутины.
func (c *Consumer) Stop() error {
	if err := c.consumer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error { return nil }

func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim обрабатывает сообщения партиции. Offset коммитится, только если
// сообщение обработано или передано в DLQ.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}
			logger := c.messageLogger(message)
			logger.Debug("received message")

			if err := c.process(session.Context(), message); err != nil {
				logger.WithError(err).Error("message is not processed, offset is not committed")
				continue
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

func (c *Consumer) messageLogger(message *sarama.ConsumerMessage) *log.Entry {
	fields := log.Fields{
		"topic":     message.Topic,
		"partition": message.Partition,
		"offset":    message.Offset,
	}
	if eventType := headerValue(message, HeaderEventType); eventType != "" {
		fields["event_type"] = eventType
	}
	return c.logger.WithFields(fields)
}

// process вызывает handler с повторами. Когда попытки исчерпаны или ошибка
// помечена NonRetryable, сообщение уходит в DLQ и считается обработанным.
func (c *Consumer) process(ctx context.Context, message *sarama.ConsumerMessage) error {
	ctx = otel.GetTextMapPropagator().Extract(ctx, consumerCarrier{msg: message})
	ctx, span := consumerTracer.Start(ctx, "process "+message.Topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationName("process"),
			semconv.MessagingOperationTypeDeliver,
			semconv.MessagingDestinationName(message.Topic),
			semconv.MessagingKafkaConsumerGroup(c.groupID),
			semconv.MessagingKafkaMessageOffset(int(message.Offset)),
			semconv.MessagingDestinationPartitionID(strconv.Itoa(int(message.Partition))),
		),
	)
	defer span.End()

	attempt, err := c.handleWithRetry(ctx, message)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	if c.dlq == nil {
		return err
	}
	if dlqErr := c.sendToDLQ(ctx, message, attempt, err); dlqErr != nil {
		return fmt.Errorf("failed to send to DLQ: %w", dlqErr)
	}
	c.messageLogger(message).WithError(err).WithField("attempts", attempt).Warn("message sent to DLQ")
	return nil
}

// handleWithRetry возвращает номер последней попытки и её ошибку.
func (c *Consumer) handleWithRetry(ctx context.Context, message *sarama.ConsumerMessage) (int, error) {
	attempt := retryCount(message) + 1
	for {
		err := c.handler(ctx, message)
		if err == nil || errors.Is(err, ErrNonRetryable) || attempt >= c.maxAttempts {
			return attempt, err
		}

		c.messageLogger(message).WithError(err).WithFields(log.Fields{
			"attempt":      attempt,
			"max_attempts": c.maxAttempts,
		}).Warn("message processing failed, will retry")

		if c.retryDelay > 0 {
			select {
			case <-ctx.Done():
				return attempt, ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}
		attempt++
	}
}

// retryCount читает x-retry-count: число попыток, сделанных до этой доставки.
func retryCount(message *sarama.ConsumerMessage) int {
	count, err := strconv.Atoi(headerValue(message, HeaderRetryCount))
	if err != nil || count < 0 {
		return 0
	}
	return count
}

func headerValue(message *sarama.ConsumerMessage, key string) string {
	for _, header := range message.Headers {
		if header != nil && string(header.Key) == key {
			return string(header.Value)
		}
	}
	return ""
}

// consumedDeadLetter — тело сообщения в DLQ для входящего события.
type consumedDeadLetter struct {
	OriginalTopic     string `json:"original_topic"`
	OriginalPartition int32  `json:"original_partition"`
	OriginalOffset    int64  `json:"original_offset"`
	OriginalKey       string `json:"original_key"`
	OriginalValue     string `json:"original_value"`
	EventType         string `json:"event_type,omitempty"`
	ConsumerGroup     string `json:"consumer_group,omitempty"`
	Attempts          int    `json:"attempts"`
	NonRetryable      bool   `json:"non_retryable"`
	Error             string `json:"error_message"`
	FailedAt          string `json:"failed_at"`
}

func (c *Consumer) sendToDLQ(ctx context.Context, message *sarama.ConsumerMessage, attempts int, processingErr error) error {
	failedAt := c.now().UTC().Format(time.RFC3339)
	eventType := headerValue(message, HeaderEventType)

	value, err := json.Marshal(consumedDeadLetter{
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		OriginalKey:       string(message.Key),
		OriginalValue:     string(message.Value),
		EventType:         eventType,
		ConsumerGroup:     c.groupID,
		Attempts:          attempts,
		NonRetryable:      errors.Is(processingErr, ErrNonRetryable),
		Error:             processingErr.Error(),
		FailedAt:          failedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal dlq message: %w", err)
	}

	headers := map[string]string{
		HeaderOriginalTopic: message.Topic,
		HeaderErrorMessage:  processingErr.Error(),
		HeaderFailedAt:      failedAt,
		HeaderRetryCount:    strconv.Itoa(attempts),
	}
	if eventType != "" {
		headers[HeaderEventType] = eventType
	}
	return c.dlq.Publish(ctx, TopicDeadLetterQueue, string(message.Key), value, headers)
}

// ParseCatalogEvent разбирает CatalogEvent. Событие без event_type берёт тип
// из заголовка x-event-type. Битый JSON помечается NonRetryable.
func ParseCatalogEvent(message *sarama.ConsumerMessage) (*CatalogEvent, error) {
	var event CatalogEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return nil, NonRetryable(fmt.Errorf("failed to unmarshal catalog event: %w", err))
	}
	if event.EventType == "" {
		event.EventType = EventType(headerValue(message, HeaderEventType))
	}
	return &event, nil
}
