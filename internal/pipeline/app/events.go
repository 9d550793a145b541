package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"video_pipeline_service/internal/pipeline/domain"
	"video_pipeline_service/pkg/database"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/streadway/amqp"
)

// EventPublisher broadcasts pipeline state changes, failures are logged by the caller only
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// NewEvent stamps id and time
func NewEvent(job *domain.Job, state domain.PipelineState, errMsg string) domain.Event {
	return domain.Event{
		ID:        uuid.NewString(),
		VideoID:   job.Payload.VideoID,
		JobID:     job.ID,
		Stage:     job.Stage,
		State:     state,
		Error:     errMsg,
		Timestamp: time.Now().UTC(),
	}
}

// NopPublisher events.driver = none
type NopPublisher struct{}

// Publish does nothing
func (NopPublisher) Publish(context.Context, domain.Event) error { return nil }

// RedisPublisher events.driver = redis
type RedisPublisher struct {
	pubsub  *database.RedisPubSub
	channel string
}

// NewRedisPublisher publishes json events on channel
func NewRedisPublisher(pubsub *database.RedisPubSub, channel string) *RedisPublisher {
	return &RedisPublisher{pubsub: pubsub, channel: channel}
}

// Publish event to the redis channel
func (p *RedisPublisher) Publish(ctx context.Context, event domain.Event) error {
	return p.pubsub.Publish(ctx, p.channel, event)
}

// RabbitPublisher events.driver = rabbitmq, fanout exchange named after the channel
type RabbitPublisher struct {
	repo     database.RabbitRepo
	exchange string
}

// NewRabbitPublisher declares the fanout exchange
func NewRabbitPublisher(repo database.RabbitRepo, exchange string) (*RabbitPublisher, error) {
	err := repo.GetRabbit().ExchangeDeclare(
		exchange, // name
		"fanout", // kind
		true,     // durable
		false,    // autoDelete
		false,    // internal
		false,    // noWait
		nil,      // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &RabbitPublisher{repo: repo, exchange: exchange}, nil
}

// Publish event as persistent json message
func (p *RabbitPublisher) Publish(ctx context.Context, event domain.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.repo.Publish(p.exchange, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Timestamp:    event.Timestamp,
		Body:         body,
	})
}

// KafkaWriter subset of *kafka.Writer
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaPublisher events.driver = kafka, keyed by video id
type KafkaPublisher struct {
	writer KafkaWriter
}

// NewKafkaPublisher wraps writer
func NewKafkaPublisher(writer KafkaWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

// Publish event with the video id as key
func (p *KafkaPublisher) Publish(ctx context.Context, event domain.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.VideoID),
		Value: body,
		Time:  event.Timestamp,
	})
}
