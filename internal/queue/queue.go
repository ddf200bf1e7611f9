// Package queue is the RabbitMQ transport between the API and the worker.
// Each work queue carries a companion retry queue that dead-letters messages
// back after a delay, and a dead-letter queue for messages that exhausted
// their retries.
package queue

import (
	"fmt"
	"time"

	"github.com/threadline-ai/threadline/backend/internal/util"
	"github.com/threadline-ai/threadline/backend/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

// Work queues consumed by the worker.
const (
	IndexQueue   = "index_source_queue"
	ExtractQueue = "extract_source_queue"
	BatchQueue   = "batch_job_queue"
)

// WorkQueues lists every queue the worker consumes.
var WorkQueues = []string{IndexQueue, ExtractQueue, BatchQueue}

const (
	retryDelayMs = 10000
	maxRetries   = 10
)

func Init() *amqp091.Connection {
	user := util.GetEnv("RABBITMQ_USER")
	pass := util.GetEnv("RABBITMQ_PASSWORD")
	host := util.GetEnv("RABBITMQ_HOST")
	port := util.GetEnv("RABBITMQ_PORT")

	connURL := fmt.Sprintf("amqp://%s:%s@%s:%s/", user, pass, host, port)

	conn, err := amqp091.Dial(connURL)
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "err", err)
	}
	return conn
}

// SetupQueues declares every work queue plus its retry and dead-letter
// companions. Safe to call from both processes.
func SetupQueues(ch *amqp091.Channel) error {
	for _, name := range WorkQueues {
		_, err := ch.QueueDeclare(
			name,
			true,  // durable
			false, // autoDelete
			false, // exclusive
			false, // noWait
			nil,   // args
		)
		if err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", name, err)
		}

		_, err = ch.QueueDeclare(name+"_dlq", true, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("failed to declare queue %s_dlq: %w", name, err)
		}

		_, err = ch.QueueDeclare(
			name+"_retry",
			true,
			false,
			false,
			false,
			amqp091.Table{
				"x-message-ttl":             int32(retryDelayMs),
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			},
		)
		if err != nil {
			return fmt.Errorf("failed to declare queue %s_retry: %w", name, err)
		}
	}
	return nil
}

// Publish sends a persistent message to a work queue.
func Publish(ch *amqp091.Channel, queueName string, data []byte) error {
	return ch.Publish(
		"",
		queueName,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         data,
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
		},
	)
}

// HandleProcessingError routes a failed delivery: up to maxRetries attempts
// through the retry queue, then the dead-letter queue.
func HandleProcessingError(ch *amqp091.Channel, msg amqp091.Delivery, queueName string) {
	retries := 0
	if val, ok := msg.Headers["x-retries"]; ok {
		if v, ok := val.(int32); ok {
			retries = int(v)
		}
	}

	if retries >= maxRetries {
		dlqName := queueName + "_dlq"
		logger.Info("Sending message to DLQ", "dlq", dlqName)
		if err := ch.Publish("", dlqName, false, false, amqp091.Publishing{
			ContentType: "application/json",
			Body:        msg.Body,
			Headers:     msg.Headers,
		}); err != nil {
			logger.Error("Failed to publish to DLQ", "dlq", dlqName, "err", err)
			_ = msg.Nack(false, true)
			return
		}
		_ = msg.Ack(false)
		return
	}

	headers := msg.Headers
	if headers == nil {
		headers = amqp091.Table{}
	}
	headers["x-retries"] = int32(retries + 1)

	retryName := queueName + "_retry"
	if err := ch.Publish("", retryName, false, false, amqp091.Publishing{
		ContentType: "application/json",
		Body:        msg.Body,
		Headers:     headers,
	}); err != nil {
		logger.Error("Failed to publish to retry queue", "retry_queue", retryName, "err", err)
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
}
