package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/flarexio/repochat"
)

// Job asks a worker to re-ingest the repository.
type Job struct {
	ID          string                 `json:"id"`
	Options     repochat.IngestOptions `json:"options"`
	RequestedAt time.Time              `json:"requested_at"`
}

func Dial(ctx context.Context, url string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq failed: %w", err)
	}

	checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		ch, err := conn.Channel()
		if err != nil {
			done <- err
			return
		}

		done <- ch.Close()
	}()

	select {
	case <-checkCtx.Done():
		conn.Close()
		return nil, fmt.Errorf("rabbitmq health check timeout: %w", checkCtx.Err())

	case err := <-done:
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("open rabbitmq channel failed: %w", err)
		}

		return conn, nil
	}
}

func declare(ch *amqp.Channel, queue string) error {
	_, err := ch.QueueDeclare(
		queue,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue failed: %w", err)
	}

	return nil
}

type Publisher struct {
	conn  *amqp.Connection
	queue string
}

func NewPublisher(conn *amqp.Connection, queue string) *Publisher {
	return &Publisher{conn, queue}
}

// Publish enqueues an ingestion job and returns its id.
func (p *Publisher) Publish(ctx context.Context, opts repochat.IngestOptions) (string, error) {
	ch, err := p.conn.Channel()
	if err != nil {
		return "", fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	defer ch.Close()

	if err := declare(ch, p.queue); err != nil {
		return "", err
	}

	job := Job{
		ID:          uuid.NewString(),
		Options:     opts,
		RequestedAt: time.Now().UTC(),
	}

	payload, err := json.Marshal(&job)
	if err != nil {
		return "", fmt.Errorf("marshal job failed: %w", err)
	}

	err = ch.PublishWithContext(ctx,
		"",
		p.queue,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    job.ID,
			Timestamp:    job.RequestedAt,
			Body:         payload,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return "", fmt.Errorf("publish job failed: %w", err)
	}

	return job.ID, nil
}
