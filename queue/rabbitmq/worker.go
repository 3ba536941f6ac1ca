package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/flarexio/repochat"
)

// Worker consumes ingestion jobs one at a time. A failed job is dropped
// rather than requeued; the previous index keeps serving.
type Worker struct {
	conn     *amqp.Connection
	ingester repochat.Ingester
	queue    string
	log      *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWorker(conn *amqp.Connection, ingester repochat.Ingester, queue string) *Worker {
	log := zap.L().With(
		zap.String("component", "worker"),
		zap.String("queue", queue),
	)

	return &Worker{
		conn:     conn,
		ingester: ingester,
		queue:    queue,
		log:      log,
	}
}

func (w *Worker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	if err := declare(ch, w.queue); err != nil {
		ch.Close()
		cancel()
		return err
	}

	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		cancel()
		return fmt.Errorf("set worker qos failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return

			case d, ok := <-deliveries:
				if !ok {
					return
				}

				if err := w.handleDelivery(workerCtx, d.Body); err != nil {
					d.Nack(false, false)
					continue
				}

				d.Ack(false)
			}
		}
	}()

	w.log.Info("worker started")

	return nil
}

func (w *Worker) handleDelivery(ctx context.Context, body []byte) error {
	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		w.log.Error("decode job failed", zap.Error(err))
		return err
	}

	log := w.log.With(zap.String("job", job.ID))

	report, err := w.ingester.Ingest(ctx, job.Options)
	if err != nil {
		log.Error("ingestion failed", zap.Error(err))
		return err
	}

	log.Info("job done",
		zap.String("revision", report.Revision),
		zap.Int("indexed", report.Indexed),
	)

	return nil
}

func (w *Worker) Close() {
	if w.cancel != nil {
		w.cancel()
	}

	w.wg.Wait()
}
