package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/nugacorp/device-jobs/internal/domain"
)

// DeliverySource is the broker side of the wake-up consumer
type DeliverySource interface {
	Qos(prefetchCount int) error
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// Consumer turns job.created notifications into worker wake-ups.
// Messages carry no work: the job row is the source of truth.
type Consumer struct {
	source        DeliverySource
	worker        *Worker
	prefetchCount int
	logger        *slog.Logger
}

// NewConsumer creates a wake-up consumer for w
func NewConsumer(source DeliverySource, w *Worker, prefetchCount int, logger *slog.Logger) *Consumer {
	return &Consumer{
		source:        source,
		worker:        w,
		prefetchCount: prefetchCount,
		logger:        logger,
	}
}

// Run consumes until ctx is canceled or the delivery channel closes
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.source.Qos(c.prefetchCount); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := c.source.Consume(c.worker.ID())
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("Wake-up consumer started",
		slog.String("consumer_tag", c.worker.ID()),
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Wake-up consumer stopped - context canceled")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("RabbitMQ delivery channel closed, relying on polling")
				return nil
			}
			c.handle(delivery)
		}
	}
}

func (c *Consumer) handle(delivery amqp.Delivery) {
	var event domain.JobCreatedEvent
	if err := json.Unmarshal(delivery.Body, &event); err != nil || event.JobID == "" {
		c.logger.Warn("Dropping malformed wake-up message",
			slog.String("body", string(delivery.Body)),
		)
		if nackErr := delivery.Nack(false, false); nackErr != nil {
			c.logger.Error("Failed to NACK malformed message",
				slog.String("error", nackErr.Error()),
			)
		}
		return
	}

	if err := delivery.Ack(false); err != nil {
		c.logger.Error("Failed to ACK wake-up message",
			slog.String("job_id", event.JobID),
			slog.String("error", err.Error()),
		)
	}

	c.logger.Debug("Wake-up received",
		slog.String("job_id", event.JobID),
		slog.String("tenant_id", event.TenantID),
	)
	c.worker.Wake()
}
