package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nugacorp/device-jobs/internal/domain"
)

// Publisher sends a message body to the broker
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// BrokerNotifier publishes job.created wake-ups through a Publisher
type BrokerNotifier struct {
	publisher Publisher
	timeout   time.Duration
}

// NewBrokerNotifier creates a notifier whose publishes give up after timeout
func NewBrokerNotifier(publisher Publisher, timeout time.Duration) *BrokerNotifier {
	return &BrokerNotifier{publisher: publisher, timeout: timeout}
}

// JobCreated publishes a JobCreatedEvent for job
func (n *BrokerNotifier) JobCreated(ctx context.Context, job *domain.Job) error {
	body, err := json.Marshal(domain.JobCreatedEvent{
		JobID:    job.ID,
		TenantID: job.TenantID,
		Action:   job.Action,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal job event: %w", err)
	}

	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	return n.publisher.PublishWithRetry(ctx, body, "application/json")
}
