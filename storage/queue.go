package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/google/uuid"

	"projex/domain"
)

type messageQueue interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// QueuePublisher sends change events to an Azure Storage queue.
type QueuePublisher struct {
	queue messageQueue
	now   func() time.Time
}

func newQueueClient(connStr, queue string) (*azqueue.QueueClient, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	return azqueue.NewQueueClientFromConnectionString(connStr, queue, &opts)
}

// NewQueuePublisher connects to the named queue.
func NewQueuePublisher(connStr, queue string) (*QueuePublisher, error) {
	q, err := newQueueClient(connStr, queue)
	if err != nil {
		return nil, err
	}
	return &QueuePublisher{queue: q, now: time.Now}, nil
}

// Publish enqueues ev. Missing ids and timestamps are filled in.
func (p *QueuePublisher) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = p.now().UnixMilli()
	}
	data, err := codec.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := p.queue.EnqueueMessage(ctx, string(data), nil); err != nil {
		return fmt.Errorf("enqueue %s event: %w", ev.Type, err)
	}
	return nil
}

// QueueConsumer reads change events back from an Azure Storage queue.
type QueueConsumer struct {
	queue *azqueue.QueueClient
}

// NewQueueConsumer connects to the named queue.
func NewQueueConsumer(connStr, queue string) (*QueueConsumer, error) {
	q, err := newQueueClient(connStr, queue)
	if err != nil {
		return nil, err
	}
	return &QueueConsumer{queue: q}, nil
}

// Dequeue retrieves a single message, or nil when the queue is empty.
func (c *QueueConsumer) Dequeue(ctx context.Context) (*azqueue.DequeuedMessage, error) {
	resp, err := c.queue.DequeueMessage(ctx, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}
	return resp.Messages[0], nil
}

// Delete removes a processed message from the queue.
func (c *QueueConsumer) Delete(ctx context.Context, id, receipt string) error {
	_, err := c.queue.DeleteMessage(ctx, id, receipt, nil)
	return err
}
