package activity

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"projex/domain"
)

// Source yields queued change events.
type Source interface {
	Dequeue(ctx context.Context) (*azqueue.DequeuedMessage, error)
	Delete(ctx context.Context, id, receipt string) error
}

// Recorder stores a change event.
type Recorder interface {
	Append(ctx context.Context, ev domain.ChangeEvent) error
}

// Consumer moves change events from the queue into the activity feed.
type Consumer struct {
	source Source
	feed   Recorder
	logger *log.Logger
	idle   time.Duration
}

// NewConsumer returns a Consumer that polls source every second while the
// queue is empty.
func NewConsumer(source Source, feed Recorder, logger *log.Logger) *Consumer {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Consumer{source: source, feed: feed, logger: logger, idle: time.Second}
}

// Run processes messages until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		handled, err := c.Next(ctx)
		if err != nil {
			c.logger.WithError(err).Error("receive change event")
		}
		if handled && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.idle):
		}
	}
}

// Next processes at most one message and reports whether one was found.
// Messages that do not decode are dropped; a message whose event cannot be
// recorded stays on the queue and is retried after its visibility timeout.
func (c *Consumer) Next(ctx context.Context) (bool, error) {
	msg, err := c.source.Dequeue(ctx)
	if err != nil || msg == nil {
		return false, err
	}
	if msg.MessageID == nil || msg.PopReceipt == nil {
		return true, nil
	}

	var ev domain.ChangeEvent
	text := ""
	if msg.MessageText != nil {
		text = *msg.MessageText
	}
	if err := sonic.ConfigStd.UnmarshalFromString(text, &ev); err != nil || ev.ProjectID == "" {
		c.logger.WithField("message", *msg.MessageID).Warn("dropping malformed change event")
		return true, c.source.Delete(ctx, *msg.MessageID, *msg.PopReceipt)
	}

	if err := c.feed.Append(ctx, ev); err != nil {
		return true, err
	}
	c.logger.WithFields(log.Fields{
		"project": ev.ProjectID,
		"event":   ev.Type,
		"entity":  ev.EntityID,
	}).Debug("recorded activity")
	return true, c.source.Delete(ctx, *msg.MessageID, *msg.PopReceipt)
}
