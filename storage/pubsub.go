package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// DefaultChannelPrefix prefixes the Redis channel of every document path.
const DefaultChannelPrefix = "projex:doc:"

// PubSubStore adds change notifications to a Backend. Every successful write
// is announced on a Redis channel named after the document path, and
// subscribers re-read the document when an announcement arrives, so writes
// from other service instances are observed too.
type PubSubStore struct {
	Backend
	redis  *redis.Client
	prefix string
	logger *log.Logger
}

// NewPubSubStore wraps base. An empty prefix selects DefaultChannelPrefix.
func NewPubSubStore(base Backend, client *redis.Client, prefix string, logger *log.Logger) *PubSubStore {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &PubSubStore{Backend: base, redis: client, prefix: prefix, logger: logger}
}

func (p *PubSubStore) Set(ctx context.Context, path Path, doc Document, opts SetOptions) error {
	if err := p.Backend.Set(ctx, path, doc, opts); err != nil {
		return err
	}
	p.announce(ctx, path)
	return nil
}

func (p *PubSubStore) Update(ctx context.Context, path Path, fields Document) error {
	if err := p.Backend.Update(ctx, path, fields); err != nil {
		return err
	}
	p.announce(ctx, path)
	return nil
}

func (p *PubSubStore) Delete(ctx context.Context, path Path) error {
	if err := p.Backend.Delete(ctx, path); err != nil {
		return err
	}
	p.announce(ctx, path)
	return nil
}

// Subscribe implements Store.
func (p *PubSubStore) Subscribe(ctx context.Context, path Path, fn func(Document)) (func(), error) {
	if err := path.Validate(); err != nil {
		return nil, err
	}
	channel := p.channel(path)
	ps := p.redis.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", path, err)
	}
	doc, err := p.Backend.Get(ctx, path)
	if err != nil {
		_ = ps.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	s := newSubscriber(ctx, fn)
	s.push(doc)
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.listen(ctx, ps, path, s)
	}()

	return func() {
		cancel()
		<-done
		s.stop()
	}, nil
}

// listen re-reads the document on every announcement and reconnects when the
// channel closes.
func (p *PubSubStore) listen(ctx context.Context, ps *redis.PubSub, path Path, s *subscriber) {
	channel := p.channel(path)
	for {
		ch := ps.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = ps.Close()
				return
			case _, ok := <-ch:
				if !ok {
					break recv
				}
				doc, err := p.Backend.Get(ctx, path)
				if err != nil {
					if ctx.Err() == nil {
						p.logger.WithError(err).WithField("path", path.String()).Error("reload document")
					}
					continue
				}
				s.push(doc)
			}
		}
		_ = ps.Close()
		if ctx.Err() != nil {
			return
		}
		p.logger.WithField("channel", channel).Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
		ps = p.redis.Subscribe(ctx, channel)
	}
}

func (p *PubSubStore) announce(ctx context.Context, path Path) {
	if err := p.redis.Publish(ctx, p.channel(path), path.String()).Err(); err != nil {
		p.logger.WithError(err).WithField("path", path.String()).Warn("publish change")
	}
}

func (p *PubSubStore) channel(path Path) string {
	return p.prefix + path.String()
}
