package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// RedisBridge carries emitted frames between processes over one Redis pub/sub
// channel. Without it delivery is process-local.
type RedisBridge struct {
	client    *redis.Client
	channel   string
	retry     time.Duration
	readyOnce sync.Once
	ready     chan struct{}
}

func NewRedisBridge(client *redis.Client, channel string) *RedisBridge {
	return &RedisBridge{
		client:  client,
		channel: channel,
		retry:   time.Second,
		ready:   make(chan struct{}),
	}
}

func (b *RedisBridge) Publish(ctx context.Context, msg BusMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode bus message: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("publish bus message: %w", err)
	}
	return nil
}

// Ready is closed once the first subscription is confirmed.
func (b *RedisBridge) Ready() <-chan struct{} {
	return b.ready
}

// Run subscribes to the channel and hands every message to deliver until ctx
// is done. A dropped subscription is re-established after a short pause.
func (b *RedisBridge) Run(ctx context.Context, deliver func(BusMessage)) {
	for {
		b.consume(ctx, deliver)
		if ctx.Err() != nil {
			return
		}
		log.WithField("channel", b.channel).Warn("realtime subscription closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(b.retry):
		}
	}
}

func (b *RedisBridge) consume(ctx context.Context, deliver func(BusMessage)) {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() == nil {
			log.WithError(err).WithField("channel", b.channel).Error("realtime subscribe failed")
		}
		return
	}
	b.readyOnce.Do(func() { close(b.ready) })

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var bus BusMessage
			if err := json.Unmarshal([]byte(msg.Payload), &bus); err != nil {
				log.WithError(err).Warn("unable to parse bus message")
				continue
			}
			deliver(bus)
		}
	}
}
