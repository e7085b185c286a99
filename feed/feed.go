// Package feed implements the change-feed and broadcast-channel
// collaborators over Redis pub/sub. Each board gets one channel per
// entity type for row changes and one channel for presence traffic.
package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"boardsync/domain"
	"boardsync/subscription"
)

// Redis delivers feed events over Redis pub/sub. Delivery is
// at-least-once from the subscriber's point of view; the store's merge
// rules absorb duplicates.
type Redis struct {
	client *redis.Client
	logger *log.Logger
}

// NewRedis wraps a Redis client as a change feed.
func NewRedis(client *redis.Client, logger *log.Logger) *Redis {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Redis{client: client, logger: logger}
}

func changeChannel(boardID string, entity domain.EntityType) string {
	return "board:" + boardID + ":" + string(entity)
}

type handle struct {
	sub    *redis.PubSub
	cancel context.CancelFunc
}

func (h *handle) Unsubscribe() error {
	h.cancel()
	return h.sub.Close()
}

// Subscribe opens the channel for one entity type on one board and
// invokes fn for every decoded event. The subscription is confirmed
// before Subscribe returns, so a publish immediately afterwards is not
// lost.
func (r *Redis) Subscribe(ctx context.Context, boardID string, entity domain.EntityType, fn func(domain.FeedEvent)) (subscription.Handle, error) {
	channel := changeChannel(boardID, entity)
	sub := r.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	loopCtx, cancel := context.WithCancel(ctx)
	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-loopCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev domain.FeedEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					r.logger.WithField("channel", channel).Warnf("unable to parse notification: %v", err)
					continue
				}
				fn(ev)
			}
		}
	}()
	return &handle{sub: sub, cancel: cancel}, nil
}

// Publish fans a feed event out to every subscriber of the board's
// channel for that entity type. The storage layer calls this after a
// successful write so peers (and the writer itself) receive the echo.
func (r *Redis) Publish(ctx context.Context, boardID string, entity domain.EntityType, ev domain.FeedEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal feed event: %w", err)
	}
	if err := r.client.Publish(ctx, changeChannel(boardID, entity), data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", changeChannel(boardID, entity), err)
	}
	return nil
}
