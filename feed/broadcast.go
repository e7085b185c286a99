package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"boardsync/presence"
)

// Broadcast carries ephemeral presence and typing traffic over a
// per-board Redis channel. Messages are never persisted anywhere.
type Broadcast struct {
	client *redis.Client
	logger *log.Logger
}

// NewBroadcast wraps a Redis client as a broadcast channel.
func NewBroadcast(client *redis.Client, logger *log.Logger) *Broadcast {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Broadcast{client: client, logger: logger}
}

func presenceChannel(boardID string) string {
	return "presence:" + boardID
}

// Broadcast publishes one presence event to everyone on the board
// channel, the sender included; trackers filter their own echo.
func (b *Broadcast) Broadcast(ctx context.Context, boardID string, ev presence.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal presence event: %w", err)
	}
	if err := b.client.Publish(ctx, presenceChannel(boardID), data).Err(); err != nil {
		return fmt.Errorf("publish presence %s: %w", boardID, err)
	}
	return nil
}

// Listen subscribes to a board's presence channel and feeds every event
// to fn, typically a Tracker's HandleEvent. The returned stop function
// releases the channel.
func (b *Broadcast) Listen(ctx context.Context, boardID string, fn func(presence.Event)) (func() error, error) {
	channel := presenceChannel(boardID)
	sub := b.client.Subscribe(ctx, channel)
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
				var ev presence.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.logger.WithField("channel", channel).Warnf("unable to parse presence event: %v", err)
					continue
				}
				fn(ev)
			}
		}
	}()
	return func() error {
		cancel()
		return sub.Close()
	}, nil
}
