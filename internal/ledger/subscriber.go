package ledger

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// ChangeChannel is the Redis channel the record stores publish change events on.
const ChangeChannel = "ledger.changes"

// Subscriber feeds change events published on Redis into the intake.
type Subscriber struct {
	client  *redis.Client
	intake  *Intake
	channel string
	logger  *slog.Logger
}

// NewSubscriber builds a subscriber. An empty channel selects ChangeChannel.
func NewSubscriber(client *redis.Client, intake *Intake, channel string, logger *slog.Logger) *Subscriber {
	if channel == "" {
		channel = ChangeChannel
	}
	if logger == nil {
		logger = slog.Default().With("component", "ledger.subscriber")
	}
	return &Subscriber{client: client, intake: intake, channel: channel, logger: logger}
}

// Listen subscribes and processes messages until ctx is cancelled. Malformed messages are
// logged and skipped.
func (s *Subscriber) Listen(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	pubsub := s.client.Subscribe(ctx, s.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				s.handle(ctx, msg.Payload)
			}
		}
	}()
	return nil
}

func (s *Subscriber) handle(ctx context.Context, payload string) {
	var evt ChangeEvent
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		s.logger.Warn("malformed change event", "channel", s.channel, "error", err)
		return
	}
	if _, err := s.intake.Accept(ctx, evt); err != nil {
		attrs := append(shared.ErrorAttrs(err), "event_id", evt.EventID)
		s.logger.Error("change event rejected", attrs...)
	}
}
