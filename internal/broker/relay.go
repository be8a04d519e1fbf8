package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"warden/internal/domain"
)

const (
	// InboxChannel carries messages from collectors running in other processes.
	InboxChannel        = "warden:broker:inbox"
	relayPublishTimeout = 5 * time.Second
	relayBackoff        = time.Second
)

// Relay feeds messages published on redis into a broker.
type Relay struct {
	client  *redis.Client
	broker  *Broker
	channel string
}

func NewRelay(client *redis.Client, b *Broker) *Relay {
	return &Relay{client: client, broker: b, channel: InboxChannel}
}

// Run subscribes to the inbox channel until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	if r.client == nil {
		return errors.New("broker relay: redis client is nil")
	}

	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	log.Info("Broker relay listening", "channel", r.channel)

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) || ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error("Broker relay: subscription error", "error", err)
			time.Sleep(relayBackoff)
			continue
		}

		r.handlePayload(ctx, msg.Payload)
	}
}

// handlePayload dispatches one remote message. Remote senders get no reply, so
// deliveries are posted and anything else is answered into the log.
func (r *Relay) handlePayload(ctx context.Context, payload string) Reply {
	msg := ParseMessage([]byte(payload))
	if msg.Kind == KindDeliver {
		if err := r.broker.Post(ctx, msg); err != nil {
			log.Warn("Broker relay: delivery dropped", "error", err)
			return Reply{Kind: ReplyError, Error: err.Error()}
		}
		return Reply{Kind: ReplyAccepted}
	}

	reply, err := r.broker.Request(ctx, msg)
	if err != nil {
		log.Warn("Broker relay: request failed", "kind", msg.Kind.String(), "error", err)
		return Reply{Kind: ReplyError, Error: err.Error()}
	}
	log.Debug("Broker relay: handled message", "kind", msg.Kind.String(), "reply", string(reply.Kind))
	return reply
}

// RedisForwarder publishes records to a remote broker's inbox.
type RedisForwarder struct {
	client  *redis.Client
	channel string
}

func NewRedisForwarder(client *redis.Client) *RedisForwarder {
	return &RedisForwarder{client: client, channel: InboxChannel}
}

func (f *RedisForwarder) Forward(ctx context.Context, record domain.ReputationRecord) error {
	payload, err := EncodeDelivery(record)
	if err != nil {
		return fmt.Errorf("broker relay: encode record: %w", err)
	}

	opCtx, cancel := context.WithTimeout(ctx, relayPublishTimeout)
	defer cancel()

	if err := f.client.Publish(opCtx, f.channel, payload).Err(); err != nil {
		return fmt.Errorf("%w: broker relay publish: %w", domain.ErrTransport, err)
	}
	return nil
}
