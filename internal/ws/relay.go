package ws

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	relayChannelPrefix = "chat:room:"

	relayKindFrame      = "frame"
	relayKindRevalidate = "revalidate"

	relayPublishTimeout = 500 * time.Millisecond
	relayBackoff        = 5 * time.Second
)

type relayEnvelope struct {
	Node           string          `json:"node"`
	Kind           string          `json:"kind,omitempty"`
	ConversationID string          `json:"conversation_id"`
	Exclude        string          `json:"exclude,omitempty"`
	Frame          json.RawMessage `json:"frame,omitempty"`
}

// RedisRelay routes room frames through one Redis channel per conversation.
// Every node, the publishing one included, delivers from the channel, so all
// sockets see a room's frames in the order Redis accepted them. It is live
// fan-out only; nothing is replayed.
//
// While the subscription is down, or for a short backoff after a failed
// publish, Send declines and the hub delivers locally.
type RedisRelay struct {
	client  *redis.Client
	publish func(ctx context.Context, channel string, body []byte) error
	hub     *Hub
	nodeID  string
	now     func() time.Time

	subscribed atomic.Bool

	mu            sync.Mutex
	degradedUntil time.Time
}

// NewRedisRelay connects to redisURL and verifies the connection.
func NewRedisRelay(ctx context.Context, redisURL string, hub *Hub) (*RedisRelay, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &RedisRelay{
		client: client,
		publish: func(ctx context.Context, channel string, body []byte) error {
			return client.Publish(ctx, channel, body).Err()
		},
		hub:    hub,
		nodeID: uuid.NewString(),
		now:    time.Now,
	}, nil
}

// Send publishes a room frame for every node.
func (r *RedisRelay) Send(conversationID string, frame []byte, excludeConnID string) bool {
	return r.send(relayEnvelope{Kind: relayKindFrame, ConversationID: conversationID, Exclude: excludeConnID, Frame: frame})
}

// Revalidate asks the other nodes to recheck who may stay in the room.
func (r *RedisRelay) Revalidate(conversationID string) bool {
	return r.send(relayEnvelope{Kind: relayKindRevalidate, ConversationID: conversationID})
}

func (r *RedisRelay) send(env relayEnvelope) bool {
	if !r.subscribed.Load() || r.degraded() {
		return false
	}
	env.Node = r.nodeID
	body, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("conversation_id", env.ConversationID).Msg("encode relay envelope")
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), relayPublishTimeout)
	defer cancel()
	if err := r.publish(ctx, relayChannelPrefix+env.ConversationID, body); err != nil {
		r.trip()
		log.Warn().Err(err).Str("conversation_id", env.ConversationID).Dur("backoff", relayBackoff).Msg("relay publish failed, delivering locally")
		return false
	}
	return true
}

func (r *RedisRelay) degraded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.now().Before(r.degradedUntil)
}

func (r *RedisRelay) trip() {
	r.mu.Lock()
	r.degradedUntil = r.now().Add(relayBackoff)
	r.mu.Unlock()
}

// Run receives room traffic until ctx is cancelled. Frames are handled one
// at a time in arrival order.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.PSubscribe(ctx, relayChannelPrefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	r.subscribed.Store(true)
	defer r.subscribed.Store(false)
	log.Info().Str("node_id", r.nodeID).Msg("redis relay subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(ctx, msg.Channel, msg.Payload)
		}
	}
}

func (r *RedisRelay) Close() error {
	return r.client.Close()
}

func (r *RedisRelay) handle(ctx context.Context, channel string, payload string) {
	var env relayEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		log.Warn().Err(err).Str("channel", channel).Msg("dropping malformed relay envelope")
		return
	}
	if env.ConversationID == "" {
		env.ConversationID = strings.TrimPrefix(channel, relayChannelPrefix)
	}

	switch env.Kind {
	case relayKindRevalidate:
		// the publishing node evicted its own members already
		if env.Node == r.nodeID {
			return
		}
		r.hub.RefreshRoom(ctx, env.ConversationID)
	default:
		if len(env.Frame) == 0 {
			return
		}
		r.hub.DeliverRemote(env.ConversationID, env.Frame, env.Exclude)
	}
}
