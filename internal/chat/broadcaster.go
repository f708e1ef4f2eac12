package chat

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/muhammadhasnaindev/chat/internal/metrics"
)

// Envelope is one addressed broadcast: a pre-encoded event frame plus the
// set of targets it should reach. Targets are resolved against live local
// state at delivery time, so an envelope can safely cross instances.
type Envelope struct {
	// Rooms targets every session currently subscribed to these chat rooms.
	Rooms []int64 `json:"rooms,omitempty"`
	// Users targets every live session of these users, in the room or not.
	Users []int64 `json:"users,omitempty"`
	// SessionID targets exactly one session (used for the clientId-carrying
	// copy back to an optimistic sender). Overrides Rooms/Users/All.
	SessionID string `json:"session_id,omitempty"`
	// ExcludeSession is skipped even when matched via Rooms/Users.
	ExcludeSession string `json:"exclude_session,omitempty"`
	// All targets every connected session (presence updates).
	All bool `json:"all,omitempty"`

	Frame json.RawMessage `json:"frame"`
}

// Broadcaster fans an envelope out to its targets. Publish is fire-and-forget
// per target: nothing in the core ever waits on a remote peer's response.
type Broadcaster interface {
	Publish(ctx context.Context, env Envelope) error
}

// LocalBroadcaster delivers straight into the local hub. Used for
// single-instance deployments and throughout the tests.
type LocalBroadcaster struct {
	hub *Hub
}

func NewLocalBroadcaster(hub *Hub) *LocalBroadcaster {
	return &LocalBroadcaster{hub: hub}
}

func (b *LocalBroadcaster) Publish(_ context.Context, env Envelope) error {
	b.hub.Deliver(env)
	return nil
}

// RedisBroadcaster routes every envelope through a Redis pub/sub channel so
// all server instances deliver it to their local sessions. Publishing the
// sender's own instance through Redis too keeps broadcast order identical
// for every observer.
type RedisBroadcaster struct {
	rdb     *redis.Client
	hub     *Hub
	channel string
	log     zerolog.Logger
}

func NewRedisBroadcaster(rdb *redis.Client, hub *Hub, channel string, log zerolog.Logger) *RedisBroadcaster {
	return &RedisBroadcaster{
		rdb:     rdb,
		hub:     hub,
		channel: channel,
		log:     log.With().Str("component", "broadcaster").Logger(),
	}
}

func (b *RedisBroadcaster) Publish(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}

	start := time.Now()
	err = b.rdb.Publish(ctx, b.channel, payload).Err()
	metrics.BusPublishLatency.Observe(time.Since(start).Seconds())
	return err
}

// Run subscribes to the broadcast channel and delivers every envelope to the
// local hub until the context is canceled.
func (b *RedisBroadcaster) Run(ctx context.Context) error {
	pubsub := b.rdb.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.log.Error().Err(err).Msg("dropping malformed bus envelope")
				continue
			}
			b.hub.Deliver(env)
		}
	}
}
