// Package redischannel implements the realtime channel transport over Redis:
// presence records live in a per-channel hash, join/leave/insert events
// travel over pub/sub, and sync snapshots are rebuilt from the hash on a
// timer. This is what the agent runs against in production.
package redischannel

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/abuccarelli/Unicorn1/internal/realtime"
	"github.com/abuccarelli/Unicorn1/pkg/logger"
)

// presenceTTL bounds how long a crashed client's record survives in the
// hash. The engines apply their own, much tighter staleness threshold; this
// only keeps the hash itself from accumulating garbage.
const presenceTTL = 2 * time.Minute

const defaultSyncInterval = 5 * time.Second

// payload is the wire format published on a channel topic.
type payload struct {
	Event string          `json:"event"` // "join", "leave" or "insert"
	Meta  realtime.Meta   `json:"meta,omitempty"`
	Row   json.RawMessage `json:"row,omitempty"`
}

type Transport struct {
	rdb          *redis.Client
	syncInterval time.Duration
}

func New(rdb *redis.Client) *Transport {
	return &Transport{rdb: rdb, syncInterval: defaultSyncInterval}
}

func (t *Transport) Channel(name string) realtime.Channel {
	return &Channel{
		rdb:          t.rdb,
		name:         name,
		instanceID:   uuid.New().String(),
		syncInterval: t.syncInterval,
	}
}

// PublishInsert surfaces a freshly inserted row to the channel's
// subscribers. Implements realtime.Publisher for the store.
func (t *Transport) PublishInsert(ctx context.Context, channel string, row any) error {
	rowJSON, err := json.Marshal(row)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(payload{Event: "insert", Row: rowJSON})
	if err != nil {
		return err
	}
	return t.rdb.Publish(ctx, topicKey(channel), msg).Err()
}

func topicKey(name string) string    { return "chan:" + name }
func presenceKey(name string) string { return "chan:" + name + ":presence" }

type Channel struct {
	rdb          *redis.Client
	name         string
	instanceID   string
	syncInterval time.Duration

	mu         sync.Mutex
	events     chan realtime.Event
	pubsub     *redis.PubSub
	cancel     context.CancelFunc
	subscribed bool
}

func (c *Channel) Subscribe(ctx context.Context) error {
	// Tear down first so a resubscribe never leaks a second pump.
	_ = c.Unsubscribe()

	pubsub := c.rdb.Subscribe(ctx, topicKey(c.name))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}

	events := make(chan realtime.Event, 64)
	pumpCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.pubsub = pubsub
	c.events = events
	c.cancel = cancel
	c.subscribed = true
	c.mu.Unlock()

	// Initial sync so the subscriber sees who is already tracked.
	if state, err := c.snapshot(ctx); err == nil {
		events <- realtime.Event{Kind: realtime.PresenceSync, State: state}
	} else {
		logger.Warn().Err(err).Str("channel", c.name).Msg("Initial presence snapshot failed")
	}

	go c.pump(pumpCtx, pubsub, events)
	return nil
}

func (c *Channel) Unsubscribe() error {
	c.mu.Lock()
	if !c.subscribed {
		c.mu.Unlock()
		return nil
	}
	c.subscribed = false
	pubsub := c.pubsub
	cancel := c.cancel
	c.pubsub = nil
	c.cancel = nil
	c.events = nil
	c.mu.Unlock()

	_ = c.Untrack(context.Background())
	cancel()
	return pubsub.Close()
}

func (c *Channel) Track(ctx context.Context, meta realtime.Meta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	key := presenceKey(c.name)
	pipe := c.rdb.Pipeline()
	pipe.HSet(ctx, key, c.instanceID, data)
	pipe.Expire(ctx, key, presenceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	return c.publish(ctx, payload{Event: "join", Meta: meta})
}

func (c *Channel) Untrack(ctx context.Context) error {
	key := presenceKey(c.name)

	raw, err := c.rdb.HGet(ctx, key, c.instanceID).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	if err := c.rdb.HDel(ctx, key, c.instanceID).Err(); err != nil {
		return err
	}

	var meta realtime.Meta
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		meta = realtime.Meta{}
	}
	return c.publish(ctx, payload{Event: "leave", Meta: meta})
}

func (c *Channel) Events() <-chan realtime.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.events == nil {
		closed := make(chan realtime.Event)
		close(closed)
		return closed
	}
	return c.events
}

func (c *Channel) publish(ctx context.Context, p payload) error {
	msg, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.rdb.Publish(ctx, topicKey(c.name), msg).Err()
}

func (c *Channel) snapshot(ctx context.Context) (map[string][]realtime.Meta, error) {
	fields, err := c.rdb.HGetAll(ctx, presenceKey(c.name)).Result()
	if err != nil {
		return nil, err
	}

	state := make(map[string][]realtime.Meta, len(fields))
	for instance, raw := range fields {
		var meta realtime.Meta
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			logger.Warn().Str("channel", c.name).Str("instance", instance).Msg("Dropping undecodable presence record")
			continue
		}
		state[instance] = []realtime.Meta{meta}
	}
	return state, nil
}

// pump translates pub/sub traffic into typed events and refreshes the sync
// snapshot on a timer. It owns the events chan and closes it on exit.
func (c *Channel) pump(ctx context.Context, pubsub *redis.PubSub, events chan realtime.Event) {
	defer close(events)

	ticker := time.NewTicker(c.syncInterval)
	defer ticker.Stop()

	msgs := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			state, err := c.snapshot(ctx)
			if err != nil {
				logger.Warn().Err(err).Str("channel", c.name).Msg("Presence snapshot failed")
				continue
			}
			deliver(events, realtime.Event{Kind: realtime.PresenceSync, State: state})

		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var p payload
			if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
				logger.Warn().Err(err).Str("channel", c.name).Msg("Dropping undecodable channel payload")
				continue
			}
			switch p.Event {
			case "join":
				deliver(events, realtime.Event{Kind: realtime.PresenceJoin, Meta: p.Meta})
			case "leave":
				deliver(events, realtime.Event{Kind: realtime.PresenceLeave, Meta: p.Meta})
			case "insert":
				deliver(events, realtime.Event{Kind: realtime.RowInserted, Row: p.Row})
			}
		}
	}
}

// deliver drops on a full buffer rather than stall the pump; consumers catch
// up from the next sync.
func deliver(events chan realtime.Event, ev realtime.Event) {
	select {
	case events <- ev:
	default:
	}
}
