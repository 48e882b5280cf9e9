// Package memchannel is an in-process implementation of the realtime channel
// transport: named channels with presence tracking and row-event fan-out,
// all inside one process. The engine tests run on it, and the agent can run
// on it with -transport=memory when no Redis is around.
package memchannel

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/abuccarelli/Unicorn1/internal/realtime"
)

// Transport is an in-memory channel registry. Channels with the same name
// share presence state and events.
type Transport struct {
	mu   sync.Mutex
	hubs map[string]*hub
	errs map[string]error
}

func New() *Transport {
	return &Transport{
		hubs: make(map[string]*hub),
		errs: make(map[string]error),
	}
}

// Channel returns a fresh handle onto the named channel.
func (t *Transport) Channel(name string) realtime.Channel {
	return &Channel{transport: t, hub: t.hub(name)}
}

// PublishInsert fans a row-insert event out to the channel's subscribers.
// Implements realtime.Publisher for the store.
func (t *Transport) PublishInsert(ctx context.Context, channel string, row any) error {
	payload, err := json.Marshal(row)
	if err != nil {
		return err
	}
	t.hub(channel).broadcast(realtime.Event{Kind: realtime.RowInserted, Row: payload})
	return nil
}

// Sync forces a presence sync broadcast on the named channel. The hub also
// syncs after every track/untrack; this exists for reconciliation tests and
// for periodic refreshes.
func (t *Transport) Sync(name string) {
	h := t.hub(name)
	h.broadcast(realtime.Event{Kind: realtime.PresenceSync, State: h.snapshot()})
}

// SetError makes every Subscribe/Track on the named channel fail with err
// until cleared with a nil err. Used to simulate transport outages.
func (t *Transport) SetError(name string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err == nil {
		delete(t.errs, name)
		return
	}
	t.errs[name] = err
}

func (t *Transport) errFor(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errs[name]
}

func (t *Transport) hub(name string) *hub {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.hubs[name]
	if !ok {
		h = &hub{
			name:     name,
			presence: make(map[*Channel]presenceSlot),
			subs:     make(map[*Channel]chan realtime.Event),
		}
		t.hubs[name] = h
	}
	return h
}

type presenceSlot struct {
	key  string
	meta realtime.Meta
}

type hub struct {
	name string

	mu       sync.Mutex
	nextKey  int
	presence map[*Channel]presenceSlot
	subs     map[*Channel]chan realtime.Event
}

func (h *hub) broadcast(ev realtime.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcastLocked(ev)
}

func (h *hub) broadcastLocked(ev realtime.Event) {
	for _, ch := range h.subs {
		// Drop on a full buffer rather than block the publisher; slow
		// consumers resync from the next event.
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *hub) snapshot() map[string][]realtime.Meta {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked()
}

func (h *hub) snapshotLocked() map[string][]realtime.Meta {
	state := make(map[string][]realtime.Meta, len(h.presence))
	for _, slot := range h.presence {
		state[slot.key] = []realtime.Meta{slot.meta}
	}
	return state
}

// Channel is one handle onto a hub. Subscribe before Track, as with the real
// transport.
type Channel struct {
	transport *Transport
	hub       *hub

	mu         sync.Mutex
	events     chan realtime.Event
	subscribed bool
}

func (c *Channel) Subscribe(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.transport.errFor(c.hub.name); err != nil {
		return err
	}

	c.mu.Lock()
	if c.subscribed {
		c.mu.Unlock()
		_ = c.Unsubscribe()
		c.mu.Lock()
	}
	events := make(chan realtime.Event, 64)
	c.events = events
	c.subscribed = true
	c.mu.Unlock()

	c.hub.mu.Lock()
	c.hub.subs[c] = events
	state := c.hub.snapshotLocked()
	c.hub.mu.Unlock()

	// Initial sync so new subscribers see who is already here.
	events <- realtime.Event{Kind: realtime.PresenceSync, State: state}
	return nil
}

func (c *Channel) Unsubscribe() error {
	c.mu.Lock()
	if !c.subscribed {
		c.mu.Unlock()
		return nil
	}
	c.subscribed = false
	events := c.events
	c.events = nil
	c.mu.Unlock()

	c.hub.mu.Lock()
	delete(c.hub.subs, c)
	c.hub.mu.Unlock()

	_ = c.Untrack(context.Background())
	close(events)
	return nil
}

func (c *Channel) Track(ctx context.Context, meta realtime.Meta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.transport.errFor(c.hub.name); err != nil {
		return err
	}

	c.hub.mu.Lock()
	slot, ok := c.hub.presence[c]
	if !ok {
		c.hub.nextKey++
		slot.key = c.hub.name + "/" + strconv.Itoa(c.hub.nextKey)
	}
	slot.meta = meta
	c.hub.presence[c] = slot
	c.hub.broadcastLocked(realtime.Event{Kind: realtime.PresenceJoin, Meta: meta})
	c.hub.broadcastLocked(realtime.Event{Kind: realtime.PresenceSync, State: c.hub.snapshotLocked()})
	c.hub.mu.Unlock()
	return nil
}

func (c *Channel) Untrack(ctx context.Context) error {
	c.hub.mu.Lock()
	slot, ok := c.hub.presence[c]
	if ok {
		delete(c.hub.presence, c)
		c.hub.broadcastLocked(realtime.Event{Kind: realtime.PresenceLeave, Meta: slot.meta})
		c.hub.broadcastLocked(realtime.Event{Kind: realtime.PresenceSync, State: c.hub.snapshotLocked()})
	}
	c.hub.mu.Unlock()
	return nil
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

