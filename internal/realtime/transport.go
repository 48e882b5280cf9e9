// Package realtime implements the presence and messaging core of the
// Unicorn1 marketplace: online/busy/offline tracking over heartbeats, typing
// indicators, per-conversation message synchronization with optimistic sends,
// and best-effort notification dispatch. Everything rides on a pluggable
// channel transport; the engines own no sockets of their own.
package realtime

import (
	"context"
	"encoding/json"
	"time"
)

// Meta is the record a client attaches to its presence on a channel. The
// presence channel carries user_id/status/last_seen; typing channels carry
// user_id/name.
type Meta map[string]string

const (
	MetaUserID   = "user_id"
	MetaStatus   = "status"
	MetaLastSeen = "last_seen"
	MetaName     = "name"
)

// EventKind discriminates transport events. Engines dispatch on the kind in a
// single receive loop rather than registering stringly-named callbacks.
type EventKind int

const (
	// PresenceSync carries an authoritative snapshot of everything tracked
	// on the channel. It supersedes any join/leave applied before it.
	PresenceSync EventKind = iota

	// PresenceJoin and PresenceLeave are incremental single-record deltas
	// applied between syncs for lower latency.
	PresenceJoin
	PresenceLeave

	// RowInserted reports a row insert the channel is filtered on, with the
	// row JSON-encoded in Row.
	RowInserted
)

func (k EventKind) String() string {
	switch k {
	case PresenceSync:
		return "presence_sync"
	case PresenceJoin:
		return "presence_join"
	case PresenceLeave:
		return "presence_leave"
	case RowInserted:
		return "row_inserted"
	}
	return "unknown"
}

// Event is the tagged union delivered on Channel.Events. Exactly the fields
// matching Kind are populated.
type Event struct {
	Kind  EventKind
	State map[string][]Meta // PresenceSync: tracker key -> records
	Meta  Meta              // PresenceJoin / PresenceLeave
	Row   json.RawMessage   // RowInserted
}

// Channel is one named pub/sub channel on the transport. Implementations must
// close the Events chan after Unsubscribe so receive loops terminate.
type Channel interface {
	// Subscribe opens the channel. It must tear down any previous
	// subscription state for the same name first so listeners never double up.
	Subscribe(ctx context.Context) error

	// Unsubscribe closes the channel. Idempotent; safe on a channel that
	// never subscribed.
	Unsubscribe() error

	// Track publishes this client's presence record on the channel,
	// replacing any record it tracked before.
	Track(ctx context.Context, meta Meta) error

	// Untrack withdraws this client's presence record. Idempotent.
	Untrack(ctx context.Context) error

	// Events delivers transport events until the channel is unsubscribed.
	Events() <-chan Event
}

// Transport hands out named channels. The same name may be requested more
// than once; each call returns an independent Channel handle.
type Transport interface {
	Channel(name string) Channel
}

// Publisher is the hook the persistence layer uses to surface row inserts as
// RowInserted events on a channel. It is the stand-in for database-side
// change feeds.
type Publisher interface {
	PublishInsert(ctx context.Context, channel string, row any) error
}

// Channel naming scheme shared by engines and transports.
const presenceChannelName = "presence"

func messagesChannel(conversationID string) string {
	return "messages:" + conversationID
}

func typingChannel(conversationID string) string {
	return "typing:" + conversationID
}

func notificationsChannel(userID string) string {
	return "notifications:" + userID
}

// MessagesChannel exposes the conversation row-event channel name to the
// store so inserts land where the sync engine listens.
func MessagesChannel(conversationID string) string { return messagesChannel(conversationID) }

// NotificationsChannel is the per-user notification row-event channel name.
func NotificationsChannel(userID string) string { return notificationsChannel(userID) }

// parseLastSeen reads the RFC3339 last_seen field out of a presence record.
// A missing or malformed timestamp reads as the zero time, which is always
// stale.
func parseLastSeen(m Meta) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, m[MetaLastSeen])
	if err != nil {
		return time.Time{}
	}
	return ts
}
