package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/abuccarelli/Unicorn1/internal/models"
	"github.com/abuccarelli/Unicorn1/pkg/logger"
	"github.com/abuccarelli/Unicorn1/pkg/retry"
)

// FeedConfig tunes the notification feed.
type FeedConfig struct {
	Retry retry.Policy

	// OnChange, if set, fires after the cached feed changes.
	OnChange func()
}

func DefaultFeedConfig() FeedConfig {
	return FeedConfig{Retry: retry.DefaultPolicy()}
}

// Feed is the signed-in user's notification list: initial fetch, live
// refresh on row events, and read-state updates mirrored into the local
// cache so the bell count is correct without a refetch.
type Feed struct {
	userID    string
	store     NotificationStore
	transport Transport
	cfg       FeedConfig
	log       zerolog.Logger

	mu     sync.Mutex
	ch     Channel
	items  []models.Notification
	closed bool
}

func NewFeed(userID string, store NotificationStore, transport Transport, cfg FeedConfig) *Feed {
	return &Feed{userID: userID, store: store, transport: transport, cfg: cfg, log: logger.With("feed")}
}

// Open loads the feed and subscribes to the user's notification channel.
// Both steps retry within bounds; a load failure is returned as FetchError,
// a subscription failure as TransportError with the fetched feed kept.
func (f *Feed) Open(ctx context.Context) error {
	if err := f.Refresh(ctx); err != nil {
		return err
	}

	name := notificationsChannel(f.userID)
	ch := f.transport.Channel(name)
	err := f.cfg.Retry.Do(ctx, "feed subscribe", func(ctx context.Context) error {
		return ch.Subscribe(ctx)
	})
	if err != nil {
		f.log.Error().Err(err).Msg("Notification feed subscription failed")
		return &TransportError{Op: "subscribe", Channel: name, Err: err}
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		_ = ch.Unsubscribe()
		return ErrConversationClosed
	}
	old := f.ch
	f.ch = ch
	f.mu.Unlock()
	if old != nil {
		_ = old.Unsubscribe()
	}

	go f.receive(ch)
	return nil
}

// Refresh refetches the whole feed, newest first.
func (f *Feed) Refresh(ctx context.Context) error {
	var items []models.Notification
	err := f.cfg.Retry.Do(ctx, "feed fetch", func(ctx context.Context) error {
		var ferr error
		items, ferr = f.store.ListForUser(ctx, f.userID)
		return ferr
	})
	if err != nil {
		return &FetchError{Err: err}
	}

	f.mu.Lock()
	f.items = items
	f.mu.Unlock()
	f.changed()
	return nil
}

// Items returns a snapshot of the feed.
func (f *Feed) Items() []models.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Notification, len(f.items))
	copy(out, f.items)
	return out
}

// Counts returns total and unread notification counts.
func (f *Feed) Counts() (total, unread int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range f.items {
		if !n.Read {
			unread++
		}
	}
	return len(f.items), unread
}

// MarkRead marks one notification read, mirroring into the local cache.
func (f *Feed) MarkRead(ctx context.Context, id string) error {
	if err := f.store.MarkRead(ctx, f.userID, id); err != nil {
		return err
	}

	f.mu.Lock()
	for i := range f.items {
		if f.items[i].ID == id {
			f.items[i].Read = true
			break
		}
	}
	f.mu.Unlock()
	f.changed()
	return nil
}

// MarkAllRead marks the whole feed read.
func (f *Feed) MarkAllRead(ctx context.Context) error {
	if err := f.store.MarkAllRead(ctx, f.userID); err != nil {
		return err
	}

	f.mu.Lock()
	for i := range f.items {
		f.items[i].Read = true
	}
	f.mu.Unlock()
	f.changed()
	return nil
}

// Close stops the live subscription. Idempotent.
func (f *Feed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	ch := f.ch
	f.ch = nil
	f.mu.Unlock()

	if ch != nil {
		if err := ch.Unsubscribe(); err != nil {
			f.log.Warn().Err(err).Msg("Feed unsubscribe failed during close")
		}
	}
}

func (f *Feed) receive(ch Channel) {
	for ev := range ch.Events() {
		if ev.Kind != RowInserted {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := f.Refresh(ctx); err != nil {
			f.log.Warn().Err(err).Msg("Feed refresh after row event failed")
		}
		cancel()
	}
}

func (f *Feed) changed() {
	if f.cfg.OnChange != nil {
		f.cfg.OnChange()
	}
}
