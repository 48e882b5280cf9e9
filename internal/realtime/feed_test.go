package realtime_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abuccarelli/Unicorn1/internal/models"
	"github.com/abuccarelli/Unicorn1/internal/realtime"
	"github.com/abuccarelli/Unicorn1/internal/transport/memchannel"
)

func testFeed(userID string, store *fakeNotificationStore, transport *memchannel.Transport) *realtime.Feed {
	return realtime.NewFeed(userID, store, transport, realtime.FeedConfig{Retry: testRetry()})
}

func seedNotification(t *testing.T, store *fakeNotificationStore, userID, link string) models.Notification {
	t.Helper()
	n := &models.Notification{
		UserID:  userID,
		Type:    models.NotificationTypeMessage,
		Title:   "New Message",
		Content: "You have a new message",
		Link:    link,
	}
	require.NoError(t, store.Insert(context.Background(), n))
	return *n
}

func TestFeedOpenLoadsOwnNotifications(t *testing.T) {
	transport := memchannel.New()
	store := newFakeNotificationStore(nil)
	seedNotification(t, store, "u1", "/messages/c1")
	seedNotification(t, store, "u1", "/messages/c2")
	seedNotification(t, store, "u2", "/messages/c3")

	feed := testFeed("u1", store, transport)
	defer feed.Close()

	require.NoError(t, feed.Open(context.Background()))

	items := feed.Items()
	require.Len(t, items, 2)
	for _, n := range items {
		assert.Equal(t, "u1", n.UserID)
	}
	total, unread := feed.Counts()
	assert.Equal(t, 2, total)
	assert.Equal(t, 2, unread)
}

func TestFeedRefreshesOnLiveInsert(t *testing.T) {
	transport := memchannel.New()
	store := newFakeNotificationStore(transport)

	feed := testFeed("u1", store, transport)
	defer feed.Close()

	require.NoError(t, feed.Open(context.Background()))
	total, _ := feed.Counts()
	assert.Equal(t, 0, total)

	seedNotification(t, store, "u1", "/messages/c1")

	assert.Eventually(t, func() bool {
		total, unread := feed.Counts()
		return total == 1 && unread == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFeedMarkReadMirrorsLocally(t *testing.T) {
	transport := memchannel.New()
	store := newFakeNotificationStore(nil)
	first := seedNotification(t, store, "u1", "/messages/c1")
	seedNotification(t, store, "u1", "/messages/c2")

	feed := testFeed("u1", store, transport)
	defer feed.Close()
	require.NoError(t, feed.Open(context.Background()))

	require.NoError(t, feed.MarkRead(context.Background(), first.ID))

	// The cache updates without a refetch.
	_, unread := feed.Counts()
	assert.Equal(t, 1, unread)
	for _, n := range feed.Items() {
		if n.ID == first.ID {
			assert.True(t, n.Read)
		}
	}

	require.NoError(t, feed.MarkAllRead(context.Background()))
	_, unread = feed.Counts()
	assert.Equal(t, 0, unread)
}

func TestFeedOpenFetchFailure(t *testing.T) {
	transport := memchannel.New()
	store := newFakeNotificationStore(nil)
	store.listErr = errors.New("db down")

	feed := testFeed("u1", store, transport)
	defer feed.Close()

	var fetchErr *realtime.FetchError
	require.ErrorAs(t, feed.Open(context.Background()), &fetchErr)
}

func TestFeedSubscribeFailureKeepsFetchedFeed(t *testing.T) {
	transport := memchannel.New()
	store := newFakeNotificationStore(nil)
	seedNotification(t, store, "u1", "/messages/c1")
	transport.SetError(realtime.NotificationsChannel("u1"), errors.New("socket refused"))

	feed := testFeed("u1", store, transport)
	defer feed.Close()

	var transportErr *realtime.TransportError
	require.ErrorAs(t, feed.Open(context.Background()), &transportErr)

	total, _ := feed.Counts()
	assert.Equal(t, 1, total)
}

func TestNotifierDedupWindow(t *testing.T) {
	store := newFakeNotificationStore(nil)
	notifier := realtime.NewNotifier(store, realtime.NotifierConfig{
		DedupWindow: 10 * time.Second,
		Retry:       testRetry(),
	})

	notifier.Notify(context.Background(), "u2", "c1")
	notifier.Notify(context.Background(), "u2", "c1")
	notifier.Notify(context.Background(), "u2", "c1")
	assert.Equal(t, 1, store.insertCount())

	// A different conversation is a different bell.
	notifier.Notify(context.Background(), "u2", "c2")
	assert.Equal(t, 2, store.insertCount())

	// Once the recipient reads the notification, the next message may ring
	// again even inside the window.
	items, _ := store.ListForUser(context.Background(), "u2")
	for _, n := range items {
		require.NoError(t, store.MarkRead(context.Background(), "u2", n.ID))
	}
	notifier.Notify(context.Background(), "u2", "c1")
	assert.Equal(t, 3, store.insertCount())
}

func TestNotifierAbsorbsStoreFailure(t *testing.T) {
	store := newFakeNotificationStore(nil)
	store.insertErr = errors.New("db down")
	notifier := realtime.NewNotifier(store, realtime.NotifierConfig{
		DedupWindow: 10 * time.Second,
		Retry:       testRetry(),
	})

	// Must not panic or block; dispatch is best-effort.
	notifier.Notify(context.Background(), "u2", "c1")
	assert.Equal(t, 0, store.insertCount())
}
