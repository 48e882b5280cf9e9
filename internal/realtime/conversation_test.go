package realtime_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abuccarelli/Unicorn1/internal/models"
	"github.com/abuccarelli/Unicorn1/internal/realtime"
	"github.com/abuccarelli/Unicorn1/internal/transport/memchannel"
	"github.com/abuccarelli/Unicorn1/pkg/retry"
)

func testRetry() retry.Policy {
	return retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond}
}

// convEnv wires a conversation engine for one user onto shared fakes, the way
// the agent wires the real store and transport.
type convEnv struct {
	transport *memchannel.Transport
	msgs      *fakeMessageStore
	notifs    *fakeNotificationStore
	blobs     *fakeBlobStore
}

func newConvEnv() *convEnv {
	transport := memchannel.New()
	return &convEnv{
		transport: transport,
		msgs:      newFakeMessageStore(transport),
		notifs:    newFakeNotificationStore(transport),
		blobs:     &fakeBlobStore{},
	}
}

func (e *convEnv) conversation(conversationID, selfID string) *realtime.Conversation {
	notifier := realtime.NewNotifier(e.notifs, realtime.NotifierConfig{
		DedupWindow: 10 * time.Second,
		Retry:       testRetry(),
	})
	return realtime.NewConversation(conversationID, selfID, e.msgs, e.blobs, notifier, e.transport, realtime.ConversationConfig{
		Retry: testRetry(),
	})
}

func (e *convEnv) seedTwoParty() {
	e.msgs.addConversation(models.Conversation{ID: "c1", StudentID: "u1", TeacherID: "u2"})
}

func TestOpenLoadsHistoryAscending(t *testing.T) {
	env := newConvEnv()
	env.seedTwoParty()
	env.msgs.seed(models.Message{ConversationID: "c1", SenderID: "u1", Content: "first"})
	env.msgs.seed(models.Message{ConversationID: "c1", SenderID: "u2", Content: "second"})
	env.msgs.seed(models.Message{ConversationID: "other", SenderID: "u2", Content: "elsewhere"})

	conv := env.conversation("c1", "u1")
	defer conv.Close()

	require.NoError(t, conv.Open(context.Background()))

	msgs := conv.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "second", msgs[1].Content)
	assert.False(t, msgs[1].CreatedAt.Before(msgs[0].CreatedAt))

	state, err := conv.State()
	assert.Equal(t, realtime.StateReady, state)
	assert.NoError(t, err)
}

func TestOpenMarksForeignUnreadOnly(t *testing.T) {
	env := newConvEnv()
	env.seedTwoParty()
	already := time.Now().Add(-time.Hour)
	env.msgs.seed(models.Message{ID: "m-own", ConversationID: "c1", SenderID: "u1", Content: "mine"})
	env.msgs.seed(models.Message{ID: "m-read", ConversationID: "c1", SenderID: "u2", Content: "seen", ReadAt: &already})
	env.msgs.seed(models.Message{ID: "m-new", ConversationID: "c1", SenderID: "u2", Content: "unseen"})

	conv := env.conversation("c1", "u1")
	defer conv.Close()

	require.NoError(t, conv.Open(context.Background()))

	// The unread foreign message is stamped locally right away.
	for _, m := range conv.Messages() {
		if m.ID == "m-new" {
			assert.NotNil(t, m.ReadAt)
		}
	}

	// The receipt write is fire-and-forget but must land, and only for the
	// message that was actually unread and foreign.
	assert.Eventually(t, func() bool {
		return env.msgs.readAt("m-new") != nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"m-new"}, env.msgs.markedIDs())
	assert.Nil(t, env.msgs.readAt("m-own"))
	assert.Equal(t, already.Unix(), env.msgs.readAt("m-read").Unix())
}

func TestOpenFetchFailureIsTerminal(t *testing.T) {
	env := newConvEnv()
	env.msgs.listErr = errors.New("db down")

	conv := env.conversation("c1", "u1")
	defer conv.Close()

	err := conv.Open(context.Background())
	var fetchErr *realtime.FetchError
	require.ErrorAs(t, err, &fetchErr)

	state, stateErr := conv.State()
	assert.Equal(t, realtime.StateFailed, state)
	assert.Error(t, stateErr)

	// Sends against a failed session surface the load error, not a silent
	// drop.
	sendErr := conv.Send(context.Background(), "hello", nil)
	var se *realtime.SendError
	require.ErrorAs(t, sendErr, &se)
	assert.Equal(t, "open", se.Step)
}

func TestSubscribeFailureKeepsHistoryUsable(t *testing.T) {
	env := newConvEnv()
	env.seedTwoParty()
	env.msgs.seed(models.Message{ConversationID: "c1", SenderID: "u1", Content: "first"})
	env.transport.SetError(realtime.MessagesChannel("c1"), errors.New("socket refused"))

	conv := env.conversation("c1", "u1")
	defer conv.Close()

	err := conv.Open(context.Background())
	var transportErr *realtime.TransportError
	require.ErrorAs(t, err, &transportErr)

	// History fetched before the subscribe failure stays visible and the
	// session still accepts sends.
	assert.Len(t, conv.Messages(), 1)
	state, _ := conv.State()
	assert.Equal(t, realtime.StateReady, state)
	assert.NoError(t, conv.Send(context.Background(), "still works", nil))
}

func TestSendRejectsEmptyMessage(t *testing.T) {
	env := newConvEnv()
	env.seedTwoParty()

	conv := env.conversation("c1", "u1")
	defer conv.Close()
	require.NoError(t, conv.Open(context.Background()))

	assert.ErrorIs(t, conv.Send(context.Background(), "", nil), realtime.ErrEmptyMessage)
	assert.ErrorIs(t, conv.Send(context.Background(), "   \n\t", nil), realtime.ErrEmptyMessage)
	assert.Empty(t, conv.Messages())
}

func TestSendBeforeOpenRejected(t *testing.T) {
	env := newConvEnv()
	conv := env.conversation("c1", "u1")

	assert.ErrorIs(t, conv.Send(context.Background(), "hello", nil), realtime.ErrConversationClosed)
}

func TestSendConfirmsWithoutDuplicate(t *testing.T) {
	env := newConvEnv()
	env.seedTwoParty()

	conv := env.conversation("c1", "u1")
	defer conv.Close()
	require.NoError(t, conv.Open(context.Background()))

	require.NoError(t, conv.Send(context.Background(), "hello", nil))

	msgs := conv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, "u1", msgs[0].SenderID)
	assert.False(t, msgs[0].CreatedAt.IsZero())
	assert.Equal(t, 0, conv.Pending())

	// The sender's own insert also arrives on the live subscription; give it
	// time to land and verify it deduplicated against the confirmed entry.
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, conv.Messages(), 1)
	assert.Equal(t, 0, conv.Pending())

	// The conversation preview was bumped and the other party notified.
	assert.Equal(t, "hello", env.msgs.lastTouch)
	assert.Eventually(t, func() bool {
		items, _ := env.notifs.ListForUser(context.Background(), "u2")
		return len(items) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSendAttachmentOnlyUsesFallbackContent(t *testing.T) {
	env := newConvEnv()
	env.seedTwoParty()

	conv := env.conversation("c1", "u1")
	defer conv.Close()
	require.NoError(t, conv.Open(context.Background()))

	uploads := []realtime.Upload{
		{FileName: "homework.pdf", FileType: "application/pdf", FileSize: 512, Content: strings.NewReader("pdf bytes")},
		{FileName: "photo.png", FileType: "image/png", FileSize: 2048, Content: strings.NewReader("png bytes")},
	}
	require.NoError(t, conv.Send(context.Background(), "", uploads))

	msgs := conv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "📎 homework.pdf, photo.png", msgs[0].Content)
	require.Len(t, msgs[0].Attachments, 2)
	assert.Equal(t, "homework.pdf", msgs[0].Attachments[0].FileName)
	assert.Contains(t, msgs[0].Attachments[0].PublicURL, "https://files.example.com/")

	env.blobs.mu.Lock()
	uploaded := len(env.blobs.uploads)
	env.blobs.mu.Unlock()
	assert.Equal(t, 2, uploaded)
}

func TestSendRollsBackOnUploadFailure(t *testing.T) {
	env := newConvEnv()
	env.seedTwoParty()
	env.blobs.uploadErr = errors.New("disk full")

	conv := env.conversation("c1", "u1")
	defer conv.Close()
	require.NoError(t, conv.Open(context.Background()))

	err := conv.Send(context.Background(), "with file", []realtime.Upload{
		{FileName: "big.bin", FileType: "application/octet-stream", FileSize: 1 << 20, Content: strings.NewReader("x")},
	})
	var se *realtime.SendError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "attachment upload", se.Step)

	// The optimistic placeholder is gone and nothing stays pending.
	assert.Equal(t, 0, conv.Pending())
	for _, m := range conv.Messages() {
		assert.NotEqual(t, "with file", m.Content)
	}
	assert.Equal(t, 0, env.notifs.insertCount())
}

func TestSendRollsBackOnInsertFailure(t *testing.T) {
	env := newConvEnv()
	env.seedTwoParty()

	conv := env.conversation("c1", "u1")
	defer conv.Close()
	require.NoError(t, conv.Open(context.Background()))

	env.msgs.mu.Lock()
	env.msgs.insertErr = errors.New("constraint violation")
	env.msgs.mu.Unlock()

	err := conv.Send(context.Background(), "doomed", nil)
	var se *realtime.SendError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "message insert", se.Step)
	assert.Empty(t, conv.Messages())
	assert.Equal(t, 0, conv.Pending())

	// The session recovers once the store does.
	env.msgs.mu.Lock()
	env.msgs.insertErr = nil
	env.msgs.mu.Unlock()
	assert.NoError(t, conv.Send(context.Background(), "retry", nil))
	assert.Len(t, conv.Messages(), 1)
}

func TestForeignLiveInsertAppendsAndMarksRead(t *testing.T) {
	env := newConvEnv()
	env.seedTwoParty()

	conv := env.conversation("c1", "u1")
	defer conv.Close()
	require.NoError(t, conv.Open(context.Background()))

	incoming := &models.Message{ConversationID: "c1", SenderID: "u2", Content: "hi there"}
	require.NoError(t, env.msgs.InsertMessage(context.Background(), incoming))

	assert.Eventually(t, func() bool {
		msgs := conv.Messages()
		return len(msgs) == 1 && msgs[0].Content == "hi there" && msgs[0].ReadAt != nil
	}, 2*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		return env.msgs.readAt(incoming.ID) != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConcurrentSendsStayOrdered(t *testing.T) {
	env := newConvEnv()
	env.seedTwoParty()

	conv := env.conversation("c1", "u1")
	defer conv.Close()
	require.NoError(t, conv.Open(context.Background()))

	const n = 5
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, conv.Send(context.Background(), "msg", nil))
		}()
	}
	wg.Wait()

	assert.Eventually(t, func() bool {
		return len(conv.Messages()) == n && conv.Pending() == 0
	}, 2*time.Second, 10*time.Millisecond)

	msgs := conv.Messages()
	require.Len(t, msgs, n)
	seen := make(map[string]bool, n)
	for i, m := range msgs {
		assert.False(t, seen[m.ID], "duplicate message %s", m.ID)
		seen[m.ID] = true
		if i > 0 {
			assert.False(t, m.CreatedAt.Before(msgs[i-1].CreatedAt))
		}
	}
}

func TestTwoSessionsExchangeAndMarkRead(t *testing.T) {
	env := newConvEnv()
	env.seedTwoParty()

	student := env.conversation("c1", "u1")
	teacher := env.conversation("c1", "u2")
	defer student.Close()
	defer teacher.Close()

	require.NoError(t, student.Open(context.Background()))
	require.NoError(t, teacher.Open(context.Background()))

	require.NoError(t, student.Send(context.Background(), "question about the lesson", nil))

	// The teacher's open session receives the message live and, because the
	// conversation is on screen, marks it read straight away.
	assert.Eventually(t, func() bool {
		msgs := teacher.Messages()
		return len(msgs) == 1 && msgs[0].ReadAt != nil
	}, 2*time.Second, 10*time.Millisecond)

	sent := student.Messages()[0]
	assert.Eventually(t, func() bool {
		return env.msgs.readAt(sent.ID) != nil
	}, 2*time.Second, 10*time.Millisecond)

	// The student keeps exactly one copy despite the live echo.
	assert.Len(t, student.Messages(), 1)

	// A reply flows the other way and lands in order.
	require.NoError(t, teacher.Send(context.Background(), "answer", nil))
	assert.Eventually(t, func() bool {
		msgs := student.Messages()
		return len(msgs) == 2 && msgs[1].Content == "answer"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCloseStopsLiveUpdates(t *testing.T) {
	env := newConvEnv()
	env.seedTwoParty()

	conv := env.conversation("c1", "u1")
	require.NoError(t, conv.Open(context.Background()))

	conv.Close()
	conv.Close()

	require.NoError(t, env.msgs.InsertMessage(context.Background(), &models.Message{
		ConversationID: "c1", SenderID: "u2", Content: "after close",
	}))

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, conv.Messages())
	assert.ErrorIs(t, conv.Send(context.Background(), "too late", nil), realtime.ErrConversationClosed)
}
