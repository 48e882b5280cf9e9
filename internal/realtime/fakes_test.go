package realtime_test

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/abuccarelli/Unicorn1/internal/models"
	"github.com/abuccarelli/Unicorn1/internal/realtime"
)

// fakeMessageStore is an in-memory MessageStore that publishes row events on
// the shared transport the way the real store does.
type fakeMessageStore struct {
	publisher realtime.Publisher

	mu            sync.Mutex
	seq           int
	messages      []models.Message
	attachments   map[string][]models.MessageAttachment
	conversations map[string]models.Conversation
	lastTouch     string

	listErr   error
	insertErr error
	markCalls [][]string
}

func newFakeMessageStore(publisher realtime.Publisher) *fakeMessageStore {
	return &fakeMessageStore{
		publisher:     publisher,
		attachments:   make(map[string][]models.MessageAttachment),
		conversations: make(map[string]models.Conversation),
	}
}

func (s *fakeMessageStore) addConversation(conv models.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conv.ID] = conv
}

func (s *fakeMessageStore) seed(msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().Add(time.Duration(s.seq) * time.Millisecond)
	}
	s.messages = append(s.messages, msg)
}

func (s *fakeMessageStore) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []models.Message
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			m.Attachments = append([]models.MessageAttachment(nil), s.attachments[m.ID]...)
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeMessageStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	if s.insertErr != nil {
		err := s.insertErr
		s.mu.Unlock()
		return err
	}
	s.seq++
	msg.ID = uuid.New().String()
	// Monotonic server-side timestamps, spaced so ordering is observable.
	msg.CreatedAt = time.Now().Add(time.Duration(s.seq) * time.Millisecond)
	stored := *msg
	s.messages = append(s.messages, stored)
	s.mu.Unlock()

	return s.publisher.PublishInsert(ctx, realtime.MessagesChannel(msg.ConversationID), stored)
}

func (s *fakeMessageStore) ListAttachments(ctx context.Context, messageID string) ([]models.MessageAttachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.MessageAttachment(nil), s.attachments[messageID]...), nil
}

func (s *fakeMessageStore) InsertAttachments(ctx context.Context, attachments []models.MessageAttachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range attachments {
		s.attachments[a.MessageID] = append(s.attachments[a.MessageID], a)
	}
	return nil
}

func (s *fakeMessageStore) MarkRead(ctx context.Context, messageIDs []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markCalls = append(s.markCalls, messageIDs)
	for i := range s.messages {
		for _, id := range messageIDs {
			if s.messages[i].ID == id && s.messages[i].ReadAt == nil {
				t := at
				s.messages[i].ReadAt = &t
			}
		}
	}
	return nil
}

func (s *fakeMessageStore) Conversation(ctx context.Context, id string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, errNotFound
	}
	return &conv, nil
}

func (s *fakeMessageStore) TouchConversation(ctx context.Context, id, lastMessage string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTouch = lastMessage
	conv := s.conversations[id]
	conv.LastMessage = lastMessage
	conv.UpdatedAt = at
	s.conversations[id] = conv
	return nil
}

func (s *fakeMessageStore) readAt(messageID string) *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == messageID {
			return m.ReadAt
		}
	}
	return nil
}

func (s *fakeMessageStore) markedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, call := range s.markCalls {
		out = append(out, call...)
	}
	return out
}

// fakeNotificationStore records inserts and publishes them like the real one.
type fakeNotificationStore struct {
	publisher realtime.Publisher

	mu        sync.Mutex
	items     []models.Notification
	insertErr error
	listErr   error
	inserts   int
}

func newFakeNotificationStore(publisher realtime.Publisher) *fakeNotificationStore {
	return &fakeNotificationStore{publisher: publisher}
}

func (s *fakeNotificationStore) Insert(ctx context.Context, n *models.Notification) error {
	s.mu.Lock()
	if s.insertErr != nil {
		err := s.insertErr
		s.mu.Unlock()
		return err
	}
	s.inserts++
	n.ID = uuid.New().String()
	n.CreatedAt = time.Now()
	stored := *n
	s.items = append([]models.Notification{stored}, s.items...)
	s.mu.Unlock()

	if s.publisher != nil {
		return s.publisher.PublishInsert(ctx, realtime.NotificationsChannel(n.UserID), stored)
	}
	return nil
}

func (s *fakeNotificationStore) ListForUser(ctx context.Context, userID string) ([]models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []models.Notification
	for _, n := range s.items {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *fakeNotificationStore) MarkRead(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == id && s.items[i].UserID == userID {
			s.items[i].Read = true
		}
	}
	return nil
}

func (s *fakeNotificationStore) MarkAllRead(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].UserID == userID {
			s.items[i].Read = true
		}
	}
	return nil
}

func (s *fakeNotificationStore) RecentExists(ctx context.Context, userID, link string, since time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.items {
		if n.UserID == userID && n.Link == link && !n.Read && n.CreatedAt.After(since) {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeNotificationStore) insertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inserts
}

// fakeBlobStore fails on demand to exercise send rollback.
type fakeBlobStore struct {
	mu        sync.Mutex
	uploadErr error
	uploads   []string
}

func (s *fakeBlobStore) Upload(ctx context.Context, path, contentType string, r io.Reader) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploadErr != nil {
		return "", s.uploadErr
	}
	if r != nil {
		_, _ = io.Copy(io.Discard, r)
	}
	s.uploads = append(s.uploads, path)
	return "https://files.example.com/" + path, nil
}

type notFoundError struct{}

func (notFoundError) Error() string { return "not found" }

var errNotFound = notFoundError{}
