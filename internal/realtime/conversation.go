package realtime

import (
	"context"
	"encoding/json"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/abuccarelli/Unicorn1/internal/models"
	"github.com/abuccarelli/Unicorn1/pkg/logger"
	"github.com/abuccarelli/Unicorn1/pkg/retry"
)

// ConversationState is the lifecycle of an open conversation session.
// Sending is per optimistic message, not a session-wide state: the rest of
// the list stays interactive while one send is in flight.
type ConversationState int

const (
	StateIdle ConversationState = iota
	StateLoading
	StateReady
	StateFailed
)

func (s ConversationState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Upload is one attachment handed to Send.
type Upload struct {
	FileName string
	FileType string
	FileSize int64
	Content  io.Reader
}

// ConversationConfig tunes a conversation session.
type ConversationConfig struct {
	Retry retry.Policy

	// OnChange, if set, fires after any visible change to the message list
	// or state.
	OnChange func()
}

func DefaultConversationConfig() ConversationConfig {
	return ConversationConfig{Retry: retry.DefaultPolicy()}
}

// entry wraps a message in the visible list. Pending entries are optimistic
// sends awaiting their authoritative row; the correlation id ties the
// placeholder to the server-assigned message when either the send call or
// the live-insert path confirms it first.
type entry struct {
	msg           models.Message
	pending       bool
	correlationID string
}

// Conversation synchronizes one open conversation: history fetch with
// read-receipt marking, live appends from the row-insert subscription, and
// optimistic sends reconciled against the authoritative rows.
type Conversation struct {
	conversationID string
	selfID         string
	log            zerolog.Logger
	store          MessageStore
	blobs          BlobStore
	notifier       *Notifier
	transport      Transport
	cfg            ConversationConfig

	mu      sync.Mutex
	ch      Channel
	state   ConversationState
	loadErr error
	entries []*entry
	closed  bool
}

func NewConversation(conversationID, selfID string, store MessageStore, blobs BlobStore, notifier *Notifier, transport Transport, cfg ConversationConfig) *Conversation {
	return &Conversation{
		conversationID: conversationID,
		selfID:         selfID,
		log:            logger.With("messages"),
		store:          store,
		blobs:          blobs,
		notifier:       notifier,
		transport:      transport,
		cfg:            cfg,
		state:          StateIdle,
	}
}

// Open fetches history and starts the live subscription. A fetch failure is
// terminal for this session; the caller reopens explicitly. A subscribe
// failure after a successful fetch leaves the session usable on history and
// is reported once as a TransportError.
func (c *Conversation) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConversationClosed
	}
	c.state = StateLoading
	c.mu.Unlock()
	c.changed()

	var msgs []models.Message
	err := c.cfg.Retry.Do(ctx, "message fetch", func(ctx context.Context) error {
		var ferr error
		msgs, ferr = c.store.ListMessages(ctx, c.conversationID)
		return ferr
	})
	if err != nil {
		c.mu.Lock()
		c.state = StateFailed
		c.loadErr = err
		c.mu.Unlock()
		c.changed()
		return &FetchError{Err: err}
	}

	now := time.Now()
	var unread []string
	entries := make([]*entry, 0, len(msgs))
	for i := range msgs {
		m := msgs[i]
		if m.SenderID != c.selfID && m.ReadAt == nil {
			unread = append(unread, m.ID)
			at := now
			m.ReadAt = &at
		}
		entries = append(entries, &entry{msg: m})
	}

	c.mu.Lock()
	c.entries = entries
	c.state = StateReady
	c.mu.Unlock()
	c.changed()

	// Read receipts are fire-and-forget relative to rendering: the list is
	// already visible before the write confirms.
	if len(unread) > 0 {
		go c.markRead(unread, now)
	}

	// Tear down any previous channel for this name before resubscribing so
	// listeners never double up.
	ch := c.transport.Channel(messagesChannel(c.conversationID))
	if err := ch.Subscribe(ctx); err != nil {
		c.log.Error().Err(err).Str("conversation", c.conversationID).Msg("Live subscription failed")
		return &TransportError{Op: "subscribe", Channel: messagesChannel(c.conversationID), Err: err}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = ch.Unsubscribe()
		return ErrConversationClosed
	}
	old := c.ch
	c.ch = ch
	c.mu.Unlock()
	if old != nil {
		_ = old.Unsubscribe()
	}

	go c.receive(ch)
	return nil
}

// Messages returns a snapshot of the visible list, ascending by created_at.
func (c *Conversation) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]models.Message, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.msg)
	}
	return out
}

// State reports the session state and, when failed, the load error.
func (c *Conversation) State() (ConversationState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.loadErr
}

// Pending reports how many optimistic sends are still awaiting confirmation.
func (c *Conversation) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, e := range c.entries {
		if e.pending {
			n++
		}
	}
	return n
}

// Send validates, appends an optimistic placeholder, then runs the send
// sequence: participants → message row → attachments → conversation bump →
// notification. Any failure before the notification rolls the placeholder
// back and is returned; the notification itself is best-effort.
func (c *Conversation) Send(ctx context.Context, content string, uploads []Upload) error {
	content = strings.TrimSpace(content)
	if content == "" && len(uploads) == 0 {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	if c.closed || c.state != StateReady {
		state, loadErr := c.state, c.loadErr
		c.mu.Unlock()
		if state == StateFailed {
			return &SendError{Step: "open", Err: loadErr}
		}
		return ErrConversationClosed
	}
	c.mu.Unlock()

	if content == "" {
		names := make([]string, 0, len(uploads))
		for _, u := range uploads {
			names = append(names, u.FileName)
		}
		content = "📎 " + strings.Join(names, ", ")
	}

	correlationID := uuid.New().String()
	optimistic := models.Message{
		ID:              correlationID,
		ConversationID:  c.conversationID,
		SenderID:        c.selfID,
		Content:         content,
		CreatedAt:       time.Now(),
		ClientMessageID: &correlationID,
	}
	for _, u := range uploads {
		optimistic.Attachments = append(optimistic.Attachments, models.MessageAttachment{
			FileName: u.FileName,
			FileSize: u.FileSize,
			FileType: u.FileType,
		})
	}

	c.mu.Lock()
	c.entries = append(c.entries, &entry{msg: optimistic, pending: true, correlationID: correlationID})
	c.mu.Unlock()
	c.changed()

	authoritative, err := c.runSend(ctx, content, correlationID, uploads)
	if err != nil {
		c.rollback(correlationID)
		return err
	}

	c.confirm(correlationID, *authoritative)
	return nil
}

func (c *Conversation) runSend(ctx context.Context, content, correlationID string, uploads []Upload) (*models.Message, error) {
	conv, err := c.store.Conversation(ctx, c.conversationID)
	if err != nil {
		return nil, &SendError{Step: "participant lookup", Err: err}
	}

	msg := &models.Message{
		ConversationID:  c.conversationID,
		SenderID:        c.selfID,
		Content:         content,
		ClientMessageID: &correlationID,
	}
	if err := c.store.InsertMessage(ctx, msg); err != nil {
		return nil, &SendError{Step: "message insert", Err: err}
	}

	if len(uploads) > 0 {
		attachments := make([]models.MessageAttachment, 0, len(uploads))
		for _, u := range uploads {
			blobPath := path.Join(c.conversationID, msg.ID, uuid.New().String()+path.Ext(u.FileName))
			publicURL, err := c.blobs.Upload(ctx, blobPath, u.FileType, u.Content)
			if err != nil {
				return nil, &SendError{Step: "attachment upload", Err: err}
			}
			attachments = append(attachments, models.MessageAttachment{
				MessageID: msg.ID,
				FileName:  u.FileName,
				FileSize:  u.FileSize,
				FileType:  u.FileType,
				FilePath:  blobPath,
				PublicURL: publicURL,
			})
		}
		if err := c.store.InsertAttachments(ctx, attachments); err != nil {
			return nil, &SendError{Step: "attachment insert", Err: err}
		}
		msg.Attachments = attachments
	}

	if err := c.store.TouchConversation(ctx, c.conversationID, content, msg.CreatedAt); err != nil {
		return nil, &SendError{Step: "conversation update", Err: err}
	}

	// Fire-and-forget: a failed notification never unwinds a delivered
	// message.
	c.notifier.Notify(ctx, conv.OtherParticipant(c.selfID), c.conversationID)

	return msg, nil
}

// confirm swaps the optimistic placeholder for the authoritative row at the
// same position, so the list never reorders under the sender. If the live
// path confirmed it first this is a refresh of the same entry.
func (c *Conversation) confirm(correlationID string, msg models.Message) {
	c.mu.Lock()
	for _, e := range c.entries {
		if e.correlationID == correlationID {
			e.msg = msg
			e.pending = false
			break
		}
	}
	c.sortLocked()
	c.mu.Unlock()
	c.changed()
}

// sortLocked keeps the list ascending by created_at. Stable, so entries with
// equal timestamps keep arrival order and a confirmed send normally stays at
// the position its placeholder held.
func (c *Conversation) sortLocked() {
	sort.SliceStable(c.entries, func(i, j int) bool {
		return c.entries[i].msg.CreatedAt.Before(c.entries[j].msg.CreatedAt)
	})
}

// rollback removes the optimistic entry after a failed send.
func (c *Conversation) rollback(correlationID string) {
	c.mu.Lock()
	kept := c.entries[:0]
	for _, e := range c.entries {
		if e.correlationID != correlationID {
			kept = append(kept, e)
		}
	}
	c.entries = kept
	c.mu.Unlock()
	c.changed()
}

// Close stops the live subscription. Idempotent.
func (c *Conversation) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	ch := c.ch
	c.ch = nil
	c.state = StateIdle
	c.mu.Unlock()

	if ch != nil {
		if err := ch.Unsubscribe(); err != nil {
			c.log.Warn().Err(err).Str("conversation", c.conversationID).Msg("Unsubscribe failed during close")
		}
	}
}

func (c *Conversation) receive(ch Channel) {
	for ev := range ch.Events() {
		if ev.Kind != RowInserted {
			continue
		}
		var msg models.Message
		if err := json.Unmarshal(ev.Row, &msg); err != nil {
			c.log.Warn().Err(err).Msg("Undecodable row event dropped")
			continue
		}
		if msg.ConversationID != c.conversationID {
			continue
		}
		c.applyInsert(msg)
	}
}

// applyInsert handles one live-inserted row. Attachment rows land after the
// message row, so they are fetched separately. The sender's own insert can
// arrive here before its Send call returns; dedup runs on the authoritative
// id and the optimistic correlation id so the same logical message never
// renders twice.
func (c *Conversation) applyInsert(msg models.Message) {
	attachments, err := c.store.ListAttachments(context.Background(), msg.ID)
	if err != nil {
		c.log.Warn().Err(err).Str("message", msg.ID).Msg("Attachment fetch for live insert failed")
	} else {
		msg.Attachments = attachments
	}

	foreign := msg.SenderID != c.selfID
	now := time.Now()
	if foreign && msg.ReadAt == nil {
		at := now
		msg.ReadAt = &at
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	duplicate := false
	for _, e := range c.entries {
		if e.msg.ID == msg.ID {
			duplicate = true
			break
		}
		if msg.ClientMessageID != nil && e.correlationID == *msg.ClientMessageID {
			// Our own optimistic placeholder: confirm in place.
			e.msg = msg
			e.pending = false
			duplicate = true
			break
		}
	}
	if !duplicate {
		// New rows sort last: created_at is server-assigned at insert time
		// and conversations are never backfilled.
		c.entries = append(c.entries, &entry{msg: msg})
	}
	c.sortLocked()
	c.mu.Unlock()
	c.changed()

	if foreign {
		go c.markRead([]string{msg.ID}, now)
	}
}

func (c *Conversation) markRead(ids []string, at time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.store.MarkRead(ctx, ids, at); err != nil {
		c.log.Warn().Err(err).Int("count", len(ids)).Msg("Read receipt write failed")
	}
}

func (c *Conversation) changed() {
	if c.cfg.OnChange != nil {
		c.cfg.OnChange()
	}
}
