package handlers

import (
	"context"
	"errors"
	"sync"

	"github.com/abuccarelli/Unicorn1/internal/realtime"
	"github.com/abuccarelli/Unicorn1/pkg/logger"
)

// AgentState holds the signed-in user's realtime engines. One agent process
// serves exactly one user; handlers read it the way the rest of the app reads
// database.DB.
type AgentState struct {
	UserID      string
	DisplayName string

	Presence  *realtime.Presence
	Typing    *realtime.Typing
	Feed      *realtime.Feed
	Transport realtime.Transport

	Messages realtime.MessageStore
	Blobs    realtime.BlobStore
	Notifier *realtime.Notifier

	ConversationConfig realtime.ConversationConfig

	mu            sync.Mutex
	conversations map[string]*realtime.Conversation
}

var Agent *AgentState

// InitAgent wires the handler layer to the engines built in main.
func InitAgent(a *AgentState) {
	a.conversations = make(map[string]*realtime.Conversation)
	Agent = a
}

// Conversation returns the open session for the conversation, opening one on
// first access. A fetch failure closes the half-built session and is returned;
// the next call retries from scratch.
func (a *AgentState) Conversation(ctx context.Context, conversationID string) (*realtime.Conversation, error) {
	a.mu.Lock()
	if conv, ok := a.conversations[conversationID]; ok {
		a.mu.Unlock()
		return conv, nil
	}
	a.mu.Unlock()

	conv := realtime.NewConversation(conversationID, a.UserID, a.Messages, a.Blobs, a.Notifier, a.Transport, a.ConversationConfig)
	if err := conv.Open(ctx); err != nil {
		var transportErr *realtime.TransportError
		if errors.As(err, &transportErr) {
			// History loaded; the session just has no live feed. Keep it.
			logger.Warn().Err(err).Str("conversation", conversationID).Msg("Conversation opened without live updates")
		} else {
			conv.Close()
			return nil, err
		}
	}

	// Watch the typing channel so the indicator works before the first
	// keystroke of our own.
	a.Typing.Watch(ctx, conversationID)

	a.mu.Lock()
	defer a.mu.Unlock()
	if existing, ok := a.conversations[conversationID]; ok {
		// Lost the race to another request.
		conv.Close()
		return existing, nil
	}
	a.conversations[conversationID] = conv
	return conv, nil
}

// Shutdown closes every engine. Presence goes first so the user drops to
// offline for everyone else before the process exits.
func (a *AgentState) Shutdown(ctx context.Context) {
	a.Presence.Close(ctx)
	a.Typing.Close(ctx)
	a.Feed.Close()

	a.mu.Lock()
	conversations := a.conversations
	a.conversations = make(map[string]*realtime.Conversation)
	a.mu.Unlock()
	for _, conv := range conversations {
		conv.Close()
	}
}
