package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/abuccarelli/Unicorn1/pkg/logger"
)

// TypingConfig tunes the typing coordinator.
type TypingConfig struct {
	// Expiry is the inactivity window after which a typing signal withdraws
	// itself. Enforced by the sender, not the receiver.
	Expiry time.Duration

	// OnChange, if set, fires when the observed typing user changes.
	OnChange func()
}

func DefaultTypingConfig() TypingConfig {
	return TypingConfig{Expiry: 3 * time.Second}
}

// Typing coordinates per-conversation "is typing" signals. Signals are
// ephemeral presence records on the conversation's typing channel; every
// keystroke re-arms the expiry timer, so the indicator extends rather than
// flickering off mid-sentence.
type Typing struct {
	transport   Transport
	cfg         TypingConfig
	log         zerolog.Logger
	selfID      string
	displayName string

	mu       sync.Mutex
	sessions map[string]*typingSession
}

type typingSession struct {
	ch        Channel
	timer     *time.Timer
	otherName string
}

func NewTyping(transport Transport, selfID, displayName string, cfg TypingConfig) *Typing {
	return &Typing{
		transport:   transport,
		cfg:         cfg,
		log:         logger.With("typing"),
		selfID:      selfID,
		displayName: displayName,
		sessions:    make(map[string]*typingSession),
	}
}

// Watch opens the conversation's typing channel so TypingUser starts
// reflecting the other party. Senders get this implicitly on first
// SetTyping; pure receivers call it when the conversation opens.
func (t *Typing) Watch(ctx context.Context, conversationID string) {
	t.session(ctx, conversationID)
}

// SetTyping publishes or withdraws this user's typing signal for the
// conversation. Failures are cosmetic and absorbed here.
func (t *Typing) SetTyping(ctx context.Context, conversationID string, isTyping bool) {
	sess := t.session(ctx, conversationID)
	if sess == nil {
		return
	}

	t.mu.Lock()
	if sess.timer != nil {
		sess.timer.Stop()
		sess.timer = nil
	}
	if isTyping {
		// Re-arm on every call: debounce-to-extend.
		sess.timer = time.AfterFunc(t.cfg.Expiry, func() {
			t.SetTyping(context.Background(), conversationID, false)
		})
	}
	ch := sess.ch
	t.mu.Unlock()

	var err error
	if isTyping {
		err = ch.Track(ctx, Meta{MetaUserID: t.selfID, MetaName: t.displayName})
	} else {
		err = ch.Untrack(ctx)
	}
	if err != nil {
		t.log.Warn().Err(err).Str("conversation", conversationID).Msg("Typing signal failed")
	}
}

// TypingUser returns the display name of the other party currently typing in
// the conversation, if any. Conversations are two-party, so at most one name
// is surfaced.
func (t *Typing) TypingUser(conversationID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sess, ok := t.sessions[conversationID]
	if !ok || sess.otherName == "" {
		return "", false
	}
	return sess.otherName, true
}

// Close withdraws all signals and tears down every typing channel.
func (t *Typing) Close(ctx context.Context) {
	t.mu.Lock()
	sessions := t.sessions
	t.sessions = make(map[string]*typingSession)
	t.mu.Unlock()

	for id, sess := range sessions {
		if sess.timer != nil {
			sess.timer.Stop()
		}
		if err := sess.ch.Untrack(ctx); err != nil {
			t.log.Warn().Err(err).Str("conversation", id).Msg("Typing untrack failed during cleanup")
		}
		if err := sess.ch.Unsubscribe(); err != nil {
			t.log.Warn().Err(err).Str("conversation", id).Msg("Typing unsubscribe failed during cleanup")
		}
	}
}

// session returns the conversation's typing session, opening the channel on
// first use.
func (t *Typing) session(ctx context.Context, conversationID string) *typingSession {
	t.mu.Lock()
	if sess, ok := t.sessions[conversationID]; ok {
		t.mu.Unlock()
		return sess
	}

	ch := t.transport.Channel(typingChannel(conversationID))
	sess := &typingSession{ch: ch}
	t.sessions[conversationID] = sess
	t.mu.Unlock()

	if err := ch.Subscribe(ctx); err != nil {
		t.log.Warn().Err(err).Str("conversation", conversationID).Msg("Typing subscribe failed")
		t.mu.Lock()
		delete(t.sessions, conversationID)
		t.mu.Unlock()
		return nil
	}

	go t.receive(conversationID, sess)
	return sess
}

func (t *Typing) receive(conversationID string, sess *typingSession) {
	for ev := range sess.ch.Events() {
		if ev.Kind != PresenceSync {
			continue
		}

		name := ""
		for _, metas := range ev.State {
			for _, m := range metas {
				if m[MetaUserID] != t.selfID && m[MetaUserID] != "" {
					name = m[MetaName]
					break
				}
			}
			if name != "" {
				break
			}
		}

		t.mu.Lock()
		changed := sess.otherName != name
		sess.otherName = name
		t.mu.Unlock()

		if changed && t.cfg.OnChange != nil {
			t.cfg.OnChange()
		}
	}
}
