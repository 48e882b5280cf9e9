package realtime

import (
	"errors"
	"fmt"
)

// ErrEmptyMessage rejects a send with neither trimmed content nor
// attachments. Raised before any network call.
var ErrEmptyMessage = errors.New("message cannot be empty")

// ErrConversationClosed is returned by operations on a session that has been
// closed or never opened.
var ErrConversationClosed = errors.New("conversation session closed")

// TransportError wraps a channel subscribe/track/unsubscribe failure. These
// are cosmetic for presence and typing and are absorbed locally; messaging
// surfaces them once to the caller.
type TransportError struct {
	Op      string
	Channel string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s on %q: %v", e.Op, e.Channel, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// SendError reports which step of the send sequence failed. Steps already
// committed are not compensated; the optimistic entry is rolled back.
type SendError struct {
	Step string
	Err  error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send failed at %s: %v", e.Step, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// FetchError reports an initial history or feed load failure. Terminal for
// the open; the caller decides whether to reopen.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch failed: %v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
