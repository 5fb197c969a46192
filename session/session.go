// Package session keeps the per-chat dialog state of the bot.
//
// A Store applies every read-modify-write of one chat's session under mutual
// exclusion for that chat; sessions of different chats never block each
// other. Sessions left untouched for longer than the store TTL expire.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/iabalyuk/librarybot/library"
)

// Step is the position of a chat in a multi-step flow.
type Step int

const (
	StepIdle Step = iota
	StepAwaitingName
	StepAwaitingPhonePrompt
	StepAwaitingPhoneNumber
	StepLanguageChosen // language menu presented
	StepCategoryChosen // category menu presented for Session.Language
)

func (s Step) String() string {
	switch s {
	case StepIdle:
		return "idle"
	case StepAwaitingName:
		return "awaiting_name"
	case StepAwaitingPhonePrompt:
		return "awaiting_phone_prompt"
	case StepAwaitingPhoneNumber:
		return "awaiting_phone_number"
	case StepLanguageChosen:
		return "language_chosen"
	case StepCategoryChosen:
		return "category_chosen"
	default:
		return "unknown"
	}
}

// Session is the dialog state of one chat.
type Session struct {
	ChatID    int64            `json:"chat_id"`
	Step      Step             `json:"step"`
	UserName  string           `json:"user_name,omitempty"`
	Language  library.Language `json:"language,omitempty"`
	Category  string           `json:"category,omitempty"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Reset returns the session to Idle and drops every pending selection.
func (s *Session) Reset() {
	*s = Session{ChatID: s.ChatID}
}

// IsZero reports whether the session carries no state worth keeping.
func (s *Session) IsZero() bool {
	return s.Step == StepIdle && s.UserName == "" && s.Language == "" && s.Category == ""
}

// ErrLockTimeout is returned when a chat's session could not be locked in time.
var ErrLockTimeout = errors.New("session: timed out waiting for chat lock")

// Store persists sessions keyed by chat identity.
type Store interface {
	// Get returns a copy of the chat's session. A chat without a live session
	// gets a zero Session in StepIdle.
	Get(ctx context.Context, chatID int64) (Session, error)

	// Update runs fn on the chat's session while holding that chat's lock and
	// saves the result. If fn fails nothing is saved. A session that is zero
	// after fn is deleted.
	Update(ctx context.Context, chatID int64, fn func(*Session) error) error

	// Delete drops the chat's session.
	Delete(ctx context.Context, chatID int64) error
}
