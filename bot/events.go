package bot

import (
	"strings"
	"unicode"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/iabalyuk/librarybot/library"
	"github.com/iabalyuk/librarybot/message"
)

// Command is a text command token.
type Command int

const (
	CommandUnknown Command = iota
	CommandStart
	CommandRegister
	CommandHelp
	CommandSelectLanguage
	CommandChangeLanguage
	CommandReserve
	CommandCancelReservation
	CommandMyReservations
	CommandBack
	CommandAddBooks
	CommandViewReservations
	CommandLibrarianAddReservation
	CommandLibrarianCancelReservation
	CommandRemoveBook
)

var commandTokens = map[string]Command{
	"/start":                        CommandStart,
	"/register":                     CommandRegister,
	"/help":                         CommandHelp,
	"/select_language":              CommandSelectLanguage,
	"/change_language":              CommandChangeLanguage,
	"/reserve":                      CommandReserve,
	"/cancel_reservation":           CommandCancelReservation,
	"/my_reservations":              CommandMyReservations,
	"/back":                         CommandBack,
	"/add_books":                    CommandAddBooks,
	"/view_reservations":            CommandViewReservations,
	"/librarian_add_reservation":    CommandLibrarianAddReservation,
	"/librarian_cancel_reservation": CommandLibrarianCancelReservation,
	"/remove_book":                  CommandRemoveBook,
}

func (c Command) String() string {
	for token, cmd := range commandTokens {
		if cmd == c {
			return token
		}
	}
	return "unknown"
}

// LibrarianOnly reports whether only the librarian chat may run c.
func (c Command) LibrarianOnly() bool {
	switch c {
	case CommandAddBooks, CommandViewReservations, CommandLibrarianAddReservation,
		CommandLibrarianCancelReservation, CommandRemoveBook:
		return true
	}
	return false
}

// ParseCommand splits "/token@bot args" into the command and its arguments.
// ok is false when text is not a command at all.
func ParseCommand(text string) (cmd Command, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return CommandUnknown, "", false
	}
	token, rest := text, ""
	if i := strings.IndexFunc(text, unicode.IsSpace); i >= 0 {
		token, rest = text[:i], text[i:]
	}
	if at := strings.IndexByte(token, '@'); at >= 0 {
		token = token[:at]
	}
	return commandTokens[token], strings.TrimSpace(rest), true
}

// Event is one inbound update, already classified.
type Event interface {
	Chat() int64
	isEvent()
}

// CommandEvent is a text command.
type CommandEvent struct {
	ChatID  int64
	Command Command
	Args    string
}

// TextEvent is free text that is not a command.
type TextEvent struct {
	ChatID int64
	Text   string
}

// Callback identifies the inline button press an event came from.
type Callback struct {
	ChatID    int64
	MessageID int
	QueryID   string
}

// LanguageCallback is a press on a language button.
type LanguageCallback struct {
	Callback
	Language library.Language
}

// CategoryCallback is a press on a category button. Category may be truncated.
type CategoryCallback struct {
	Callback
	Category string
}

// BackTarget is where a back button leads.
type BackTarget int

const (
	BackToMainMenu BackTarget = iota
	BackToLanguage
	BackToCategory
)

// BackCallback is a press on one of the back buttons.
type BackCallback struct {
	Callback
	Target BackTarget
}

// RegisterCallback is a press on the Register button.
type RegisterCallback struct{ Callback }

// HelpCallback is a press on the Help button.
type HelpCallback struct{ Callback }

// BrowseCallback is a press on the Browse button.
type BrowseCallback struct{ Callback }

// UnknownEvent is anything the bot does not understand. QueryID is set when
// it came from a button press.
type UnknownEvent struct {
	ChatID  int64
	QueryID string
	Reason  string
}

func (e CommandEvent) Chat() int64 { return e.ChatID }
func (e TextEvent) Chat() int64    { return e.ChatID }
func (c Callback) Chat() int64     { return c.ChatID }
func (e UnknownEvent) Chat() int64 { return e.ChatID }

func (CommandEvent) isEvent() {}
func (TextEvent) isEvent()    {}
func (Callback) isEvent()     {}
func (UnknownEvent) isEvent() {}

// ParseUpdate classifies a Telegram update. Updates the bot ignores, such as
// edited messages, return false.
func ParseUpdate(u tgbotapi.Update) (Event, bool) {
	switch {
	case u.Message != nil:
		return ParseMessage(u.Message)
	case u.CallbackQuery != nil:
		return ParseCallback(u.CallbackQuery), true
	}
	return nil, false
}

// ParseMessage classifies an incoming message.
func ParseMessage(m *tgbotapi.Message) (Event, bool) {
	if m.Chat == nil {
		return nil, false
	}
	chatID := m.Chat.ID
	if strings.TrimSpace(m.Text) == "" {
		return UnknownEvent{ChatID: chatID, Reason: "non-text message"}, true
	}
	if cmd, args, ok := ParseCommand(m.Text); ok {
		return CommandEvent{ChatID: chatID, Command: cmd, Args: args}, true
	}
	return TextEvent{ChatID: chatID, Text: m.Text}, true
}

// ParseCallback classifies a button press by its callback data.
func ParseCallback(q *tgbotapi.CallbackQuery) Event {
	if q.Message == nil || q.Message.Chat == nil {
		return UnknownEvent{QueryID: q.ID, Reason: "callback without message"}
	}
	cb := Callback{ChatID: q.Message.Chat.ID, MessageID: q.Message.MessageID, QueryID: q.ID}
	data := q.Data

	switch data {
	case message.CallbackRegister:
		return RegisterCallback{cb}
	case message.CallbackHelp:
		return HelpCallback{cb}
	case message.CallbackBrowse:
		return BrowseCallback{cb}
	case message.CallbackBackToMainMenu:
		return BackCallback{Callback: cb, Target: BackToMainMenu}
	case message.CallbackBackToLanguage:
		return BackCallback{Callback: cb, Target: BackToLanguage}
	case message.CallbackBackToCategory:
		return BackCallback{Callback: cb, Target: BackToCategory}
	}

	if rest, ok := strings.CutPrefix(data, message.LanguagePrefix); ok {
		data = rest
	}
	if lang, ok := library.ParseLanguage(data); ok {
		return LanguageCallback{Callback: cb, Language: lang}
	}
	if category, ok := strings.CutPrefix(q.Data, message.CategoryPrefix); ok && category != "" {
		return CategoryCallback{Callback: cb, Category: category}
	}
	return UnknownEvent{ChatID: cb.ChatID, QueryID: q.ID, Reason: "unknown callback data"}
}
