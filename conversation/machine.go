// Package conversation drives the multi-step dialogs of a chat: registration
// and browsing the catalog by language and category.
//
// Every transition runs inside session.Store.Update, so one chat's events are
// applied one at a time. Validation problems are answered inline and leave
// the step unchanged; any other error is returned and nothing is saved.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/iabalyuk/librarybot/library"
	"github.com/iabalyuk/librarybot/message"
	"github.com/iabalyuk/librarybot/session"
)

// Store is the part of the storage the conversation reads and writes.
type Store interface {
	GetUser(ctx context.Context, chatID int64) (*library.User, error)
	FindUserByPhoneIndex(ctx context.Context, index string) (*library.User, error)
	CreateUser(ctx context.Context, u *library.User) error
	SetUserLanguage(ctx context.Context, chatID int64, lang library.Language) error
	ListCategories(ctx context.Context, language string) ([]string, error)
	ListAvailableBooks(ctx context.Context, language, category string) ([]library.Book, error)
}

// Secrets encrypts phone numbers and derives their blind index.
type Secrets interface {
	Encrypt(plaintext string) (ciphertext, keyMaterial string, err error)
	BlindIndex(plaintext string) string
}

// Outcome is what a transition asks the transport to do.
type Outcome struct {
	Replies []message.Reply
	// Edit replaces the message that carried the callback, if any.
	Edit *message.Reply
	// DeleteSource removes the message that carried the callback.
	DeleteSource bool
	// Notices are sent to the librarian.
	Notices []message.Reply

	// committed marks a transition whose storage write already happened, so
	// a failure to save the session must not be reported as a failure.
	committed bool
}

func (o *Outcome) reply(r message.Reply) { o.Replies = append(o.Replies, r) }

func (o *Outcome) notify(r message.Reply) { o.Notices = append(o.Notices, r) }

// Machine is the conversation state machine.
type Machine struct {
	sessions  session.Store
	store     Store
	registrar *Registrar
}

// NewMachine creates a state machine over the given session store.
func NewMachine(sessions session.Store, store Store, registrar *Registrar) *Machine {
	return &Machine{sessions: sessions, store: store, registrar: registrar}
}

// update runs fn under the chat's session lock and returns the outcome it built.
func (m *Machine) update(ctx context.Context, chatID int64, fn func(*session.Session, *Outcome) error) (Outcome, error) {
	var (
		out  Outcome
		done bool
	)
	err := m.sessions.Update(ctx, chatID, func(s *session.Session) error {
		out = Outcome{}
		if err := fn(s, &out); err != nil {
			return err
		}
		done = true
		return nil
	})
	if err != nil {
		if done && out.committed {
			slog.Warn("failed to save session after a committed change", "chat_id", chatID, "error", err)
			if err := m.sessions.Delete(ctx, chatID); err != nil {
				slog.Warn("failed to clear session", "chat_id", chatID, "error", err)
			}
			return out, nil
		}
		return Outcome{}, err
	}
	return out, nil
}

// Welcome is the /start greeting. It does not touch the session.
func (m *Machine) Welcome() Outcome {
	return Outcome{Replies: []message.Reply{welcomeReply()}}
}

// BeginRegistration starts the registration dialog, or routes an already
// registered chat to the language menu.
func (m *Machine) BeginRegistration(ctx context.Context, chatID int64) (Outcome, error) {
	return m.update(ctx, chatID, func(s *session.Session, out *Outcome) error {
		u, err := m.store.GetUser(ctx, chatID)
		if err == nil {
			out.reply(message.HTML(fmt.Sprintf("🚫 You are already registered as <b>%s</b>.", message.Escape(u.Name))))
			out.reply(languageMenu())
			return nil
		}
		if !errors.Is(err, library.ErrNotRegistered) {
			return err
		}
		s.Reset()
		s.Step = session.StepAwaitingName
		out.reply(message.Text("📝 Please enter your full name:"))
		return nil
	})
}

// HandleText feeds free text to the dialog the chat is in.
func (m *Machine) HandleText(ctx context.Context, chatID int64, text string) (Outcome, error) {
	return m.update(ctx, chatID, func(s *session.Session, out *Outcome) error {
		switch s.Step {
		case session.StepAwaitingName:
			m.acceptName(s, text, out)
			return nil
		case session.StepAwaitingPhonePrompt:
			m.promptPhone(s, out)
			return nil
		case session.StepAwaitingPhoneNumber:
			return m.acceptPhone(ctx, s, text, out)
		}
		if lang, ok := library.ParseLanguage(text); ok {
			return m.chooseLanguage(ctx, s, lang, false, out)
		}
		out.reply(message.Text("❓ I didn't understand that. Please type /help to see available commands."))
		return nil
	})
}

func (m *Machine) acceptName(s *session.Session, text string, out *Outcome) {
	name := strings.TrimSpace(text)
	if name == "" {
		out.reply(message.Text("❌ Full name cannot be empty. Please try again:"))
		return
	}
	s.UserName = name
	s.Step = session.StepAwaitingPhonePrompt
	out.reply(message.HTML(fmt.Sprintf("✅ Welcome, <b>%s</b>!", message.Escape(name))))
	m.promptPhone(s, out)
}

// promptPhone emits the phone prompt and advances without consuming input.
func (m *Machine) promptPhone(s *session.Session, out *Outcome) {
	out.reply(phonePrompt(m.registrar.Prefix()))
	s.Step = session.StepAwaitingPhoneNumber
}

func (m *Machine) acceptPhone(ctx context.Context, s *session.Session, text string, out *Outcome) error {
	if strings.TrimSpace(s.UserName) == "" {
		s.Step = session.StepAwaitingName
		out.reply(message.Text("⚠️ Your registration details were lost. Please enter your full name:"))
		return nil
	}
	if _, err := m.store.GetUser(ctx, s.ChatID); err == nil {
		s.Reset()
		out.reply(message.Text("🚫 This chat is already registered."))
		out.reply(languageMenu())
		return nil
	} else if !errors.Is(err, library.ErrNotRegistered) {
		return err
	}

	u, phone, err := m.registrar.Register(ctx, s.ChatID, s.UserName, text)
	switch {
	case errors.Is(err, library.ErrInvalidPhone):
		out.reply(message.Text(fmt.Sprintf("❌ Invalid phone number. Please enter a valid phone number starting with %s and consisting of %d digits.",
			m.registrar.Prefix(), library.PhoneLength)))
		m.promptPhone(s, out)
		return nil
	case errors.Is(err, library.ErrDuplicatePhone):
		out.reply(message.Text("❌ This phone number is already registered. Please enter a different phone number."))
		m.promptPhone(s, out)
		return nil
	case errors.Is(err, library.ErrAlreadyExists):
		s.Reset()
		out.reply(message.Text("🚫 This chat is already registered."))
		out.reply(languageMenu())
		return nil
	case err != nil:
		return err
	}

	s.Reset()
	out.committed = true
	out.reply(message.HTML(fmt.Sprintf("✅ Registration successful! Welcome, <b>%s</b>! 🎉", message.Escape(u.Name))))
	out.reply(languageMenu())
	out.notify(message.Text(fmt.Sprintf("🆕 New registration: %s, Phone: %s", u.Name, phone)))
	return nil
}

// LanguageMenu presents the language menu. It abandons a registration in progress.
func (m *Machine) LanguageMenu(ctx context.Context, chatID int64) (Outcome, error) {
	return m.update(ctx, chatID, func(s *session.Session, out *Outcome) error {
		m.presentLanguages(s, out)
		return nil
	})
}

func (m *Machine) presentLanguages(s *session.Session, out *Outcome) {
	s.Step = session.StepLanguageChosen
	s.UserName = ""
	s.Category = ""
	out.reply(languageMenu())
}

// SelectLanguage handles a language button: the button message is edited to
// confirm the choice and the categories of that language are listed.
func (m *Machine) SelectLanguage(ctx context.Context, chatID int64, lang library.Language) (Outcome, error) {
	return m.update(ctx, chatID, func(s *session.Session, out *Outcome) error {
		return m.chooseLanguage(ctx, s, lang, true, out)
	})
}

func (m *Machine) chooseLanguage(ctx context.Context, s *session.Session, lang library.Language, fromButton bool, out *Outcome) error {
	categories, err := m.store.ListCategories(ctx, string(lang))
	if err != nil {
		return err
	}
	registered := true
	if err := m.store.SetUserLanguage(ctx, s.ChatID, lang); err != nil {
		if !errors.Is(err, library.ErrNotRegistered) {
			return err
		}
		registered = false
	}

	s.Step = session.StepCategoryChosen
	s.UserName = ""
	s.Language = lang
	s.Category = ""

	switch {
	case fromButton:
		edit := message.HTML(fmt.Sprintf("🌐 You have selected <b>%s</b>.", message.Escape(languageLabel(lang))))
		out.Edit = &edit
	case registered:
		out.reply(message.HTML(fmt.Sprintf("✅ Language changed to <b>%s</b>.", message.Escape(languageLabel(lang)))))
	}
	out.reply(categoryMenu(lang, categories))
	return nil
}

// SelectCategory lists the available books of a category in the session's language.
func (m *Machine) SelectCategory(ctx context.Context, chatID int64, data string) (Outcome, error) {
	return m.update(ctx, chatID, func(s *session.Session, out *Outcome) error {
		if s.Language == "" {
			out.reply(languageLostReply())
			m.presentLanguages(s, out)
			return nil
		}
		categories, err := m.store.ListCategories(ctx, string(s.Language))
		if err != nil {
			return err
		}
		category, ok := resolveCategory(categories, data)
		if !ok {
			s.Step = session.StepCategoryChosen
			s.Category = ""
			out.reply(message.HTML(fmt.Sprintf("⚠️ Category <b>%s</b> was not found.", message.Escape(data))))
			out.reply(categoryMenu(s.Language, categories))
			return nil
		}
		books, err := m.store.ListAvailableBooks(ctx, string(s.Language), category)
		if err != nil {
			return err
		}
		s.Step = session.StepCategoryChosen
		s.Category = category
		out.reply(bookList(category, books))
		return nil
	})
}

func resolveCategory(categories []string, data string) (string, bool) {
	for _, c := range categories {
		if message.MatchesCategoryData(c, data) {
			return c, true
		}
	}
	return "", false
}

// BackToCategory returns to the category list of the language stored in the session.
func (m *Machine) BackToCategory(ctx context.Context, chatID int64) (Outcome, error) {
	return m.update(ctx, chatID, func(s *session.Session, out *Outcome) error {
		out.DeleteSource = true
		out.reply(message.Text("🔄 Returning to category selection..."))
		return m.presentCategories(ctx, s, out)
	})
}

func (m *Machine) presentCategories(ctx context.Context, s *session.Session, out *Outcome) error {
	if s.Language == "" {
		out.reply(languageLostReply())
		m.presentLanguages(s, out)
		return nil
	}
	categories, err := m.store.ListCategories(ctx, string(s.Language))
	if err != nil {
		return err
	}
	s.Step = session.StepCategoryChosen
	s.Category = ""
	out.reply(categoryMenu(s.Language, categories))
	return nil
}

// BackToLanguage returns to the language menu.
func (m *Machine) BackToLanguage(ctx context.Context, chatID int64) (Outcome, error) {
	return m.update(ctx, chatID, func(s *session.Session, out *Outcome) error {
		out.DeleteSource = true
		out.reply(message.Text("🔄 Returning to language selection..."))
		m.presentLanguages(s, out)
		return nil
	})
}

// BackToMainMenu clears the chat's dialog state and shows the main menu.
func (m *Machine) BackToMainMenu(ctx context.Context, chatID int64) (Outcome, error) {
	return m.update(ctx, chatID, func(s *session.Session, out *Outcome) error {
		s.Reset()
		out.DeleteSource = true
		out.reply(message.Text("🔙 Returning to the main menu..."))
		out.reply(mainMenuReply())
		return nil
	})
}

// Back moves one level up from the chat's current step.
func (m *Machine) Back(ctx context.Context, chatID int64) (Outcome, error) {
	return m.update(ctx, chatID, func(s *session.Session, out *Outcome) error {
		switch s.Step {
		case session.StepCategoryChosen:
			if s.Category != "" {
				return m.presentCategories(ctx, s, out)
			}
			m.presentLanguages(s, out)
		case session.StepLanguageChosen:
			s.Reset()
			out.reply(mainMenuReply())
		case session.StepAwaitingName, session.StepAwaitingPhonePrompt, session.StepAwaitingPhoneNumber:
			s.Reset()
			out.reply(message.Text("Registration cancelled."))
			out.reply(mainMenuReply())
		default:
			m.presentLanguages(s, out)
		}
		return nil
	})
}
