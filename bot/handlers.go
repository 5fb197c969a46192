package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/iabalyuk/librarybot/conversation"
	"github.com/iabalyuk/librarybot/library"
	"github.com/iabalyuk/librarybot/message"
)

// Handle dispatches one event. Every event is handled exactly once; callback
// presses are always acknowledged.
func (b *Bot) Handle(ctx context.Context, ev Event) {
	switch e := ev.(type) {
	case CommandEvent:
		b.handleCommand(ctx, e)
	case TextEvent:
		b.apply(ctx, e.ChatID, nil, func() (conversation.Outcome, error) {
			return b.machine.HandleText(ctx, e.ChatID, e.Text)
		})
	case RegisterCallback:
		b.answer(ctx, e.Callback, "")
		b.apply(ctx, e.ChatID, &e.Callback, func() (conversation.Outcome, error) {
			return b.machine.BeginRegistration(ctx, e.ChatID)
		})
	case HelpCallback:
		b.answer(ctx, e.Callback, "")
		b.send(ctx, e.ChatID, helpReply(b.isLibrarian(e.ChatID)))
	case BrowseCallback:
		b.answer(ctx, e.Callback, "")
		b.apply(ctx, e.ChatID, &e.Callback, func() (conversation.Outcome, error) {
			return b.machine.LanguageMenu(ctx, e.ChatID)
		})
	case LanguageCallback:
		b.answer(ctx, e.Callback, "")
		b.apply(ctx, e.ChatID, &e.Callback, func() (conversation.Outcome, error) {
			return b.machine.SelectLanguage(ctx, e.ChatID, e.Language)
		})
	case CategoryCallback:
		b.answer(ctx, e.Callback, "")
		b.apply(ctx, e.ChatID, &e.Callback, func() (conversation.Outcome, error) {
			return b.machine.SelectCategory(ctx, e.ChatID, e.Category)
		})
	case BackCallback:
		b.answer(ctx, e.Callback, "")
		b.apply(ctx, e.ChatID, &e.Callback, func() (conversation.Outcome, error) {
			switch e.Target {
			case BackToLanguage:
				return b.machine.BackToLanguage(ctx, e.ChatID)
			case BackToCategory:
				return b.machine.BackToCategory(ctx, e.ChatID)
			default:
				return b.machine.BackToMainMenu(ctx, e.ChatID)
			}
		})
	default:
		b.handleUnknown(ctx, ev)
	}
}

func (b *Bot) handleUnknown(ctx context.Context, ev Event) {
	e, _ := ev.(UnknownEvent)
	slog.Debug("unrecognized event", "chat_id", ev.Chat(), "reason", e.Reason)
	if e.QueryID != "" {
		if err := b.gateway.AnswerCallback(ctx, e.QueryID, "Unknown action"); err != nil {
			slog.Warn("failed to answer callback", "error", err)
		}
		return
	}
	if ev.Chat() != 0 {
		b.send(ctx, ev.Chat(), message.Text(notUnderstoodText))
	}
}

func (b *Bot) handleCommand(ctx context.Context, e CommandEvent) {
	chatID := e.ChatID
	if e.Command.LibrarianOnly() && !b.isLibrarian(chatID) {
		slog.Warn("librarian command refused", "chat_id", chatID, "command", e.Command.String())
		b.fail(ctx, chatID, library.ErrUnauthorized)
		return
	}

	switch e.Command {
	case CommandStart:
		b.deliver(ctx, chatID, nil, b.machine.Welcome())
	case CommandRegister:
		b.apply(ctx, chatID, nil, func() (conversation.Outcome, error) {
			return b.machine.BeginRegistration(ctx, chatID)
		})
	case CommandHelp:
		b.send(ctx, chatID, helpReply(b.isLibrarian(chatID)))
	case CommandSelectLanguage, CommandChangeLanguage:
		b.apply(ctx, chatID, nil, func() (conversation.Outcome, error) {
			return b.machine.LanguageMenu(ctx, chatID)
		})
	case CommandBack:
		b.apply(ctx, chatID, nil, func() (conversation.Outcome, error) {
			return b.machine.Back(ctx, chatID)
		})
	case CommandReserve:
		b.withBookID(ctx, e, b.reserve)
	case CommandCancelReservation:
		b.withBookID(ctx, e, b.cancelReservation)
	case CommandMyReservations:
		b.myReservations(ctx, chatID)
	case CommandAddBooks:
		b.addBooks(ctx, e)
	case CommandViewReservations:
		b.viewReservations(ctx, chatID)
	case CommandLibrarianAddReservation:
		b.librarianAddReservation(ctx, e)
	case CommandLibrarianCancelReservation:
		b.withBookID(ctx, e, b.librarianCancelReservation)
	case CommandRemoveBook:
		b.withBookID(ctx, e, b.removeBook)
	default:
		b.send(ctx, chatID, message.Text(invalidCommandText))
	}
}

// withBookID parses the command's single book id argument before calling fn.
func (b *Bot) withBookID(ctx context.Context, e CommandEvent, fn func(ctx context.Context, chatID, bookID int64)) {
	fields := strings.Fields(e.Args)
	if len(fields) == 0 {
		b.send(ctx, e.ChatID, message.Text(usage(e.Command)))
		return
	}
	id, err := library.ParseBookID(fields[0])
	if err != nil {
		b.fail(ctx, e.ChatID, err)
		return
	}
	fn(ctx, e.ChatID, id)
}

func (b *Bot) reserve(ctx context.Context, chatID, bookID int64) {
	rec, err := b.reservations.Reserve(ctx, chatID, bookID)
	if err != nil {
		b.fail(ctx, chatID, err)
		return
	}
	b.send(ctx, chatID, message.Text(fmt.Sprintf(
		"✅ Successfully reserved: \"%s\".\nPickup time: %s.\n📚 To view current reservation, type /my_reservations.",
		rec.Book.Title, rec.Reservation.PickupTime)))
	b.send(ctx, chatID, nextStepReply())
	b.notifyLibrarian(ctx, message.Text(fmt.Sprintf(
		"📩 New reservation:\n- Book ID: %d\n- Title: \"%s\"\n- Name: %s\n- Phone: %s",
		rec.Book.ID, rec.Book.Title, rec.PatronName, rec.Phone)))
}

func (b *Bot) cancelReservation(ctx context.Context, chatID, bookID int64) {
	rec, err := b.reservations.Cancel(ctx, chatID, bookID)
	if err != nil {
		b.fail(ctx, chatID, err)
		return
	}
	b.send(ctx, chatID, message.HTML(fmt.Sprintf(
		"✅ You have successfully canceled the reservation for <b>\"%s\"</b>.", message.Escape(rec.Book.Title))).
		WithButtons(message.Row(conversation.BackToMainMenuButton)))
	b.notifyLibrarian(ctx, message.Text(fmt.Sprintf(
		"📩 User has canceled a reservation:\n- Book ID: %d\n- Title: \"%s\"\n- Chat ID: %d\n- Name: %s\n- Phone: %s",
		rec.Book.ID, rec.Book.Title, chatID, rec.PatronName, rec.Phone)))
}

func nextStepReply() message.Reply {
	return message.Text("What would you like to do next?").
		WithButtons(message.Row(conversation.BackToMainMenuButton))
}

func (b *Bot) myReservations(ctx context.Context, chatID int64) {
	list, err := b.reservations.MyReservations(ctx, chatID)
	if err != nil {
		b.fail(ctx, chatID, err)
		return
	}
	if len(list) == 0 {
		b.send(ctx, chatID, message.Text("📭 You currently have no reservations."))
		return
	}
	var sb strings.Builder
	sb.WriteString("✨ <b>Your Reservations</b> ✨\n\n")
	for _, r := range list {
		fmt.Fprintf(&sb, "📚 Book ID: %d\n📄 Title: \"%s\"\n⌚ Pickup: %s\n\n",
			r.Book.ID, message.Escape(r.Book.Title), message.Escape(r.PickupTime))
	}
	sb.WriteString("If you wish to cancel a reservation, simply type /cancel_reservation &lt;book_id&gt;.")
	b.send(ctx, chatID, message.HTML(sb.String()))
}

func (b *Bot) addBooks(ctx context.Context, e CommandEvent) {
	if e.Args == "" {
		b.send(ctx, e.ChatID, message.Text(usage(e.Command)))
		return
	}
	res, err := b.catalog.AddBooks(ctx, e.Args)
	var sb strings.Builder
	for _, book := range res.Added {
		fmt.Fprintf(&sb, "✅ Book <b>\"%s\"</b> (ID %d) added successfully.\n", message.Escape(book.Title), book.ID)
	}
	for _, f := range res.Failed {
		fmt.Fprintf(&sb, "❌ <b>%s</b>: %s\n", message.Escape(f.Entry), message.Escape(f.Err.Error()))
	}
	if sb.Len() > 0 {
		b.send(ctx, e.ChatID, message.HTML(strings.TrimRight(sb.String(), "\n")))
	}
	if err != nil {
		b.fail(ctx, e.ChatID, err)
	}
}

func (b *Bot) viewReservations(ctx context.Context, chatID int64) {
	list, err := b.reservations.AllReservations(ctx)
	if err != nil {
		b.fail(ctx, chatID, err)
		return
	}
	if len(list) == 0 {
		b.send(ctx, chatID, message.Text("📅 There are no reservations."))
		return
	}
	var sb strings.Builder
	sb.WriteString("📚 <b>Current Reservations</b>:\n\n")
	for _, r := range list {
		name := r.PatronName
		if name == "" {
			name = "Unknown User"
		}
		fmt.Fprintf(&sb, "🔖 Book ID: <b>%d</b> → Book: <b>\"%s\"</b> → Name: %s → Pickup Time: <b>%s</b>\n",
			r.Book.ID, message.Escape(r.Book.Title), message.Escape(name), message.Escape(r.PickupTime))
	}
	b.send(ctx, chatID, message.HTML(sb.String()))
}

// librarianAddReservation handles "<name> <book_id> [pickup time]".
func (b *Bot) librarianAddReservation(ctx context.Context, e CommandEvent) {
	fields := strings.Fields(e.Args)
	if len(fields) < 2 {
		b.send(ctx, e.ChatID, message.Text(usage(e.Command)))
		return
	}
	id, err := library.ParseBookID(fields[1])
	if err != nil {
		b.fail(ctx, e.ChatID, err)
		return
	}
	rec, err := b.reservations.ForceReserve(ctx, fields[0], id, strings.Join(fields[2:], " "))
	if err != nil {
		b.fail(ctx, e.ChatID, err)
		return
	}
	b.send(ctx, e.ChatID, message.HTML(fmt.Sprintf(
		"✅ Successfully added reservation for <b>%s</b> for <b>\"%s\"</b>.\nPickup time: %s.",
		message.Escape(rec.PatronName), message.Escape(rec.Book.Title), message.Escape(rec.Reservation.PickupTime))))
}

func (b *Bot) librarianCancelReservation(ctx context.Context, chatID, bookID int64) {
	rec, err := b.reservations.ForceCancel(ctx, bookID)
	if err != nil {
		b.fail(ctx, chatID, err)
		return
	}
	text := fmt.Sprintf("✅ Reservation for <b>\"%s\"</b> has been successfully canceled.\n- Name: %s",
		message.Escape(rec.Book.Title), message.Escape(rec.PatronName))
	if rec.Phone != "" {
		text += "\n- Phone: " + message.Escape(rec.Phone)
	}
	b.send(ctx, chatID, message.HTML(text))

	if !rec.Reservation.IsManual() && rec.Reservation.ChatID != chatID {
		b.send(ctx, rec.Reservation.ChatID, message.HTML(fmt.Sprintf(
			"ℹ️ Your reservation for <b>\"%s\"</b> was cancelled by the librarian.", message.Escape(rec.Book.Title))))
	}
}

func (b *Bot) removeBook(ctx context.Context, chatID, bookID int64) {
	if _, err := b.catalog.RemoveBook(ctx, bookID); err != nil {
		b.fail(ctx, chatID, err)
		return
	}
	b.send(ctx, chatID, message.HTML(fmt.Sprintf("✅ Book with ID <b>%d</b> has been removed successfully.", bookID)))
}

// apply runs a state machine transition and delivers its outcome. src is the
// button press that triggered it, if any.
func (b *Bot) apply(ctx context.Context, chatID int64, src *Callback, fn func() (conversation.Outcome, error)) {
	out, err := fn()
	if err != nil {
		b.fail(ctx, chatID, err)
		return
	}
	b.deliver(ctx, chatID, src, out)
}

func (b *Bot) deliver(ctx context.Context, chatID int64, src *Callback, out conversation.Outcome) {
	if out.Edit != nil {
		if src != nil {
			if err := b.gateway.Edit(ctx, chatID, src.MessageID, *out.Edit); err != nil {
				slog.Warn("failed to edit message", "chat_id", chatID, "error", err)
			}
		} else {
			b.send(ctx, chatID, *out.Edit)
		}
	}
	if out.DeleteSource && src != nil {
		if err := b.gateway.Delete(ctx, chatID, src.MessageID); err != nil {
			slog.Warn("failed to delete message", "chat_id", chatID, "error", err)
		}
	}
	for _, r := range out.Replies {
		b.send(ctx, chatID, r)
	}
	for _, n := range out.Notices {
		b.notifyLibrarian(ctx, n)
	}
}

func (b *Bot) fail(ctx context.Context, chatID int64, err error) {
	b.send(ctx, chatID, errorReply(chatID, err))
}

func (b *Bot) send(ctx context.Context, chatID int64, r message.Reply) {
	if err := b.gateway.Send(ctx, chatID, r); err != nil {
		slog.Error("failed to send message", "chat_id", chatID, "error", err)
	}
}

// notifyLibrarian is best effort; failures are only logged.
func (b *Bot) notifyLibrarian(ctx context.Context, r message.Reply) {
	if err := b.gateway.Send(ctx, b.librarianChatID, r); err != nil {
		slog.Error("failed to notify librarian", "error", err)
	}
}

func (b *Bot) answer(ctx context.Context, cb Callback, text string) {
	if err := b.gateway.AnswerCallback(ctx, cb.QueryID, text); err != nil {
		slog.Warn("failed to answer callback", "chat_id", cb.ChatID, "error", err)
	}
}

func (b *Bot) isLibrarian(chatID int64) bool {
	return chatID == b.librarianChatID
}
