package bot

import (
	"errors"
	"log/slog"

	"github.com/iabalyuk/librarybot/library"
	"github.com/iabalyuk/librarybot/message"
)

const (
	invalidCommandText = "❌ Invalid command. Please type /help for the list of available commands."
	notUnderstoodText  = "❓ I didn't understand that. Please type /help to see available commands."
	genericErrorText   = "⚠️ An error occurred while processing your request. Please try again."
)

// errorTexts holds the user-facing text of each domain error.
var errorTexts = []struct {
	err  error
	text string
}{
	{library.ErrNotRegistered, "🚫 You need to register first using /start."},
	{library.ErrBookUnavailable, "❌ Invalid book ID or the book is not available."},
	{library.ErrBookNotFound, "❌ No book found with that ID."},
	{library.ErrReservationNotFound, "❌ No reservation found with that book ID or it does not belong to you."},
	{library.ErrCorruptProfile, "⚠️ Unable to retrieve your details. Please contact the librarian."},
	{library.ErrInvalidBookID, "❌ Invalid book ID. Book IDs are positive numbers."},
	{library.ErrEmptyName, "❌ Name cannot be empty."},
	{library.ErrDuplicateBookID, "🚫 A book with this ID already exists."},
	{library.ErrBookReserved, "🚫 This book has an active reservation. Cancel it first with /librarian_cancel_reservation <id>."},
	{library.ErrMalformedEntry, "❌ Invalid book entry format."},
	{library.ErrUnauthorized, "🚫 You do not have permission to use this command."},
}

// errorReply turns err into the text shown to the user. Upstream failures are
// logged and shown as a generic apology.
func errorReply(chatID int64, err error) message.Reply {
	for _, e := range errorTexts {
		if errors.Is(err, e.err) {
			return message.Text(e.text)
		}
	}
	if library.KindOf(err) == library.KindUpstream {
		slog.Error("request failed", "chat_id", chatID, "error", err)
		return message.Text(genericErrorText)
	}
	return message.Text("❌ " + err.Error())
}

func helpReply(librarian bool) message.Reply {
	text := "🤖 Library Bot Help\n\n" +
		"Here are the commands you can use:\n\n" +
		"📚 /start: Start the bot and register.\n" +
		"📝 /register: Register with your name and phone number.\n" +
		"🌐 /select_language: Choose the language of the books you want to browse.\n" +
		"   Example: /change_language\n" +
		"📖 /reserve <book_id>: Reserve a specific book.\n" +
		"   Example: /reserve 112\n" +
		"📝 /my_reservations: View your current reservations.\n" +
		"❌ /cancel_reservation <book_id>: Cancel a specific reservation by book id.\n" +
		"   Example: /cancel_reservation 112\n" +
		"🔙 /back: Go back one step.\n" +
		"❓ /help: Get help on using the bot."
	if librarian {
		text += "\n\nLibrarian commands:\n\n" +
			"➕ /add_books <id> <language> \"<category>\" \"<title>\"; ...\n" +
			"➖ /remove_book <book_id>\n" +
			"📅 /view_reservations\n" +
			"📌 /librarian_add_reservation <name> <book_id> [pickup time]\n" +
			"🗑 /librarian_cancel_reservation <book_id>"
	}
	return message.Text(text)
}

// usage returns the hint shown when a command is missing its arguments.
func usage(cmd Command) string {
	switch cmd {
	case CommandReserve:
		return "❗️ Please specify an ID to reserve a book. Example: /reserve <ID>"
	case CommandCancelReservation:
		return "❗️ Please specify an ID to cancel a reservation. Example: /cancel_reservation <ID>"
	case CommandAddBooks:
		return "❗️ Usage: /add_books <id> <language> \"<category>\" \"<title>\"; <id> <language> \"<category>\" \"<title>\""
	case CommandLibrarianAddReservation:
		return "❗️ Usage: /librarian_add_reservation <name> <book_id> [pickup time]"
	case CommandLibrarianCancelReservation:
		return "❗️ Usage: /librarian_cancel_reservation <book_id>"
	case CommandRemoveBook:
		return "❌ Invalid command syntax. Please use: /remove_book <id>."
	}
	return invalidCommandText
}
