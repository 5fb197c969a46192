package conversation

import (
	"fmt"
	"strings"

	"github.com/iabalyuk/librarybot/library"
	"github.com/iabalyuk/librarybot/message"
)

var (
	registerButton    = message.Button{Label: "📝 Register", Data: message.CallbackRegister}
	helpButton        = message.Button{Label: "🤔 Help", Data: message.CallbackHelp}
	browseButton      = message.Button{Label: "📚 Browse books", Data: message.CallbackBrowse}
	backToLanguageBtn = message.Button{Label: "🔙 Back to Language Selection", Data: message.CallbackBackToLanguage}
	backToCategoryBtn = message.Button{Label: "🔙 Back to Category Selection", Data: message.CallbackBackToCategory}

	// BackToMainMenuButton is offered after a reservation is made or cancelled.
	BackToMainMenuButton = message.Button{Label: "🔙 Back to Main Menu", Data: message.CallbackBackToMainMenu}
)

func welcomeReply() message.Reply {
	text := "اَلسَّلاَمُ عَلَيْكُمْ وَرَحْمَةُ اللهِ وَبَرَكَاتُهُ\n\n" +
		"🎉 <b>Welcome to the Library Booking Bot!</b> 📚\n\n" +
		"Please choose an option below:"
	return message.HTML(text).WithButtons(
		message.Row(registerButton, helpButton),
		message.Row(browseButton),
	)
}

func mainMenuReply() message.Reply {
	return message.HTML("🏠 <b>Main menu</b>\nPlease choose an option below:").WithButtons(
		message.Row(registerButton, helpButton),
		message.Row(browseButton),
	)
}

func languageMenu() message.Reply {
	var rows [][]message.Button
	for _, l := range library.Languages {
		rows = append(rows, message.Row(message.Button{
			Label: "🌍 " + languageLabel(l),
			Data:  message.LanguageData(l),
		}))
	}
	return message.Text("🌐 Please select a language:").WithButtons(rows...)
}

func languageLabel(l library.Language) string {
	if l == library.LanguageAfaanOromo {
		return "Afaan Oromoo"
	}
	return string(l)
}

func categoryMenu(lang library.Language, categories []string) message.Reply {
	if len(categories) == 0 {
		return message.HTML(fmt.Sprintf("⚠️ There are no books in <b>%s</b> yet. Please choose another language.",
			message.Escape(languageLabel(lang)))).WithButtons(message.Row(backToLanguageBtn))
	}
	rows := make([][]message.Button, 0, len(categories)+1)
	for _, c := range categories {
		rows = append(rows, message.Row(message.Button{Label: "📚 " + c, Data: message.CategoryData(c)}))
	}
	rows = append(rows, message.Row(backToLanguageBtn))
	return message.HTML("📚 Please choose a <b>category</b>:").WithButtons(rows...)
}

func bookList(category string, books []library.Book) message.Reply {
	if len(books) == 0 {
		return message.HTML(fmt.Sprintf("⚠️ <b>No available books in \"%s\"</b>. Please check back later or select a different category.",
			message.Escape(category))).WithButtons(message.Row(backToCategoryBtn))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📖 <b>Available books in \"%s\"</b>:\n\n", message.Escape(category))
	for _, book := range books {
		fmt.Fprintf(&b, "🔖 <b>ID: %d</b> - \"%s\"\n", book.ID, message.Escape(book.Title))
	}
	b.WriteString("\nTo reserve a book, type /reserve &lt;ID&gt;.")
	return message.HTML(b.String()).WithButtons(message.Row(backToCategoryBtn))
}

func phonePrompt(prefix string) message.Reply {
	return message.Text(fmt.Sprintf("📞 Please enter your phone number (must start with %s and be %d digits long):",
		prefix, library.PhoneLength))
}

func languageLostReply() message.Reply {
	return message.Text("⚠️ Language selection not found. Please select a language first.")
}
