package bot

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/iabalyuk/librarybot/message"
)

// inlineKeyboard converts reply buttons to a Telegram inline keyboard.
// Returns nil when the reply has no buttons.
func inlineKeyboard(rows [][]message.Button) *tgbotapi.InlineKeyboardMarkup {
	var keyboardRows [][]tgbotapi.InlineKeyboardButton
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Data))
		}
		keyboardRows = append(keyboardRows, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	if len(keyboardRows) == 0 {
		return nil
	}
	keyboard := tgbotapi.NewInlineKeyboardMarkup(keyboardRows...)
	return &keyboard
}

// parseMode maps a reply format to Telegram's parse mode.
func parseMode(f message.Format) string {
	switch f {
	case message.FormatHTML:
		return tgbotapi.ModeHTML
	case message.FormatMarkdown:
		return tgbotapi.ModeMarkdown
	}
	return ""
}
