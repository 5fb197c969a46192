package bot

import (
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/iabalyuk/librarybot/library"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text string
		cmd  Command
		args string
		ok   bool
	}{
		{"/start", CommandStart, "", true},
		{"/reserve 12", CommandReserve, "12", true},
		{"/reserve@library_bot  12 ", CommandReserve, "12", true},
		{"/add_books 1 Arabic \"Fiqh\" \"One\"; 2 Arabic \"Fiqh\" \"Two\"", CommandAddBooks, "1 Arabic \"Fiqh\" \"One\"; 2 Arabic \"Fiqh\" \"Two\"", true},
		{"/librarian_add_reservation Ali 5 Friday noon", CommandLibrarianAddReservation, "Ali 5 Friday noon", true},
		{"/Reserve 12", CommandUnknown, "12", true},
		{"/reserve_book 12", CommandUnknown, "12", true},
		{"hello", CommandUnknown, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			cmd, args, ok := ParseCommand(tt.text)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.cmd, cmd)
			assert.Equal(t, tt.args, args)
		})
	}
}

func TestCommandProperties(t *testing.T) {
	assert.Equal(t, "/cancel_reservation", CommandCancelReservation.String())
	assert.Equal(t, "unknown", CommandUnknown.String())
	assert.True(t, CommandRemoveBook.LibrarianOnly())
	assert.True(t, CommandViewReservations.LibrarianOnly())
	assert.False(t, CommandReserve.LibrarianOnly())
}

func callbackQuery(data string) *tgbotapi.CallbackQuery {
	return &tgbotapi.CallbackQuery{
		ID:      "q1",
		Data:    data,
		Message: &tgbotapi.Message{MessageID: 7, Chat: &tgbotapi.Chat{ID: 1}},
	}
}

func TestParseCallback(t *testing.T) {
	cb := Callback{ChatID: 1, MessageID: 7, QueryID: "q1"}
	tests := []struct {
		data string
		want Event
	}{
		{"register", RegisterCallback{cb}},
		{"help", HelpCallback{cb}},
		{"browse", BrowseCallback{cb}},
		{"back_to_main_menu", BackCallback{Callback: cb, Target: BackToMainMenu}},
		{"back_to_language", BackCallback{Callback: cb, Target: BackToLanguage}},
		{"back_to_category", BackCallback{Callback: cb, Target: BackToCategory}},
		{"lang:Amharic", LanguageCallback{Callback: cb, Language: library.LanguageAmharic}},
		{"AfaanOromo", LanguageCallback{Callback: cb, Language: library.LanguageAfaanOromo}},
		{"cat:Fiqh", CategoryCallback{Callback: cb, Category: "Fiqh"}},
		{"cat:", UnknownEvent{ChatID: 1, QueryID: "q1", Reason: "unknown callback data"}},
		{"lang:Klingon", UnknownEvent{ChatID: 1, QueryID: "q1", Reason: "unknown callback data"}},
		{"date:2024-01-01", UnknownEvent{ChatID: 1, QueryID: "q1", Reason: "unknown callback data"}},
	}
	for _, tt := range tests {
		t.Run(tt.data, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseCallback(callbackQuery(tt.data)))
		})
	}
}

func TestParseUpdate(t *testing.T) {
	ev, ok := ParseUpdate(tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 3}, Text: "Jane"}})
	require.True(t, ok)
	assert.Equal(t, TextEvent{ChatID: 3, Text: "Jane"}, ev)

	ev, ok = ParseUpdate(tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 3}}})
	require.True(t, ok)
	assert.IsType(t, UnknownEvent{}, ev)

	ev, ok = ParseUpdate(tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{ID: "q", Data: "help"}})
	require.True(t, ok)
	assert.Equal(t, UnknownEvent{QueryID: "q", Reason: "callback without message"}, ev)

	_, ok = ParseUpdate(tgbotapi.Update{EditedMessage: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 3}, Text: "x"}})
	assert.False(t, ok)
}
