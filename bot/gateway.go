package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"regexp"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/iabalyuk/librarybot/message"
	"golang.org/x/time/rate"
)

// MaxMessageLength is Telegram's limit on the text of one message.
const MaxMessageLength = 4096

// Gateway delivers replies to chats.
type Gateway interface {
	Send(ctx context.Context, chatID int64, r message.Reply) error
	Edit(ctx context.Context, chatID int64, messageID int, r message.Reply) error
	Delete(ctx context.Context, chatID int64, messageID int) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// TelegramAPI is the part of tgbotapi.BotAPI the gateway uses.
type TelegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// TelegramGateway sends replies through the Telegram Bot API, throttled by a
// token bucket shared by all chats.
type TelegramGateway struct {
	api     TelegramAPI
	limiter *rate.Limiter
}

// NewTelegramGateway creates a gateway allowing perSecond API calls per second.
func NewTelegramGateway(api TelegramAPI, perSecond float64) *TelegramGateway {
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return &TelegramGateway{api: api, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Send delivers r, split on line boundaries when it is too long. Buttons are
// attached to the last part.
func (g *TelegramGateway) Send(ctx context.Context, chatID int64, r message.Reply) error {
	chunks := message.Chunks(r.Text, MaxMessageLength)
	for i, chunk := range chunks {
		msg := tgbotapi.NewMessage(chatID, chunk)
		msg.ParseMode = parseMode(r.Format)
		if i == len(chunks)-1 {
			if kb := inlineKeyboard(r.Buttons); kb != nil {
				msg.ReplyMarkup = kb
			}
		}
		if err := g.send(ctx, msg); err != nil {
			if !rejectedFormatting(err, msg.ParseMode) {
				return fmt.Errorf("send message to %d: %w", chatID, err)
			}
			slog.Warn("formatted message rejected, sending plain text", "chat_id", chatID, "error", err)
			msg.Text = plainText(chunk, r.Format)
			msg.ParseMode = ""
			if err := g.send(ctx, msg); err != nil {
				return fmt.Errorf("send plain message to %d: %w", chatID, err)
			}
		}
	}
	return nil
}

// Edit replaces the text and keyboard of a sent message. Text over the
// message limit is cut.
func (g *TelegramGateway) Edit(ctx context.Context, chatID int64, messageID int, r message.Reply) error {
	var text string
	if chunks := message.Chunks(r.Text, MaxMessageLength); len(chunks) > 0 {
		text = chunks[0]
	}
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = parseMode(r.Format)
	edit.ReplyMarkup = inlineKeyboard(r.Buttons)

	err := g.send(ctx, edit)
	if err != nil && rejectedFormatting(err, edit.ParseMode) {
		edit.Text = plainText(text, r.Format)
		edit.ParseMode = ""
		err = g.send(ctx, edit)
	}
	if err != nil && !notModified(err) {
		return fmt.Errorf("edit message %d in %d: %w", messageID, chatID, err)
	}
	return nil
}

// Delete removes a message.
func (g *TelegramGateway) Delete(ctx context.Context, chatID int64, messageID int) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := g.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		return fmt.Errorf("delete message %d in %d: %w", messageID, chatID, err)
	}
	return nil
}

// AnswerCallback acknowledges a button press, optionally showing text.
func (g *TelegramGateway) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := g.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		return fmt.Errorf("answer callback %s: %w", callbackID, err)
	}
	return nil
}

func (g *TelegramGateway) send(ctx context.Context, c tgbotapi.Chattable) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := g.api.Send(c)
	return err
}

// rejectedFormatting reports whether Telegram refused a formatted message,
// typically because the entities could not be parsed.
func rejectedFormatting(err error, mode string) bool {
	var apiErr *tgbotapi.Error
	return mode != "" && errors.As(err, &apiErr) && apiErr.Code == 400 &&
		strings.Contains(strings.ToLower(apiErr.Message), "parse")
}

func notModified(err error) bool {
	var apiErr *tgbotapi.Error
	return errors.As(err, &apiErr) && strings.Contains(apiErr.Message, "message is not modified")
}

var htmlTag = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)

// plainText strips formatting so the text reads sensibly without a parse mode.
func plainText(text string, f message.Format) string {
	switch f {
	case message.FormatHTML:
		return html.UnescapeString(htmlTag.ReplaceAllString(text, ""))
	case message.FormatMarkdown:
		return strings.NewReplacer("*", "", "_", "", "`", "").Replace(text)
	}
	return text
}
