package bot

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/iabalyuk/librarybot/catalog"
	"github.com/iabalyuk/librarybot/conversation"
	"github.com/iabalyuk/librarybot/reservation"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/sync/errgroup"
)

const (
	// updateTimeout bounds the handling of one update.
	updateTimeout = 30 * time.Second
	// maxWebhookBody caps the size of one webhook request.
	maxWebhookBody = 1 << 20
	// laneBuffer is the number of updates queued per polling worker.
	laneBuffer = 64
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Bot routes Telegram updates to the conversation, reservation and catalog services
type Bot struct {
	gateway         Gateway
	machine         *conversation.Machine
	reservations    *reservation.Service
	catalog         *catalog.Service
	librarianChatID int64
}

// NewBotConfig represents the collaborators of the bot
type NewBotConfig struct {
	Gateway         Gateway
	Machine         *conversation.Machine
	Reservations    *reservation.Service
	Catalog         *catalog.Service
	LibrarianChatID int64
}

// New creates a new bot instance
func New(config NewBotConfig) *Bot {
	return &Bot{
		gateway:         config.Gateway,
		machine:         config.Machine,
		reservations:    config.Reservations,
		catalog:         config.Catalog,
		librarianChatID: config.LibrarianChatID,
	}
}

// HandleUpdate classifies and handles one update. The handling outlives ctx's
// cancellation up to updateTimeout so a shutdown does not cut a reply in half.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	ev, ok := ParseUpdate(update)
	if !ok {
		slog.Debug("ignoring update", "update_id", update.UpdateID)
		return
	}

	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), updateTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic while handling update", "update_id", update.UpdateID, "chat_id", ev.Chat(), "panic", r)
		}
	}()
	b.Handle(hctx, ev)
}

// Poll consumes updates until ctx is cancelled or the channel is closed. Updates
// are spread over maxConcurrent workers by chat, so one chat's updates are
// handled one at a time in arrival order while different chats proceed in
// parallel. It waits for the workers to drain before returning.
func (b *Bot) Poll(ctx context.Context, updates <-chan tgbotapi.Update, maxConcurrent int64) error {
	n := int(maxConcurrent)
	if n < 1 {
		n = 1
	}
	lanes := make([]chan tgbotapi.Update, n)
	var workers errgroup.Group
	for i := range lanes {
		lane := make(chan tgbotapi.Update, laneBuffer)
		lanes[i] = lane
		workers.Go(func() error {
			for update := range lane {
				b.HandleUpdate(ctx, update)
			}
			return nil
		})
	}
	defer func() {
		for _, lane := range lanes {
			close(lane)
		}
		_ = workers.Wait()
	}()

	slog.Info("polling for updates", "workers", n)
	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			select {
			case lanes[laneOf(update, n)] <- update:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// laneOf picks the worker for an update by its chat. Updates without a chat
// share lane 0.
func laneOf(update tgbotapi.Update, n int) int {
	ev, ok := ParseUpdate(update)
	if !ok {
		return 0
	}
	return int(uint64(ev.Chat()) % uint64(n))
}

// WebhookHandler accepts one JSON update per POST request. It answers 200
// whatever the outcome so Telegram does not redeliver.
func (b *Bot) WebhookHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		start := time.Now()
		logger := slog.With("request_id", uuid.NewString())

		var update tgbotapi.Update
		body := io.LimitReader(r.Body, maxWebhookBody)
		if err := json.NewDecoder(body).Decode(&update); err != nil {
			logger.Warn("invalid webhook payload", "error", err)
			w.WriteHeader(http.StatusOK)
			return
		}

		b.HandleUpdate(r.Context(), update)
		logger.Info("webhook update handled", "update_id", update.UpdateID, "duration", time.Since(start))
		w.WriteHeader(http.StatusOK)
	})
}
