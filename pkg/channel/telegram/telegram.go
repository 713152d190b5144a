package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"cityduel/pkg/bus"
	"cityduel/pkg/dispatch"
)

const messagePreviewLimit = 240

// api is the slice of the Telegram Bot API the transport needs; the
// indirection exists for tests.
type api interface {
	GetUpdates(ctx context.Context, params *telego.GetUpdatesParams) ([]telego.Update, error)
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	AnswerCallbackQuery(ctx context.Context, params *telego.AnswerCallbackQueryParams) error
}

// Transport bridges Telegram long polling into the dispatch loop. The
// long-poll offset is the acknowledgement cursor: once an update id is
// acked, the next getUpdates call tells Telegram to drop everything up
// to and including it.
type Transport struct {
	api         api
	log         *slog.Logger
	pollTimeout int

	mu         sync.Mutex
	nextOffset int
}

// New validates the token and constructs the transport.
func New(token string, pollTimeoutSeconds int, log *slog.Logger) (*Transport, error) {
	if strings.TrimSpace(token) == "" {
		return nil, dispatch.ConfigError("telegram token is required", nil)
	}
	if log == nil {
		log = slog.Default()
	}

	bot, err := telego.NewBot(strings.TrimSpace(token))
	if err != nil {
		return nil, fmt.Errorf("initialize telegram bot: %w", err)
	}

	return &Transport{
		api:         bot,
		log:         log.With("component", "channel.telegram"),
		pollTimeout: pollTimeoutSeconds,
	}, nil
}

// Poll long-polls Telegram for the next batch of updates, preserving
// delivery order. Updates the loop cannot act on (non-text messages,
// unknown update shapes) are acked here so they are never redelivered.
func (t *Transport) Poll(ctx context.Context) ([]bus.InboundEvent, error) {
	t.mu.Lock()
	offset := t.nextOffset
	t.mu.Unlock()

	updates, err := t.api.GetUpdates(ctx, &telego.GetUpdatesParams{
		Offset:  offset,
		Timeout: t.pollTimeout,
	})
	if err != nil {
		return nil, dispatch.TransportError("get updates", err)
	}

	events := make([]bus.InboundEvent, 0, len(updates))
	for _, update := range updates {
		event, ok := eventFromUpdate(update)
		if !ok {
			t.Ack(int64(update.UpdateID))
			continue
		}

		t.log.Debug("Received update",
			"seq", event.Seq, "kind", event.Kind, "chat_id", event.ChatID,
			"content", previewText(event.Text))
		events = append(events, event)
	}

	return events, nil
}

// Ack advances the long-poll offset past seq. Idempotent; the offset
// never moves backwards.
func (t *Transport) Ack(seq int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if next := int(seq) + 1; next > t.nextOffset {
		t.nextOffset = next
	}
}

// Send delivers one outbound message or callback answer. One attempt;
// retries belong to the dispatch loop.
func (t *Transport) Send(ctx context.Context, msg bus.OutboundMessage) error {
	switch msg.Kind {
	case bus.KindCallbackAnswer:
		err := t.api.AnswerCallbackQuery(ctx, &telego.AnswerCallbackQueryParams{
			CallbackQueryID: msg.CallbackID,
			Text:            msg.Text,
		})
		if err != nil {
			return dispatch.TransportError("answer callback query", err)
		}
		return nil

	case bus.KindChat, "":
		params := tu.Message(tu.ID(msg.ChatID), msg.Text)
		if msg.ParseMode != "" {
			params = params.WithParseMode(msg.ParseMode)
		}
		if len(msg.Buttons) > 0 {
			params = params.WithReplyMarkup(keyboardFor(msg.Buttons))
		}
		if _, err := t.api.SendMessage(ctx, params); err != nil {
			return dispatch.TransportError("send message", err)
		}
		return nil
	}

	return dispatch.TransportError(fmt.Sprintf("unsupported message kind %q", msg.Kind), errors.New("unknown kind"))
}

// keyboardFor lays the buttons out as a single inline keyboard row.
func keyboardFor(buttons []bus.Button) *telego.InlineKeyboardMarkup {
	row := make([]telego.InlineKeyboardButton, 0, len(buttons))
	for _, button := range buttons {
		row = append(row, tu.InlineKeyboardButton(button.Text).WithCallbackData(button.Data))
	}
	return tu.InlineKeyboard(tu.InlineKeyboardRow(row...))
}

// eventFromUpdate normalizes one Telegram update. The second return
// value is false for shapes the bot does not handle.
func eventFromUpdate(update telego.Update) (bus.InboundEvent, bool) {
	if callback := update.CallbackQuery; callback != nil {
		return bus.InboundEvent{
			Seq:          int64(update.UpdateID),
			Kind:         bus.KindCallback,
			ChatID:       callback.From.ID,
			SenderID:     callback.From.ID,
			SenderName:   senderName(&callback.From),
			CallbackID:   callback.ID,
			CallbackData: callback.Data,
		}, true
	}

	message := update.Message
	if message == nil || message.From == nil {
		return bus.InboundEvent{}, false
	}

	text := strings.TrimSpace(message.Text)
	if text == "" {
		return bus.InboundEvent{}, false
	}

	command, args := parseCommand(text)

	return bus.InboundEvent{
		Seq:        int64(update.UpdateID),
		Kind:       bus.KindMessage,
		ChatID:     message.Chat.ID,
		SenderID:   message.From.ID,
		SenderName: senderName(message.From),
		Text:       text,
		Command:    command,
		Args:       args,
	}, true
}

// parseCommand splits "/cmd@Bot arg..." into a lowercase command name
// and its arguments. Plain text yields an empty command.
func parseCommand(text string) (string, []string) {
	if !strings.HasPrefix(text, "/") {
		return "", nil
	}

	fields := strings.Fields(text)
	command := strings.TrimPrefix(fields[0], "/")
	command, _, _ = strings.Cut(command, "@")
	if command == "" {
		return "", nil
	}

	return strings.ToLower(command), fields[1:]
}

func senderName(user *telego.User) string {
	if user == nil {
		return "Player"
	}
	if user.Username != "" {
		return user.Username
	}
	if user.FirstName != "" {
		return user.FirstName
	}
	return "Player"
}

// previewText returns a bounded log-safe preview of message text.
func previewText(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= messagePreviewLimit {
		return trimmed
	}
	return trimmed[:messagePreviewLimit] + "..."
}
