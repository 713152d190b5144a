package bus

import "context"

// EventKind distinguishes the update shapes the transport can deliver.
type EventKind string

const (
	KindMessage  EventKind = "message"
	KindCallback EventKind = "callback"
)

// InboundEvent is one unit of user activity received from the chat
// platform, normalized away from the transport's own update type.
//
// Seq is the platform-assigned, monotonically increasing update id; the
// dispatch loop acknowledges it exactly once per event.
type InboundEvent struct {
	Seq        int64     `json:"seq"`
	Kind       EventKind `json:"kind"`
	ChatID     int64     `json:"chat_id"`
	SenderID   int64     `json:"sender_id"`
	SenderName string    `json:"sender_name,omitempty"`

	Text    string   `json:"text,omitempty"`
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`

	CallbackID   string `json:"callback_id,omitempty"`
	CallbackData string `json:"callback_data,omitempty"`
}

// MessageKind distinguishes outbound payload shapes.
type MessageKind string

const (
	KindChat           MessageKind = "chat"
	KindCallbackAnswer MessageKind = "callback_answer"
)

// Button is one inline keyboard button attached to an outbound message.
type Button struct {
	Text string `json:"text"`
	Data string `json:"data"`
}

// OutboundMessage is a reply destined for a specific chat, or an answer
// to a callback query. Sent at-most-once per delivery attempt.
type OutboundMessage struct {
	Kind      MessageKind `json:"kind"`
	ChatID    int64       `json:"chat_id,omitempty"`
	Text      string      `json:"text"`
	ParseMode string      `json:"parse_mode,omitempty"`
	Buttons   []Button    `json:"buttons,omitempty"`

	CallbackID string `json:"callback_id,omitempty"`
}

// Reply builds a plain chat message.
func Reply(chatID int64, text string) OutboundMessage {
	return OutboundMessage{Kind: KindChat, ChatID: chatID, Text: text}
}

// CallbackAnswer builds a short notification shown to the user who
// tapped an inline button.
func CallbackAnswer(callbackID string, text string) OutboundMessage {
	return OutboundMessage{Kind: KindCallbackAnswer, CallbackID: callbackID, Text: text}
}

// Handler maps one event shape to zero or more outbound replies.
// Handlers are registered once at startup and never mutated afterwards.
type Handler func(ctx context.Context, event InboundEvent) ([]OutboundMessage, error)
