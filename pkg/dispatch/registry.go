package dispatch

import (
	"context"
	"strings"

	"cityduel/pkg/bus"
)

// DefaultUnknownReply is the fallback text for commands with no handler.
const DefaultUnknownReply = "Unknown command. Send /help for the list of commands."

// Routes declares the full handler catalog. It is consumed once by
// NewRegistry; the maps are copied so later mutation has no effect.
type Routes struct {
	// Commands maps a command name without the leading slash ("play")
	// to its handler.
	Commands map[string]bus.Handler

	// Text handles non-command messages (game moves).
	Text bus.Handler

	// Callbacks maps a callback-data prefix (the part before ':') to
	// its handler.
	Callbacks map[string]bus.Handler

	// Unknown replaces the built-in unknown-command reply when set.
	Unknown bus.Handler
}

// Registry is the immutable routing table built once at startup.
type Registry struct {
	commands  map[string]bus.Handler
	text      bus.Handler
	callbacks map[string]bus.Handler
	unknown   bus.Handler
}

// NewRegistry copies the routes into an immutable registry.
func NewRegistry(routes Routes) *Registry {
	commands := make(map[string]bus.Handler, len(routes.Commands))
	for name, handler := range routes.Commands {
		commands[strings.ToLower(strings.TrimPrefix(name, "/"))] = handler
	}

	callbacks := make(map[string]bus.Handler, len(routes.Callbacks))
	for prefix, handler := range routes.Callbacks {
		callbacks[prefix] = handler
	}

	unknown := routes.Unknown
	if unknown == nil {
		unknown = func(_ context.Context, event bus.InboundEvent) ([]bus.OutboundMessage, error) {
			return []bus.OutboundMessage{bus.Reply(event.ChatID, DefaultUnknownReply)}, nil
		}
	}

	return &Registry{
		commands:  commands,
		text:      routes.Text,
		callbacks: callbacks,
		unknown:   unknown,
	}
}

// Resolve returns the handler for an event. Events with no matching
// handler resolve to the unknown-command handler for commands, and to
// a no-op for text and callbacks the catalog does not cover.
func (r *Registry) Resolve(event bus.InboundEvent) bus.Handler {
	switch event.Kind {
	case bus.KindCallback:
		prefix, _, _ := strings.Cut(event.CallbackData, ":")
		if handler, ok := r.callbacks[prefix]; ok {
			return handler
		}
		return discard

	case bus.KindMessage:
		if event.Command != "" {
			if handler, ok := r.commands[strings.ToLower(event.Command)]; ok {
				return handler
			}
			return r.unknown
		}
		if r.text != nil {
			return r.text
		}
		return discard
	}

	return discard
}

func discard(_ context.Context, _ bus.InboundEvent) ([]bus.OutboundMessage, error) {
	return nil, nil
}
