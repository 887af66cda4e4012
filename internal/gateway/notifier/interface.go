// Package notifier pushes operator alerts (risk ceilings, lost broker
// sessions, fills) to a chat channel.
package notifier

import "log/slog"

// TextNotifier is the only surface the agents depend on.
type TextNotifier interface {
	SendText(text string) error
}

type nop struct{}

func (nop) SendText(string) error { return nil }

// Nop discards every message. Used when no channel is configured.
func Nop() TextNotifier { return nop{} }

// Send delivers msg and logs a failure instead of returning it; alerts must
// never fail the operation that raised them.
func Send(n TextNotifier, log *slog.Logger, msg StructuredMessage) {
	if n == nil {
		return
	}
	if err := n.SendText(msg.RenderMarkdown()); err != nil && log != nil {
		log.Warn("notification failed", "title", msg.Title, "error", err)
	}
}
