package channel

import (
	"context"
	"strings"

	"github.com/mquinn/gatekeep/internal/bus"
)

// Button is one actionable choice on an authorization card. Value
// carries the encoded action payload round-tripped back on click.
type Button struct {
	Label string
	Value string
}

// Card is a platform-independent authorization prompt with buttons.
type Card struct {
	ChatID  string
	Text    string
	Buttons []Button
}

// Channel interface for chat platforms.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	// Send delivers a plain notification.
	Send(ctx context.Context, msg *bus.OutboundMessage) error

	// SendCard delivers an interactive card and returns the reference
	// needed to update it later.
	SendCard(ctx context.Context, card Card) (bus.MessageRef, error)

	// UpdateCard replaces a delivered card with acknowledgment text,
	// removing its buttons.
	UpdateCard(ctx context.Context, ref bus.MessageRef, text string) error

	IsAllowed(senderID string) bool
}

// BaseChannel provides common functionality.
type BaseChannel struct {
	Bus       *bus.MessageBus
	AllowList map[string]bool
}

// IsAllowed checks if sender is permitted.
func (b *BaseChannel) IsAllowed(senderID string) bool {
	if len(b.AllowList) == 0 {
		return true
	}

	idPart := senderID
	userPart := ""
	if idx := strings.Index(senderID, "|"); idx > 0 {
		idPart = senderID[:idx]
		userPart = senderID[idx+1:]
	}

	for allowed := range b.AllowList {
		normalized := strings.TrimSpace(allowed)
		trimmed := strings.TrimPrefix(normalized, "@")
		if normalized == senderID || trimmed == senderID ||
			normalized == idPart || trimmed == idPart ||
			(userPart != "" && (normalized == userPart || trimmed == userPart)) {
			return true
		}
	}

	return false
}

// PublishAction forwards a button click to the bus.
func (b *BaseChannel) PublishAction(action *bus.CardAction) {
	if b.Bus != nil {
		b.Bus.PublishAction(action)
	}
}
