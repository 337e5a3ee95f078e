package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mquinn/gatekeep/internal/bus"
	"github.com/mquinn/gatekeep/internal/metrics"
)

// Manager coordinates all channels.
type Manager struct {
	channels      map[string]Channel
	bus           *bus.MessageBus
	sendSem       chan struct{}
	runtimeMetric *metrics.RuntimeMetrics
	mu            sync.RWMutex
}

const defaultMaxConcurrentSends = 16

// NewManager creates a channel manager.
func NewManager(msgBus *bus.MessageBus) *Manager {
	return NewManagerWithLimit(msgBus, defaultMaxConcurrentSends)
}

// NewManagerWithLimit creates a channel manager with bounded outbound send concurrency.
func NewManagerWithLimit(msgBus *bus.MessageBus, maxConcurrentSends int) *Manager {
	if maxConcurrentSends <= 0 {
		maxConcurrentSends = 1
	}
	return &Manager{
		channels: make(map[string]Channel),
		bus:      msgBus,
		sendSem:  make(chan struct{}, maxConcurrentSends),
	}
}

// Register adds a channel.
func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

// SetRuntimeMetrics attaches a recorder used for delivery metrics.
func (m *Manager) SetRuntimeMetrics(recorder *metrics.RuntimeMetrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runtimeMetric = recorder
}

// Names returns registered channel names.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}

// Get returns a registered channel by name.
func (m *Manager) Get(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// StartAll starts all channels.
func (m *Manager) StartAll(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, ch := range m.channels {
		go func(n string, c Channel) {
			slog.Info("starting channel", "name", n)
			if err := c.Start(ctx); err != nil {
				slog.Error("channel error", "name", n, "error", err)
			}
		}(name, ch)
	}
}

// SendCard delivers an authorization card through the named channel.
func (m *Manager) SendCard(ctx context.Context, channelName string, card Card) (bus.MessageRef, error) {
	ch, ok := m.Get(channelName)
	if !ok {
		return bus.MessageRef{}, fmt.Errorf("unknown channel %q", channelName)
	}

	ref, err := ch.SendCard(ctx, card)
	m.recordSend(err == nil)
	if err != nil {
		return bus.MessageRef{}, fmt.Errorf("send card via %s: %w", channelName, err)
	}
	return ref, nil
}

// UpdateCard replaces a delivered card with acknowledgment text.
func (m *Manager) UpdateCard(ctx context.Context, ref bus.MessageRef, text string) error {
	ch, ok := m.Get(ref.Channel)
	if !ok {
		return fmt.Errorf("unknown channel %q", ref.Channel)
	}
	return ch.UpdateCard(ctx, ref, text)
}

// Notify sends a plain message synchronously. It satisfies the
// escalation scheduler's delivery contract.
func (m *Manager) Notify(channelName, chatID, operatorID, content string) error {
	ch, ok := m.Get(channelName)
	if !ok {
		return fmt.Errorf("unknown channel %q", channelName)
	}
	if operatorID != "" {
		content = mention(channelName, operatorID) + " " + content
	}
	err := ch.Send(context.Background(), &bus.OutboundMessage{
		Channel: channelName,
		ChatID:  chatID,
		Content: content,
	})
	m.recordSend(err == nil)
	return err
}

// RouteOutbound sends queued outbound messages to their channels.
func (m *Manager) RouteOutbound(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-m.bus.Outbound():
			if !ok {
				return
			}
			if msg == nil {
				continue
			}
			ch, found := m.Get(msg.Channel)
			if !found {
				slog.Warn("outbound message for unknown channel", "channel", msg.Channel)
				continue
			}
			select {
			case m.sendSem <- struct{}{}:
				go func(c Channel, outbound *bus.OutboundMessage) {
					defer func() { <-m.sendSem }()
					err := c.Send(ctx, outbound)
					m.recordSend(err == nil)
					if err != nil {
						slog.Error("send outbound failed",
							"request_id", outbound.RequestID,
							"channel", outbound.Channel,
							"chat_id", outbound.ChatID,
							"error", err,
						)
					}
				}(ch, msg)
			case <-ctx.Done():
				return
			}
		}
	}
}

// StopAll stops all channels.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, ch := range m.channels {
		_ = ch.Stop(ctx)
	}
}

func (m *Manager) recordSend(success bool) {
	m.mu.RLock()
	recorder := m.runtimeMetric
	m.mu.RUnlock()
	if recorder != nil {
		recorder.RecordCardSend(success)
	}
}

// mention formats a platform-appropriate operator ping.
func mention(channelName, operatorID string) string {
	switch channelName {
	case "slack":
		return fmt.Sprintf("<@%s>", operatorID)
	case "telegram":
		return "@" + operatorID
	default:
		return "@" + operatorID
	}
}
