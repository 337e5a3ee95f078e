package bus

// MessageBus carries outbound messages and inbound card actions between
// the channel layer and the rest of the process.
type MessageBus struct {
	outbound chan *OutboundMessage
	actions  chan *CardAction
}

// NewMessageBus creates a bus with bounded queues.
func NewMessageBus(size int) *MessageBus {
	if size <= 0 {
		size = 1
	}
	return &MessageBus{
		outbound: make(chan *OutboundMessage, size),
		actions:  make(chan *CardAction, size),
	}
}

// PublishOutbound queues a message for delivery.
func (b *MessageBus) PublishOutbound(msg *OutboundMessage) {
	b.outbound <- msg
}

// PublishAction queues an operator card action for resolution.
func (b *MessageBus) PublishAction(action *CardAction) {
	b.actions <- action
}

// Outbound returns the outbound queue.
func (b *MessageBus) Outbound() <-chan *OutboundMessage {
	return b.outbound
}

// Actions returns the card action queue.
func (b *MessageBus) Actions() <-chan *CardAction {
	return b.actions
}
