package bus

import (
	"testing"
	"time"
)

func TestMessageRefKey(t *testing.T) {
	ref := MessageRef{Channel: "telegram", ChatID: "42", MessageID: "1001"}
	if got := ref.Key(); got != "telegram:42:1001" {
		t.Errorf("Key() = %q", got)
	}
}

func TestMessageRefIsZero(t *testing.T) {
	if !(MessageRef{}).IsZero() {
		t.Error("empty ref should be zero")
	}
	if (MessageRef{Channel: "slack"}).IsZero() {
		t.Error("partial ref should not be zero")
	}
}

func TestPublishAndConsume(t *testing.T) {
	b := NewMessageBus(2)

	b.PublishOutbound(&OutboundMessage{Channel: "telegram", ChatID: "42", Content: "hi"})
	b.PublishAction(&CardAction{Value: "click", Timestamp: time.Now()})

	select {
	case msg := <-b.Outbound():
		if msg.Content != "hi" {
			t.Errorf("Content = %q", msg.Content)
		}
	default:
		t.Fatal("outbound message not queued")
	}

	select {
	case action := <-b.Actions():
		if action.Value != "click" {
			t.Errorf("Value = %q", action.Value)
		}
	default:
		t.Fatal("card action not queued")
	}
}

func TestNewRequestIDUnique(t *testing.T) {
	if NewRequestID() == NewRequestID() {
		t.Error("request ids should differ")
	}
}
