package transport

import (
	"context"
	"testing"

	"github.com/morezero/umicp/pkg/envelope"
)

func TestNoOpPublisher(t *testing.T) {
	pub := &NoOpPublisher{}
	if err := pub.Publish(context.Background(), testEnvelope(t, 1)); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCallbackPublisher(t *testing.T) {
	var captured *envelope.Envelope

	pub := NewCallbackPublisher(func(_ context.Context, e *envelope.Envelope) error {
		captured = e
		return nil
	})

	e := testEnvelope(t, 1)
	if err := pub.Publish(context.Background(), e); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if captured == nil {
		t.Fatal("expected callback to be called")
	}
	if captured.MessageID() != e.MessageID() {
		t.Errorf("expected msg id %s, got %s", e.MessageID(), captured.MessageID())
	}
}
