package transport

import (
	"context"

	"github.com/morezero/umicp/pkg/envelope"
)

// Publisher sends envelopes to their recipients.
type Publisher interface {
	Publish(ctx context.Context, e *envelope.Envelope) error
}

// NoOpPublisher is a Publisher that does nothing (for in-process usage without COMMS).
type NoOpPublisher struct{}

// Publish is a no-op.
func (p *NoOpPublisher) Publish(_ context.Context, _ *envelope.Envelope) error {
	return nil
}

// CallbackPublisher is a Publisher that calls a callback function (for testing).
type CallbackPublisher struct {
	callback func(ctx context.Context, e *envelope.Envelope) error
}

// NewCallbackPublisher creates a new CallbackPublisher.
func NewCallbackPublisher(cb func(ctx context.Context, e *envelope.Envelope) error) *CallbackPublisher {
	return &CallbackPublisher{callback: cb}
}

// Publish calls the callback.
func (p *CallbackPublisher) Publish(ctx context.Context, e *envelope.Envelope) error {
	return p.callback(ctx, e)
}
