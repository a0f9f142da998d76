package transport

import (
	"context"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/umicp/pkg/commsutil"
	"github.com/morezero/umicp/pkg/envelope"
	"github.com/morezero/umicp/pkg/payload"
	"github.com/morezero/umicp/pkg/protoerr"
)

const commsPublisherLogPrefix = "transport:comms_publisher"

// CommsPublisherOpts configures CommsPublisher. Nil or zero values use defaults.
type CommsPublisherOpts struct {
	Compression          payload.Algorithm
	CompressionThreshold int
	// MaxPayloadSize defaults to the server's advertised max payload.
	MaxPayloadSize int
	// EventFanout also publishes every envelope to umicp.events.<op>.
	EventFanout bool
}

// CommsPublisher publishes envelopes to recipient inbox subjects.
type CommsPublisher struct {
	nc   *comms.Conn
	opts EncodeOptions
	fan  bool
}

// NewCommsPublisher creates a new CommsPublisher. Pass nil for opts to use defaults.
func NewCommsPublisher(nc *comms.Conn, opts *CommsPublisherOpts) *CommsPublisher {
	p := &CommsPublisher{nc: nc}
	if opts != nil {
		p.opts = EncodeOptions{
			Compression:    opts.Compression,
			Threshold:      opts.CompressionThreshold,
			MaxPayloadSize: opts.MaxPayloadSize,
		}
		p.fan = opts.EventFanout
	}
	if p.opts.MaxPayloadSize == 0 && nc != nil {
		p.opts.MaxPayloadSize = int(nc.MaxPayload())
	}
	return p
}

// MaxPayloadSize returns the envelope size limit in effect, zero when unlimited.
func (p *CommsPublisher) MaxPayloadSize() int { return p.opts.MaxPayloadSize }

// Publish sends e to the inbox of e.To() and, with fan-out enabled, to its event subject.
func (p *CommsPublisher) Publish(ctx context.Context, e *envelope.Envelope) error {
	if err := ctx.Err(); err != nil {
		return protoerr.Transport(err, "publish cancelled")
	}

	subject := commsutil.NodeSubject(e.To())
	msg, err := Encode(e, subject, p.opts)
	if err != nil {
		return err
	}
	if err := p.nc.PublishMsg(msg); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, subject, err))
		return protoerr.Transport(err, "failed to publish to %s", subject)
	}

	if p.fan {
		eventSubject := commsutil.EventSubject(e.Operation())
		fanMsg := &comms.Msg{Subject: eventSubject, Data: msg.Data, Header: msg.Header}
		if err := p.nc.PublishMsg(fanMsg); err != nil {
			slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, eventSubject, err))
			return protoerr.Transport(err, "failed to publish to %s", eventSubject)
		}
	}

	slog.Debug(fmt.Sprintf("%s - Published %s %s -> %s", commsPublisherLogPrefix, e.Operation(), e.MessageID(), e.To()))
	return nil
}

// Request sends e to the inbox of e.To() and waits for a reply envelope until ctx is done.
func (p *CommsPublisher) Request(ctx context.Context, e *envelope.Envelope) (*envelope.Envelope, error) {
	subject := commsutil.NodeSubject(e.To())
	msg, err := Encode(e, subject, p.opts)
	if err != nil {
		return nil, err
	}

	reply, err := p.nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return nil, protoerr.Transport(err, "request to %s failed", subject)
	}

	resp, _, err := p.Decode(reply)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Decode decodes msg, bounding the decompressed body by the publisher's MaxPayloadSize.
func (p *CommsPublisher) Decode(msg *comms.Msg) (*envelope.Envelope, []byte, error) {
	return Decode(msg, p.opts.MaxPayloadSize)
}

// Reply answers a request message with e.
func (p *CommsPublisher) Reply(req *comms.Msg, e *envelope.Envelope) error {
	if req.Reply == "" {
		return p.Publish(context.Background(), e)
	}
	msg, err := Encode(e, req.Reply, p.opts)
	if err != nil {
		return err
	}
	if err := p.nc.PublishMsg(msg); err != nil {
		return protoerr.Transport(err, "failed to reply on %s", req.Reply)
	}
	return nil
}
