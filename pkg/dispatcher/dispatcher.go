// Package dispatcher routes received envelopes to handlers by operation and builds the reply
// envelope, if any, that goes back to the sender.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"

	"github.com/morezero/umicp/pkg/envelope"
	"github.com/morezero/umicp/pkg/kernel"
	"github.com/morezero/umicp/pkg/metrics"
	"github.com/morezero/umicp/pkg/protoerr"
	"github.com/morezero/umicp/pkg/schema"
	"github.com/morezero/umicp/pkg/types"
	"github.com/morezero/umicp/pkg/validate"
)

const logPrefix = "dispatcher:dispatch"

// SupportedVersions is the protocol version constraint accepted by Dispatch.
const SupportedVersions = "^1"

// Capability keys set on replies.
const (
	CapInReplyTo    = "in_reply_to"
	CapErrorKind    = "error.kind"
	CapErrorCode    = "error.code"
	CapErrorMessage = "error.message"
	CapControl      = "control"
	CapJournal      = "journal"
)

// Handler processes one envelope. A nil reply means nothing is sent back.
type Handler interface {
	Handle(ctx context.Context, e *envelope.Envelope, raw []byte) (*envelope.Envelope, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, e *envelope.Envelope, raw []byte) (*envelope.Envelope, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, e *envelope.Envelope, raw []byte) (*envelope.Envelope, error) {
	return f(ctx, e, raw)
}

// Journal persists received data envelopes. db.Repository implements it.
type Journal interface {
	SaveEnvelope(ctx context.Context, e *envelope.Envelope, raw []byte) (bool, error)
}

// Default kernel request limits.
const (
	DefaultMaxElements = 1 << 22
	DefaultMaxWork     = 1 << 30
)

// Limits bounds the buffers a kernel request may make the node allocate. MaxElements caps a
// result buffer, MaxWork caps multiply-adds in matrix_multiply. Zero means the default.
type Limits struct {
	MaxElements int
	MaxWork     int
}

// NewDispatcherParams holds dependencies. Only NodeID is required.
type NewDispatcherParams struct {
	NodeID   string
	Kernel   *kernel.Kernel
	Schemas  *schema.Registry
	Journal  Journal
	Observer metrics.Observer
	Limits   Limits
}

// Dispatcher routes envelopes to handlers.
type Dispatcher struct {
	nodeID   string
	kernel   *kernel.Kernel
	schemas  *schema.Registry
	journal  Journal
	observer metrics.Observer
	limits   Limits
	handlers map[types.OperationType]Handler
}

// NewDispatcher creates a Dispatcher with the built-in handlers for Control, Data and
// Request. Ack, Error and Response envelopes are terminal and have no handler by default.
func NewDispatcher(params NewDispatcherParams) *Dispatcher {
	d := &Dispatcher{
		nodeID:   params.NodeID,
		kernel:   params.Kernel,
		schemas:  params.Schemas,
		journal:  params.Journal,
		observer: params.Observer,
		limits:   params.Limits,
		handlers: make(map[types.OperationType]Handler),
	}
	if d.kernel == nil {
		d.kernel = kernel.Default()
	}
	if d.observer == nil {
		d.observer = metrics.NoOp{}
	}
	if d.limits.MaxElements <= 0 {
		d.limits.MaxElements = DefaultMaxElements
	}
	if d.limits.MaxWork <= 0 {
		d.limits.MaxWork = DefaultMaxWork
	}
	d.handlers[types.OperationControl] = HandlerFunc(d.handleControl)
	d.handlers[types.OperationData] = HandlerFunc(d.handleData)
	d.handlers[types.OperationRequest] = HandlerFunc(d.handleRequest)
	return d
}

// Handle registers h for op, replacing any built-in handler. Not safe to call concurrently
// with Dispatch.
func (d *Dispatcher) Handle(op types.OperationType, h Handler) {
	d.handlers[op] = h
}

// Dispatch runs the handler for e and returns the reply to send, or nil. raw is the serialized
// form e was decoded from and may be nil. Failures are turned into Error envelopes, except for
// terminal envelopes, which never get a reply.
func (d *Dispatcher) Dispatch(ctx context.Context, e *envelope.Envelope, raw []byte) *envelope.Envelope {
	op := e.Operation()
	slog.Debug(fmt.Sprintf("%s - op=%s id=%s from=%s", logPrefix, op, e.MessageID(), e.From()))

	reply, err := d.dispatch(ctx, e, raw)
	if err != nil {
		d.observer.EnvelopeReceived(op.String(), metrics.StatusError)
		slog.Warn(fmt.Sprintf("%s - %s %s from %s failed: %v", logPrefix, op, e.MessageID(), e.From(), err))
		if terminal(op) {
			return nil
		}
		return d.ErrorReply(e, err)
	}
	d.observer.EnvelopeReceived(op.String(), metrics.StatusOK)
	return reply
}

func (d *Dispatcher) dispatch(ctx context.Context, e *envelope.Envelope, raw []byte) (*envelope.Envelope, error) {
	ok, err := validate.VersionSatisfies(e.Version(), SupportedVersions)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, protoerr.Validation("Unsupported protocol version: %s", e.Version())
	}

	if d.schemas != nil {
		if _, has := e.SchemaURI(); has {
			res := d.schemas.ValidateEnvelope(e)
			d.observer.SchemaValidation(res.Valid)
			if !res.Valid {
				return nil, protoerr.Validation("%s", res.Error)
			}
		}
	}

	h, ok := d.handlers[e.Operation()]
	if !ok {
		if terminal(e.Operation()) {
			slog.Debug(fmt.Sprintf("%s - %s %s accepted without handler", logPrefix, e.Operation(), e.MessageID()))
			return nil, nil
		}
		return nil, protoerr.Validation("No handler for operation: %s", e.Operation())
	}
	return invoke(ctx, h, e, raw)
}

// invoke runs h and converts a panic into a Generic error so one envelope cannot stop the node.
func invoke(ctx context.Context, h Handler, e *envelope.Envelope, raw []byte) (reply *envelope.Envelope, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - handler for %s %s panicked: %v\n%s", logPrefix, e.Operation(), e.MessageID(), r, debug.Stack()))
			reply, err = nil, protoerr.Generic("Internal error handling %s", e.MessageID())
		}
	}()
	return h.Handle(ctx, e, raw)
}

func terminal(op types.OperationType) bool {
	return op == types.OperationAck || op == types.OperationError || op == types.OperationResponse
}

// ReplyTo starts a reply to e: addressed back to the sender, from this node, with in_reply_to
// set to e's message id.
func (d *Dispatcher) ReplyTo(e *envelope.Envelope, op types.OperationType) *envelope.Builder {
	from := d.nodeID
	if from == "" {
		from = e.To()
	}
	return envelope.NewBuilder().
		From(from).
		To(e.From()).
		Operation(op).
		Capability(CapInReplyTo, e.MessageID())
}

// ErrorReply builds an Error envelope describing err.
func (d *Dispatcher) ErrorReply(e *envelope.Envelope, err error) *envelope.Envelope {
	kind, code := classify(err)
	b := d.ReplyTo(e, types.OperationError).
		Capability(CapErrorKind, string(kind)).
		Capability(CapErrorMessage, errorMessage(err))
	if code != "" {
		b.Capability(CapErrorCode, code)
	}
	reply, buildErr := b.Build()
	if buildErr != nil {
		slog.Error(fmt.Sprintf("%s - failed to build error reply for %s: %v", logPrefix, e.MessageID(), buildErr))
		return nil
	}
	return reply
}

// errorMessage returns err's text as a capability value: never blank and always valid UTF-8.
func errorMessage(err error) string {
	msg := strings.ToValidUTF8(err.Error(), "\uFFFD")
	if strings.TrimSpace(msg) == "" {
		return "unknown error"
	}
	return msg
}

// classify maps err to a protocol error kind and, for schema registry errors, their code.
func classify(err error) (protoerr.Kind, string) {
	var se *schema.Error
	if errors.As(err, &se) {
		if se.Code == schema.CodeInternal {
			return protoerr.KindGeneric, se.Code
		}
		return protoerr.KindValidation, se.Code
	}
	var pe *protoerr.Error
	if errors.As(err, &pe) && pe.Reason != protoerr.ReasonNone {
		return pe.Kind, string(pe.Reason)
	}
	return protoerr.KindOf(err), ""
}

func (d *Dispatcher) handleControl(_ context.Context, e *envelope.Envelope, _ []byte) (*envelope.Envelope, error) {
	cmd, _ := e.Capability(CapControl)
	switch cmd {
	case "ping":
		return d.ReplyTo(e, types.OperationResponse).Capability(CapControl, "pong").Build()
	case "":
		return nil, protoerr.Validation("Control envelope carries no '%s' capability", CapControl)
	default:
		return nil, protoerr.Validation("Unknown control command: %s", cmd)
	}
}

func (d *Dispatcher) handleData(ctx context.Context, e *envelope.Envelope, raw []byte) (*envelope.Envelope, error) {
	status := "disabled"
	if d.journal != nil {
		if raw == nil {
			var err error
			if raw, err = envelope.Serialize(e); err != nil {
				return nil, err
			}
		}
		inserted, err := d.journal.SaveEnvelope(ctx, e, raw)
		d.observer.JournalWrite(inserted, err)
		if err != nil {
			return nil, protoerr.Generic("Failed to journal envelope %s: %v", e.MessageID(), err)
		}
		status = "duplicate"
		if inserted {
			status = "stored"
		}
	}
	return d.ReplyTo(e, types.OperationAck).Capability(CapJournal, status).Build()
}

// UndecodableReply builds the Error envelope answering a message that could not be decoded.
// The sender is unknown, so it is addressed to "unknown" and carries no in_reply_to.
func (d *Dispatcher) UndecodableReply(err error) *envelope.Envelope {
	kind, code := classify(err)
	b := envelope.NewBuilder().
		From(d.nodeID).
		To("unknown").
		Operation(types.OperationError).
		Capability(CapErrorKind, string(kind)).
		Capability(CapErrorMessage, errorMessage(err))
	if code != "" {
		b.Capability(CapErrorCode, code)
	}
	reply, buildErr := b.Build()
	if buildErr != nil {
		slog.Error(fmt.Sprintf("%s - failed to build undecodable reply: %v", logPrefix, buildErr))
		return nil
	}
	return reply
}
