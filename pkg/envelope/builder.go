package envelope

import (
	"maps"
	"slices"

	"github.com/morezero/umicp/pkg/protoerr"
	"github.com/morezero/umicp/pkg/types"
	"github.com/morezero/umicp/pkg/validate"
)

// Builder assembles an Envelope. Setters never validate; Build runs every check once.
// A Builder is not safe for concurrent use.
type Builder struct {
	version      string
	messageID    string
	timestamp    string
	from         string
	to           string
	operation    types.OperationType
	capabilities map[string]string
	schemaURI    *string
	accept       []string
	payloadHint  *types.PayloadHint
	payloadRefs  []map[string]string
}

// NewBuilder returns a Builder with a fresh message id and the current timestamp.
func NewBuilder() *Builder {
	return &Builder{
		version:   ProtocolVersion,
		messageID: validate.NewUUID(),
		timestamp: validate.Now(),
		operation: types.OperationControl,
	}
}

func (b *Builder) From(from string) *Builder {
	b.from = from
	return b
}

func (b *Builder) To(to string) *Builder {
	b.to = to
	return b
}

func (b *Builder) Operation(op types.OperationType) *Builder {
	b.operation = op
	return b
}

// MessageID overrides the generated id. The value is checked, not normalized, by Build.
func (b *Builder) MessageID(id string) *Builder {
	b.messageID = id
	return b
}

// Capability adds or replaces one capability entry.
func (b *Builder) Capability(key, value string) *Builder {
	if b.capabilities == nil {
		b.capabilities = make(map[string]string)
	}
	b.capabilities[key] = value
	return b
}

// Capabilities replaces the whole capability map.
func (b *Builder) Capabilities(caps types.Capabilities) *Builder {
	b.capabilities = maps.Clone(caps)
	return b
}

func (b *Builder) SchemaURI(uri string) *Builder {
	b.schemaURI = &uri
	return b
}

// Accept replaces the accepted content types.
func (b *Builder) Accept(contentTypes ...string) *Builder {
	b.accept = slices.Clone(contentTypes)
	return b
}

func (b *Builder) PayloadHint(hint types.PayloadHint) *Builder {
	h := hint.Clone()
	b.payloadHint = &h
	return b
}

// PayloadRefs replaces the payload references.
func (b *Builder) PayloadRefs(refs types.PayloadRefs) *Builder {
	b.payloadRefs = cloneRefs(refs)
	return b
}

// PayloadRef appends one payload reference.
func (b *Builder) PayloadRef(ref map[string]string) *Builder {
	b.payloadRefs = append(b.payloadRefs, maps.Clone(ref))
	return b
}

// Build validates the working copy and returns an immutable Envelope. Checks run in order
// from, to, message id, capabilities, schema uri, accept, payload refs; the first failure is
// returned. Every string must be valid UTF-8.
func (b *Builder) Build() (*Envelope, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	return b.envelope(), nil
}

func (b *Builder) validate() error {
	if err := validate.Text(b.from, "from"); err != nil {
		return err
	}
	if err := validate.Text(b.to, "to"); err != nil {
		return err
	}
	if err := validate.NonEmpty(b.messageID, "message_id"); err != nil {
		return err
	}
	if !validate.IsUUID(b.messageID) {
		return protoerr.Validation("Invalid UUID format: %q", b.messageID)
	}
	for _, key := range slices.Sorted(maps.Keys(b.capabilities)) {
		if err := validate.Text(key, "capability key"); err != nil {
			return err
		}
		if err := validate.Text(b.capabilities[key], "capability value"); err != nil {
			return err
		}
	}
	if b.schemaURI != nil {
		if err := validate.Text(*b.schemaURI, "schema_uri"); err != nil {
			return err
		}
	}
	for _, ct := range b.accept {
		if err := validate.Text(ct, "accept type"); err != nil {
			return err
		}
	}
	for _, ref := range b.payloadRefs {
		for k, v := range ref {
			if err := validate.UTF8(k, "payload_refs key"); err != nil {
				return err
			}
			if err := validate.UTF8(v, "payload_refs value"); err != nil {
				return err
			}
		}
	}
	return b.validateEnums()
}

// validateEnums rejects out-of-range values a Go caller can construct by conversion.
func (b *Builder) validateEnums() error {
	if !b.operation.Valid() {
		return protoerr.Validation("Unknown operation type: %s", b.operation)
	}
	if b.payloadHint == nil {
		return nil
	}
	if !b.payloadHint.Type.Valid() {
		return protoerr.Validation("Unknown payload type: %s", b.payloadHint.Type)
	}
	if b.payloadHint.Encoding != nil && !b.payloadHint.Encoding.Valid() {
		return protoerr.Validation("Unknown encoding type: %s", *b.payloadHint.Encoding)
	}
	return nil
}

// envelope copies the working state. Empty collections become absent.
func (b *Builder) envelope() *Envelope {
	e := &Envelope{
		version:   b.version,
		messageID: b.messageID,
		timestamp: b.timestamp,
		from:      b.from,
		to:        b.to,
		operation: b.operation,
	}
	if len(b.capabilities) > 0 {
		e.capabilities = maps.Clone(b.capabilities)
	}
	if b.schemaURI != nil {
		uri := *b.schemaURI
		e.schemaURI = &uri
	}
	if len(b.accept) > 0 {
		e.accept = slices.Clone(b.accept)
	}
	if b.payloadHint != nil {
		h := b.payloadHint.Clone()
		e.payloadHint = &h
	}
	if len(b.payloadRefs) > 0 {
		e.payloadRefs = cloneRefs(b.payloadRefs)
	}
	return e
}
