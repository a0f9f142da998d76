// Package envelope implements the validated message envelope, its builder, and the
// canonical wire form used to move envelopes between processes.
//
// An *Envelope can only be obtained from Builder.Build or Deserialize, both of which run the
// same validation chain, so every Envelope a caller holds is valid. Envelopes are immutable;
// getters for maps and slices return copies.
package envelope

import (
	"fmt"
	"maps"
	"slices"

	"github.com/morezero/umicp/pkg/types"
)

// ProtocolVersion is the version stamped on every envelope built by this package.
const ProtocolVersion = "1.0"

// Envelope is a validated, immutable message.
type Envelope struct {
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

func (e *Envelope) Version() string                { return e.version }
func (e *Envelope) MessageID() string              { return e.messageID }
func (e *Envelope) Timestamp() string              { return e.timestamp }
func (e *Envelope) From() string                   { return e.from }
func (e *Envelope) To() string                     { return e.to }
func (e *Envelope) Operation() types.OperationType { return e.operation }

// Capabilities returns a copy of the capability map, or nil when none were set.
func (e *Envelope) Capabilities() types.Capabilities {
	return maps.Clone(e.capabilities)
}

// Capability returns a single capability value.
func (e *Envelope) Capability(key string) (string, bool) {
	v, ok := e.capabilities[key]
	return v, ok
}

// SchemaURI returns the schema reference, if present.
func (e *Envelope) SchemaURI() (string, bool) {
	if e.schemaURI == nil {
		return "", false
	}
	return *e.schemaURI, true
}

// Accept returns a copy of the accepted content types, or nil.
func (e *Envelope) Accept() types.AcceptTypes {
	return slices.Clone(e.accept)
}

// PayloadHint returns a copy of the payload hint, if present.
func (e *Envelope) PayloadHint() (types.PayloadHint, bool) {
	if e.payloadHint == nil {
		return types.PayloadHint{}, false
	}
	return e.payloadHint.Clone(), true
}

// PayloadRefs returns a deep copy of the payload references, or nil.
func (e *Envelope) PayloadRefs() types.PayloadRefs {
	return cloneRefs(e.payloadRefs)
}

// PayloadRef returns the first payload reference whose "name" entry equals name.
func (e *Envelope) PayloadRef(name string) (map[string]string, bool) {
	for _, ref := range e.payloadRefs {
		if ref["name"] == name {
			return maps.Clone(ref), true
		}
	}
	return nil, false
}

func (e *Envelope) String() string {
	return fmt.Sprintf("%s %s %s->%s", e.operation, e.messageID, e.from, e.to)
}

// Equal reports whether a and b carry the same value in every field, including version and
// timestamp. A nil envelope only equals another nil envelope.
func Equal(a, b *Envelope) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.version != b.version || a.messageID != b.messageID || a.timestamp != b.timestamp ||
		a.from != b.from || a.to != b.to || a.operation != b.operation {
		return false
	}
	if !maps.Equal(a.capabilities, b.capabilities) {
		return false
	}
	if (a.schemaURI == nil) != (b.schemaURI == nil) || (a.schemaURI != nil && *a.schemaURI != *b.schemaURI) {
		return false
	}
	if !slices.Equal(a.accept, b.accept) {
		return false
	}
	if !hintEqual(a.payloadHint, b.payloadHint) {
		return false
	}
	return slices.EqualFunc(a.payloadRefs, b.payloadRefs, func(x, y map[string]string) bool {
		return maps.Equal(x, y)
	})
}

func hintEqual(a, b *types.PayloadHint) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Type == b.Type &&
		ptrEqual(a.Size, b.Size) &&
		ptrEqual(a.Encoding, b.Encoding) &&
		ptrEqual(a.Count, b.Count)
}

func ptrEqual[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func cloneRefs(refs []map[string]string) []map[string]string {
	if refs == nil {
		return nil
	}
	out := make([]map[string]string, len(refs))
	for i, ref := range refs {
		out[i] = maps.Clone(ref)
		if out[i] == nil {
			out[i] = map[string]string{}
		}
	}
	return out
}
