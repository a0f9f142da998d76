package commsutil

import (
	"strings"

	"github.com/morezero/umicp/pkg/types"
)

// Subject roots.
const (
	SubjectPrefix    = "umicp"
	SubjectNodeRoot  = SubjectPrefix + ".node"
	SubjectEventRoot = SubjectPrefix + ".events"
	// SubjectEventsAll matches every operation event.
	SubjectEventsAll = SubjectEventRoot + ".>"
)

var tokenReplacer = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_", "\t", "_")

// SafeToken makes an identifier usable as a single subject token.
func SafeToken(id string) string {
	return tokenReplacer.Replace(strings.TrimSpace(id))
}

// NodeSubject is the inbox subject for envelopes addressed to nodeID.
func NodeSubject(nodeID string) string {
	return SubjectNodeRoot + "." + SafeToken(nodeID)
}

// EventSubject is the fan-out subject for envelopes of the given operation.
func EventSubject(op types.OperationType) string {
	return SubjectEventRoot + "." + op.String()
}
