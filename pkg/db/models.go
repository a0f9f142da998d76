package db

import "time"

// EnvelopeRecord is a row of the envelopes journal.
type EnvelopeRecord struct {
	MsgID      string    `json:"msg_id"`
	Hash       string    `json:"hash"`
	Version    string    `json:"v"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Operation  string    `json:"op"`
	Timestamp  string    `json:"ts"`
	SchemaURI  *string   `json:"schema_uri,omitempty"`
	Raw        []byte    `json:"-"`
	ReceivedAt time.Time `json:"received_at"`
}

// ListEnvelopesParams filters ListEnvelopes. Empty fields match everything.
type ListEnvelopesParams struct {
	From      string
	To        string
	Operation string
	Limit     int
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)
