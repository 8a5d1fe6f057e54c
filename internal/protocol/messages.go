// Package protocol defines the envelope exchanged between relay clients and the hub.
package protocol

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// Envelope types understood by the hub. Any other value is relayed as-is.
const (
	TypeChat         = "chat"
	TypeModelRequest = "model_request"
	TypeModelReply   = "model_reply"
)

// ServerSender is the sender key stamped on envelopes the server originates.
const ServerSender = "server"

// ErrNotObject is returned when a raw message is not a JSON object.
var ErrNotObject = errors.New("envelope must be a JSON object")

// ContextMessage is a prior conversation turn carried by a model request.
type ContextMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// InlineConfig is the per-request model configuration override (api_cfg).
// Empty fields are treated as absent.
type InlineConfig struct {
	Provider string  `json:"provider,omitempty"`
	BaseURL  string  `json:"base_url,omitempty"`
	APIKey   string  `json:"api_key,omitempty"`
	Model    string  `json:"model,omitempty"`
	Timeout  float64 `json:"timeout,omitempty"` // seconds
}

// Envelope is the unit of exchange on a relay connection.
//
// A parsed envelope remembers every field it arrived with and re-encodes
// them unchanged, including empty values and numbers of any precision.
// Its typed fields are a read view of those values, with Sender the one
// exception: the relay stamps it, so a non-empty Sender replaces whatever
// the client sent. Envelopes built in code encode from the typed fields.
type Envelope struct {
	Type      string           `json:"type,omitempty"`
	Target    string           `json:"target,omitempty"`
	SessionID string           `json:"session_id,omitempty"`
	Sender    string           `json:"sender,omitempty"`
	Text      string           `json:"text,omitempty"`
	Context   []ContextMessage `json:"context,omitempty"`
	Model     string           `json:"model,omitempty"`
	APIConfig *InlineConfig    `json:"api_cfg,omitempty"`
	Reply     string           `json:"reply,omitempty"`
	Meta      map[string]any   `json:"meta,omitempty"`

	// Extra holds fields outside the known set so relayed envelopes keep them.
	Extra map[string]json.RawMessage `json:"-"`

	// raw is every field as received, nil for envelopes built in code.
	raw map[string]json.RawMessage
}

// envelopeFields mirrors Envelope without its methods.
type envelopeFields Envelope

var knownFields = []string{
	"type", "target", "session_id", "sender", "text",
	"context", "model", "api_cfg", "reply", "meta",
}

// IsZero reports whether no field of the inline config is set.
func (c *InlineConfig) IsZero() bool {
	return c == nil || *c == InlineConfig{}
}

// Kind returns the envelope type, defaulting to chat.
func (e *Envelope) Kind() string {
	if e.Type == "" {
		return TypeChat
	}
	return e.Type
}

// Clone returns a shallow copy with its own Extra and Meta maps.
func (e *Envelope) Clone() *Envelope {
	out := *e
	if e.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(e.Extra))
		for k, v := range e.Extra {
			out.Extra[k] = v
		}
	}
	if e.Meta != nil {
		out.Meta = make(map[string]any, len(e.Meta))
		for k, v := range e.Meta {
			out.Meta[k] = v
		}
	}
	if e.raw != nil {
		out.raw = make(map[string]json.RawMessage, len(e.raw))
		for k, v := range e.raw {
			out.raw[k] = v
		}
	}
	return &out
}

// UnmarshalJSON decodes the known fields and keeps the rest in Extra.
//
// Only type and target must have the expected JSON type, since routing
// depends on them. Any other known field of the wrong type is left zero in
// the typed view and still relayed as received.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return ErrNotObject
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &all); err != nil {
		return err
	}

	var out Envelope
	if err := decodeStrict(all, "type", &out.Type); err != nil {
		return err
	}
	if err := decodeStrict(all, "target", &out.Target); err != nil {
		return err
	}
	decodeLenient(all, "session_id", &out.SessionID)
	decodeLenient(all, "sender", &out.Sender)
	decodeLenient(all, "text", &out.Text)
	decodeLenient(all, "context", &out.Context)
	decodeLenient(all, "model", &out.Model)
	decodeLenient(all, "api_cfg", &out.APIConfig)
	decodeLenient(all, "reply", &out.Reply)
	decodeLenient(all, "meta", &out.Meta)

	for k, v := range all {
		if !isKnown(k) {
			if out.Extra == nil {
				out.Extra = make(map[string]json.RawMessage)
			}
			out.Extra[k] = v
		}
	}
	out.raw = all

	*e = out
	return nil
}

func decodeStrict(all map[string]json.RawMessage, key string, dst *string) error {
	v, ok := all[key]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(v, dst); err != nil {
		return errors.Wrapf(err, "field %s", key)
	}
	return nil
}

func decodeLenient[T any](all map[string]json.RawMessage, key string, dst *T) {
	v, ok := all[key]
	if !ok {
		return
	}
	var tmp T
	if json.Unmarshal(v, &tmp) == nil {
		*dst = tmp
	}
}

func isKnown(key string) bool {
	for _, k := range knownFields {
		if k == key {
			return true
		}
	}
	return false
}

// MarshalJSON encodes the envelope.
//
// A parsed envelope writes back its received fields with Sender stamped
// over them. Otherwise the known fields are encoded and Extra is merged
// in, known fields winning over an Extra entry with the same name.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.raw != nil {
		out := make(map[string]json.RawMessage, len(e.raw)+1)
		for k, v := range e.raw {
			out[k] = v
		}
		if e.Sender != "" {
			sender, err := json.Marshal(e.Sender)
			if err != nil {
				return nil, err
			}
			out["sender"] = sender
		}
		return json.Marshal(out)
	}

	known, err := json.Marshal(envelopeFields(e))
	if err != nil {
		return nil, err
	}
	if len(e.Extra) == 0 {
		return known, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for k, v := range e.Extra {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// Parse decodes a raw wire message into an Envelope.
func Parse(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errors.Wrap(err, "parse envelope")
	}
	return &env, nil
}

// NewModelReply builds the reply envelope for a model request.
// session_id and reply are always present on the wire, even when empty.
func NewModelReply(sessionID, reply string) *Envelope {
	env := &Envelope{
		Type:      TypeModelReply,
		SessionID: sessionID,
		Reply:     reply,
		Meta:      map[string]any{"from": ServerSender},
	}
	env.raw = map[string]json.RawMessage{
		"type":       rawString(TypeModelReply),
		"session_id": rawString(sessionID),
		"reply":      rawString(reply),
		"meta":       json.RawMessage(`{"from":"` + ServerSender + `"}`),
	}
	return env
}

func rawString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}
