// Package host models the boundary between scrapers and the process that consumes their
// events: the outbound envelope, the bus that carries it and the inbound commands.
package host

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Lifecycle envelope types.
const (
	TypeIdle  = "idle"
	TypeReady = "ready"
	TypePing  = "ping"
	TypeError = "error"
	TypeFatal = "fatal"
)

// ErrEmptyType is returned when a payload has no type.
var ErrEmptyType = errors.New("payload must have a non-empty type")

// Envelope is a flattened {type, scraperId, timestamp, ...fields} JSON object.
type Envelope struct {
	Type      string
	ScraperID string
	Timestamp int64
	body      json.RawMessage
}

// NewEnvelope merges payload fields with the envelope keys. A timestamp already present in
// the payload is kept; ts is used otherwise.
func NewEnvelope(typ, scraperID string, ts int64, payload any) (Envelope, error) {
	typ = strings.TrimSpace(typ)
	if typ == "" {
		return Envelope{}, ErrEmptyType
	}

	fields := map[string]json.RawMessage{}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal payload: %w", err)
		}
		if err := json.Unmarshal(data, &fields); err != nil {
			return Envelope{}, fmt.Errorf("payload is not an object: %w", err)
		}
		if fields == nil {
			fields = map[string]json.RawMessage{}
		}
	}

	if raw, ok := fields["timestamp"]; ok {
		if err := json.Unmarshal(raw, &ts); err != nil {
			return Envelope{}, fmt.Errorf("payload timestamp: %w", err)
		}
	}

	fields["type"], _ = json.Marshal(typ)
	fields["scraperId"], _ = json.Marshal(scraperID)
	fields["timestamp"], _ = json.Marshal(ts)

	body, err := json.Marshal(fields)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal envelope: %w", err)
	}
	return Envelope{Type: typ, ScraperID: scraperID, Timestamp: ts, body: body}, nil
}

// DecodeEnvelope parses an envelope produced by NewEnvelope.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var head struct {
		Type      string `json:"type"`
		ScraperID string `json:"scraperId"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if strings.TrimSpace(head.Type) == "" {
		return Envelope{}, ErrEmptyType
	}
	return Envelope{
		Type:      head.Type,
		ScraperID: head.ScraperID,
		Timestamp: head.Timestamp,
		body:      append(json.RawMessage(nil), data...),
	}, nil
}

// MarshalJSON returns the flattened object.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.body == nil {
		return nil, ErrEmptyType
	}
	return e.body, nil
}

// Bytes returns the flattened JSON.
func (e Envelope) Bytes() []byte { return e.body }

// Field decodes a single top-level field into v. It reports false if the field is absent.
func (e Envelope) Field(key string, v any) (bool, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(e.body, &fields); err != nil {
		return false, err
	}
	raw, ok := fields[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, v)
}

// String returns the named string field or "".
func (e Envelope) String(key string) string {
	var s string
	if ok, err := e.Field(key, &s); !ok || err != nil {
		return ""
	}
	return s
}
