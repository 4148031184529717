// Package validation turns loosely typed wire messages into schema-ordered,
// fully typed records. Presence of every required field is checked first,
// then each declared field is coerced and type checked in declaration order.
package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	apperrors "github.com/bookinglake/bookinglake/internal/errors"
)

// Message is a decoded JSON object: field name to raw value, with explicit
// presence. It never crosses the validation boundary.
type Message struct {
	fields map[string]json.RawMessage
}

// DecodeMessage decodes a JSON object body. Anything that is not a JSON
// object is a client error.
func DecodeMessage(body []byte) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(bytes.TrimSpace(body), &fields); err != nil {
		return Message{}, apperrors.NewValidationError(apperrors.CodeMalformedBody,
			fmt.Sprintf("request body must be a JSON object: %v", err), err)
	}
	if fields == nil {
		return Message{}, apperrors.NewValidationError(apperrors.CodeMalformedBody,
			"request body must be a JSON object", nil)
	}
	return Message{fields: fields}, nil
}

// NewMessage builds a message from already-decoded values. It is mostly
// useful in tests and for adapters that receive structured payloads.
func NewMessage(values map[string]interface{}) (Message, error) {
	fields := make(map[string]json.RawMessage, len(values))
	for k, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return Message{}, fmt.Errorf("validation: encode field %q: %w", k, err)
		}
		fields[k] = raw
	}
	return Message{fields: fields}, nil
}

// Has reports whether the field is present, even if its value is null.
func (m Message) Has(name string) bool {
	_, ok := m.fields[name]
	return ok
}

// Raw returns the raw JSON value of a field.
func (m Message) Raw(name string) (json.RawMessage, bool) {
	raw, ok := m.fields[name]
	return raw, ok
}

// Fields returns the present field names, sorted.
func (m Message) Fields() []string {
	names := make([]string, 0, len(m.fields))
	for k := range m.fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of present fields.
func (m Message) Len() int { return len(m.fields) }
