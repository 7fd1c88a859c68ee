package message

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// Table maps envelope names to constructors for one spec version.
type Table map[string]func() Message

// Has reports whether the table carries exactly msg's Go type under its name.
func (t Table) Has(msg Message) bool {
	ctor, ok := t[msg.MessageName()]
	return ok && reflect.TypeOf(ctor()) == reflect.TypeOf(msg)
}

// Names returns the table's message names sorted.
func (t Table) Names() []string {
	out := make([]string, 0, len(t))
	for n := range t {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Raw is one undecoded envelope entry. ID is peeked so decode failures can
// still be answered with the right id.
type Raw struct {
	Name string
	ID   uint32
	Body json.RawMessage
}

// Split parses a frame, a JSON array of single-key objects.
func Split(data []byte) ([]Raw, error) {
	var entries []map[string]json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	out := make([]Raw, 0, len(entries))
	for i, e := range entries {
		if len(e) != 1 {
			return nil, fmt.Errorf("%w: entry %d has %d keys", ErrMalformed, i, len(e))
		}
		for name, body := range e {
			var h Header
			if err := json.Unmarshal(body, &h); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, name, err)
			}
			out = append(out, Raw{Name: name, ID: h.ID, Body: body})
		}
	}
	return out, nil
}

// Decode builds the message raw names. Unknown fields are rejected.
func (t Table) Decode(raw Raw) (Message, error) {
	ctor, ok := t[raw.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessage, raw.Name)
	}
	msg := ctor()
	dec := json.NewDecoder(bytes.NewReader(raw.Body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, raw.Name, err)
	}
	return msg, nil
}

// Encode writes msgs as one frame.
func Encode(msgs ...Message) ([]byte, error) {
	entries := make([]map[string]Message, len(msgs))
	for i, m := range msgs {
		entries[i] = map[string]Message{m.MessageName(): m}
	}
	return json.Marshal(entries)
}
