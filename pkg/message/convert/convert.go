// Package convert chains the adjacent version converters so any supported
// client version can be lifted to the internal v4 model and back.
package convert

import (
	"errors"
	"fmt"

	"github.com/urmzd/plugd/pkg/message"
	v0 "github.com/urmzd/plugd/pkg/message/v0"
	v1 "github.com/urmzd/plugd/pkg/message/v1"
	v2 "github.com/urmzd/plugd/pkg/message/v2"
	v3 "github.com/urmzd/plugd/pkg/message/v3"
	v4 "github.com/urmzd/plugd/pkg/message/v4"
)

// Func converts one message between adjacent versions.
type Func func(message.Message, message.ConversionContext) (message.Message, error)

var (
	tables = [...]message.Table{v0.Messages, v1.Messages, v2.Messages, v3.Messages, v4.Messages}

	// upgrades[n] lifts version n to n+1.
	upgrades = [...]Func{v1.FromV0, v2.FromV1, v3.FromV2, v4.FromV3}

	// downgrades[n] lowers version n+1 to n.
	downgrades = [...]Func{v1.ToV0, v2.ToV1, v3.ToV2, v4.ToV3}
)

// ErrVersion indicates an unknown spec version.
var ErrVersion = errors.New("unsupported spec version")

// Table returns the name table for v.
func Table(v message.SpecVersion) (message.Table, error) {
	if !v.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrVersion, v)
	}
	return tables[v], nil
}

// Decode decodes raw as a version v message. A name that only a newer
// version defines fails with a ConversionError rather than an unknown
// message error.
func Decode(v message.SpecVersion, raw message.Raw) (message.Message, error) {
	t, err := Table(v)
	if err != nil {
		return nil, err
	}
	if _, ok := t[raw.Name]; !ok {
		for newer := v + 1; newer <= message.Current; newer++ {
			if _, ok := tables[newer][raw.Name]; ok {
				return nil, &message.ConversionError{
					Name:   raw.Name,
					From:   v,
					To:     message.Current,
					Reason: fmt.Sprintf("introduced in %s", newer),
				}
			}
		}
	}
	return t.Decode(raw)
}

// Upgrade lifts msg from version from to the current version.
func Upgrade(from message.SpecVersion, msg message.Message, ctx message.ConversionContext) (message.Message, error) {
	if !from.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrVersion, from)
	}
	var err error
	for v := from; v < message.Current; v++ {
		if msg, err = upgrades[v](msg, ctx); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

// Downgrade lowers a current-version msg to version to.
func Downgrade(to message.SpecVersion, msg message.Message, ctx message.ConversionContext) (message.Message, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrVersion, to)
	}
	var err error
	for v := message.Current; v > to; v-- {
		if msg, err = downgrades[v-1](msg, ctx); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

// Step converts msg one version up or down, for callers that need a single
// hop.
func Step(from, to message.SpecVersion, msg message.Message, ctx message.ConversionContext) (message.Message, error) {
	switch {
	case !from.Valid() || !to.Valid():
		return nil, fmt.Errorf("%w: %s to %s", ErrVersion, from, to)
	case to == from+1:
		return upgrades[from](msg, ctx)
	case from == to+1:
		return downgrades[to](msg, ctx)
	case from == to:
		return msg, nil
	}
	return nil, fmt.Errorf("%w: %s to %s is not one step", ErrVersion, from, to)
}
