package device

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UserDeviceIdentifier keys per-user customizations and persisted
// identities. Identifier is the protocol-reported variant string and may be
// empty when the protocol identifies by name only.
type UserDeviceIdentifier struct {
	Address    string `json:"address"`
	Protocol   string `json:"protocol"`
	Identifier string `json:"identifier,omitempty"`
}

func (u UserDeviceIdentifier) String() string {
	if u.Identifier == "" {
		return u.Protocol + "@" + u.Address
	}
	return fmt.Sprintf("%s(%s)@%s", u.Protocol, u.Identifier, u.Address)
}

// UserDeviceCustomization is the user-controlled part of a definition.
type UserDeviceCustomization struct {
	DisplayName string         `json:"display_name,omitempty"`
	Allow       bool           `json:"allow,omitempty"`
	Deny        bool           `json:"deny,omitempty"`
	Index       *uint32        `json:"index,omitempty"`
	MessageGap  *time.Duration `json:"message_gap,omitempty"`
}

// DeviceDefinition is one physical device with its resolved feature list.
type DeviceDefinition struct {
	Index       uint32          `json:"index"`
	ID          uuid.UUID       `json:"id"`
	Name        string          `json:"name"`
	DisplayName string          `json:"display_name,omitempty"`
	Protocol    string          `json:"protocol"`
	Identifier  string          `json:"identifier,omitempty"`
	Address     string          `json:"address"`
	Features    []DeviceFeature `json:"features"`
	Allow       bool            `json:"allow,omitempty"`
	Deny        bool            `json:"deny,omitempty"`
	MessageGap  time.Duration   `json:"message_gap"`
}

// UserIdentifier returns the key used for user overrides.
func (d *DeviceDefinition) UserIdentifier() UserDeviceIdentifier {
	return UserDeviceIdentifier{Address: d.Address, Protocol: d.Protocol, Identifier: d.Identifier}
}

// Feature returns the feature at index or ErrInvalidFeature.
func (d *DeviceDefinition) Feature(index uint32) (*DeviceFeature, error) {
	if int(index) >= len(d.Features) {
		return nil, fmt.Errorf("%w: index %d, device has %d features", ErrInvalidFeature, index, len(d.Features))
	}
	return &d.Features[index], nil
}

// FeatureByID looks a feature up by its identifier.
func (d *DeviceDefinition) FeatureByID(id uuid.UUID) (uint32, *DeviceFeature, bool) {
	for i := range d.Features {
		if d.Features[i].ID == id {
			return uint32(i), &d.Features[i], true
		}
	}
	return 0, nil, false
}

// Clone deep copies the definition.
func (d *DeviceDefinition) Clone() *DeviceDefinition {
	out := *d
	out.Features = CloneFeatures(d.Features)
	return &out
}

// Label returns the display name when set, otherwise the protocol name.
func (d *DeviceDefinition) Label() string {
	if d.DisplayName != "" {
		return d.DisplayName
	}
	return d.Name
}

// Validate checks every feature.
func (d *DeviceDefinition) Validate() error {
	for i := range d.Features {
		if err := d.Features[i].Validate(); err != nil {
			return fmt.Errorf("feature %d: %w", i, err)
		}
	}
	return nil
}

// SessionState is a device's position in the bring-up state machine.
type SessionState int

const (
	StateDiscovered SessionState = iota
	StateIdentifying
	StateInitializing
	StateLive
	StateDisconnected
	StateDenied
	StateIdentifyFailed
	StateInitFailed
)

var sessionStateNames = [...]string{
	"discovered",
	"identifying",
	"initializing",
	"live",
	"disconnected",
	"denied",
	"identify_failed",
	"init_failed",
}

func (s SessionState) String() string {
	if int(s) < len(sessionStateNames) {
		return sessionStateNames[s]
	}
	return "unknown"
}

// Terminal reports whether no further transitions are possible.
func (s SessionState) Terminal() bool {
	switch s {
	case StateDisconnected, StateDenied, StateIdentifyFailed, StateInitFailed:
		return true
	}
	return false
}

// CanTransition reports whether the bring-up pipeline may move from s to next.
// Any non-terminal state may drop to Disconnected.
func (s SessionState) CanTransition(next SessionState) bool {
	if s.Terminal() {
		return false
	}
	if next == StateDisconnected {
		return true
	}
	switch s {
	case StateDiscovered:
		return next == StateIdentifying || next == StateDenied
	case StateIdentifying:
		return next == StateInitializing || next == StateIdentifyFailed || next == StateDenied
	case StateInitializing:
		return next == StateLive || next == StateInitFailed
	}
	return false
}
