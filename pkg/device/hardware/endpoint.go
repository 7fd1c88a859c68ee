package hardware

import (
	"fmt"
	"strconv"
	"strings"
)

// Endpoint names one I/O channel on a device. The set is closed: transports
// map these onto characteristic UUIDs, serial streams or websocket frames.
type Endpoint uint8

const (
	EndpointTx Endpoint = iota
	EndpointRx
	EndpointCommand
	EndpointFirmware
	EndpointTxMode
	EndpointTxVibrate
	EndpointTxShock
	EndpointTxVendorControl
	EndpointWhitelist
	EndpointRxPressure
	EndpointRxAccel
	EndpointRxBLEBattery
	EndpointRxBLEModel
	// EndpointGeneric0 starts a run of 32 numbered channels.
	EndpointGeneric0
)

const genericCount = 32

var endpointNames = []string{
	"tx",
	"rx",
	"command",
	"firmware",
	"txmode",
	"txvibrate",
	"txshock",
	"txvendorcontrol",
	"whitelist",
	"rxpressure",
	"rxaccel",
	"rxblebattery",
	"rxblemodel",
}

// Generic returns the numbered generic endpoint n (0-31).
func Generic(n int) Endpoint {
	if n < 0 || n >= genericCount {
		panic(fmt.Sprintf("hardware: generic endpoint %d out of range", n))
	}
	return EndpointGeneric0 + Endpoint(n)
}

func (e Endpoint) String() string {
	if int(e) < len(endpointNames) {
		return endpointNames[e]
	}
	if e >= EndpointGeneric0 && e < EndpointGeneric0+genericCount {
		return "generic" + strconv.Itoa(int(e-EndpointGeneric0))
	}
	return "unknown(" + strconv.Itoa(int(e)) + ")"
}

// Valid reports whether e is a member of the closed set.
func (e Endpoint) Valid() bool {
	return e < EndpointGeneric0+genericCount
}

// ParseEndpoint is the inverse of String.
func ParseEndpoint(s string) (Endpoint, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range endpointNames {
		if n == name {
			return Endpoint(i), nil
		}
	}
	if rest, ok := strings.CutPrefix(name, "generic"); ok {
		n, err := strconv.Atoi(rest)
		if err == nil && n >= 0 && n < genericCount {
			return Generic(n), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownEndpoint, s)
}

func (e Endpoint) MarshalText() ([]byte, error) {
	if !e.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownEndpoint, uint8(e))
	}
	return []byte(e.String()), nil
}

func (e *Endpoint) UnmarshalText(text []byte) error {
	parsed, err := ParseEndpoint(string(text))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}
