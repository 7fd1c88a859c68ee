package hardware

import (
	"strings"

	"github.com/samber/lo"
)

// Transport names the family a specifier belongs to.
type Transport string

const (
	TransportBTLE      Transport = "btle"
	TransportSerial    Transport = "serial"
	TransportUSB       Transport = "usb"
	TransportHID       Transport = "hid"
	TransportWebsocket Transport = "websocket"
)

// Specifier describes a device identity on one transport. Configuration
// declares specifiers with name patterns; transports produce concrete ones
// for each discovered device.
type Specifier interface {
	Transport() Transport
	// Matches reports whether the discovered specifier satisfies this
	// declared one.
	Matches(discovered Specifier) bool
}

// MatchName reports whether name satisfies pattern. A trailing '*' turns the
// pattern into a prefix match.
func MatchName(pattern, name string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(name, prefix)
	}
	return pattern == name
}

// ManufacturerData is a BLE advertisement manufacturer entry.
type ManufacturerData struct {
	Company uint16 `json:"company"`
	Data    []byte `json:"data,omitempty"`
}

// BTLESpecifier identifies Bluetooth LE devices. Services maps a service UUID
// to the characteristic UUID backing each endpoint.
type BTLESpecifier struct {
	Names            []string                       `json:"names"`
	ManufacturerData []ManufacturerData             `json:"manufacturer_data,omitempty"`
	Services         map[string]map[Endpoint]string `json:"services"`
}

func (s *BTLESpecifier) Transport() Transport { return TransportBTLE }

func (s *BTLESpecifier) Matches(discovered Specifier) bool {
	d, ok := discovered.(*BTLESpecifier)
	if !ok {
		return false
	}
	for _, pattern := range s.Names {
		for _, name := range d.Names {
			if MatchName(pattern, name) {
				return true
			}
		}
	}
	for _, want := range s.ManufacturerData {
		if lo.ContainsBy(d.ManufacturerData, func(got ManufacturerData) bool {
			return got.Company == want.Company &&
				(len(want.Data) == 0 || strings.HasPrefix(string(got.Data), string(want.Data)))
		}) {
			return true
		}
	}
	return false
}

// SerialSpecifier identifies a device on a serial port.
type SerialSpecifier struct {
	Port       string `json:"port"`
	BaudRate   int    `json:"baud_rate"`
	DataBits   int    `json:"data_bits"`
	StopBits   int    `json:"stop_bits"`
	Parity     string `json:"parity"`
	Terminator string `json:"terminator,omitempty"`
}

func (s *SerialSpecifier) Transport() Transport { return TransportSerial }

func (s *SerialSpecifier) Matches(discovered Specifier) bool {
	d, ok := discovered.(*SerialSpecifier)
	return ok && MatchName(s.Port, d.Port)
}

// USBSpecifier identifies a USB device by vendor and product id.
type USBSpecifier struct {
	VendorID  uint16 `json:"vendor_id"`
	ProductID uint16 `json:"product_id"`
}

func (s *USBSpecifier) Transport() Transport { return TransportUSB }

func (s *USBSpecifier) Matches(discovered Specifier) bool {
	d, ok := discovered.(*USBSpecifier)
	return ok && d.VendorID == s.VendorID && d.ProductID == s.ProductID
}

// HIDSpecifier identifies a HID device by vendor and product id.
type HIDSpecifier struct {
	VendorID  uint16 `json:"vendor_id"`
	ProductID uint16 `json:"product_id"`
}

func (s *HIDSpecifier) Transport() Transport { return TransportHID }

func (s *HIDSpecifier) Matches(discovered Specifier) bool {
	d, ok := discovered.(*HIDSpecifier)
	return ok && d.VendorID == s.VendorID && d.ProductID == s.ProductID
}

// WebsocketSpecifier identifies a device bridged over the websocket device
// endpoint by the name it announces.
type WebsocketSpecifier struct {
	Name string `json:"name"`
}

func (s *WebsocketSpecifier) Transport() Transport { return TransportWebsocket }

func (s *WebsocketSpecifier) Matches(discovered Specifier) bool {
	d, ok := discovered.(*WebsocketSpecifier)
	return ok && MatchName(s.Name, d.Name)
}
