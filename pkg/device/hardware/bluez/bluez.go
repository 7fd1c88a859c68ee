// Package bluez discovers and drives Bluetooth LE devices through the BlueZ
// D-Bus API. The bus side is linux only; elsewhere Builder fails with
// ErrUnsupported.
package bluez

import (
	"errors"
	"sort"
	"strings"
	"time"

	dbus "github.com/godbus/dbus/v5"
	"github.com/samber/lo"
	"github.com/urmzd/plugd/pkg/device/hardware"
)

// Name is the communication manager name.
const Name = "bluez"

// DefaultScanDuration bounds a scan when Options.ScanDuration is unset.
const DefaultScanDuration = 10 * time.Second

// ErrUnsupported is returned by Builder on platforms without BlueZ.
var ErrUnsupported = errors.New("bluez: not supported on this platform")

const (
	bluezService    = "org.bluez"
	adapterIface    = "org.bluez.Adapter1"
	deviceIface     = "org.bluez.Device1"
	serviceIface    = "org.bluez.GattService1"
	charIface       = "org.bluez.GattCharacteristic1"
	objManagerIface = "org.freedesktop.DBus.ObjectManager"
	propsIface      = "org.freedesktop.DBus.Properties"
)

// Options configures the BlueZ communication manager.
type Options struct {
	// Adapter is the controller name, for example hci0.
	Adapter      string
	ScanDuration time.Duration
	// Specifiers are the declared BLE specifiers; only matching devices are
	// reported.
	Specifiers []*hardware.BTLESpecifier
}

type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// advertisement is what discovery learns about one device.
type advertisement struct {
	Path      dbus.ObjectPath
	Address   string
	Name      string
	Specifier *hardware.BTLESpecifier
}

// parseDevice reads Device1 properties into an advertisement. Devices
// without a name cannot be matched and are skipped.
func parseDevice(path dbus.ObjectPath, props map[string]dbus.Variant) (advertisement, bool) {
	name := stringProp(props, "Name")
	if name == "" {
		name = stringProp(props, "Alias")
	}
	address := stringProp(props, "Address")
	if address == "" {
		address = macFromPath(path)
	}
	if name == "" || address == "" {
		return advertisement{}, false
	}

	spec := &hardware.BTLESpecifier{Names: []string{name}}
	if v, ok := props["ManufacturerData"]; ok {
		if data, ok := v.Value().(map[uint16]dbus.Variant); ok {
			companies := lo.Keys(data)
			sort.Slice(companies, func(i, j int) bool { return companies[i] < companies[j] })
			for _, company := range companies {
				payload, _ := data[company].Value().([]byte)
				spec.ManufacturerData = append(spec.ManufacturerData, hardware.ManufacturerData{Company: company, Data: payload})
			}
		}
	}
	return advertisement{Path: path, Address: address, Name: name, Specifier: spec}, true
}

// gattChar is one characteristic found under a device.
type gattChar struct {
	Path    dbus.ObjectPath
	UUID    string
	Service string
}

// gattChars lists the characteristics below devPath with their service
// UUIDs.
func gattChars(objs managedObjects, devPath dbus.ObjectPath) []gattChar {
	prefix := string(devPath) + "/"
	services := make(map[dbus.ObjectPath]string)
	for path, ifaces := range objs {
		if props, ok := ifaces[serviceIface]; ok && strings.HasPrefix(string(path), prefix) {
			services[path] = strings.ToLower(stringProp(props, "UUID"))
		}
	}

	var out []gattChar
	for path, ifaces := range objs {
		props, ok := ifaces[charIface]
		if !ok || !strings.HasPrefix(string(path), prefix) {
			continue
		}
		svc, _ := props["Service"].Value().(dbus.ObjectPath)
		out = append(out, gattChar{
			Path:    path,
			UUID:    strings.ToLower(stringProp(props, "UUID")),
			Service: services[svc],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// resolveEndpoints maps each declared endpoint to the characteristic that
// backs it. Endpoints the device does not expose are left out.
func resolveEndpoints(declared *hardware.BTLESpecifier, chars []gattChar) map[hardware.Endpoint]dbus.ObjectPath {
	out := make(map[hardware.Endpoint]dbus.ObjectPath)
	for service, endpoints := range declared.Services {
		service = strings.ToLower(service)
		for ep, charUUID := range endpoints {
			charUUID = strings.ToLower(charUUID)
			if c, ok := lo.Find(chars, func(c gattChar) bool { return c.Service == service && c.UUID == charUUID }); ok {
				out[ep] = c.Path
			}
		}
	}
	return out
}

func stringProp(props map[string]dbus.Variant, key string) string {
	v, ok := props[key]
	if !ok {
		return ""
	}
	s, _ := v.Value().(string)
	return s
}

// macFromPath recovers the address from a .../dev_XX_XX_XX_XX_XX_XX path.
func macFromPath(p dbus.ObjectPath) string {
	s := string(p)
	idx := strings.LastIndex(s, "/dev_")
	if idx < 0 {
		return ""
	}
	return strings.ReplaceAll(s[idx+5:], "_", ":")
}

func matchesAny(declared []*hardware.BTLESpecifier, discovered *hardware.BTLESpecifier) bool {
	return lo.ContainsBy(declared, func(s *hardware.BTLESpecifier) bool { return s.Matches(discovered) })
}
