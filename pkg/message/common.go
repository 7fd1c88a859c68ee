package message

import (
	"encoding/json"
	"fmt"

	"github.com/urmzd/plugd/pkg/device/hardware"
)

// Messages whose shape is identical in every version that carries them.

type Ok struct {
	Header
}

func (*Ok) MessageName() string { return "Ok" }

// NewOk builds the generic success reply.
func NewOk(id uint32) *Ok { return &Ok{Header{ID: id}} }

type Error struct {
	Header
	ErrorMessage string    `json:"ErrorMessage"`
	ErrorCode    ErrorCode `json:"ErrorCode"`
}

func (*Error) MessageName() string { return "Error" }

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.ErrorCode, e.ErrorMessage) }

type Ping struct {
	Header
}

func (*Ping) MessageName() string { return "Ping" }

// Test is echoed back unchanged. Dropped after v1.
type Test struct {
	Header
	TestString string `json:"TestString"`
}

func (*Test) MessageName() string { return "Test" }

// RequestLog and Log were removed after v1.
type RequestLog struct {
	Header
	LogLevel string `json:"LogLevel"`
}

func (*RequestLog) MessageName() string { return "RequestLog" }

type Log struct {
	Header
	LogLevel   string `json:"LogLevel"`
	LogMessage string `json:"LogMessage"`
}

func (*Log) MessageName() string { return "Log" }

// RequestServerInfo opens a session. MessageVersion is absent in v0
// clients and decodes as zero.
type RequestServerInfo struct {
	Header
	ClientName     string      `json:"ClientName"`
	MessageVersion SpecVersion `json:"MessageVersion"`
}

func (*RequestServerInfo) MessageName() string { return "RequestServerInfo" }

type ServerInfo struct {
	Header
	ServerName     string      `json:"ServerName"`
	MessageVersion SpecVersion `json:"MessageVersion"`
	MaxPingTime    uint32      `json:"MaxPingTime"`
}

func (*ServerInfo) MessageName() string { return "ServerInfo" }

type StartScanning struct {
	Header
}

func (*StartScanning) MessageName() string { return "StartScanning" }

type StopScanning struct {
	Header
}

func (*StopScanning) MessageName() string { return "StopScanning" }

type ScanningFinished struct {
	Header
}

func (*ScanningFinished) MessageName() string { return "ScanningFinished" }

type RequestDeviceList struct {
	Header
}

func (*RequestDeviceList) MessageName() string { return "RequestDeviceList" }

type StopDeviceCmd struct {
	Header
	DeviceIndex uint32 `json:"DeviceIndex"`
}

func (*StopDeviceCmd) MessageName() string    { return "StopDeviceCmd" }
func (m *StopDeviceCmd) TargetDevice() uint32 { return m.DeviceIndex }

type StopAllDevices struct {
	Header
}

func (*StopAllDevices) MessageName() string { return "StopAllDevices" }

type DeviceRemoved struct {
	Header
	DeviceIndex uint32 `json:"DeviceIndex"`
}

func (*DeviceRemoved) MessageName() string { return "DeviceRemoved" }

// Raw endpoint access, present from v2 on. Only reachable when the server
// allows raw access and the device declares the endpoint.

type RawWriteCmd struct {
	Header
	DeviceIndex       uint32            `json:"DeviceIndex"`
	Endpoint          hardware.Endpoint `json:"Endpoint"`
	Data              Bytes             `json:"Data"`
	WriteWithResponse bool              `json:"WriteWithResponse"`
}

func (*RawWriteCmd) MessageName() string    { return "RawWriteCmd" }
func (m *RawWriteCmd) TargetDevice() uint32 { return m.DeviceIndex }

type RawReadCmd struct {
	Header
	DeviceIndex    uint32            `json:"DeviceIndex"`
	Endpoint       hardware.Endpoint `json:"Endpoint"`
	ExpectedLength uint32            `json:"ExpectedLength"`
	Timeout        uint32            `json:"Timeout"`
}

func (*RawReadCmd) MessageName() string    { return "RawReadCmd" }
func (m *RawReadCmd) TargetDevice() uint32 { return m.DeviceIndex }

type RawReading struct {
	Header
	DeviceIndex uint32            `json:"DeviceIndex"`
	Endpoint    hardware.Endpoint `json:"Endpoint"`
	Data        Bytes             `json:"Data"`
}

func (*RawReading) MessageName() string { return "RawReading" }

type RawSubscribeCmd struct {
	Header
	DeviceIndex uint32            `json:"DeviceIndex"`
	Endpoint    hardware.Endpoint `json:"Endpoint"`
}

func (*RawSubscribeCmd) MessageName() string    { return "RawSubscribeCmd" }
func (m *RawSubscribeCmd) TargetDevice() uint32 { return m.DeviceIndex }

type RawUnsubscribeCmd struct {
	Header
	DeviceIndex uint32            `json:"DeviceIndex"`
	Endpoint    hardware.Endpoint `json:"Endpoint"`
}

func (*RawUnsubscribeCmd) MessageName() string    { return "RawUnsubscribeCmd" }
func (m *RawUnsubscribeCmd) TargetDevice() uint32 { return m.DeviceIndex }

// Bytes encodes as a JSON array of numbers rather than base64.
type Bytes []byte

func (b Bytes) MarshalJSON() ([]byte, error) {
	out := make([]uint16, len(b))
	for i, v := range b {
		out[i] = uint16(v)
	}
	return json.Marshal(out)
}

func (b *Bytes) UnmarshalJSON(data []byte) error {
	var in []int
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	out := make(Bytes, len(in))
	for i, v := range in {
		if v < 0 || v > 0xff {
			return fmt.Errorf("byte %d out of range: %d", i, v)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}
