package protocol

import (
	"time"

	"github.com/urmzd/plugd/pkg/device/hardware"
)

// KeepaliveKind selects what the device session sends on its idle timer.
type KeepaliveKind int

const (
	KeepaliveNone KeepaliveKind = iota
	// KeepaliveRepeatLastPacket resends the last successful write.
	KeepaliveRepeatLastPacket
	// KeepaliveRepeatLastPacketWithDelay is KeepaliveRepeatLastPacket on a
	// handler-chosen interval.
	KeepaliveRepeatLastPacketWithDelay
	// KeepaliveHardwareRequiredRepeatPacket sends a fixed packet unrelated
	// to the last actuator command.
	KeepaliveHardwareRequiredRepeatPacket
)

// DefaultKeepaliveInterval applies to KeepaliveRepeatLastPacket.
const DefaultKeepaliveInterval = 5 * time.Second

// KeepaliveStrategy is declared by a handler.
type KeepaliveStrategy struct {
	Kind     KeepaliveKind
	Interval time.Duration
	Packet   []hardware.Command
}

func NoKeepalive() KeepaliveStrategy {
	return KeepaliveStrategy{Kind: KeepaliveNone}
}

func RepeatLastPacket() KeepaliveStrategy {
	return KeepaliveStrategy{Kind: KeepaliveRepeatLastPacket, Interval: DefaultKeepaliveInterval}
}

func RepeatLastPacketWithDelay(interval time.Duration) KeepaliveStrategy {
	return KeepaliveStrategy{Kind: KeepaliveRepeatLastPacketWithDelay, Interval: interval}
}

func HardwareRequiredRepeatPacket(interval time.Duration, packet ...hardware.Command) KeepaliveStrategy {
	return KeepaliveStrategy{Kind: KeepaliveHardwareRequiredRepeatPacket, Interval: interval, Packet: packet}
}

// Enabled reports whether the strategy sends anything.
func (k KeepaliveStrategy) Enabled() bool {
	return k.Kind != KeepaliveNone && k.Interval > 0
}

// RepeatsLast reports whether the strategy replays the last write.
func (k KeepaliveStrategy) RepeatsLast() bool {
	return k.Kind == KeepaliveRepeatLastPacket || k.Kind == KeepaliveRepeatLastPacketWithDelay
}
