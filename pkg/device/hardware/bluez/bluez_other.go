//go:build !linux

package bluez

import "github.com/urmzd/plugd/pkg/device/hardware"

// Builder fails on platforms without BlueZ.
func Builder(Options) hardware.CommunicationManagerBuilder {
	return func(chan<- hardware.CommunicationEvent) (hardware.CommunicationManager, error) {
		return nil, ErrUnsupported
	}
}
