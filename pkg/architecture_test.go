package pkg

import (
	"testing"

	"github.com/kcmvp/archunit"
)

func TestArchitecture(t *testing.T) {
	devices := archunit.Packages("device", []string{".../pkg/device/..."})
	messages := archunit.Packages("message", []string{".../pkg/message/..."})
	server := archunit.Packages("server", []string{".../pkg/server"})
	surfaces := archunit.Packages("surfaces", []string{".../pkg/api/...", ".../pkg/mcp"})
	ambient := archunit.Packages("ambient", []string{".../pkg/db", ".../pkg/telemetry", ".../pkg/config", ".../pkg/app"})

	check := func(rule string, err error) {
		t.Helper()
		if err != nil {
			t.Errorf("architecture violation: %s: %v", rule, err)
		}
	}

	// device layer knows nothing of the wire format or any surface
	check("device -> message", devices.ShouldNotReferLayers(messages))
	check("device -> server", devices.ShouldNotReferLayers(server))
	check("device -> surfaces", devices.ShouldNotReferLayers(surfaces))
	check("device -> ambient", devices.ShouldNotReferLayers(ambient))

	check("message -> server", messages.ShouldNotReferLayers(server))
	check("message -> surfaces", messages.ShouldNotReferLayers(surfaces))
	check("message -> ambient", messages.ShouldNotReferLayers(ambient))

	check("server -> surfaces", server.ShouldNotReferLayers(surfaces))
	check("server -> ambient", server.ShouldNotReferLayers(ambient))
}

func TestVersionPackages(t *testing.T) {
	versions := archunit.Packages("versions", []string{".../pkg/message/v0", ".../pkg/message/v1", ".../pkg/message/v2", ".../pkg/message/v3", ".../pkg/message/v4"})
	if len(versions.Packages()) != 5 {
		t.Errorf("expected five message versions, found %d", len(versions.Packages()))
	}
}
