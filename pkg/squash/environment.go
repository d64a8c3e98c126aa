// environment.go captures the host and process context of an occurrence.

package squash

import (
	"log/slog"
	"os"
	"runtime"
	"strings"
)

// DeviceInfo describes the device the process runs on.
type DeviceInfo struct {
	DeviceType  string
	PowerState  string
	Orientation string
}

// NetworkInfo describes the network the device is attached to.
type NetworkInfo struct {
	Operator     string
	Type         string
	Connectivity string
}

// DeviceProvider reports device details, or false when unknown.
type DeviceProvider interface {
	Device() (DeviceInfo, bool)
}

// LocationProvider reports the last location fix, or false when unknown.
type LocationProvider interface {
	Location() (Location, bool)
}

// NetworkProvider reports network details, or false when unknown.
type NetworkProvider interface {
	Network() (NetworkInfo, bool)
}

// EnvironmentProviders groups the optional metadata providers. Nil
// providers are skipped.
type EnvironmentProviders struct {
	Device   DeviceProvider
	Location LocationProvider
	Network  NetworkProvider
}

// CaptureEnvironment takes a full snapshot of the host. It must not be
// called from the signal path. A failing provider leaves its fields empty.
func CaptureEnvironment(providers EnvironmentProviders, logger *slog.Logger) Host {
	if logger == nil {
		logger = slog.Default()
	}

	h := MinimalEnvironment()

	if exe, err := os.Executable(); err == nil {
		h.ProcessPath = exe
	}
	h.ParentProcessName = parentProcessName(os.Getppid())
	h.PhysicalMemory = physicalMemory()
	native := processNative()
	h.ProcessNative = &native

	if p := providers.Device; p != nil {
		safeProvide(logger, "device", func() {
			if d, ok := p.Device(); ok {
				h.DeviceType = d.DeviceType
				h.PowerState = d.PowerState
				h.Orientation = d.Orientation
			}
		})
	}
	if p := providers.Location; p != nil {
		safeProvide(logger, "location", func() {
			if loc, ok := p.Location(); ok {
				h.Location = &loc
			}
		})
	}
	if p := providers.Network; p != nil {
		safeProvide(logger, "network", func() {
			if n, ok := p.Network(); ok {
				h.NetworkOperator = n.Operator
				h.NetworkType = n.Type
				h.Connectivity = n.Connectivity
			}
		})
	}

	return h
}

// MinimalEnvironment returns the cheap subset used on the signal path:
// hostname, pid, OS and architecture.
func MinimalEnvironment() Host {
	hostname, _ := os.Hostname() // empty hostname is acceptable
	pid := os.Getpid()
	sysname, release, version := osInfo()
	return Host{
		Hostname:               hostname,
		PID:                    &pid,
		OperatingSystem:        sysname,
		OperatingSystemVersion: release,
		OperatingSystemBuild:   version,
		Architecture:           runtime.GOARCH,
	}
}

// safeProvide runs fn, logging and discarding any panic from a provider.
func safeProvide(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Debug("environment provider failed", "provider", name, "panic", formatRecovered(r))
		}
	}()
	fn()
}

// captureEnvVars returns the process environment as a map.
func captureEnvVars() map[string]string {
	env := os.Environ()
	out := make(map[string]string, len(env))
	for _, kv := range env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		out[k] = v
	}
	return out
}

// captureArguments returns a copy of the launch arguments.
func captureArguments() []string {
	return append([]string(nil), os.Args...)
}
