//go:build linux

package squash

import (
	"os"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

func osInfo() (sysname, release, version string) {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return runtime.GOOS, "", ""
	}
	return unix.ByteSliceToString(u.Sysname[:]),
		unix.ByteSliceToString(u.Release[:]),
		unix.ByteSliceToString(u.Version[:])
}

func physicalMemory() *uint64 {
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		return nil
	}
	total := uint64(si.Totalram) * uint64(si.Unit)
	return &total
}

func parentProcessName(ppid int) string {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(ppid) + "/comm")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// processNative is false when the binary's architecture differs from the
// kernel's, e.g. an amd64 build under emulation on arm64.
func processNative() bool {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return true
	}
	machine := unix.ByteSliceToString(u.Machine[:])
	switch runtime.GOARCH {
	case "amd64":
		return machine == "x86_64"
	case "arm64":
		return machine == "aarch64" || machine == "arm64"
	case "386":
		return strings.HasPrefix(machine, "i") && strings.HasSuffix(machine, "86")
	default:
		return true
	}
}
