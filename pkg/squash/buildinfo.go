// buildinfo.go resolves the build identifier that ties raw addresses to
// symbol data.

package squash

import (
	"debug/elf"
	"encoding/binary"
	"os"
	"runtime/debug"
	"sync"
)

// BuildInfo provides the symbolication identifier of the running build.
type BuildInfo interface {
	SymbolicationID() string
}

// StaticBuildInfo is a BuildInfo with a fixed identifier.
type StaticBuildInfo string

// SymbolicationID returns s.
func (s StaticBuildInfo) SymbolicationID() string { return string(s) }

// ExecutableBuildInfo reads the Go build ID from the running executable,
// falling back to the VCS revision stamped into the binary.
type ExecutableBuildInfo struct {
	once sync.Once
	id   string
}

// SymbolicationID resolves the identifier once and caches it.
func (b *ExecutableBuildInfo) SymbolicationID() string {
	b.once.Do(func() {
		if exe, err := os.Executable(); err == nil {
			if id, err := readGoBuildID(exe); err == nil && id != "" {
				b.id = id
				return
			}
		}
		b.id = vcsRevision()
	})
	return b.id
}

// readGoBuildID extracts the ".note.go.buildid" note from an ELF file.
func readGoBuildID(path string) (string, error) {
	f, err := elf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	sec := f.Section(".note.go.buildid")
	if sec == nil {
		return "", nil
	}
	data, err := sec.Data()
	if err != nil {
		return "", err
	}
	return parseGoBuildIDNote(data, f.ByteOrder), nil
}

// parseGoBuildIDNote decodes an ELF note whose name is "Go".
func parseGoBuildIDNote(data []byte, order binary.ByteOrder) string {
	const header = 12
	if len(data) < header {
		return ""
	}
	namesz := order.Uint32(data[0:4])
	descsz := order.Uint32(data[4:8])
	nameEnd := header + int((namesz+3)&^3)
	descEnd := nameEnd + int(descsz)
	if namesz < 2 || nameEnd > len(data) || descEnd > len(data) {
		return ""
	}
	if string(data[header:header+2]) != "Go" {
		return ""
	}
	return string(data[nameEnd:descEnd])
}

func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			return s.Value
		}
	}
	return ""
}
