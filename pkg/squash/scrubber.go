// scrubber.go removes filtered keys and secrets from occurrence data.

package squash

import (
	"regexp"
	"strings"
)

// ScrubberConfig controls redaction.
type ScrubberConfig struct {
	// FilterUserDataKeys are removed from exception user data, at any depth.
	FilterUserDataKeys []string

	// FilterEnvVars are removed from the captured environment variables.
	FilterEnvVars []string

	// MaxMessageSize is the maximum length for messages (default: 4096).
	MaxMessageSize int

	// MaxValueSize is the maximum length for user data strings (default: 16384).
	MaxValueSize int

	// ScrubMessages enables pattern scrubbing of messages (default: true).
	ScrubMessages bool
}

// DefaultScrubberConfig returns production-safe defaults.
func DefaultScrubberConfig() ScrubberConfig {
	return ScrubberConfig{
		MaxMessageSize: 4096,
		MaxValueSize:   16384,
		ScrubMessages:  true,
	}
}

// Compiled once at package init.
var messageScrubPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|token)[=:\s]+['"]?[\w\-\.]+['"]?`),
	regexp.MustCompile(`(?i)(authorization|bearer)[=:\s]+['"]?[\w\-\.]+['"]?[\s]+['"]?[\w\-\.]+['"]?`),
	regexp.MustCompile(`(?i)sk-[a-zA-Z0-9_-]{20,}`),
	regexp.MustCompile(`(?i)ghp_[a-zA-Z0-9]{36}`),
	regexp.MustCompile(`(?i)github_pat_[a-zA-Z0-9_]{22,}`),
	regexp.MustCompile(`(?i)xox[baprs]-[a-zA-Z0-9\-]{10,}`),
	regexp.MustCompile(`(?i)eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`),
	regexp.MustCompile(`(?i)password[=:\s]+['"]?[^\s'"",]+['"]?`),
	regexp.MustCompile(`(?i)secret[=:\s]+['"]?[^\s'"",]+['"]?`),
	regexp.MustCompile(`(?i)passwd[=:\s]+['"]?[^\s'"",]+['"]?`),
	regexp.MustCompile(`(?i)credential[=:\s]+['"]?[^\s'"",]+['"]?`),
}

// Environment variable names containing any of these are never captured.
var sensitiveEnvPatterns = []string{
	"token",
	"key",
	"secret",
	"password",
	"passwd",
	"credential",
	"auth",
}

// Scrubber redacts occurrence fields according to its config.
type Scrubber struct {
	cfg         ScrubberConfig
	userDataSet map[string]struct{}
	envSet      map[string]struct{}
}

// NewScrubber creates a scrubber. Zero size limits take the defaults.
func NewScrubber(cfg ScrubberConfig) *Scrubber {
	def := DefaultScrubberConfig()
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.MaxValueSize <= 0 {
		cfg.MaxValueSize = def.MaxValueSize
	}
	s := &Scrubber{
		cfg:         cfg,
		userDataSet: make(map[string]struct{}, len(cfg.FilterUserDataKeys)),
		envSet:      make(map[string]struct{}, len(cfg.FilterEnvVars)),
	}
	for _, k := range cfg.FilterUserDataKeys {
		s.userDataSet[k] = struct{}{}
	}
	for _, k := range cfg.FilterEnvVars {
		s.envSet[k] = struct{}{}
	}
	return s
}

// ScrubMessage truncates msg and replaces secret-looking substrings.
func (s *Scrubber) ScrubMessage(msg string) string {
	if len(msg) > s.cfg.MaxMessageSize {
		msg = truncateWithMarker(msg, s.cfg.MaxMessageSize)
	}
	if !s.cfg.ScrubMessages {
		return msg
	}
	for _, pattern := range messageScrubPatterns {
		msg = pattern.ReplaceAllString(msg, "[REDACTED]")
	}
	return msg
}

// FilterUserData returns a copy of data without the filtered keys. Nested
// maps, including maps inside lists, are filtered too.
func (s *Scrubber) FilterUserData(data Map) Map {
	if data == nil {
		return nil
	}
	out, _ := s.filterValue(data).(Map)
	return out
}

func (s *Scrubber) filterValue(v Value) Value {
	switch x := v.(type) {
	case Map:
		out := make(Map, len(x))
		for k, e := range x {
			if _, drop := s.userDataSet[k]; drop {
				continue
			}
			out[k] = s.filterValue(e)
		}
		return out
	case List:
		out := make(List, len(x))
		for i, e := range x {
			out[i] = s.filterValue(e)
		}
		return out
	case String:
		if len(x) > s.cfg.MaxValueSize {
			return String(truncateWithMarker(string(x), s.cfg.MaxValueSize))
		}
		return x
	case nil:
		return Null{}
	default:
		return x
	}
}

// FilterEnvVars returns a copy of vars without filtered or sensitive names.
func (s *Scrubber) FilterEnvVars(vars map[string]string) map[string]string {
	if vars == nil {
		return nil
	}
	out := make(map[string]string, len(vars))
	for k, v := range vars {
		if s.isFilteredEnv(k) {
			continue
		}
		out[k] = v
	}
	return out
}

// FilterArguments redacts the values of sensitive flags, in both the
// "-flag=value" and "-flag value" forms.
func (s *Scrubber) FilterArguments(args []string) []string {
	if args == nil {
		return nil
	}
	out := make([]string, len(args))
	redactNext := false
	for i, arg := range args {
		if redactNext {
			out[i] = "[REDACTED]"
			redactNext = false
			continue
		}
		out[i] = arg
		if !strings.HasPrefix(arg, "-") {
			continue
		}
		name := strings.TrimLeft(arg, "-")
		if eq := strings.IndexByte(name, '='); eq >= 0 {
			if s.isFilteredEnv(name[:eq]) {
				out[i] = arg[:len(arg)-len(name)+eq+1] + "[REDACTED]"
			}
			continue
		}
		if name != "" && s.isFilteredEnv(name) {
			redactNext = true
		}
	}
	return out
}

func (s *Scrubber) isFilteredEnv(name string) bool {
	if _, ok := s.envSet[name]; ok {
		return true
	}
	lower := strings.ToLower(name)
	for _, pattern := range sensitiveEnvPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// truncateWithMarker truncates a string and adds a truncation marker.
func truncateWithMarker(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	marker := "...[TRUNCATED]"
	if maxLen <= len(marker) {
		return marker[:maxLen]
	}
	return s[:maxLen-len(marker)] + marker
}
