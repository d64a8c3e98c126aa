// crashlog.go captures fatal Go runtime crashes through the runtime's crash
// output and turns them into occurrences on the next launch.

package squash

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
)

const (
	crashesDirName = "crashes"
	crashLogExt    = ".log"

	// recordedExt names the sidecar of a crash log listing panics that
	// Recover already stored before re-panicking.
	recordedExt = ".recorded"

	// CrashClassFatalError is the class name of "fatal error:" crashes.
	CrashClassFatalError = "fatal error"

	// CrashClassPanic is the class name of panics whose value type is not
	// printed by the runtime.
	CrashClassPanic = "panic"

	// CrashClassRuntimeError is the class name of runtime error panics.
	CrashClassRuntimeError = "runtime.Error"

	// UserDataTraceback is the user data key holding the runtime traceback.
	UserDataTraceback = "go_traceback"
)

// CrashReport is the parsed form of a Go runtime crash output.
type CrashReport struct {
	ClassName string
	Message   string
	Signal    syscall.Signal // zero when no signal line was printed
	PC        uint64         // faulting PC from the signal line, if any
	Traceback string

	// Repanicked is set when the panic that ended the process was a
	// recovered value panicked again.
	Repanicked bool
}

var (
	// [signal SIGSEGV: segmentation violation code=0x1 addr=0x0 pc=0x47d7a5]
	signalLinePattern = regexp.MustCompile(`^\[signal (SIG[A-Z0-9]+): .*?pc=(0x[0-9a-fA-F]+)\]`)

	// SIGABRT: abort
	fatalSignalPattern = regexp.MustCompile(`^(SIG[A-Z0-9]+): (.*)$`)

	// PC=0x46a2a1 m=0 sigcode=0
	pcLinePattern = regexp.MustCompile(`^PC=(0x[0-9a-fA-F]+)`)

	// (main.T) {...}
	typedPanicPattern = regexp.MustCompile(`^\(([^)]+)\) ?(.*)$`)

	// panic: boom [recovered, repanicked], also indented for nested panics.
	panicLinePattern = regexp.MustCompile(`^\t*panic: (.*)$`)

	recoveredSuffixPattern = regexp.MustCompile(` \[recovered(, (repanicked|reraised))?\]$`)
)

var signalsByName = func() map[string]syscall.Signal {
	m := make(map[string]syscall.Signal, len(signalNames))
	for sig, name := range signalNames {
		m[name] = sig
	}
	return m
}()

// ParseCrashLog parses the text the Go runtime writes when the process
// dies. It returns false if text holds no recognizable crash. Class and
// message come from the first panic of a chain.
func ParseCrashLog(text string) (CrashReport, bool) {
	report := CrashReport{Traceback: text}
	found := false
	inPanics := false
	var prev panicLine

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		if m := panicLinePattern.FindStringSubmatch(line); m != nil && (!found || inPanics) {
			cur := parsePanicLine(m[1])
			if !found {
				report.ClassName, report.Message = classifyPanic(cur.message)
				found = true
				inPanics = true
			} else {
				// Before go1.23 a re-panic printed the value a second time.
				cur.repanicked = cur.repanicked || (prev.recovered && prev.message == cur.message)
			}
			report.Repanicked = cur.repanicked
			prev = cur
			continue
		}
		inPanics = false

		if !found {
			switch {
			case strings.HasPrefix(line, "fatal error: "):
				report.ClassName = CrashClassFatalError
				report.Message = strings.TrimPrefix(line, "fatal error: ")
				found = true
			default:
				if m := fatalSignalPattern.FindStringSubmatch(line); m != nil {
					if sig, ok := signalsByName[m[1]]; ok {
						report.ClassName = m[1]
						report.Message = m[2]
						report.Signal = sig
						found = true
					}
				}
			}
			continue
		}

		if m := signalLinePattern.FindStringSubmatch(line); m != nil && report.PC == 0 {
			report.Signal = signalsByName[m[1]]
			report.PC, _ = strconv.ParseUint(m[2], 0, 64)
			continue
		}
		if m := pcLinePattern.FindStringSubmatch(line); m != nil && report.PC == 0 {
			report.PC, _ = strconv.ParseUint(m[1], 0, 64)
		}
	}
	return report, found
}

type panicLine struct {
	message    string
	recovered  bool
	repanicked bool
}

func parsePanicLine(text string) panicLine {
	m := recoveredSuffixPattern.FindStringSubmatchIndex(text)
	if m == nil {
		return panicLine{message: text}
	}
	return panicLine{
		message:    text[:m[0]],
		recovered:  true,
		repanicked: m[2] >= 0,
	}
}

// classifyPanic derives a class name from a printed panic value.
func classifyPanic(msg string) (className, message string) {
	if strings.HasPrefix(msg, "runtime error: ") {
		return CrashClassRuntimeError, msg
	}
	if m := typedPanicPattern.FindStringSubmatch(msg); m != nil {
		return m[1], m[2]
	}
	return CrashClassPanic, msg
}

// FromCrashLog builds an exception occurrence from a crash of a previous
// process. The environment is that of the current process, except for pid.
func (c *Capturer) FromCrashLog(report CrashReport, occurredAt time.Time, pid int) (Occurrence, bool) {
	if c.IsIgnored(report.ClassName) {
		return Occurrence{}, false
	}

	var backtrace []uint64
	if report.PC != 0 {
		backtrace = []uint64{report.PC}
	}
	userData := Map{UserDataTraceback: String(report.Traceback)}
	if report.Signal != 0 {
		userData["signal"] = String(SignalName(report.Signal))
	}

	o := c.newOccurrence()
	o.OccurredAt = occurredAt.UTC()
	o.Kind = Exception{
		ClassName: report.ClassName,
		Message:   c.scrubber.ScrubMessage(report.Message),
		UserData:  c.scrubber.FilterUserData(userData),
		Backtrace: backtrace,
	}
	o.Host = c.minimalHost
	o.Host.PID = nil
	if pid > 0 {
		o.Host.PID = &pid
	}
	o.Arguments = c.arguments
	o.EnvVars = c.envVars
	return o, true
}

// liveCrashLog is the file the runtime currently writes crash output to.
// Crash output is process-wide, so every Client shares it.
var liveCrashLog atomic.Pointer[string]

// recordedMu serializes appends to the recorded-panics sidecar.
var recordedMu sync.Mutex

// crashLogs manages the per-launch crash output files under
// <root>/crashes. Files are named <pid>-<uuid>.log.
type crashLogs struct {
	dir       string
	current   string
	setOutput func(f *os.File, opts debug.CrashOptions) error
	logger    *slog.Logger
}

func newCrashLogs(root string, logger *slog.Logger) *crashLogs {
	return &crashLogs{
		dir:       filepath.Join(root, crashesDirName),
		setOutput: debug.SetCrashOutput,
		logger:    logger,
	}
}

// install directs the runtime's fatal crash output to a fresh file.
func (l *crashLogs) install() error {
	if err := os.MkdirAll(l.dir, 0o700); err != nil {
		return fmt.Errorf("create crashes dir: %w", err)
	}
	name := strconv.Itoa(os.Getpid()) + "-" + uuid.NewString() + crashLogExt
	path := filepath.Join(l.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("create crash log: %w", err)
	}
	// The runtime keeps its own duplicate of the descriptor.
	defer f.Close()
	if err := l.setOutput(f, debug.CrashOptions{}); err != nil {
		os.Remove(path)
		return fmt.Errorf("set crash output: %w", err)
	}
	l.current = path
	liveCrashLog.Store(&path)
	return nil
}

// release stops crash output and deletes the live crash log. The signal
// path calls it once the signal is stored, so the runtime's report of the
// re-raised signal is not ingested a second time.
func (l *crashLogs) release() {
	path := liveCrashLog.Swap(nil)
	if path == nil {
		return
	}
	if err := l.setOutput(nil, debug.CrashOptions{}); err != nil {
		l.logger.Warn("crash output not released", "error", err)
		liveCrashLog.CompareAndSwap(nil, path)
		return
	}
	_ = os.Remove(*path)
	_ = os.Remove(*path + recordedExt)
}

// recordedPanic is one line of a recorded-panics sidecar. The message is
// hashed so secrets in panic values are not kept on disk.
type recordedPanic struct {
	ID          string `json:"id"`
	ClassName   string `json:"class"`
	MessageHash string `json:"message_sha256"`
}

func messageHash(msg string) string {
	sum := sha256.Sum256([]byte(msg))
	return hex.EncodeToString(sum[:])
}

// markRecorded notes that the panic value v was stored as id and is about
// to be re-panicked, so the crash log it may end up in is not ingested.
func (l *crashLogs) markRecorded(id string, v any) {
	path := liveCrashLog.Load()
	if path == nil {
		return
	}
	line, err := json.Marshal(recordedPanic{
		ID:          id,
		ClassName:   panicClassName(v),
		MessageHash: messageHash(formatRecovered(v)),
	})
	if err != nil {
		return
	}

	recordedMu.Lock()
	defer recordedMu.Unlock()
	f, err := os.OpenFile(*path+recordedExt, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		l.logger.Warn("mark recorded panic failed", "error", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		l.logger.Warn("mark recorded panic failed", "error", err)
	}
}

func readRecorded(path string) []recordedPanic {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var out []recordedPanic
	for _, line := range strings.Split(string(data), "\n") {
		var r recordedPanic
		if json.Unmarshal([]byte(line), &r) == nil {
			out = append(out, r)
		}
	}
	return out
}

// alreadyRecorded reports whether the crash was a re-panic of a value
// Recover stored.
func alreadyRecorded(report CrashReport, recorded []recordedPanic) bool {
	if !report.Repanicked {
		return false
	}
	hash := messageHash(report.Message)
	for _, r := range recorded {
		if r.MessageHash == hash || r.ClassName == report.ClassName {
			return true
		}
	}
	return false
}

// ingest converts the crash logs of previous processes into stored
// occurrences and returns them. Logs of live processes, including the one
// this process writes to, are left alone.
func (l *crashLogs) ingest(capturer *Capturer, store *Store) []Occurrence {
	dirEntries, err := os.ReadDir(l.dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			l.logger.Warn("read crashes dir failed", "error", err)
		}
		return nil
	}

	var live string
	if p := liveCrashLog.Load(); p != nil {
		live = *p
	}

	var out []Occurrence
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), crashLogExt) {
			continue
		}
		path := filepath.Join(l.dir, de.Name())
		if path == l.current || path == live {
			continue
		}
		// A log carrying our own pid is from an earlier process that had
		// the same pid, which is common in containers.
		pid := crashLogPID(de.Name())
		if pid != os.Getpid() && processAlive(pid) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		text := strings.TrimSpace(string(data))
		if text == "" {
			l.discard(path)
			continue
		}

		report, ok := ParseCrashLog(text)
		if !ok {
			report = CrashReport{ClassName: CrashClassFatalError, Message: "unrecognized crash output", Traceback: text}
		}
		if alreadyRecorded(report, readRecorded(path+recordedExt)) {
			l.logger.Debug("crash already recorded", "file", de.Name())
			l.discard(path)
			continue
		}

		occurredAt := time.Now()
		if info, err := de.Info(); err == nil {
			occurredAt = info.ModTime()
		}

		o, ok := capturer.FromCrashLog(report, occurredAt, pid)
		if ok {
			if err := store.Append(o); err != nil {
				l.logger.Warn("persist crash occurrence failed", "file", de.Name(), "error", err)
				continue
			}
			out = append(out, o)
		}
		l.discard(path)
	}
	return out
}

func (l *crashLogs) discard(path string) {
	_ = os.Remove(path)
	_ = os.Remove(path + recordedExt)
}

func crashLogPID(name string) int {
	prefix, _, ok := strings.Cut(name, "-")
	if !ok {
		return 0
	}
	pid, err := strconv.Atoi(prefix)
	if err != nil {
		return 0
	}
	return pid
}
