// occurrence.go defines the Occurrence record and its environment snapshot.

package squash

import "time"

// ClientName identifies this library to the Squash host.
const ClientName = "go"

// Occurrence is one captured panic or signal plus the environment it
// happened in. It is the unit of storage and delivery.
//
// Occurrences are built by a Capturer and must not be modified once they
// have been appended to a Store.
type Occurrence struct {
	// ID is the UUID generated at construction. It names the stored file.
	ID string

	// SymbolicationID links the raw backtrace to the build's symbol data.
	SymbolicationID string

	// Build description, from ClientConfig.
	Revision string
	Version  string
	Build    string

	// Environment is the deployment label, e.g. "production".
	Environment string

	// Client is always ClientName.
	Client string

	OccurredAt time.Time

	// Kind is either Exception or Signal.
	Kind Kind

	// Host is the environment snapshot taken at capture time.
	Host Host

	Arguments []string
	EnvVars   map[string]string
}

// Kind distinguishes panic occurrences from signal occurrences.
type Kind interface {
	className() string
	message() string
	backtrace() []uint64
}

// Exception is a panic or recorded error.
type Exception struct {
	ClassName string
	Message   string
	UserData  Map

	// Backtrace holds the raw return addresses at the point of recovery.
	Backtrace []uint64
}

// Signal is a trapped fatal signal.
type Signal struct {
	Number    int
	Name      string
	Backtrace []uint64
}

func (e Exception) className() string   { return e.ClassName }
func (e Exception) message() string     { return e.Message }
func (e Exception) backtrace() []uint64 { return e.Backtrace }

func (s Signal) className() string   { return s.Name }
func (s Signal) message() string     { return signalMessage }
func (s Signal) backtrace() []uint64 { return s.Backtrace }

// signalMessage is the constant message attached to signal occurrences.
const signalMessage = "Signal received"

// Host captures process, OS and device details. Every field is optional.
type Host struct {
	Hostname          string
	PID               *int
	ProcessPath       string
	ParentProcessName string
	ProcessNative     *bool

	DeviceType             string
	OperatingSystem        string
	OperatingSystemVersion string
	OperatingSystemBuild   string
	Architecture           string
	PhysicalMemory         *uint64
	PowerState             string
	Orientation            string

	Location *Location

	NetworkOperator string
	NetworkType     string
	Connectivity    string
}

// Location is a device position fix.
type Location struct {
	Lat       *float64
	Lon       *float64
	Altitude  *float64
	Precision *float64
	Heading   *float64
	Speed     *float64
}

// ClassName returns the exception class or signal name.
func (o Occurrence) ClassName() string {
	if o.Kind == nil {
		return ""
	}
	return o.Kind.className()
}

// Message returns the exception message, or a constant for signals.
func (o Occurrence) Message() string {
	if o.Kind == nil {
		return ""
	}
	return o.Kind.message()
}

// Backtrace returns the raw return addresses recorded for the occurrence.
func (o Occurrence) Backtrace() []uint64 {
	if o.Kind == nil {
		return nil
	}
	return o.Kind.backtrace()
}
