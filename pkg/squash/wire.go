// wire.go converts occurrences to and from the notify API JSON format.
// The same JSON, minus the API key, is the on-disk record format.

package squash

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrCorruptRecord reports a stored record that cannot be decoded.
var ErrCorruptRecord = errors.New("squash: corrupt occurrence record")

type wireOccurrence struct {
	ID              string            `json:"id"`
	APIKey          string            `json:"api_key,omitempty"`
	Environment     string            `json:"environment"`
	Client          string            `json:"client"`
	Revision        string            `json:"revision"`
	Version         string            `json:"version,omitempty"`
	Build           string            `json:"build,omitempty"`
	SymbolicationID string            `json:"symbolication_id,omitempty"`
	OccurredAt      string            `json:"occurred_at"`
	ClassName       string            `json:"exception_class_name"`
	Message         string            `json:"message"`
	Signal          *int              `json:"signal,omitempty"`
	Backtraces      []uint64          `json:"backtraces"`
	UserData        Map               `json:"user_data"`
	EnvVars         map[string]string `json:"env_vars"`
	Arguments       []string          `json:"arguments"`

	Hostname               string   `json:"hostname,omitempty"`
	PID                    *int     `json:"pid,omitempty"`
	ProcessPath            string   `json:"process_path,omitempty"`
	ParentProcessName      string   `json:"parent_process_name,omitempty"`
	ProcessNative          *bool    `json:"process_native,omitempty"`
	DeviceType             string   `json:"device_type,omitempty"`
	OperatingSystem        string   `json:"operating_system,omitempty"`
	OperatingSystemVersion string   `json:"os_version,omitempty"`
	OperatingSystemBuild   string   `json:"os_build,omitempty"`
	Architecture           string   `json:"architecture,omitempty"`
	PhysicalMemory         *uint64  `json:"physical_memory,omitempty"`
	PowerState             string   `json:"power_state,omitempty"`
	Orientation            string   `json:"orientation,omitempty"`
	Lat                    *float64 `json:"lat,omitempty"`
	Lon                    *float64 `json:"lon,omitempty"`
	Altitude               *float64 `json:"altitude,omitempty"`
	LocationPrecision      *float64 `json:"location_precision,omitempty"`
	Heading                *float64 `json:"heading,omitempty"`
	Speed                  *float64 `json:"speed,omitempty"`
	NetworkOperator        string   `json:"network_operator,omitempty"`
	NetworkType            string   `json:"network_type,omitempty"`
	Connectivity           string   `json:"connectivity,omitempty"`
}

func toWire(o Occurrence) wireOccurrence {
	w := wireOccurrence{
		ID:              o.ID,
		Environment:     o.Environment,
		Client:          o.Client,
		Revision:        o.Revision,
		Version:         o.Version,
		Build:           o.Build,
		SymbolicationID: o.SymbolicationID,
		OccurredAt:      o.OccurredAt.UTC().Format(time.RFC3339Nano),
		ClassName:       o.ClassName(),
		Message:         o.Message(),
		Backtraces:      o.Backtrace(),
		EnvVars:         o.EnvVars,
		Arguments:       o.Arguments,

		Hostname:               o.Host.Hostname,
		PID:                    o.Host.PID,
		ProcessPath:            o.Host.ProcessPath,
		ParentProcessName:      o.Host.ParentProcessName,
		ProcessNative:          o.Host.ProcessNative,
		DeviceType:             o.Host.DeviceType,
		OperatingSystem:        o.Host.OperatingSystem,
		OperatingSystemVersion: o.Host.OperatingSystemVersion,
		OperatingSystemBuild:   o.Host.OperatingSystemBuild,
		Architecture:           o.Host.Architecture,
		PhysicalMemory:         o.Host.PhysicalMemory,
		PowerState:             o.Host.PowerState,
		Orientation:            o.Host.Orientation,
		NetworkOperator:        o.Host.NetworkOperator,
		NetworkType:            o.Host.NetworkType,
		Connectivity:           o.Host.Connectivity,
	}

	switch k := o.Kind.(type) {
	case Exception:
		w.UserData = k.UserData
	case Signal:
		n := k.Number
		w.Signal = &n
	}

	if loc := o.Host.Location; loc != nil {
		w.Lat = loc.Lat
		w.Lon = loc.Lon
		w.Altitude = loc.Altitude
		w.LocationPrecision = loc.Precision
		w.Heading = loc.Heading
		w.Speed = loc.Speed
	}

	// The API expects arrays and objects, never null.
	if w.Backtraces == nil {
		w.Backtraces = []uint64{}
	}
	if w.UserData == nil {
		w.UserData = Map{}
	}
	if w.EnvVars == nil {
		w.EnvVars = map[string]string{}
	}
	if w.Arguments == nil {
		w.Arguments = []string{}
	}
	return w
}

func fromWire(w wireOccurrence) (Occurrence, error) {
	if _, err := uuid.Parse(w.ID); err != nil {
		return Occurrence{}, fmt.Errorf("%w: id %q: %v", ErrCorruptRecord, w.ID, err)
	}
	occurredAt, err := time.Parse(time.RFC3339Nano, w.OccurredAt)
	if err != nil {
		return Occurrence{}, fmt.Errorf("%w: occurred_at: %v", ErrCorruptRecord, err)
	}
	if w.ClassName == "" {
		return Occurrence{}, fmt.Errorf("%w: missing exception_class_name", ErrCorruptRecord)
	}

	o := Occurrence{
		ID:              w.ID,
		SymbolicationID: w.SymbolicationID,
		Revision:        w.Revision,
		Version:         w.Version,
		Build:           w.Build,
		Environment:     w.Environment,
		Client:          w.Client,
		OccurredAt:      occurredAt,
		Arguments:       w.Arguments,
		EnvVars:         w.EnvVars,
		Host: Host{
			Hostname:               w.Hostname,
			PID:                    w.PID,
			ProcessPath:            w.ProcessPath,
			ParentProcessName:      w.ParentProcessName,
			ProcessNative:          w.ProcessNative,
			DeviceType:             w.DeviceType,
			OperatingSystem:        w.OperatingSystem,
			OperatingSystemVersion: w.OperatingSystemVersion,
			OperatingSystemBuild:   w.OperatingSystemBuild,
			Architecture:           w.Architecture,
			PhysicalMemory:         w.PhysicalMemory,
			PowerState:             w.PowerState,
			Orientation:            w.Orientation,
			NetworkOperator:        w.NetworkOperator,
			NetworkType:            w.NetworkType,
			Connectivity:           w.Connectivity,
		},
	}

	if w.Lat != nil || w.Lon != nil || w.Altitude != nil || w.LocationPrecision != nil || w.Heading != nil || w.Speed != nil {
		o.Host.Location = &Location{
			Lat:       w.Lat,
			Lon:       w.Lon,
			Altitude:  w.Altitude,
			Precision: w.LocationPrecision,
			Heading:   w.Heading,
			Speed:     w.Speed,
		}
	}

	if w.Signal != nil {
		o.Kind = Signal{Number: *w.Signal, Name: w.ClassName, Backtrace: w.Backtraces}
	} else {
		o.Kind = Exception{
			ClassName: w.ClassName,
			Message:   w.Message,
			UserData:  w.UserData,
			Backtrace: w.Backtraces,
		}
	}
	return o, nil
}

// MarshalOccurrence encodes o in the stored record format.
func MarshalOccurrence(o Occurrence) ([]byte, error) {
	return json.Marshal(toWire(o))
}

// UnmarshalOccurrence decodes a stored record. Any decoding failure wraps
// ErrCorruptRecord.
func UnmarshalOccurrence(data []byte) (Occurrence, error) {
	var w wireOccurrence
	if err := json.Unmarshal(data, &w); err != nil {
		return Occurrence{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return fromWire(w)
}

// marshalNotify encodes o as a notify request body carrying apiKey.
func marshalNotify(o Occurrence, apiKey string) ([]byte, error) {
	w := toWire(o)
	w.APIKey = apiKey
	return json.Marshal(w)
}
