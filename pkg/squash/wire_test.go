package squash

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalOccurrence_RoundTrip(t *testing.T) {
	o := sampleOccurrence()

	data, err := MarshalOccurrence(o)
	require.NoError(t, err)

	got, err := UnmarshalOccurrence(data)
	require.NoError(t, err)
	assert.Equal(t, o, got)
}

func TestMarshalOccurrence_SignalRoundTrip(t *testing.T) {
	o := sampleOccurrence()
	o.Kind = Signal{Number: 11, Name: "SIGSEGV", Backtrace: []uint64{1, 2, 3}}

	data, err := MarshalOccurrence(o)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, 11.0, raw["signal"])
	assert.Equal(t, "SIGSEGV", raw["exception_class_name"])
	assert.Equal(t, "Signal received", raw["message"])

	got, err := UnmarshalOccurrence(data)
	require.NoError(t, err)
	assert.Equal(t, o.Kind, got.Kind)
}

func TestMarshalOccurrence_WireKeys(t *testing.T) {
	o := sampleOccurrence()
	data, err := MarshalOccurrence(o)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))

	for _, key := range []string{
		"id", "environment", "client", "revision", "version", "build",
		"symbolication_id", "occurred_at", "exception_class_name", "message",
		"backtraces", "user_data", "env_vars", "arguments",
		"hostname", "pid", "process_path", "operating_system", "architecture",
		"physical_memory", "lat", "lon",
	} {
		assert.Contains(t, raw, key)
	}
	assert.NotContains(t, raw, "api_key", "stored records never carry the API key")
	assert.NotContains(t, raw, "signal")
	assert.Equal(t, "2026-03-14T15:09:26.535Z", raw["occurred_at"])
	assert.Equal(t, "go", raw["client"])
}

func TestMarshalOccurrence_EmptyCollectionsAreNotNull(t *testing.T) {
	o := Occurrence{
		ID:         uuid.NewString(),
		OccurredAt: fixedTime,
		Kind:       Exception{ClassName: "x"},
	}
	data, err := MarshalOccurrence(o)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, []any{}, raw["backtraces"])
	assert.Equal(t, map[string]any{}, raw["user_data"])
	assert.Equal(t, map[string]any{}, raw["env_vars"])
	assert.Equal(t, []any{}, raw["arguments"])
}

func TestMarshalNotify_IncludesAPIKey(t *testing.T) {
	data, err := marshalNotify(sampleOccurrence(), "key-123")
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "key-123", raw["api_key"])
}

func TestUnmarshalOccurrence_Corrupt(t *testing.T) {
	valid, err := MarshalOccurrence(sampleOccurrence())
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"truncated", valid[:len(valid)/2]},
		{"not an object", []byte(`[1,2,3]`)},
		{"bad id", []byte(`{"id":"nope","occurred_at":"2026-01-01T00:00:00Z","exception_class_name":"x"}`)},
		{"bad time", []byte(`{"id":"` + uuid.NewString() + `","occurred_at":"yesterday","exception_class_name":"x"}`)},
		{"missing class", []byte(`{"id":"` + uuid.NewString() + `","occurred_at":"2026-01-01T00:00:00Z"}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalOccurrence(tt.data)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrCorruptRecord), "error %v should wrap ErrCorruptRecord", err)
		})
	}
}

// Property: revision, message and backtraces survive the wire format.
func TestMarshalOccurrence_RoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("revision, message and backtraces round-trip", prop.ForAll(
		func(revision, message string, backtrace []uint64, millis int64) bool {
			o := Occurrence{
				ID:         uuid.NewString(),
				Revision:   revision,
				OccurredAt: time.UnixMilli(millis).UTC(),
				Kind: Exception{
					ClassName: "prop",
					Message:   message,
					Backtrace: backtrace,
				},
			}
			data, err := MarshalOccurrence(o)
			if err != nil {
				return false
			}
			got, err := UnmarshalOccurrence(data)
			if err != nil {
				return false
			}
			want := backtrace
			if want == nil {
				want = []uint64{}
			}
			return got.Revision == revision &&
				got.Message() == message &&
				reflect.DeepEqual(got.Backtrace(), want) &&
				got.OccurredAt.Equal(o.OccurredAt)
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.SliceOf(gen.UInt64()),
		gen.Int64Range(0, 4102444800000),
	))

	properties.TestingRun(t)
}
