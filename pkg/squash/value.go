// value.go defines the closed value type used for user data on occurrences.

package squash

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Value is a JSON-compatible value: Null, Bool, Number, String, List or Map.
// Every producer of user data converts into Value explicitly, so an
// occurrence never carries an arbitrary Go object.
type Value interface {
	isValue()
}

// Null is the JSON null value.
type Null struct{}

// Bool is a JSON boolean.
type Bool bool

// Number is a JSON number. NaN and infinities serialize as strings.
type Number float64

// String is a JSON string.
type String string

// List is a JSON array.
type List []Value

// Map is a JSON object.
type Map map[string]Value

func (Null) isValue()   {}
func (Bool) isValue()   {}
func (Number) isValue() {}
func (String) isValue() {}
func (List) isValue()   {}
func (Map) isValue()    {}

// MarshalJSON encodes Null as null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// MarshalJSON encodes n, falling back to a string for values JSON cannot hold.
func (n Number) MarshalJSON() ([]byte, error) {
	f := float64(n)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return json.Marshal(strconv.FormatFloat(f, 'g', -1, 64))
	}
	return json.Marshal(f)
}

// MarshalJSON encodes nil elements as null.
func (l List) MarshalJSON() ([]byte, error) {
	out := make([]json.RawMessage, len(l))
	for i, v := range l {
		b, err := marshalValue(v)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return json.Marshal(out)
}

// MarshalJSON encodes nil values as null.
func (m Map) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(m))
	for k, v := range m {
		b, err := marshalValue(v)
		if err != nil {
			return nil, err
		}
		out[k] = b
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes an arbitrary JSON object into a Map.
func (m *Map) UnmarshalJSON(data []byte) error {
	v, err := ParseValue(data)
	if err != nil {
		return err
	}
	switch mv := v.(type) {
	case Map:
		*m = mv
	case Null:
		*m = nil
	default:
		return fmt.Errorf("squash: expected JSON object, got %T", v)
	}
	return nil
}

func marshalValue(v Value) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

// ParseValue decodes JSON text into a Value.
func ParseValue(data []byte) (Value, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return fromDecoded(raw)
}

var errUndecodable = errors.New("squash: undecodable JSON value")

// fromDecoded converts the output of json.Unmarshal into a Value.
func fromDecoded(raw any) (Value, error) {
	switch v := raw.(type) {
	case nil:
		return Null{}, nil
	case bool:
		return Bool(v), nil
	case float64:
		return Number(v), nil
	case string:
		return String(v), nil
	case []any:
		out := make(List, len(v))
		for i, e := range v {
			ev, err := fromDecoded(e)
			if err != nil {
				return nil, err
			}
			out[i] = ev
		}
		return out, nil
	case map[string]any:
		out := make(Map, len(v))
		for k, e := range v {
			ev, err := fromDecoded(e)
			if err != nil {
				return nil, err
			}
			out[k] = ev
		}
		return out, nil
	default:
		return nil, errUndecodable
	}
}

// ValueOf converts common Go values into a Value. Types outside the known
// set become a String of their formatted form.
func ValueOf(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null{}
	case Value:
		return x
	case bool:
		return Bool(x)
	case int:
		return Number(x)
	case int8:
		return Number(x)
	case int16:
		return Number(x)
	case int32:
		return Number(x)
	case int64:
		return Number(x)
	case uint:
		return Number(x)
	case uint8:
		return Number(x)
	case uint16:
		return Number(x)
	case uint32:
		return Number(x)
	case uint64:
		return Number(x)
	case float32:
		return Number(x)
	case float64:
		return Number(x)
	case string:
		return String(x)
	case []byte:
		return String(x)
	case time.Time:
		return String(x.UTC().Format(time.RFC3339Nano))
	case time.Duration:
		return String(x.String())
	case error:
		return String(x.Error())
	case fmt.Stringer:
		return String(x.String())
	case []string:
		out := make(List, len(x))
		for i, s := range x {
			out[i] = String(s)
		}
		return out
	case []any:
		out := make(List, len(x))
		for i, e := range x {
			out[i] = ValueOf(e)
		}
		return out
	case map[string]string:
		out := make(Map, len(x))
		for k, s := range x {
			out[k] = String(s)
		}
		return out
	case map[string]any:
		out := make(Map, len(x))
		for k, e := range x {
			out[k] = ValueOf(e)
		}
		return out
	default:
		return String(fmt.Sprint(x))
	}
}
