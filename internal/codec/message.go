package codec

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Field is one key/value pair of a Message.
type Field struct {
	Key   string
	Value any
}

// F is shorthand for Field{Key: key, Value: value}.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Message is an ordered mapping of string keys to JSON-compatible values.
//
// Values are normalized on construction: numbers become float64, maps become
// nested Messages (keys sorted) and slices become []any. A Message is never
// modified after construction; With returns a copy.
type Message struct {
	fields []Field
}

// NewMessage builds a Message from fields in order. A repeated key keeps the
// position of its first occurrence and the value of its last.
func NewMessage(fields ...Field) Message {
	var m Message
	for _, f := range fields {
		m = m.set(f.Key, normalize(f.Value))
	}
	return m
}

// set returns a copy of m with key set to an already normalized value.
func (m Message) set(key string, value any) Message {
	out := make([]Field, len(m.fields), len(m.fields)+1)
	copy(out, m.fields)
	for i := range out {
		if out[i].Key == key {
			out[i].Value = value
			return Message{fields: out}
		}
	}
	return Message{fields: append(out, Field{Key: key, Value: value})}
}

// With returns a copy of m with key set to value.
func (m Message) With(key string, value any) Message {
	return m.set(key, normalize(value))
}

// Get returns the value stored under key. Arrays are returned as copies, so
// changing them does not affect m.
func (m Message) Get(key string) (any, bool) {
	for _, f := range m.fields {
		if f.Key == key {
			return cloneValue(f.Value), true
		}
	}
	return nil, false
}

// GetString returns the value under key if it is a string.
func (m Message) GetString(key string) (string, bool) {
	v, ok := m.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Type returns the conventional "type" discriminator, or "" if absent.
func (m Message) Type() string {
	s, _ := m.GetString("type")
	return s
}

// Keys returns the keys in order.
func (m Message) Keys() []string {
	keys := make([]string, len(m.fields))
	for i, f := range m.fields {
		keys[i] = f.Key
	}
	return keys
}

// Fields returns a copy of the fields in order.
func (m Message) Fields() []Field {
	out := make([]Field, len(m.fields))
	for i, f := range m.fields {
		out[i] = Field{Key: f.Key, Value: cloneValue(f.Value)}
	}
	return out
}

// Len returns the number of keys.
func (m Message) Len() int {
	return len(m.fields)
}

// Equal reports whether m and other hold the same keys in the same order with
// equal values.
func (m Message) Equal(other Message) bool {
	if len(m.fields) != len(other.fields) {
		return false
	}
	for i := range m.fields {
		if m.fields[i].Key != other.fields[i].Key {
			return false
		}
		if !valuesEqual(m.fields[i].Value, other.fields[i].Value) {
			return false
		}
	}
	return true
}

// GoString renders the message as its JSON encoding, for debugging output.
func (m Message) GoString() string {
	data, err := Encode(m)
	if err != nil {
		return fmt.Sprintf("codec.Message{<%v>}", err)
	}
	return string(data)
}

// MarshalJSON implements json.Marshaler using the ordered encoding.
func (m Message) MarshalJSON() ([]byte, error) {
	return Encode(m)
}

// UnmarshalJSON implements json.Unmarshaler using the ordered decoder.
func (m *Message) UnmarshalJSON(data []byte) error {
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	*m = decoded
	return nil
}

// cloneValue deep-copies arrays. Nested Messages are shared: their own
// accessors copy on the way out.
func cloneValue(v any) any {
	arr, ok := v.([]any)
	if !ok {
		return v
	}
	out := make([]any, len(arr))
	for i, e := range arr {
		out[i] = cloneValue(e)
	}
	return out
}

func valuesEqual(a, b any) bool {
	switch av := a.(type) {
	case Message:
		bv, ok := b.(Message)
		return ok && av.Equal(bv)
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valuesEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// normalize maps an arbitrary Go value onto the closed set of value types a
// Message holds: nil, bool, float64, string, Message and []any.
func normalize(v any) any {
	switch x := v.(type) {
	case nil, bool, string, float64:
		return x
	case Message:
		return x
	case *Message:
		if x == nil {
			return nil
		}
		return *x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int8:
		return float64(x)
	case int16:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case uint:
		return float64(x)
	case uint8:
		return float64(x)
	case uint16:
		return float64(x)
	case uint32:
		return float64(x)
	case uint64:
		return float64(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return x.String()
		}
		return f
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var m Message
		for _, k := range keys {
			m = m.set(k, normalize(x[k]))
		}
		return m
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			break
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = normalize(rv.Index(i).Interface())
		}
		return out
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return normalize(rv.Elem().Interface())
	}

	// Structs, []byte and anything else go through encoding/json so that
	// struct tags and custom marshalers apply.
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	decoded, err := decodeValue(data)
	if err != nil {
		return strings.TrimSpace(string(data))
	}
	return decoded
}
