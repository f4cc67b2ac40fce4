package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// ErrNotObject is the cause carried by a DecodeFailure whose payload is valid
// JSON but not an object.
var ErrNotObject = errors.New("frame is not a JSON object")

// ErrInvalidUTF8 is returned by Encode for keys or strings that are not valid
// UTF-8. JSON text cannot carry them unchanged.
var ErrInvalidUTF8 = errors.New("string is not valid UTF-8")

// DecodeFailure describes an inbound frame that could not be decoded into a
// Message. It is delivered to subscribers as data, not raised.
type DecodeFailure struct {
	Payload []byte // Original frame bytes
	Cause   error
}

// Error implements error.
func (f *DecodeFailure) Error() string {
	return fmt.Sprintf("decode frame (%d bytes): %v", len(f.Payload), f.Cause)
}

// Unwrap returns the parse cause.
func (f *DecodeFailure) Unwrap() error {
	return f.Cause
}

// Encode serializes m as a JSON object, preserving key order.
func Encode(m Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeMessage(&buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeString is Encode returning text.
func EncodeString(m Message) (string, error) {
	data, err := Encode(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func encodeMessage(buf *bytes.Buffer, m Message) error {
	buf.WriteByte('{')
	for i, f := range m.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeScalar(buf, f.Key); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := encodeValue(buf, f.Value); err != nil {
			return fmt.Errorf("field %q: %w", f.Key, err)
		}
	}
	buf.WriteByte('}')
	return nil
}

func encodeValue(buf *bytes.Buffer, v any) error {
	switch x := v.(type) {
	case Message:
		return encodeMessage(buf, x)
	case []any:
		buf.WriteByte('[')
		for i, e := range x {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeValue(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	}
	return encodeScalar(buf, v)
}

func encodeScalar(buf *bytes.Buffer, v any) error {
	if s, ok := v.(string); ok && !utf8.ValidString(s) {
		return fmt.Errorf("%w: %q", ErrInvalidUTF8, s)
	}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	// json.Encoder terminates every value with a newline.
	buf.Truncate(buf.Len() - 1)
	return nil
}

// Decode parses a text or binary frame into a Message. Any failure is returned
// as a *DecodeFailure holding a copy of data.
func Decode(data []byte) (Message, error) {
	v, err := decodeValue(data)
	if err != nil {
		return Message{}, &DecodeFailure{Payload: bytes.Clone(data), Cause: err}
	}
	m, ok := v.(Message)
	if !ok {
		return Message{}, &DecodeFailure{Payload: bytes.Clone(data), Cause: ErrNotObject}
	}
	return m, nil
}

// DecodeString is Decode for text payloads.
func DecodeString(s string) (Message, error) {
	return Decode([]byte(s))
}

// decodeValue parses exactly one JSON value, keeping object key order.
func decodeValue(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := readValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after top-level value")
	}
	return v, nil
}

func readValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return readObject(dec)
		case '[':
			return readArray(dec)
		}
		return nil, fmt.Errorf("unexpected delimiter %q", t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("number %s: %w", t, err)
		}
		return f, nil
	case string, bool, nil:
		return t, nil
	}
	return nil, fmt.Errorf("unexpected token %v", tok)
}

func readObject(dec *json.Decoder) (Message, error) {
	var fields []Field
	index := make(map[string]int)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return Message{}, err
		}
		key, ok := tok.(string)
		if !ok {
			return Message{}, fmt.Errorf("object key is %T, want string", tok)
		}
		v, err := readValue(dec)
		if err != nil {
			return Message{}, err
		}
		if i, dup := index[key]; dup {
			fields[i].Value = v
			continue
		}
		index[key] = len(fields)
		fields = append(fields, Field{Key: key, Value: v})
	}
	// closing '}'
	if _, err := dec.Token(); err != nil {
		return Message{}, err
	}
	return Message{fields: fields}, nil
}

func readArray(dec *json.Decoder) ([]any, error) {
	out := []any{}
	for dec.More() {
		v, err := readValue(dec)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	// closing ']'
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return out, nil
}
