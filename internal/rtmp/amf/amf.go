// Package amf implements the subset of AMF0 the RTMP command channel needs:
// numbers, booleans, strings, null, and objects, encoded and decoded in the
// order command messages actually use them ("connect", "publish", and their
// onStatus replies). Grounded on the teacher's preference for small,
// single-purpose codec helpers over a generic reflection-based marshaler
// (see internal/ingest's wire-shape structs), adapted here to AMF0's marker
// byte dispatch instead of JSON struct tags.
package amf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
)

const (
	markerNumber  = 0x00
	markerBoolean = 0x01
	markerString  = 0x02
	markerObject  = 0x03
	markerNull    = 0x05
	objectEndTag  = 0x09
)

// EncodeNumber writes an AMF0 Number: marker 0x00 followed by an 8-byte
// big-endian IEEE754 double.
func EncodeNumber(w io.Writer, v float64) error {
	var buf [9]byte
	buf[0] = markerNumber
	binary.BigEndian.PutUint64(buf[1:], math.Float64bits(v))
	_, err := w.Write(buf[:])
	return err
}

// EncodeBoolean writes an AMF0 Boolean: marker 0x01 followed by one byte.
func EncodeBoolean(w io.Writer, v bool) error {
	b := byte(0)
	if v {
		b = 1
	}
	_, err := w.Write([]byte{markerBoolean, b})
	return err
}

// EncodeString writes an AMF0 String: marker 0x02, 2-byte length, UTF-8 bytes.
func EncodeString(w io.Writer, v string) error {
	if len(v) > 0xFFFF {
		return fmt.Errorf("amf: string too long: %d bytes", len(v))
	}
	var hdr [3]byte
	hdr[0] = markerString
	binary.BigEndian.PutUint16(hdr[1:], uint16(len(v)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := io.WriteString(w, v)
	return err
}

// EncodeNull writes an AMF0 Null: a bare marker 0x05.
func EncodeNull(w io.Writer) error {
	_, err := w.Write([]byte{markerNull})
	return err
}

// EncodeObject writes an AMF0 Object: marker 0x03, key/value pairs in
// lexicographic key order (for deterministic output), terminated by the
// empty-key + object-end sentinel.
func EncodeObject(w io.Writer, m map[string]interface{}) error {
	if _, err := w.Write([]byte{markerObject}); err != nil {
		return err
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := writeKey(w, k); err != nil {
			return err
		}
		if err := EncodeValue(w, m[k]); err != nil {
			return fmt.Errorf("key %q: %w", k, err)
		}
	}
	var end [3]byte
	end[2] = objectEndTag
	_, err := w.Write(end[:])
	return err
}

func writeKey(w io.Writer, k string) error {
	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(k)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := io.WriteString(w, k)
	return err
}

// EncodeValue dispatches on v's Go type. Supported: nil, float64, bool,
// string, map[string]interface{}.
func EncodeValue(w io.Writer, v interface{}) error {
	switch t := v.(type) {
	case nil:
		return EncodeNull(w)
	case float64:
		return EncodeNumber(w, t)
	case bool:
		return EncodeBoolean(w, t)
	case string:
		return EncodeString(w, t)
	case map[string]interface{}:
		return EncodeObject(w, t)
	default:
		return fmt.Errorf("amf: unsupported value type %T", v)
	}
}

// EncodeAll concatenates the AMF0 encoding of each value in order, the shape
// every RTMP command message payload takes (e.g. name, transaction id,
// command object, extra arguments...).
func EncodeAll(values ...interface{}) ([]byte, error) {
	var buf bytes.Buffer
	for i, v := range values {
		if err := EncodeValue(&buf, v); err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeValue reads one AMF0 value from r, dispatching on its marker byte.
func DecodeValue(r io.Reader) (interface{}, error) {
	var marker [1]byte
	if _, err := io.ReadFull(r, marker[:]); err != nil {
		return nil, err
	}
	switch marker[0] {
	case markerNumber:
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.BigEndian.Uint64(buf[:])), nil
	case markerBoolean:
		var buf [1]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, err
		}
		return buf[0] != 0, nil
	case markerString:
		return decodeStringBody(r)
	case markerNull:
		return nil, nil
	case markerObject:
		return decodeObjectBody(r)
	default:
		return nil, fmt.Errorf("amf: unsupported marker 0x%02x", marker[0])
	}
}

func decodeStringBody(r io.Reader) (string, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint16(lenBuf[:])
	if n == 0 {
		return "", nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func decodeObjectBody(r io.Reader) (map[string]interface{}, error) {
	out := make(map[string]interface{})
	for {
		var lenBuf [2]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, err
		}
		n := binary.BigEndian.Uint16(lenBuf[:])
		if n == 0 {
			var end [1]byte
			if _, err := io.ReadFull(r, end[:]); err != nil {
				return nil, err
			}
			if end[0] != objectEndTag {
				return nil, fmt.Errorf("amf: expected object-end marker, got 0x%02x", end[0])
			}
			return out, nil
		}
		keyBuf := make([]byte, n)
		if _, err := io.ReadFull(r, keyBuf); err != nil {
			return nil, err
		}
		val, err := DecodeValue(r)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", string(keyBuf), err)
		}
		out[string(keyBuf)] = val
	}
}

// DecodeAll decodes every AMF0 value concatenated in data, stopping cleanly
// at EOF. Used to parse a full command message payload (name, transaction
// id, object, arguments).
func DecodeAll(data []byte) ([]interface{}, error) {
	r := bytes.NewReader(data)
	var out []interface{}
	for r.Len() > 0 {
		v, err := DecodeValue(r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
