// Package hasher provides the content hashing primitive for the ledger. Every
// hash in the system is a SHA-256 digest rendered as 64 lowercase hex
// characters.
package hasher

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"reflect"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
)

// ZeroHash represents a hash code of zeros. It is the previous hash of the
// genesis block.
const ZeroHash string = "0000000000000000000000000000000000000000000000000000000000000000"

// Size is the length of a hex encoded hash.
const Size = 64

// ErrInvalidUTF8 is returned by Canonical for a value holding text that is
// not valid UTF-8.
var ErrInvalidUTF8 = errors.New("value contains invalid utf-8")

var rawMessageType = reflect.TypeOf(json.RawMessage(nil))

// =============================================================================

// Sum returns the hex encoded SHA-256 digest of the data.
func Sum(data []byte) string {
	hash := sha256.Sum256(data)
	return common.Bytes2Hex(hash[:])
}

// SumString returns the hex encoded SHA-256 digest of the string.
func SumString(s string) string {
	return Sum([]byte(s))
}

// Canonical produces the deterministic byte encoding of a value. Struct
// fields are encoded in declaration order and map keys are sorted, so the
// same value always produces the same bytes. HTML escaping is turned off so
// the bytes are not dependent on the content being rendered in a browser.
// Text that is not valid UTF-8 is rejected with ErrInvalidUTF8 instead of
// being replaced by the encoder.
func Canonical(value any) ([]byte, error) {
	if raw, ok := value.(json.RawMessage); ok {
		if !utf8.Valid(raw) {
			return nil, ErrInvalidUTF8
		}

		v, err := decode(raw)
		if err != nil {
			return nil, err
		}
		value = v
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return nil, err
	}

	if !validUTF8(reflect.ValueOf(value)) {
		return nil, ErrInvalidUTF8
	}

	return compact(buf.Bytes())
}

// Value returns the hash of the canonical encoding of the value.
func Value(value any) (string, error) {
	data, err := Canonical(value)
	if err != nil {
		return "", err
	}

	return Sum(data), nil
}

// IsHash reports if the string looks like a hash produced by this package.
func IsHash(s string) bool {
	if len(s) != Size {
		return false
	}

	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}

	return true
}

// decode turns raw JSON into generic values so it can be re-encoded with
// sorted keys. Numbers are kept as literals to avoid float rounding.
func decode(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}

	return v, nil
}

// validUTF8 walks the value the way the encoder does and reports if every
// string and map key in it is valid UTF-8. Byte slices are skipped since they
// are base64 encoded.
func validUTF8(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.String:
		return utf8.ValidString(v.String())

	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			return true
		}
		return validUTF8(v.Elem())

	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			if !validUTF8(iter.Key()) || !validUTF8(iter.Value()) {
				return false
			}
		}

	case reflect.Slice:
		if v.Type() == rawMessageType {
			return utf8.Valid(v.Bytes())
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return true
		}
		for i := 0; i < v.Len(); i++ {
			if !validUTF8(v.Index(i)) {
				return false
			}
		}

	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if !validUTF8(v.Index(i)) {
				return false
			}
		}

	case reflect.Struct:
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			if t.Field(i).IsExported() && !validUTF8(v.Field(i)) {
				return false
			}
		}
	}

	return true
}

// compact strips insignificant whitespace including the trailing newline
// added by the encoder.
func compact(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, bytes.TrimSpace(data)); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
