// Package cas hashes widget payloads and commit records.
//
// Every digest is a 32-byte BLAKE3 sum over a canonical JSON encoding, so two
// attribute maps hash alike regardless of key order or the Go number type
// they were decoded into.
package cas

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"lukechampine.com/blake3"
)

// Size is the length of every digest in bytes.
const Size = 32

// NowMs returns the current time in milliseconds since epoch.
func NowMs() int64 {
	return time.Now().UnixMilli()
}

// CanonicalJSON encodes v with sorted object keys and normalized numbers.
func CanonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []interface{}:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
	}
	return nil
}

// Sum returns the BLAKE3 digest of data.
func Sum(data []byte) []byte {
	d := blake3.Sum256(data)
	return d[:]
}

// ObjectID digests a typed record: the kind, a newline, then the canonical
// JSON of payload.
func ObjectID(kind string, payload interface{}) ([]byte, error) {
	body, err := CanonicalJSON(payload)
	if err != nil {
		return nil, err
	}
	h := blake3.New(Size, nil)
	h.Write([]byte(kind))
	h.Write([]byte{'\n'})
	h.Write(body)
	return h.Sum(nil), nil
}

// Hex renders a digest for logs and exports.
func Hex(digest []byte) string {
	return hex.EncodeToString(digest)
}
