// Package pack builds and reads zstd-compressed object packs used to export
// commit histories.
package pack

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"widgetree/internal/cas"
)

// Pack format, before compression:
// [4 bytes: header length (big-endian)]
// [header JSON: Header]
// [object data...]
//
// Offsets in the header are relative to the start of object data.

const (
	HeaderLengthSize = 4
	MaxHeaderSize    = 10 * 1024 * 1024
)

// ErrDigestMismatch is returned when an object does not hash to its digest.
var ErrDigestMismatch = errors.New("pack object digest mismatch")

// Header describes the objects of a pack.
type Header struct {
	// Label names what the pack holds, such as a tracker UID.
	Label   string  `json:"label,omitempty"`
	Objects []Entry `json:"objects"`
}

// Entry locates one object in the data section.
type Entry struct {
	Digest []byte `json:"digest"`
	Kind   string `json:"kind"`
	Offset int64  `json:"offset"`
	Length int64  `json:"length"`
}

// Object is a packed object.
type Object struct {
	Digest  []byte
	Kind    string
	Content []byte
}

// NewObject makes an object whose digest is the blake3 hash of content.
func NewObject(kind string, content []byte) Object {
	return Object{Digest: cas.Sum(content), Kind: kind, Content: content}
}

// Build writes a compressed pack holding objects.
func Build(w io.Writer, label string, objects []Object) error {
	header := Header{Label: label, Objects: make([]Entry, 0, len(objects))}
	var data bytes.Buffer
	for _, obj := range objects {
		header.Objects = append(header.Objects, Entry{
			Digest: obj.Digest,
			Kind:   obj.Kind,
			Offset: int64(data.Len()),
			Length: int64(len(obj.Content)),
		})
		data.Write(obj.Content)
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshaling header: %w", err)
	}
	headerLen := make([]byte, HeaderLengthSize)
	binary.BigEndian.PutUint32(headerLen, uint32(len(headerJSON)))

	encoder, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("creating zstd encoder: %w", err)
	}
	for _, part := range [][]byte{headerLen, headerJSON, data.Bytes()} {
		if _, err := encoder.Write(part); err != nil {
			encoder.Close()
			return fmt.Errorf("compressing: %w", err)
		}
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("closing encoder: %w", err)
	}
	return nil
}

// Read decompresses a pack and verifies every object digest.
func Read(r io.Reader) (*Header, []Object, error) {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer decoder.Close()

	raw, err := io.ReadAll(decoder)
	if err != nil {
		return nil, nil, fmt.Errorf("decompressing: %w", err)
	}
	if len(raw) < HeaderLengthSize {
		return nil, nil, fmt.Errorf("pack too small: %d bytes", len(raw))
	}

	headerLen := binary.BigEndian.Uint32(raw[:HeaderLengthSize])
	if headerLen > MaxHeaderSize {
		return nil, nil, fmt.Errorf("header too large: %d bytes", headerLen)
	}
	if int(HeaderLengthSize+headerLen) > len(raw) {
		return nil, nil, fmt.Errorf("header length exceeds pack size")
	}

	var header Header
	if err := json.Unmarshal(raw[HeaderLengthSize:HeaderLengthSize+headerLen], &header); err != nil {
		return nil, nil, fmt.Errorf("parsing header: %w", err)
	}

	data := raw[HeaderLengthSize+headerLen:]
	objects := make([]Object, 0, len(header.Objects))
	for _, e := range header.Objects {
		if e.Offset < 0 || e.Length < 0 || e.Offset+e.Length > int64(len(data)) {
			return nil, nil, fmt.Errorf("object at offset %d extends beyond data", e.Offset)
		}
		content := data[e.Offset : e.Offset+e.Length]
		if !bytes.Equal(cas.Sum(content), e.Digest) {
			return nil, nil, fmt.Errorf("object at offset %d: %w", e.Offset, ErrDigestMismatch)
		}
		objects = append(objects, Object{Digest: e.Digest, Kind: e.Kind, Content: content})
	}
	return &header, objects, nil
}
