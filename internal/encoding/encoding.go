// Package encoding maps a tagged kvproto.Value to and from its on-disk
// (bytes, tag) representation.
package encoding

import (
	"encoding/binary"

	"github.com/rawkakani/denokv-postgres/internal/errs"
	"github.com/rawkakani/denokv-postgres/internal/kvproto"
)

// Encode serializes a value to its storage bytes and tag.
func Encode(v kvproto.Value) ([]byte, byte) {
	switch v.Tag {
	case kvproto.TagUint64:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], v.U64)
		return buf[:], byte(kvproto.TagUint64)
	case kvproto.TagBytes:
		return v.Bytes, byte(kvproto.TagBytes)
	default: // kvproto.TagBlobV8 and any unset zero value defaults to blob
		return v.Blob, byte(kvproto.TagBlobV8)
	}
}

// Decode is the inverse of Encode. Unknown tags, or a u64 payload whose
// width isn't exactly 8 bytes, fail with errs.InvalidData.
func Decode(raw []byte, tag byte) (kvproto.Value, error) {
	switch kvproto.ValueTag(tag) {
	case kvproto.TagBlobV8:
		return kvproto.Value{Tag: kvproto.TagBlobV8, Blob: raw}, nil
	case kvproto.TagUint64:
		if len(raw) != 8 {
			return kvproto.Value{}, errs.New(errs.InvalidData, "u64 value must be exactly 8 bytes")
		}
		return kvproto.Value{Tag: kvproto.TagUint64, U64: binary.LittleEndian.Uint64(raw)}, nil
	case kvproto.TagBytes:
		return kvproto.Value{Tag: kvproto.TagBytes, Bytes: raw}, nil
	default:
		return kvproto.Value{}, errs.New(errs.InvalidData, "unknown value encoding tag")
	}
}
