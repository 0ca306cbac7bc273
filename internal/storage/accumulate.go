package storage

import (
	"encoding/binary"

	"github.com/rawkakani/denokv-postgres/internal/errs"
)

func decodeI64LE(raw []byte) (int64, error) {
	if len(raw) != 8 {
		return 0, errs.New(errs.InvalidData, "i64 value must be exactly 8 bytes")
	}
	return int64(binary.LittleEndian.Uint64(raw)), nil
}

func encodeI64LE(v int64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	return buf[:]
}
