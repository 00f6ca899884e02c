package chunkstore

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Record is one durable chunk: an encoded SSE frame and its position in
// the stream. Records are never mutated after append.
type Record struct {
	Seq     int64  `msgpack:"seq"`
	Payload []byte `msgpack:"payload"`
}

// EncodeRecord serializes a record for storage.
func EncodeRecord(r Record) ([]byte, error) {
	b, err := msgpack.Marshal(&r)
	if err != nil {
		return nil, fmt.Errorf("encode chunk record %d: %w", r.Seq, err)
	}
	return b, nil
}

// DecodeRecord parses a stored record.
func DecodeRecord(b []byte) (Record, error) {
	var r Record
	if err := msgpack.Unmarshal(b, &r); err != nil {
		return Record{}, fmt.Errorf("decode chunk record: %w", err)
	}
	return r, nil
}
