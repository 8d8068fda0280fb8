// Package codec implements the Document Codec external collaborator
// (spec §6): serialize/deserialize bytes <-> typed values. The core treats
// the resulting bytes opaquely; this package exists so the module is
// exercisable end to end with a concrete, JSON-by-convention codec,
// mirroring the teacher's own pooled-buffer JSON encoding in
// storage/document.go.
package codec

import (
	"encoding/json"

	"github.com/rthomasv3/galdrdb/storage"
)

// Codec converts between Go values and the opaque bytes the transactional
// core stores.
type Codec interface {
	Serialize(v any) ([]byte, error)
	Deserialize(data []byte, v any) error
}

// JSON is the default Codec: plain encoding/json over a pooled buffer
// (storage.GetBuffer/PutBuffer from storage/pool.go), trimming the
// trailing newline
// json.Encoder appends.
type JSON struct{}

// Serialize encodes v as JSON.
func (JSON) Serialize(v any) ([]byte, error) {
	buf := storage.GetBuffer()
	defer storage.PutBuffer(buf)

	enc := json.NewEncoder(buf)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	b := buf.Bytes()
	if n := len(b); n > 0 && b[n-1] == '\n' {
		b = b[:n-1]
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// Deserialize decodes JSON bytes into v.
func (JSON) Deserialize(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
