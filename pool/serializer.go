package pool

import (
	"bytes"
	"encoding/gob"

	"github.com/tinypool-io/tinypool/internal/poolerr"
)

// Serializer is the external collaborator spec.md §1 assumes: "produces a
// byte stream for any value". The pool only ever touches these bytes as an
// opaque blob — it never inspects payload content. The default
// implementation (DefaultSerializer) passes a []byte through unchanged and
// encodes any other Go value with encoding/gob; callers needing a different
// wire format can supply their own Serializer in Config.Serializer.
type Serializer interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

type gobSerializer struct{}

func (gobSerializer) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, poolerr.IO(err)
	}
	return buf.Bytes(), nil
}

func (gobSerializer) Decode(data []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return poolerr.IO(err)
	}
	return nil
}

// bytesSerializer treats the value as already being exactly what should hit
// the wire/disk when it is a []byte, and falls back to gob otherwise. This
// matches the common case in this domain: payloads are opaque blobs, and
// re-gobbing a []byte just to unwrap it again on every Get is wasted work.
type bytesSerializer struct{ fallback Serializer }

func (s bytesSerializer) Encode(v any) ([]byte, error) {
	if b, ok := v.([]byte); ok {
		return b, nil
	}
	return s.fallback.Encode(v)
}

func (s bytesSerializer) Decode(data []byte, v any) error {
	if p, ok := v.(*[]byte); ok {
		*p = append([]byte(nil), data...)
		return nil
	}
	return s.fallback.Decode(data, v)
}

// DefaultSerializer is used when a Pool is constructed with a nil
// Config.Serializer.
func DefaultSerializer() Serializer {
	return bytesSerializer{fallback: gobSerializer{}}
}
