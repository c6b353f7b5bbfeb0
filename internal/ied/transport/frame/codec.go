// Package frame encodes transport frames for the wire. CBOR with integer keys keeps
// datagrams small and lets any decoder reject trailing garbage.
package frame

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"ied-sentinel/internal/ied/transport"
)

// MaxSize is the largest encoded frame accepted by Decode. It fits an Ethernet MTU.
const MaxSize = 1400

// ErrTooLarge is returned for payloads above MaxSize.
var ErrTooLarge = errors.New("frame: payload too large")

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		MaxMapPairs: 32,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Encode returns the deterministic CBOR encoding of f.
func Encode(f transport.Frame) ([]byte, error) {
	b, err := encMode.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("frame: encode: %w", err)
	}
	if len(b) > MaxSize {
		return nil, ErrTooLarge
	}
	return b, nil
}

// Decode parses b into a frame. Frames without a goCbRef are rejected.
func Decode(b []byte) (transport.Frame, error) {
	var f transport.Frame
	if len(b) > MaxSize {
		return f, ErrTooLarge
	}
	if err := decMode.Unmarshal(b, &f); err != nil {
		return f, fmt.Errorf("frame: decode: %w", err)
	}
	if f.GoCBRef == "" {
		return f, errors.New("frame: missing goCbRef")
	}
	return f, nil
}
