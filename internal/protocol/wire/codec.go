package wire

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"whisper/internal/domain"
)

const (
	// CurrentVersion is the protocol version written by this package.
	CurrentVersion = 3
	// MinimumVersion is the oldest version accepted.
	MinimumVersion = 3
)

// VersionByte packs the current and minimum version into one byte.
const VersionByte byte = CurrentVersion<<4 | CurrentVersion

func checkVersion(b []byte) error {
	if len(b) == 0 {
		return fmt.Errorf("%w: empty message", domain.ErrInvalidMessage)
	}
	if v := int(b[0] >> 4); v < MinimumVersion || v > CurrentVersion {
		return fmt.Errorf("%w: unsupported version %d", domain.ErrInvalidMessage, v)
	}
	return nil
}

// fieldFunc handles one decoded field; unknown numbers return false.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (n int, known bool)

// walk visits every field in b, skipping unknown ones.
func walk(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", domain.ErrInvalidMessage, protowire.ParseError(n))
		}
		b = b[n:]
		m, known := fn(num, typ, b)
		if !known {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return fmt.Errorf("%w: field %d: %v", domain.ErrInvalidMessage, num, fieldError(m))
		}
		b = b[m:]
	}
	return nil
}

// Field decoders report failures as negative lengths. These two sit below
// every protowire error code.
const (
	errCodeWireType = -100 - iota
	errCodeRange
)

func fieldError(n int) error {
	switch n {
	case errCodeWireType:
		return errors.New("unexpected wire type")
	case errCodeRange:
		return errors.New("value out of range")
	}
	return protowire.ParseError(n)
}

func consumeBytes(typ protowire.Type, b []byte, dst *[]byte) int {
	if typ != protowire.BytesType {
		return errCodeWireType
	}
	v, n := protowire.ConsumeBytes(b)
	if n >= 0 {
		*dst = append([]byte(nil), v...)
	}
	return n
}

func consumeUint32(typ protowire.Type, b []byte, dst *uint32) int {
	if typ != protowire.VarintType {
		return errCodeWireType
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return n
	}
	if v > math.MaxUint32 {
		return errCodeRange
	}
	*dst = uint32(v)
	return n
}
