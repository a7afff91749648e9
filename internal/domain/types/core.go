package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Address names one device of one peer. Exactly one SessionRecord exists per Address.
type Address struct {
	Name     string `json:"name" validate:"required"`
	DeviceID uint32 `json:"device_id"`
}

// String returns the "name.device" form used as a storage key suffix.
func (a Address) String() string { return a.Name + "." + strconv.FormatUint(uint64(a.DeviceID), 10) }

// ParseAddress is the inverse of Address.String. A missing device suffix means device 1.
func ParseAddress(s string) (Address, error) {
	i := strings.LastIndexByte(s, '.')
	if i < 0 {
		if s == "" {
			return Address{}, fmt.Errorf("empty address")
		}
		return Address{Name: s, DeviceID: 1}, nil
	}
	dev, err := strconv.ParseUint(s[i+1:], 10, 32)
	if err != nil || i == 0 {
		return Address{}, fmt.Errorf("malformed address %q", s)
	}
	return Address{Name: s[:i], DeviceID: uint32(dev)}, nil
}

// Fingerprint is a short identifier for public keys presented to users.
type Fingerprint string

// String returns the string form of the fingerprint.
func (f Fingerprint) String() string { return string(f) }

// RegistrationID is the random 14-bit installation identifier.
type RegistrationID uint32

// SignedPreKeyID identifies a signed pre-key generation.
type SignedPreKeyID uint32

// PreKeyID identifies a one-time pre-key.
type PreKeyID uint32
