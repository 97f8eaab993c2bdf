package stack

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Address is a 6-byte Bluetooth device address. It is comparable and
// immutable, so it can be used directly as a map key or correlation key.
type Address [6]byte

// ParseAddress parses a colon-separated address string ("AA:BB:CC:DD:EE:FF").
func ParseAddress(s string) (Address, error) {
	var a Address
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return a, fmt.Errorf("invalid address %q: expected 6 octets", s)
	}
	for i, p := range parts {
		b, err := hex.DecodeString(p)
		if err != nil || len(b) != 1 {
			return a, fmt.Errorf("invalid address %q: bad octet %q", s, p)
		}
		a[i] = b[0]
	}
	return a, nil
}

// AddressFromBytes converts a raw 6-byte slice into an Address.
func AddressFromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != len(a) {
		return a, fmt.Errorf("invalid address bytes: expected %d, got %d", len(a), len(b))
	}
	copy(a[:], b)
	return a, nil
}

// Bytes returns the address as a fresh byte slice, suitable for wire payloads.
func (a Address) Bytes() []byte {
	b := make([]byte, len(a))
	copy(b, a[:])
	return b
}

func (a Address) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[0], a[1], a[2], a[3], a[4], a[5])
}

// IsZero reports whether the address is the all-zero value.
func (a Address) IsZero() bool {
	return a == Address{}
}
