package goble

import (
	"fmt"

	ble "github.com/go-ble/ble"
	"github.com/google/uuid"
)

// bluetoothBaseSuffix completes a 16/32-bit Bluetooth SIG UUID to 128 bits.
const bluetoothBaseSuffix = "-0000-1000-8000-00805f9b34fb"

// fromBLEUUID expands a go-ble UUID (16, 32 or 128 bit) to a canonical UUID.
func fromBLEUUID(u ble.UUID) (uuid.UUID, error) {
	s := u.String()
	switch len(s) {
	case 4:
		s = "0000" + s + bluetoothBaseSuffix
	case 8:
		s = s + bluetoothBaseSuffix
	case 32:
		s = s[:8] + "-" + s[8:12] + "-" + s[12:16] + "-" + s[16:20] + "-" + s[20:]
	default:
		return uuid.UUID{}, fmt.Errorf("unexpected UUID %q", s)
	}
	return uuid.Parse(s)
}

// toBLEUUID converts a canonical UUID to go-ble's representation.
func toBLEUUID(u uuid.UUID) (ble.UUID, error) {
	return ble.Parse(u.String())
}
