package model

import (
	"fmt"
	"net"
	"strings"
)

// Address is a 48-bit Bluetooth hardware address in transmission order.
// The zero value means the address is unknown (CoreBluetooth never exposes MACs).
type Address [6]byte

// String renders the address as upper-case colon separated octets.
func (a Address) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[0], a[1], a[2], a[3], a[4], a[5])
}

// IsZero reports whether the address is unknown.
func (a Address) IsZero() bool {
	return a == Address{}
}

// IsBroadcast reports whether all bits are set, the value sensors use for "no MAC".
func (a Address) IsBroadcast() bool {
	return a == Address{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
}

// ParseAddress accepts colon or dash separated 6-octet addresses in either case.
func ParseAddress(s string) (Address, error) {
	var a Address
	hw, err := net.ParseMAC(strings.TrimSpace(s))
	if err != nil {
		return a, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if len(hw) != len(a) {
		return a, fmt.Errorf("invalid address %q: want 6 octets, got %d", s, len(hw))
	}
	copy(a[:], hw)
	return a, nil
}

// MarshalText implements encoding.TextMarshaler so addresses render readably in JSON.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}
