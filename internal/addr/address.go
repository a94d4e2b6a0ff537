package addr

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Address is a 32-byte record address. Singleton records (the one active
// rebalance per basket, the one actor record per (authority, basket) pair)
// live at deterministically derived addresses so that two concurrent
// attempts to create the same record collide instead of corrupting state.
type Address [32]byte

// Zero is the empty address, used as the "no asset / no authority" marker.
var Zero Address

func (a Address) IsZero() bool {
	return a == Zero
}

func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

func (a Address) Bytes() []byte {
	return a[:]
}

// FromBytes builds an address from raw bytes, zero-padding short input.
func FromBytes(b []byte) Address {
	var a Address
	copy(a[:], b)
	return a
}

// FromString parses a hex-encoded address.
func FromString(s string) (Address, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Zero, fmt.Errorf("decode address: %w", err)
	}
	if len(raw) != len(Zero) {
		return Zero, fmt.Errorf("address must be %d bytes, got %d", len(Zero), len(raw))
	}
	return FromBytes(raw), nil
}

// New derives a non-seeded address from arbitrary label bytes. Used for
// authorities and token references in tests and wiring code.
func New(label string) Address {
	return Address(sha256.Sum256([]byte(label)))
}

// Derive computes the derived address for the given seeds under a program
// identity, together with its bump seed. The bump is searched downward from
// 255 until the candidate does not collide with the program identity itself,
// so every (program, seeds) pair maps to exactly one (address, bump).
func Derive(program Address, seeds ...[]byte) (Address, uint8) {
	for bump := 255; bump >= 0; bump-- {
		h := sha256.New()
		for _, seed := range seeds {
			h.Write(seed)
		}
		h.Write([]byte{uint8(bump)})
		h.Write(program[:])

		var candidate Address
		copy(candidate[:], h.Sum(nil))

		if candidate != program {
			return candidate, uint8(bump)
		}
	}
	// Unreachable: 256 sha256 outputs cannot all equal the program identity.
	panic("addr: no valid bump for seeds")
}

// Equal reports byte equality; convenient for table-driven tests.
func Equal(a, b Address) bool {
	return bytes.Equal(a[:], b[:])
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := FromString(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
