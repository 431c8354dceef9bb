package ledger

import (
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

var ErrInvalidPrincipal = errors.New("stable: invalid principal")

// Principal identifies a participant: a depositor, a liquidator, the
// protocol authority, or the debt-token mint. 32 bytes, base58 on the wire.
type Principal [32]byte

// ZeroPrincipal is never a valid participant.
var ZeroPrincipal Principal

// ParsePrincipal decodes a base58 principal.
func ParsePrincipal(s string) (Principal, error) {
	var p Principal
	raw, err := base58.Decode(s)
	if err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidPrincipal, err)
	}
	if len(raw) != len(p) {
		return p, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidPrincipal, len(p), len(raw))
	}
	copy(p[:], raw)
	if p.IsZero() {
		return p, fmt.Errorf("%w: zero key", ErrInvalidPrincipal)
	}
	return p, nil
}

// MustParsePrincipal is ParsePrincipal for constants and tests.
func MustParsePrincipal(s string) Principal {
	p, err := ParsePrincipal(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Principal) String() string {
	return base58.Encode(p[:])
}

func (p Principal) IsZero() bool {
	return p == ZeroPrincipal
}

// MarshalText encodes the zero principal as "" so unset fields round-trip.
func (p Principal) MarshalText() ([]byte, error) {
	if p.IsZero() {
		return []byte{}, nil
	}
	return []byte(p.String()), nil
}

// UnmarshalText accepts "" as the zero principal. Callers that require a
// participant check IsZero.
func (p *Principal) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*p = ZeroPrincipal
		return nil
	}
	parsed, err := ParsePrincipal(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
