// Package fingerprint computes the content checksums used to detect changes
// between the stored, local and remote copies of a file.
//
// A fingerprint is a CRC-32 (IEEE) checksum. Identical input always yields the
// same fingerprint, so a changed fingerprint always means changed content. The
// converse is an approximation: two different buffers collide with a
// probability of roughly 2^-32, in which case the change goes unnoticed.
// Recipes are protected against this by the server-side version number.
package fingerprint

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

var ErrInvalid = errors.New("fingerprint: invalid value")

// Fingerprint is a 32-bit content checksum.
type Fingerprint uint32

// Sum returns the fingerprint of data.
func Sum(data []byte) Fingerprint {
	return Fingerprint(crc32.ChecksumIEEE(data))
}

// SumReader fingerprints a stream without buffering it.
func SumReader(r io.Reader) (Fingerprint, error) {
	h := crc32.NewIEEE()
	if _, err := io.Copy(h, r); err != nil {
		return 0, err
	}
	return Fingerprint(h.Sum32()), nil
}

// String renders the fingerprint as 8 lowercase hex digits.
func (f Fingerprint) String() string {
	return fmt.Sprintf("%08x", uint32(f))
}

// Parse reads the form produced by String.
func Parse(s string) (Fingerprint, error) {
	if len(s) != 8 {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	return Fingerprint(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])), nil
}

func (f Fingerprint) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Fingerprint) UnmarshalText(text []byte) error {
	v, err := Parse(string(text))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

var _ json.Marshaler = (*Optional)(nil)

// Optional is a fingerprint that may be absent, e.g. for a file that does not
// exist on one side.
type Optional struct {
	Value Fingerprint
	Valid bool
}

func Some(f Fingerprint) Optional {
	return Optional{Value: f, Valid: true}
}

func None() Optional {
	return Optional{}
}

// Of fingerprints data.
func Of(data []byte) Optional {
	return Some(Sum(data))
}

// Equal reports whether both are present with the same value, or both absent.
func (o Optional) Equal(other Optional) bool {
	if o.Valid != other.Valid {
		return false
	}
	return !o.Valid || o.Value == other.Value
}

func (o Optional) String() string {
	if !o.Valid {
		return "-"
	}
	return o.Value.String()
}

func (o Optional) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return []byte(`"` + o.Value.String() + `"`), nil
}

func (o *Optional) UnmarshalJSON(data []byte) error {
	if string(data) == "null" || string(data) == `""` {
		*o = None()
		return nil
	}
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("%w: %s", ErrInvalid, data)
	}
	v, err := Parse(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*o = Some(v)
	return nil
}
