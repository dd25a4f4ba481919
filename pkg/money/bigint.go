package money

import (
	"encoding/json"
	"fmt"
	"math/big"
)

// BigInt carries a minor-unit amount over JSON.
// It accepts both "10000" and 10000 on input and always emits a string.
type BigInt struct {
	*big.Int
}

// NewBigInt wraps v; a nil v yields nil
func NewBigInt(v *big.Int) *BigInt {
	if v == nil {
		return nil
	}
	return &BigInt{Int: v}
}

// NewBigIntFromInt64 creates a BigInt from an int64
func NewBigIntFromInt64(v int64) *BigInt {
	return &BigInt{Int: big.NewInt(v)}
}

// UnmarshalJSON implements json.Unmarshaler
func (b *BigInt) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		b.Int = nil
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("cannot unmarshal %s into amount", string(data))
		}
		s = n.String()
	}

	v, err := ParseMinor(s)
	if err != nil {
		return err
	}
	b.Int = v
	return nil
}

// MarshalJSON implements json.Marshaler
func (b BigInt) MarshalJSON() ([]byte, error) {
	if b.Int == nil {
		return []byte("null"), nil
	}
	return json.Marshal(b.Int.String())
}

// ToBigInt returns the underlying value, nil-safe
func (b *BigInt) ToBigInt() *big.Int {
	if b == nil {
		return nil
	}
	return b.Int
}

// IsPositive returns true if the amount is present and > 0
func (b *BigInt) IsPositive() bool {
	return b != nil && IsPositive(b.Int)
}

// Major renders the amount in major units with two decimals
func (b *BigInt) Major() string {
	return FormatMajor(b.ToBigInt())
}
