// Package indicator provides causal technical indicator calculations over daily bars.
//
// Every indicator is incremental: it is fed one bar at a time and can only see
// bars it has already received, so a value at day t never depends on bars
// after t. Readings that lack enough history are Undefined rather than zero.
package indicator

import (
	"math"
	"strconv"

	"stratsim/internal/model"
)

// Indicator is the interface for all configured indicators.
type Indicator interface {
	// Update feeds the next bar and recalculates.
	Update(bar model.Bar)

	// Values returns the current outputs, aligned with the owning Spec's SeriesNames.
	Values() []Value
}

// Value is one indicator reading. The zero Value is undefined.
type Value struct {
	V       float64
	Defined bool
}

// Undefined is the reading reported during warm-up.
var Undefined = Value{}

// Defined wraps v as a defined reading.
func Defined(v float64) Value {
	return Value{V: v, Defined: true}
}

// MarshalJSON encodes undefined (and non-finite) readings as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Defined || math.IsNaN(v.V) || math.IsInf(v.V, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, v.V, 'g', -1, 64), nil
}

// UnmarshalJSON decodes null as Undefined.
func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = Undefined
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}
	*v = Defined(f)
	return nil
}
