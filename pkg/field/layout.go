// Package field packs protocol values into single field elements and back.
//
// A control word is described by a Layout: an ordered list of named slots,
// each with a fixed bit width, starting at the least significant bit.
// Pack and Unpack are the only places where slot bounds are enforced.
package field

import (
	"fmt"
	"math/big"

	"github.com/sorag20/Unirep/pkg/unirep"
)

// Slot is one named bit range of a Layout.
type Slot struct {
	Name string
	Bits uint
}

// Layout is an ordered list of slots, least significant first.
type Layout []Slot

// Width returns the total number of bits used by the layout.
func (l Layout) Width() uint {
	var w uint
	for _, s := range l {
		w += s.Bits
	}
	return w
}

// Offset returns the bit offset of the named slot.
func (l Layout) Offset(name string) (uint, bool) {
	var off uint
	for _, s := range l {
		if s.Name == name {
			return off, true
		}
		off += s.Bits
	}
	return 0, false
}

// Pack places values[i] at the offset of slot i.
// A value that does not fit its slot is a *unirep.RangeError.
func Pack(layout Layout, values []*big.Int) (*big.Int, error) {
	if len(values) != len(layout) {
		return nil, fmt.Errorf("%w: layout has %d slots, got %d values",
			unirep.ErrRange, len(layout), len(values))
	}

	word := new(big.Int)
	var off uint
	for i, s := range layout {
		if err := unirep.CheckBits(s.Name, values[i], s.Bits); err != nil {
			return nil, err
		}
		word.Or(word, new(big.Int).Lsh(values[i], off))
		off += s.Bits
	}
	return word, nil
}

// Unpack splits word into one value per slot.
// A word with bits set above the layout width is a range error.
func Unpack(layout Layout, word *big.Int) ([]*big.Int, error) {
	if err := unirep.CheckBits("control", word, layout.Width()); err != nil {
		return nil, err
	}

	values := make([]*big.Int, len(layout))
	var off uint
	for i, s := range layout {
		mask := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), s.Bits), big.NewInt(1))
		values[i] = new(big.Int).And(new(big.Int).Rsh(word, off), mask)
		off += s.Bits
	}
	return values, nil
}
