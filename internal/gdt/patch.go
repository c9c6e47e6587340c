package gdt

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Layout locates the descriptor table inside the assembled loader.
type Layout struct {
	Offset   int
	Entries  int
	CodeSlot int
	DataSlot int
}

// DefaultLayout matches a loader whose table starts 8 bytes in and holds the
// null, code, data and one spare descriptor.
var DefaultLayout = Layout{
	Offset:   8,
	Entries:  4,
	CodeSlot: 1,
	DataSlot: 2,
}

var ErrLayout = errors.New("bad descriptor table layout")

// Size is the length of the table in bytes.
func (l Layout) Size() int {
	return l.Entries * DescriptorSize
}

// Validate checks the table shape without reference to a binary: a
// non-negative offset, at least one entry, and distinct in-range code and data
// slots that avoid the null descriptor.
func (l Layout) Validate() error {
	if l.Offset < 0 || l.Entries <= 0 {
		return fmt.Errorf("%w: offset %d entries %d", ErrLayout, l.Offset, l.Entries)
	}
	for _, slot := range []int{l.CodeSlot, l.DataSlot} {
		if slot == 0 {
			return fmt.Errorf("%w: slot 0 is the null descriptor", ErrLayout)
		}
		if slot < 0 || slot >= l.Entries {
			return fmt.Errorf("%w: slot %d outside %d entries", ErrLayout, slot, l.Entries)
		}
	}
	if l.CodeSlot == l.DataSlot {
		return fmt.Errorf("%w: code and data share slot %d", ErrLayout, l.CodeSlot)
	}
	return nil
}

func (l Layout) validate(binLen int) error {
	if err := l.Validate(); err != nil {
		return err
	}
	if end := l.Offset + l.Size(); end > binLen {
		return fmt.Errorf("%w: table [%#x, %#x) past end of binary (%#x)", ErrLayout, l.Offset, end, binLen)
	}
	return nil
}

// Patch returns a copy of bin with the code and data descriptors written into
// their slots. Every other byte, including the null descriptor, is preserved.
func Patch(layout Layout, bin []byte, code, data Descriptor) ([]byte, error) {
	if err := layout.validate(len(bin)); err != nil {
		return nil, err
	}
	codeWord, err := code.Encode()
	if err != nil {
		return nil, fmt.Errorf("code descriptor: %w", err)
	}
	dataWord, err := data.Encode()
	if err != nil {
		return nil, fmt.Errorf("data descriptor: %w", err)
	}

	out := append([]byte(nil), bin...)
	binary.LittleEndian.PutUint64(out[layout.slotOffset(layout.CodeSlot):], codeWord)
	binary.LittleEndian.PutUint64(out[layout.slotOffset(layout.DataSlot):], dataWord)
	return out, nil
}

// Read returns the descriptor words currently stored in the table.
func Read(layout Layout, bin []byte) ([]uint64, error) {
	if layout.Offset < 0 || layout.Entries <= 0 || layout.Offset+layout.Size() > len(bin) {
		return nil, fmt.Errorf("%w: table [%#x, %#x) outside binary (%#x)", ErrLayout, layout.Offset, layout.Offset+layout.Size(), len(bin))
	}
	words := make([]uint64, layout.Entries)
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(bin[layout.slotOffset(i):])
	}
	return words, nil
}

func (l Layout) slotOffset(slot int) int {
	return l.Offset + slot*DescriptorSize
}
