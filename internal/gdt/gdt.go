// Package gdt encodes x86 segment descriptors and patches them into an
// assembled loader's Global Descriptor Table.
package gdt

import (
	"errors"
	"fmt"
)

const (
	MaxLimit = 0xFFFFF

	// DescriptorSize is the encoded size of one descriptor in bytes.
	DescriptorSize = 8
)

// Access byte bits.
const (
	accessAccessed   = 1 << 0
	accessReadWrite  = 1 << 1
	accessDirection  = 1 << 2 // conforming for code, grow-down for data
	accessExecutable = 1 << 3
	accessCodeData   = 1 << 4 // clear for system segments
	accessDPLShift   = 5
	accessPresent    = 1 << 7
)

// Flags nibble bits.
const (
	flagLong        = 1 << 1
	flagProtected   = 1 << 2
	flagGranularity = 1 << 3
)

type Privilege uint8

const (
	PrivilegeKernel Privilege = 0
	PrivilegeUser   Privilege = 3
)

type Granularity uint8

const (
	GranularityByte Granularity = iota
	GranularityPage
)

type Mode uint8

const (
	ModeReal Mode = iota
	ModeProtected
	ModeLong
)

func (m Mode) String() string {
	switch m {
	case ModeReal:
		return "real"
	case ModeProtected:
		return "protected"
	case ModeLong:
		return "long"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

var ErrInvalidDescriptor = errors.New("invalid segment descriptor")

// Descriptor declares a segment. The present bit is always set.
type Descriptor struct {
	Base  uint32
	Limit uint32 // 20 bits; scaled by Granularity

	ReadWrite  bool
	Executable bool
	System     bool
	Privilege  Privilege

	// Conforming applies to code segments, GrowDown to data segments.
	Conforming bool
	GrowDown   bool
	Accessed   bool

	Granularity Granularity
	Mode        Mode
}

// Fields is the raw content of an encoded descriptor.
type Fields struct {
	Base   uint32
	Limit  uint32
	Access uint8
	Flags  uint8
}

func (d Descriptor) validate() error {
	if d.Limit > MaxLimit {
		return fmt.Errorf("%w: limit %#x exceeds %#x", ErrInvalidDescriptor, d.Limit, MaxLimit)
	}
	if d.Privilege > 3 {
		return fmt.Errorf("%w: privilege %d", ErrInvalidDescriptor, d.Privilege)
	}
	if d.Mode > ModeLong {
		return fmt.Errorf("%w: %v", ErrInvalidDescriptor, d.Mode)
	}
	if d.Granularity > GranularityPage {
		return fmt.Errorf("%w: granularity %d", ErrInvalidDescriptor, d.Granularity)
	}
	if d.Conforming && !d.Executable {
		return fmt.Errorf("%w: conforming data segment", ErrInvalidDescriptor)
	}
	if d.GrowDown && d.Executable {
		return fmt.Errorf("%w: grow-down code segment", ErrInvalidDescriptor)
	}
	return nil
}

// Fields returns the access byte and flags nibble d encodes to.
func (d Descriptor) Fields() (Fields, error) {
	if err := d.validate(); err != nil {
		return Fields{}, err
	}

	access := uint8(accessPresent) | uint8(d.Privilege)<<accessDPLShift
	if d.Accessed {
		access |= accessAccessed
	}
	if d.ReadWrite {
		access |= accessReadWrite
	}
	if d.Conforming || d.GrowDown {
		access |= accessDirection
	}
	if d.Executable {
		access |= accessExecutable
	}
	if !d.System {
		access |= accessCodeData
	}

	var flags uint8
	if d.Granularity == GranularityPage {
		flags |= flagGranularity
	}
	switch d.Mode {
	case ModeProtected:
		flags |= flagProtected
	case ModeLong:
		flags |= flagLong
	}

	return Fields{Base: d.Base, Limit: d.Limit, Access: access, Flags: flags}, nil
}

// Encode returns the 64-bit descriptor word.
func (d Descriptor) Encode() (uint64, error) {
	f, err := d.Fields()
	if err != nil {
		return 0, err
	}
	return f.Encode(), nil
}

// MustEncode is like Encode but panics on an invalid descriptor.
func (d Descriptor) MustEncode() uint64 {
	v, err := d.Encode()
	if err != nil {
		panic(err)
	}
	return v
}

// Encode packs f into the hardware layout. Limit bits above 19 and flag bits
// above 3 are ignored.
func (f Fields) Encode() uint64 {
	var v uint64
	v |= uint64(f.Limit & 0xFFFF)
	v |= uint64(f.Base&0xFFFFFF) << 16
	v |= uint64(f.Access) << 40
	v |= uint64((f.Limit>>16)&0xF) << 48
	v |= uint64(f.Flags&0xF) << 52
	v |= uint64(f.Base>>24) << 56
	return v
}

// Decode unpacks a descriptor word.
func Decode(v uint64) Fields {
	return Fields{
		Base:   uint32(v>>16&0xFFFFFF) | uint32(v>>56)<<24,
		Limit:  uint32(v&0xFFFF) | uint32(v>>48&0xF)<<16,
		Access: uint8(v >> 40),
		Flags:  uint8(v >> 52 & 0xF),
	}
}

func (f Fields) String() string {
	return fmt.Sprintf("base=%#x limit=%#x access=%#02x flags=%#x", f.Base, f.Limit, f.Access, f.Flags)
}
