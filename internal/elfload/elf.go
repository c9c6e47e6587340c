package elfload

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
)

// Field offsets inside a 32-bit ELF file header.
const (
	phoffOffset     = 28
	phentsizeOffset = 42
	phnumOffset     = 44

	elf32HeaderSize        = 52
	elf32ProgramHeaderSize = 32
)

var (
	ErrFormat         = errors.New("malformed ELF")
	ErrNoLoadSegments = errors.New("ELF has no loadable segments")
	ErrSegmentBounds  = errors.New("segment outside destination image")
	ErrBelowLinkBase  = errors.New("segment below link base")
)

// ProgramHeader is one entry of a 32-bit program header table.
type ProgramHeader struct {
	Type   uint32
	Offset uint32
	Vaddr  uint32
	Paddr  uint32
	Filesz uint32
	Memsz  uint32
}

// Loadable reports whether the entry is PT_LOAD.
func (p ProgramHeader) Loadable() bool {
	return elf.ProgType(p.Type) == elf.PT_LOAD
}

// Segment is a loadable program header together with its position in the table.
type Segment struct {
	Index int
	ProgramHeader
}

// SegmentError identifies the program header that caused a failure.
type SegmentError struct {
	Index int
	Err   error
}

func (e *SegmentError) Error() string {
	return fmt.Sprintf("segment %d: %v", e.Index, e.Err)
}

func (e *SegmentError) Unwrap() error { return e.Err }

// ProgramHeaders reads the program header table of a little-endian ELF32 binary.
// Only the table location, entry size and count are taken from the file header.
func ProgramHeaders(bin []byte) ([]ProgramHeader, error) {
	if len(bin) < elf32HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the file header", ErrFormat, len(bin))
	}
	if !bytes.Equal(bin[:4], []byte(elf.ELFMAG)) {
		return nil, fmt.Errorf("%w: bad magic % x", ErrFormat, bin[:4])
	}
	if elf.Class(bin[elf.EI_CLASS]) != elf.ELFCLASS32 {
		return nil, fmt.Errorf("%w: class %v, want %v", ErrFormat, elf.Class(bin[elf.EI_CLASS]), elf.ELFCLASS32)
	}
	if elf.Data(bin[elf.EI_DATA]) != elf.ELFDATA2LSB {
		return nil, fmt.Errorf("%w: data encoding %v, want %v", ErrFormat, elf.Data(bin[elf.EI_DATA]), elf.ELFDATA2LSB)
	}

	phoff := uint64(binary.LittleEndian.Uint32(bin[phoffOffset:]))
	phentsize := uint64(binary.LittleEndian.Uint16(bin[phentsizeOffset:]))
	phnum := uint64(binary.LittleEndian.Uint16(bin[phnumOffset:]))

	if phnum == 0 {
		return nil, nil
	}
	if phentsize < elf32ProgramHeaderSize {
		return nil, fmt.Errorf("%w: program header entry size %d, want at least %d", ErrFormat, phentsize, elf32ProgramHeaderSize)
	}
	if end := phoff + phentsize*phnum; end > uint64(len(bin)) {
		return nil, fmt.Errorf("%w: program header table [%#x, %#x) past end of file (%#x)", ErrFormat, phoff, end, len(bin))
	}

	headers := make([]ProgramHeader, 0, phnum)
	for i := uint64(0); i < phnum; i++ {
		ent := bin[phoff+i*phentsize:]
		headers = append(headers, ProgramHeader{
			Type:   binary.LittleEndian.Uint32(ent[0:]),
			Offset: binary.LittleEndian.Uint32(ent[4:]),
			Vaddr:  binary.LittleEndian.Uint32(ent[8:]),
			Paddr:  binary.LittleEndian.Uint32(ent[12:]),
			Filesz: binary.LittleEndian.Uint32(ent[16:]),
			Memsz:  binary.LittleEndian.Uint32(ent[20:]),
		})
	}
	return headers, nil
}

// LoadSegments returns the PT_LOAD entries of bin. A binary without any is an
// error since there would be nothing to boot.
func LoadSegments(bin []byte) ([]Segment, error) {
	headers, err := ProgramHeaders(bin)
	if err != nil {
		return nil, err
	}

	var segments []Segment
	for i, ph := range headers {
		if !ph.Loadable() {
			continue
		}
		if end := uint64(ph.Offset) + uint64(ph.Filesz); end > uint64(len(bin)) {
			return nil, &SegmentError{
				Index: i,
				Err:   fmt.Errorf("%w: file range [%#x, %#x) past end of file (%#x)", ErrFormat, ph.Offset, end, len(bin)),
			}
		}
		segments = append(segments, Segment{Index: i, ProgramHeader: ph})
	}
	if len(segments) == 0 {
		return nil, ErrNoLoadSegments
	}
	return segments, nil
}

// Data returns the file-backed bytes of the segment.
func (s Segment) Data(bin []byte) []byte {
	return bin[s.Offset : s.Offset+s.Filesz]
}
