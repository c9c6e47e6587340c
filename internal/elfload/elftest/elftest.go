// Package elftest builds small little-endian ELF32 executables for tests.
package elftest

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
)

const (
	elfHeaderSize        = 52
	elfProgramHeaderSize = 32

	defaultDataOffset = 0x1000
)

// Segment describes one program header and the bytes stored in the file for it.
type Segment struct {
	Type  elf.ProgType
	Vaddr uint32
	// Paddr defaults to Vaddr.
	Paddr uint32
	Data  []byte
	// Memsz defaults to len(Data).
	Memsz uint32
	Flags elf.ProgFlag
}

// Config controls how Build lays out the file.
type Config struct {
	// DataOffset is the file offset of the first segment's data. Later segments
	// follow back to back.
	DataOffset uint32
	// Entry is written to e_entry. Defaults to the first PT_LOAD Vaddr.
	Entry uint32
	// Tail is appended after the last segment's data.
	Tail int
}

// Build emits an ELF32 i386 executable with one program header per segment.
func Build(segments ...Segment) []byte {
	out, err := BuildWithConfig(Config{}, segments...)
	if err != nil {
		panic(err)
	}
	return out
}

// BuildWithConfig emits the executable using cfg. Zero-valued fields are
// replaced with defaults.
func BuildWithConfig(cfg Config, segments ...Segment) ([]byte, error) {
	if cfg.DataOffset == 0 {
		cfg.DataOffset = defaultDataOffset
	}
	headerLimit := uint32(elfHeaderSize + elfProgramHeaderSize*len(segments))
	if cfg.DataOffset < headerLimit {
		return nil, fmt.Errorf("data offset %#x too small for ELF headers (%#x)", cfg.DataOffset, headerLimit)
	}
	if cfg.Entry == 0 {
		for _, seg := range segments {
			if seg.Type == elf.PT_LOAD {
				cfg.Entry = seg.Vaddr
				break
			}
		}
	}

	size := cfg.DataOffset
	for _, seg := range segments {
		size += uint32(len(seg.Data))
	}
	out := make([]byte, int(size)+cfg.Tail)

	fillELFHeader(out[:elfHeaderSize], cfg, len(segments))

	off := cfg.DataOffset
	for i, seg := range segments {
		ph := out[elfHeaderSize+i*elfProgramHeaderSize:]
		fillProgramHeader(ph[:elfProgramHeaderSize], seg, off)
		copy(out[off:], seg.Data)
		off += uint32(len(seg.Data))
	}
	return out, nil
}

// ProgramHeaderOffset returns the file offset of the i-th program header.
func ProgramHeaderOffset(i int) int {
	return elfHeaderSize + i*elfProgramHeaderSize
}

func fillELFHeader(buf []byte, cfg Config, phnum int) {
	buf[0] = 0x7f
	buf[1] = 'E'
	buf[2] = 'L'
	buf[3] = 'F'
	buf[4] = byte(elf.ELFCLASS32)
	buf[5] = byte(elf.ELFDATA2LSB)
	buf[6] = byte(elf.EV_CURRENT)

	binary.LittleEndian.PutUint16(buf[16:], uint16(elf.ET_EXEC))
	binary.LittleEndian.PutUint16(buf[18:], uint16(elf.EM_386))
	binary.LittleEndian.PutUint32(buf[20:], uint32(elf.EV_CURRENT))
	binary.LittleEndian.PutUint32(buf[24:], cfg.Entry)
	binary.LittleEndian.PutUint32(buf[28:], elfHeaderSize) // phoff
	binary.LittleEndian.PutUint32(buf[32:], 0)             // no section headers
	binary.LittleEndian.PutUint16(buf[40:], elfHeaderSize)
	binary.LittleEndian.PutUint16(buf[42:], elfProgramHeaderSize)
	binary.LittleEndian.PutUint16(buf[44:], uint16(phnum))
}

func fillProgramHeader(buf []byte, seg Segment, off uint32) {
	paddr := seg.Paddr
	if paddr == 0 {
		paddr = seg.Vaddr
	}
	memsz := seg.Memsz
	if memsz == 0 {
		memsz = uint32(len(seg.Data))
	}
	flags := seg.Flags
	if flags == 0 {
		flags = elf.PF_R | elf.PF_X
	}
	binary.LittleEndian.PutUint32(buf[0:], uint32(seg.Type))
	binary.LittleEndian.PutUint32(buf[4:], off)
	binary.LittleEndian.PutUint32(buf[8:], seg.Vaddr)
	binary.LittleEndian.PutUint32(buf[12:], paddr)
	binary.LittleEndian.PutUint32(buf[16:], uint32(len(seg.Data)))
	binary.LittleEndian.PutUint32(buf[20:], memsz)
	binary.LittleEndian.PutUint32(buf[24:], uint32(flags))
	binary.LittleEndian.PutUint32(buf[28:], 0x1000)
}
