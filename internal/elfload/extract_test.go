package elfload

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/tinyrange/bootimg/internal/elfload/elftest"
)

const testLinkBase = 0x100000

func pattern(n int, seed byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = seed + byte(i)
	}
	return out
}

func TestFixtureParsesWithDebugELF(t *testing.T) {
	bin := elftest.Build(
		elftest.Segment{Type: elf.PT_LOAD, Vaddr: testLinkBase, Data: pattern(16, 1)},
		elftest.Segment{Type: elf.PT_GNU_STACK},
	)

	f, err := elf.NewFile(bytes.NewReader(bin))
	if err != nil {
		t.Fatalf("parse ELF: %v", err)
	}
	defer f.Close()

	if got, want := f.Class, elf.ELFCLASS32; got != want {
		t.Fatalf("class=%v, want %v", got, want)
	}
	if len(f.Progs) != 2 {
		t.Fatalf("progs=%d, want 2", len(f.Progs))
	}
	if got, want := f.Progs[0].Vaddr, uint64(testLinkBase); got != want {
		t.Fatalf("vaddr=%#x, want %#x", got, want)
	}
}

func TestExtractSegmentAtLinkBase(t *testing.T) {
	data := pattern(100, 7)
	bin := elftest.Build(elftest.Segment{Type: elf.PT_LOAD, Vaddr: testLinkBase, Data: data})

	img, err := Extract(Config{LinkBase: testLinkBase}, bin)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(img) != len(bin) {
		t.Fatalf("image length=%d, want %d", len(img), len(bin))
	}
	if !bytes.Equal(img[:100], data) {
		t.Fatalf("image[0:100] = % x, want % x", img[:100], data)
	}

	segs, err := LoadSegments(bin)
	if err != nil {
		t.Fatalf("LoadSegments: %v", err)
	}
	off := segs[0].Offset
	if !bytes.Equal(img[:100], bin[off:off+100]) {
		t.Fatalf("image does not match file bytes at offset %#x", off)
	}
	for i, b := range img[100:] {
		if b != 0 {
			t.Fatalf("image[%d]=%#x, want zero fill", 100+i, b)
		}
	}
}

func TestExtractSkipsNonLoadAndKeepsGaps(t *testing.T) {
	first := pattern(32, 0x10)
	second := pattern(16, 0x80)
	bin := elftest.Build(
		elftest.Segment{Type: elf.PT_LOAD, Vaddr: testLinkBase, Data: first},
		elftest.Segment{Type: elf.PT_NOTE, Vaddr: testLinkBase + 0x40, Data: pattern(8, 0xee)},
		elftest.Segment{Type: elf.PT_LOAD, Vaddr: testLinkBase + 0x200, Data: second, Memsz: 64},
	)

	img, err := Extract(Config{LinkBase: testLinkBase}, bin)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !bytes.Equal(img[:32], first) {
		t.Fatalf("first segment mismatch")
	}
	if !bytes.Equal(img[0x200:0x210], second) {
		t.Fatalf("second segment mismatch")
	}
	for _, off := range []int{0x40, 0x47, 0x100, 0x210, 0x23f} {
		if img[off] != 0 {
			t.Fatalf("image[%#x]=%#x, want 0", off, img[off])
		}
	}
}

func TestExtractNoLoadSegments(t *testing.T) {
	bin := elftest.Build(elftest.Segment{Type: elf.PT_GNU_STACK})

	_, err := Extract(Config{LinkBase: testLinkBase}, bin)
	if !errors.Is(err, ErrNoLoadSegments) {
		t.Fatalf("err=%v, want %v", err, ErrNoLoadSegments)
	}

	empty := elftest.Build()
	if _, err := Extract(Config{LinkBase: testLinkBase}, empty); !errors.Is(err, ErrNoLoadSegments) {
		t.Fatalf("empty table: err=%v, want %v", err, ErrNoLoadSegments)
	}
}

func TestExtractBoundsFailure(t *testing.T) {
	data := pattern(100, 0)
	bin := elftest.Build(
		elftest.Segment{Type: elf.PT_LOAD, Vaddr: testLinkBase, Data: []byte{1}},
		elftest.Segment{Type: elf.PT_LOAD, Vaddr: testLinkBase + 0x2000, Data: data},
	)

	_, err := Extract(Config{LinkBase: testLinkBase}, bin)
	if !errors.Is(err, ErrSegmentBounds) {
		t.Fatalf("err=%v, want %v", err, ErrSegmentBounds)
	}
	var segErr *SegmentError
	if !errors.As(err, &segErr) {
		t.Fatalf("err=%T, want *SegmentError", err)
	}
	if segErr.Index != 1 {
		t.Fatalf("segment index=%d, want 1", segErr.Index)
	}
}

func TestExtractSegmentEndingExactlyAtImageEnd(t *testing.T) {
	data := pattern(100, 3)
	// Data lives at file offset 0x1000 and the file is 0x1000+100 bytes long.
	bin := elftest.Build(elftest.Segment{Type: elf.PT_LOAD, Vaddr: testLinkBase + 0x1000, Data: data})

	img, err := Extract(Config{LinkBase: testLinkBase}, bin)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !bytes.Equal(img[0x1000:], data) {
		t.Fatalf("tail mismatch")
	}

	shifted := elftest.Build(elftest.Segment{Type: elf.PT_LOAD, Vaddr: testLinkBase + 0x1001, Data: data})
	if _, err := Extract(Config{LinkBase: testLinkBase}, shifted); !errors.Is(err, ErrSegmentBounds) {
		t.Fatalf("err=%v, want %v", err, ErrSegmentBounds)
	}
}

func TestExtractBelowLinkBase(t *testing.T) {
	bin := elftest.Build(elftest.Segment{Type: elf.PT_LOAD, Vaddr: testLinkBase - 0x10, Data: pattern(4, 0)})

	_, err := Extract(Config{LinkBase: testLinkBase}, bin)
	if !errors.Is(err, ErrBelowLinkBase) {
		t.Fatalf("err=%v, want %v", err, ErrBelowLinkBase)
	}
}

func TestProgramHeadersFormatErrors(t *testing.T) {
	good := elftest.Build(elftest.Segment{Type: elf.PT_LOAD, Vaddr: testLinkBase, Data: pattern(4, 0)})

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"short", func(b []byte) []byte { return b[:20] }},
		{"magic", func(b []byte) []byte { b[1] = 'X'; return b }},
		{"class64", func(b []byte) []byte { b[elf.EI_CLASS] = byte(elf.ELFCLASS64); return b }},
		{"bigEndian", func(b []byte) []byte { b[elf.EI_DATA] = byte(elf.ELFDATA2MSB); return b }},
		{"entsize", func(b []byte) []byte { binary.LittleEndian.PutUint16(b[42:], 8); return b }},
		{"tablePastEnd", func(b []byte) []byte { binary.LittleEndian.PutUint32(b[28:], uint32(len(b))); return b }},
		{"dataPastEnd", func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[elftest.ProgramHeaderOffset(0)+16:], uint32(len(b)))
			return b
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bin := tt.mutate(append([]byte(nil), good...))
			if _, err := LoadSegments(bin); !errors.Is(err, ErrFormat) {
				t.Fatalf("err=%v, want %v", err, ErrFormat)
			}
		})
	}
}

func TestExtractIsDeterministic(t *testing.T) {
	bin := elftest.Build(
		elftest.Segment{Type: elf.PT_LOAD, Vaddr: testLinkBase, Data: pattern(300, 9)},
		elftest.Segment{Type: elf.PT_LOAD, Vaddr: testLinkBase + 0x400, Data: pattern(50, 1)},
	)
	a, err := Extract(Config{LinkBase: testLinkBase}, bin)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	b, err := Extract(Config{LinkBase: testLinkBase}, bin)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("two extractions differ")
	}
}
