// Package vectors generates the interrupt entry table and per-vector stub
// macro invocations and splices them into the loader source.
package vectors

import (
	"errors"
	"fmt"
	"strings"
)

// Count is the number of exception/interrupt vectors the loader handles.
const Count = 33

// errorCodeVectors push an error code before the common handler runs.
var errorCodeVectors = map[int]bool{
	0x08: true, // double fault
	0x0A: true, // invalid TSS
	0x0B: true, // segment not present
	0x0D: true, // general protection
	0x0E: true, // page fault
	0x11: true, // alignment check
	0x18: true,
	0x1A: true,
	0x1B: true,
	0x1D: true,
	0x1E: true,
}

// Vector is one entry of the table.
type Vector struct {
	Index        int
	HasErrorCode bool
}

// Label is the symbol of the vector's entry stub.
func (v Vector) Label() string {
	return fmt.Sprintf("int_%s_entry", hexIndex(v.Index))
}

// Table returns all vectors in ascending order.
func Table() []Vector {
	out := make([]Vector, Count)
	for i := range out {
		out[i] = Vector{Index: i, HasErrorCode: errorCodeVectors[i]}
	}
	return out
}

func hexIndex(i int) string {
	return fmt.Sprintf("0x%02x", i)
}

var (
	ErrMarkerNotFound  = errors.New("marker line not found in template")
	ErrDuplicateMarker = errors.New("marker line appears more than once in template")
)

// Options names the marker and the labels emitted into the generated block.
type Options struct {
	// Marker is matched as a line prefix.
	Marker string
	// EntriesLabel labels the table of stub addresses.
	EntriesLabel string
	// DispatchLabel labels a zeroed pointer the kernel fills with its handler.
	DispatchLabel string
}

var DefaultOptions = Options{
	Marker:        ";;; IDT_CODE",
	EntriesLabel:  "int_entries",
	DispatchLabel: "int_dispatch",
}

// FindMarker returns the line index of the single marker line.
func FindMarker(lines []string, marker string) (int, error) {
	found := -1
	for i, line := range lines {
		if !strings.HasPrefix(line, marker) {
			continue
		}
		if found >= 0 {
			return 0, fmt.Errorf("%w: %q on lines %d and %d", ErrDuplicateMarker, marker, found+1, i+1)
		}
		found = i
	}
	if found < 0 {
		return 0, fmt.Errorf("%w: %q", ErrMarkerNotFound, marker)
	}
	return found, nil
}

// Block renders the entry table and the VECTOR macro invocations.
func Block(opts Options) string {
	var sb strings.Builder
	table := Table()

	fmt.Fprintf(&sb, "\n%s:\n", opts.EntriesLabel)
	for _, v := range table {
		fmt.Fprintf(&sb, "   dd %s\n", v.Label())
	}
	fmt.Fprintf(&sb, "\n%s:\n   dd 0\n", opts.DispatchLabel)

	sb.WriteString("\n")
	for _, v := range table {
		kind := "ZERO"
		if v.HasErrorCode {
			kind = "ERROR_CODE"
		}
		fmt.Fprintf(&sb, "VECTOR %s, %s\n", hexIndex(v.Index), kind)
	}
	return sb.String()
}

// Generate inserts the generated block in front of the marker line. Lines
// before the marker and from the marker on are kept verbatim.
func Generate(opts Options, template string) (string, error) {
	if opts.Marker == "" {
		return "", fmt.Errorf("%w: empty marker", ErrMarkerNotFound)
	}
	lines := strings.Split(template, "\n")
	at, err := FindMarker(lines, opts.Marker)
	if err != nil {
		return "", err
	}

	head := strings.Join(lines[:at], "\n")
	tail := strings.Join(lines[at:], "\n")
	return head + Block(opts) + tail, nil
}
