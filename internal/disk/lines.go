package disk

import (
	"errors"
	"fmt"
	"strings"
)

var ErrNoSuchLine = errors.New("line does not exist")

// LinePatch replaces the 0-based line Line with Text.
type LinePatch struct {
	Line int
	Text string
}

// ReplaceLines applies patches to text and returns the result. The input is
// not modified and line endings are kept, including the CR of a CRLF line
// that is replaced.
func ReplaceLines(text []byte, patches ...LinePatch) ([]byte, error) {
	lines := strings.Split(string(text), "\n")
	for _, p := range patches {
		if p.Line < 0 || p.Line >= len(lines) {
			return nil, fmt.Errorf("%w: %d (have %d)", ErrNoSuchLine, p.Line, len(lines))
		}
		if strings.Contains(p.Text, "\n") {
			return nil, fmt.Errorf("replacement for line %d spans lines", p.Line)
		}
		text := p.Text
		if strings.HasSuffix(lines[p.Line], "\r") && !strings.HasSuffix(text, "\r") {
			text += "\r"
		}
		lines[p.Line] = text
	}
	return []byte(strings.Join(lines, "\n")), nil
}

// IncludeLines locates the sector-count constants in the shared include file.
type IncludeLines struct {
	LoaderSectors int
	KernelSectors int
}

var DefaultIncludeLines = IncludeLines{LoaderSectors: 3, KernelSectors: 4}

// LoaderSectorsPatch defines LOADER_SECTORS.
func (l IncludeLines) LoaderSectorsPatch(n int) LinePatch {
	return LinePatch{Line: l.LoaderSectors, Text: fmt.Sprintf("LOADER_SECTORS equ %d", n)}
}

// KernelSectorsPatch defines KERNEL_SECTORS.
func (l IncludeLines) KernelSectorsPatch(n int) LinePatch {
	return LinePatch{Line: l.KernelSectors, Text: fmt.Sprintf("KERNEL_SECTORS equ %d", n)}
}
