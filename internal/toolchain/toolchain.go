// Package toolchain runs the external compiler and assembler the build treats
// as black boxes.
package toolchain

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// Toolchain produces the kernel ELF and assembles flat binaries.
type Toolchain interface {
	// Compile builds the kernel and returns its ELF bytes.
	Compile(ctx context.Context) ([]byte, error)
	// Assemble turns the source file at path into a flat binary. Includes are
	// resolved relative to the source's directory.
	Assemble(ctx context.Context, path string) ([]byte, error)
}

// ToolError reports a tool that could not be started or exited non-zero.
type ToolError struct {
	Tool   string
	Args   []string
	Err    error
	Stderr string
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Tool, strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += "\n" + e.Stderr
	}
	return msg
}

func (e *ToolError) Unwrap() error { return e.Err }

// cleanDiagnostics strips color escapes some compilers emit even when piped
// and trims surrounding whitespace.
func cleanDiagnostics(b []byte) string {
	return strings.TrimSpace(ansi.Strip(string(b)))
}
