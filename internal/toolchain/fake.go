package toolchain

import (
	"context"
	"fmt"
	"os"
)

// Fake is an in-process Toolchain for tests. Assemble reads the
// source from disk and hands it to the function registered for its path.
type Fake struct {
	Kernel     []byte
	CompileErr error

	Assemblers map[string]func(src []byte) ([]byte, error)

	// Calls records every Assemble path in order.
	Calls []string
}

var _ Toolchain = (*Fake)(nil)

// Compile implements Toolchain.
func (f *Fake) Compile(ctx context.Context) ([]byte, error) {
	if f.CompileErr != nil {
		return nil, f.CompileErr
	}
	return append([]byte(nil), f.Kernel...), nil
}

// Assemble implements Toolchain.
func (f *Fake) Assemble(ctx context.Context, path string) ([]byte, error) {
	f.Calls = append(f.Calls, path)
	fn, ok := f.Assemblers[path]
	if !ok {
		return nil, &ToolError{Tool: "fake-asm", Args: []string{path}, Err: fmt.Errorf("no assembler registered")}
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return fn(src)
}
