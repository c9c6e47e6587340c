package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// CompilerConfig describes how to build the kernel.
type CompilerConfig struct {
	// Command is run in Dir, e.g. ["cargo", "build", "--release"].
	Command []string
	Dir     string
	// Output is the ELF the command produces. Relative paths are resolved
	// against Dir.
	Output string
	Env    []string
}

// Exec runs real processes.
type Exec struct {
	Compiler CompilerConfig

	// Assembler is the nasm binary.
	Assembler string
	// AssemblerArgs precede the output and source arguments.
	AssemblerArgs []string
}

var _ Toolchain = (*Exec)(nil)

var ErrAssemblerVersion = errors.New("assembler too old")

func run(cmd *exec.Cmd) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Debug("running tool", "args", cmd.Args, "dir", cmd.Dir)
	if err := cmd.Run(); err != nil {
		return nil, &ToolError{
			Tool:   cmd.Args[0],
			Args:   cmd.Args[1:],
			Err:    err,
			Stderr: cleanDiagnostics(stderr.Bytes()),
		}
	}
	if diag := cleanDiagnostics(stderr.Bytes()); diag != "" {
		slog.Debug("tool diagnostics", "tool", cmd.Args[0], "stderr", diag)
	}
	return stdout.Bytes(), nil
}

// Compile implements Toolchain.
func (e *Exec) Compile(ctx context.Context) ([]byte, error) {
	if len(e.Compiler.Command) == 0 {
		return nil, errors.New("no compiler command configured")
	}
	cmd := exec.CommandContext(ctx, e.Compiler.Command[0], e.Compiler.Command[1:]...)
	cmd.Dir = e.Compiler.Dir
	if len(e.Compiler.Env) > 0 {
		cmd.Env = append(os.Environ(), e.Compiler.Env...)
	}
	if _, err := run(cmd); err != nil {
		return nil, err
	}

	out := e.Compiler.Output
	if !filepath.IsAbs(out) {
		out = filepath.Join(e.Compiler.Dir, out)
	}
	bin, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("read compiler output: %w", err)
	}
	return bin, nil
}

func (e *Exec) assembler() string {
	if e.Assembler == "" {
		return "nasm"
	}
	return e.Assembler
}

// Assemble implements Toolchain.
func (e *Exec) Assemble(ctx context.Context, path string) ([]byte, error) {
	tmp, err := os.CreateTemp("", "bootimg-*.bin")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmp.Close()
	defer os.Remove(tmp.Name())

	args := append([]string(nil), e.AssemblerArgs...)
	args = append(args, "-o", tmp.Name(), filepath.Base(path))
	cmd := exec.CommandContext(ctx, e.assembler(), args...)
	cmd.Dir = filepath.Dir(path)
	if _, err := run(cmd); err != nil {
		return nil, err
	}

	bin, err := os.ReadFile(tmp.Name())
	if err != nil {
		return nil, fmt.Errorf("read assembler output: %w", err)
	}
	return bin, nil
}

// CheckAssembler runs "nasm -v" and fails if the reported version is older
// than minVersion (e.g. "2.10").
func (e *Exec) CheckAssembler(ctx context.Context, minVersion string) (string, error) {
	out, err := run(exec.CommandContext(ctx, e.assembler(), "-v"))
	if err != nil {
		return "", err
	}
	have, err := ParseNasmVersion(string(out))
	if err != nil {
		return "", err
	}
	if minVersion == "" {
		return have, nil
	}
	want, err := canonicalVersion(minVersion)
	if err != nil {
		return "", fmt.Errorf("minimum assembler version: %w", err)
	}
	if semver.Compare(have, want) < 0 {
		return have, fmt.Errorf("%w: have %s, need %s", ErrAssemblerVersion, have, want)
	}
	return have, nil
}

// ParseNasmVersion extracts the version from "NASM version 2.16.01 compiled
// on ..." and returns it in semver form ("v2.16.1").
func ParseNasmVersion(out string) (string, error) {
	fields := strings.Fields(out)
	for i := 0; i+1 < len(fields); i++ {
		if strings.EqualFold(fields[i], "version") {
			return canonicalVersion(fields[i+1])
		}
	}
	return "", fmt.Errorf("no version in %q", strings.TrimSpace(out))
}

// canonicalVersion turns dotted numbers with optional leading zeros into a
// valid semver string.
func canonicalVersion(s string) (string, error) {
	s = strings.TrimPrefix(s, "v")
	parts := strings.Split(s, ".")
	if len(parts) == 0 || len(parts) > 3 {
		return "", fmt.Errorf("invalid version %q", s)
	}
	nums := []int{0, 0, 0}
	for i, p := range parts {
		// nasm release candidates look like 2.16rc2; the suffix is dropped.
		if idx := strings.IndexFunc(p, func(r rune) bool { return r < '0' || r > '9' }); idx >= 0 {
			p = p[:idx]
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return "", fmt.Errorf("invalid version %q", s)
		}
		nums[i] = n
	}
	v := fmt.Sprintf("v%d.%d.%d", nums[0], nums[1], nums[2])
	if !semver.IsValid(v) {
		return "", fmt.Errorf("invalid version %q", s)
	}
	return v, nil
}
