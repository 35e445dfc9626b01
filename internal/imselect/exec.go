package imselect

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Exec drives an im-select style executable.
type Exec struct {
	path string
}

// NewExec creates an Exec backend for path resolved against root.
func NewExec(path, root string) *Exec {
	return &Exec{path: Resolve(path, root)}
}

// Resolve returns path unchanged when absolute, otherwise joined to root.
// An empty or blank path stays empty.
func Resolve(path, root string) string {
	path = strings.TrimSpace(path)
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

// Path returns the resolved executable path.
func (e *Exec) Path() string { return e.path }

// Check reports ErrNoCommand or ErrBinaryMissing, or nil when the
// executable exists.
func (e *Exec) Check() error {
	if e.path == "" {
		return ErrNoCommand
	}
	if _, err := os.Stat(e.path); err != nil {
		return fmt.Errorf("%w: %s", ErrBinaryMissing, e.path)
	}
	return nil
}

// Switch implements Switcher.
func (e *Exec) Switch(ctx context.Context, code string) error {
	if err := e.Check(); err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, e.path, code)
	hideWindow(cmd)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("run %s %s: %w: %s", e.path, code, err, msg)
		}
		return fmt.Errorf("run %s %s: %w", e.path, code, err)
	}
	return nil
}

// Query implements Switcher.
func (e *Exec) Query(ctx context.Context) (string, error) {
	if err := e.Check(); err != nil {
		return "", err
	}
	cmd := exec.CommandContext(ctx, e.path)
	hideWindow(cmd)

	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("query %s: %w", e.path, err)
	}
	return strings.TrimSpace(string(out)), nil
}
