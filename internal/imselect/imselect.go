// Package imselect switches the system input method.
//
// Two backends exist. Exec runs an im-select style executable: "<path>
// <code>" sets the input method and "<path>" prints the current one. IBus
// talks to the IBus daemon over D-Bus and is only available on Linux.
package imselect

import (
	"context"
	"errors"
	"fmt"

	"smartcursor/internal/config"
)

var (
	// ErrBinaryMissing is returned when the switch executable does not exist.
	ErrBinaryMissing = errors.New("imselect: switch binary not found")

	// ErrNoCommand is returned when no switch path is configured. Callers
	// treat it as a silent no-op.
	ErrNoCommand = errors.New("imselect: no switch command configured")

	// ErrIBusUnavailable is returned when the IBus daemon cannot be found
	// or reached.
	ErrIBusUnavailable = errors.New("imselect: ibus daemon not reachable")

	// ErrUnsupported is returned for a backend the platform lacks.
	ErrUnsupported = errors.New("imselect: backend not supported on this platform")
)

// Switcher changes and reports the active input method.
type Switcher interface {
	// Switch activates the input method identified by code.
	Switch(ctx context.Context, code string) error

	// Query returns the code of the active input method. An empty code
	// with a nil error means the backend reported nothing.
	Query(ctx context.Context) (string, error)
}

// New builds the switcher selected by cfg. Relative executable paths are
// resolved against root.
func New(cfg *config.Config, root string) (Switcher, error) {
	switch cfg.Backend {
	case "", config.BackendIMSelect:
		return NewExec(cfg.IMSelectPath, root), nil
	case config.BackendIBus:
		return newIBus()
	default:
		return nil, fmt.Errorf("imselect: unknown backend %q", cfg.Backend)
	}
}

// Unavailable reports whether err means the backend is not installed or
// not running, as opposed to a failing command.
func Unavailable(err error) bool {
	return errors.Is(err, ErrBinaryMissing) || errors.Is(err, ErrIBusUnavailable)
}

// SwitchAsync runs Switch on its own goroutine. The channel receives the
// outcome and is then closed; callers that do not care may drop it.
func SwitchAsync(ctx context.Context, s Switcher, code string) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- s.Switch(ctx, code)
	}()
	return done
}
