//go:build linux

package imselect

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
)

// IBus D-Bus names.
const (
	IBusService   = "org.freedesktop.IBus"
	IBusPath      = "/org/freedesktop/IBus"
	IBusInterface = "org.freedesktop.IBus"
)

// IBus switches engines on the IBus bus. Codes are engine names such as
// "xkb:us::eng" or "libpinyin".
type IBus struct {
	mu      sync.Mutex
	conn    *dbus.Conn
	address func(ctx context.Context) (string, error)
}

func newIBus() (Switcher, error) {
	return &IBus{address: ibusAddress}, nil
}

// ibusAddress finds the private IBus bus, which is not the session bus.
func ibusAddress(ctx context.Context) (string, error) {
	if addr := os.Getenv("IBUS_ADDRESS"); addr != "" {
		return addr, nil
	}
	out, err := exec.CommandContext(ctx, "ibus", "address").Output()
	if err != nil {
		return "", fmt.Errorf("%w: ibus address: %v", ErrIBusUnavailable, err)
	}
	addr := strings.TrimSpace(string(out))
	if addr == "" || addr == "(null)" {
		return "", fmt.Errorf("%w: daemon is not running", ErrIBusUnavailable)
	}
	return addr, nil
}

// object connects on first use and reconnects after the daemon restarts.
func (b *IBus) object(ctx context.Context) (dbus.BusObject, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn != nil && !b.conn.Connected() {
		b.conn.Close()
		b.conn = nil
	}
	if b.conn == nil {
		addr, err := b.address(ctx)
		if err != nil {
			return nil, err
		}
		conn, err := dbus.Connect(addr, dbus.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("%w: connect: %v", ErrIBusUnavailable, err)
		}
		b.conn = conn
	}
	return b.conn.Object(IBusService, IBusPath), nil
}

// Switch implements Switcher.
func (b *IBus) Switch(ctx context.Context, code string) error {
	obj, err := b.object(ctx)
	if err != nil {
		return err
	}
	call := obj.CallWithContext(ctx, IBusInterface+".SetGlobalEngine", 0, code)
	if call.Err != nil {
		return fmt.Errorf("SetGlobalEngine %s: %w", code, call.Err)
	}
	return nil
}

// Query implements Switcher.
func (b *IBus) Query(ctx context.Context) (string, error) {
	obj, err := b.object(ctx)
	if err != nil {
		return "", err
	}
	v, err := obj.GetProperty(IBusInterface + ".GlobalEngine")
	if err != nil {
		return "", fmt.Errorf("read GlobalEngine: %w", err)
	}
	return engineName(v)
}

// engineName extracts the name from a serialized IBusEngineDesc, a struct
// of (type name, attachments, name, long name, ...).
func engineName(v dbus.Variant) (string, error) {
	val := v.Value()
	if inner, ok := val.(dbus.Variant); ok {
		val = inner.Value()
	}
	fields, ok := val.([]interface{})
	if !ok || len(fields) < 3 {
		return "", fmt.Errorf("unexpected engine description %s", v.String())
	}
	name, ok := fields[2].(string)
	if !ok {
		return "", fmt.Errorf("unexpected engine name type %T", fields[2])
	}
	return name, nil
}

// Close releases the bus connection.
func (b *IBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	return err
}
