package imselect

import (
	"context"
	"io"
	"sync"

	"smartcursor/internal/config"
)

// Live is a Switcher that follows configuration changes. The backend is
// rebuilt whenever the backend name or the executable path changes.
type Live struct {
	provider config.Provider
	root     string

	mu      sync.Mutex
	key     string
	current Switcher
	err     error
}

// NewLive creates a switcher for the configuration of provider.
func NewLive(provider config.Provider, root string) *Live {
	return &Live{provider: provider, root: root}
}

func (l *Live) backend() (Switcher, error) {
	cfg := l.provider.Current()
	key := cfg.Backend + "\x00" + cfg.IMSelectPath

	l.mu.Lock()
	defer l.mu.Unlock()
	if key == l.key && (l.current != nil || l.err != nil) {
		return l.current, l.err
	}
	if c, ok := l.current.(io.Closer); ok {
		c.Close()
	}
	l.key = key
	l.current, l.err = New(cfg, l.root)
	return l.current, l.err
}

// Switch implements Switcher.
func (l *Live) Switch(ctx context.Context, code string) error {
	s, err := l.backend()
	if err != nil {
		return err
	}
	return s.Switch(ctx, code)
}

// Query implements Switcher.
func (l *Live) Query(ctx context.Context) (string, error) {
	s, err := l.backend()
	if err != nil {
		return "", err
	}
	return s.Query(ctx)
}

// Close releases the current backend.
func (l *Live) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var err error
	if c, ok := l.current.(io.Closer); ok {
		err = c.Close()
	}
	l.current, l.err, l.key = nil, nil, ""
	return err
}
