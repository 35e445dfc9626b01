// Package status renders the current input mode as a short label.
package status

import "sync"

// Label is what the editor shows in its status bar.
type Label struct {
	Text    string `json:"text"`
	Tooltip string `json:"tooltip"`
	Visible bool   `json:"visible"`
	Mode    string `json:"mode"`
}

// Indicator receives every mode transition.
type Indicator interface {
	Update(mode string, enabled bool)
}

// LabelFor maps a mode to its label. Disabled switching hides the label.
func LabelFor(mode string, enabled bool) Label {
	l := Label{Mode: mode, Visible: enabled}
	switch mode {
	case "chinese":
		l.Text = "中"
		l.Tooltip = "SmartCursor: Chinese input"
	case "english":
		l.Text = "EN"
		l.Tooltip = "SmartCursor: English input"
	default:
		l.Text = "--"
		l.Tooltip = "SmartCursor: input mode unknown"
	}
	if !enabled {
		l.Tooltip = "SmartCursor: disabled"
	}
	return l
}

// Bar is an Indicator that remembers the last label and tells listeners
// when it changes.
type Bar struct {
	mu        sync.Mutex
	label     Label
	listeners []func(Label)
}

// NewBar creates a bar showing the unknown mode.
func NewBar() *Bar {
	return &Bar{label: LabelFor("unknown", true)}
}

// Update implements Indicator.
func (b *Bar) Update(mode string, enabled bool) {
	next := LabelFor(mode, enabled)

	b.mu.Lock()
	if next == b.label {
		b.mu.Unlock()
		return
	}
	b.label = next
	listeners := append([]func(Label){}, b.listeners...)
	b.mu.Unlock()

	for _, fn := range listeners {
		fn(next)
	}
}

// Current returns the label being shown.
func (b *Bar) Current() Label {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.label
}

// OnChange registers fn for label changes.
func (b *Bar) OnChange(fn func(Label)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, fn)
}
