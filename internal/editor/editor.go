// Package editor models the editor state the mode controller reacts to.
//
// Positions are zero-based. Character offsets count Unicode code points
// within a line, which is what the IPC bridge sends.
package editor

import (
	"strings"
	"sync"
)

// Position is a cursor location inside a document.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Document is the text the classifier reads from.
type Document interface {
	// ID identifies the document for cache invalidation.
	ID() string

	// LanguageID is the editor's language identifier, e.g. "cpp".
	LanguageID() string

	// Version increases on every mutation.
	Version() int64

	// LineCount returns the number of lines.
	LineCount() int

	// LineText returns line i without its terminator.
	LineText(i int) string

	// Prefix returns the full text from offset 0 up to, not including, pos.
	Prefix(pos Position) string
}

// View is an editor showing a document with a cursor.
type View interface {
	Document() Document
	Cursor() Position
}

// Buffer is an in-memory Document. It is safe for concurrent use.
type Buffer struct {
	mu       sync.RWMutex
	id       string
	language string
	version  int64
	lines    []string
}

// NewBuffer creates a buffer holding text.
func NewBuffer(id, languageID, text string) *Buffer {
	b := &Buffer{id: id, language: languageID}
	b.lines = splitLines(text)
	return b
}

// NewBufferAt creates a buffer at the version the editor reported.
func NewBufferAt(id, languageID, text string, version int64) *Buffer {
	b := NewBuffer(id, languageID, text)
	b.version = version
	return b
}

// ID implements Document.
func (b *Buffer) ID() string { return b.id }

// LanguageID implements Document.
func (b *Buffer) LanguageID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.language
}

// SetLanguageID changes the language, e.g. after the user picks a new mode.
func (b *Buffer) SetLanguageID(languageID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.language = languageID
}

// Version implements Document.
func (b *Buffer) Version() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.version
}

// LineCount implements Document.
func (b *Buffer) LineCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.lines)
}

// LineText implements Document. Out-of-range lines are empty.
func (b *Buffer) LineText(i int) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if i < 0 || i >= len(b.lines) {
		return ""
	}
	return b.lines[i]
}

// Text returns the whole document.
func (b *Buffer) Text() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return strings.Join(b.lines, "\n")
}

// Prefix implements Document. The position is clamped to the document.
func (b *Buffer) Prefix(pos Position) string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if pos.Line < 0 || len(b.lines) == 0 {
		return ""
	}
	if pos.Line >= len(b.lines) {
		return strings.Join(b.lines, "\n")
	}

	var sb strings.Builder
	for i := 0; i < pos.Line; i++ {
		sb.WriteString(b.lines[i])
		sb.WriteByte('\n')
	}
	sb.WriteString(LinePrefix(b.lines[pos.Line], pos.Character))
	return sb.String()
}

// SetText replaces the whole document and bumps the version.
func (b *Buffer) SetText(text string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = splitLines(text)
	b.version++
	return b.version
}

// SetTextVersion replaces the document with the version reported by the
// editor. Older versions are ignored. It reports whether the text changed.
func (b *Buffer) SetTextVersion(text string, version int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if version <= b.version {
		return false
	}
	b.lines = splitLines(text)
	b.version = version
	return true
}

// Edit replaces the range [Start, End) with Text.
type Edit struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
	Text  string   `json:"text"`
}

// Replace substitutes the text between start and end and bumps the version.
func (b *Buffer) Replace(start, end Position, text string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replaceLocked(Edit{Start: start, End: end, Text: text})
	b.version++
	return b.version
}

// ApplyEdits applies edits in order as one change. A positive version is
// the editor's version after the change: it is stored as is, and a change
// at or below the current version is ignored. Otherwise the version is
// bumped once. It reports whether the buffer changed.
func (b *Buffer) ApplyEdits(edits []Edit, version int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if version > 0 && version <= b.version {
		return false
	}
	for _, e := range edits {
		b.replaceLocked(e)
	}
	if version > 0 {
		b.version = version
	} else {
		b.version++
	}
	return true
}

func (b *Buffer) replaceLocked(e Edit) {
	full := strings.Join(b.lines, "\n")
	from := offsetOf(b.lines, e.Start)
	to := offsetOf(b.lines, e.End)
	if to < from {
		from, to = to, from
	}
	b.lines = splitLines(full[:from] + e.Text + full[to:])
}

// LinePrefix returns the first character code points of line.
func LinePrefix(line string, character int) string {
	if character <= 0 {
		return ""
	}
	n := 0
	for i := range line {
		if n == character {
			return line[:i]
		}
		n++
	}
	return line
}

func offsetOf(lines []string, pos Position) int {
	if pos.Line < 0 {
		return 0
	}
	off := 0
	for i := 0; i < pos.Line && i < len(lines); i++ {
		off += len(lines[i]) + 1
	}
	if pos.Line >= len(lines) {
		if off > 0 {
			off--
		}
		return off
	}
	return off + len(LinePrefix(lines[pos.Line], pos.Character))
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.Split(text, "\n")
}

// Cursor is a View over a Buffer with a movable cursor.
type Cursor struct {
	mu  sync.RWMutex
	doc Document
	pos Position
}

// NewCursor creates a view of doc at pos.
func NewCursor(doc Document, pos Position) *Cursor {
	return &Cursor{doc: doc, pos: pos}
}

// Document implements View.
func (c *Cursor) Document() Document { return c.doc }

// Cursor implements View.
func (c *Cursor) Cursor() Position {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pos
}

// MoveTo moves the cursor.
func (c *Cursor) MoveTo(pos Position) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pos = pos
}

// CurrentLinePrefix returns the cursor line up to the cursor.
func CurrentLinePrefix(v View) string {
	pos := v.Cursor()
	return LinePrefix(v.Document().LineText(pos.Line), pos.Character)
}
