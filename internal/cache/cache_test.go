package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartcursor/internal/editor"
	"smartcursor/internal/lexer"
)

const sample = `#include <stdio.h>
/* block
   comment */
int main() {
    printf("hello, 世界\n"); // greet
    char c = 'x';
    const char *s = "a\"b";
    return 0; /* trailing
}`

func TestCachedMatchesDirect(t *testing.T) {
	c, err := New(64)
	require.NoError(t, err)

	doc := editor.NewBuffer("main.c", "c", sample)
	for line := 0; line < doc.LineCount()+1; line++ {
		runes := []rune(doc.LineText(line))
		for ch := 0; ch <= len(runes)+1; ch++ {
			pos := editor.Position{Line: line, Character: ch}
			want := Direct{}.ScanAt(doc, pos)
			assert.Equal(t, want, c.ScanAt(doc, pos), "first scan at %+v", pos)
			assert.Equal(t, want, c.ScanAt(doc, pos), "cached scan at %+v", pos)
		}
	}

	stats := c.Stats()
	assert.NotZero(t, stats.Hits)
	assert.NotZero(t, stats.Resumed)
}

func TestInvalidateDocument(t *testing.T) {
	c, err := New(64)
	require.NoError(t, err)

	doc := editor.NewBuffer("a.c", "c", "x = 1; // note")
	other := editor.NewBuffer("b.c", "c", "y = 2;")
	pos := editor.Position{Line: 0, Character: 12}

	assert.True(t, c.ScanAt(doc, pos).InLineComment)
	c.ScanAt(other, editor.Position{Line: 0, Character: 3})

	v := doc.SetText("x = 1; y = 2;")
	c.InvalidateDocument(doc.ID(), v)

	_, ok := c.Get(doc, pos)
	assert.False(t, ok, "entry must not outlive the mutation")
	assert.False(t, c.ScanAt(doc, pos).InLineComment)

	_, ok = c.Get(other, editor.Position{Line: 0, Character: 3})
	assert.True(t, ok, "other documents keep their entries")
}

func TestStalePutDropped(t *testing.T) {
	c, err := New(8)
	require.NoError(t, err)

	doc := editor.NewBuffer("a.c", "c", "/* x")
	pos := editor.Position{Line: 0, Character: 4}
	old := doc.Version()

	v := doc.SetText("x")
	c.InvalidateDocument(doc.ID(), v)

	c.Put(doc.ID(), old, pos, lexer.Result{InBlockComment: true})
	_, ok := c.Get(doc, pos)
	assert.False(t, ok)
	assert.Equal(t, lexer.Result{}, c.ScanAt(doc, pos))
}

func TestVersionMismatchWithoutInvalidate(t *testing.T) {
	c, err := New(8)
	require.NoError(t, err)

	doc := editor.NewBuffer("a.c", "c", "\"open")
	pos := editor.Position{Line: 0, Character: 5}
	assert.True(t, c.ScanAt(doc, pos).InDoubleString)

	doc.SetText("close")
	assert.False(t, c.ScanAt(doc, pos).InDoubleString)
}

func TestForget(t *testing.T) {
	c, err := New(8)
	require.NoError(t, err)

	doc := editor.NewBuffer("a.c", "c", "x")
	c.ScanAt(doc, editor.Position{})
	c.Forget(doc.ID())
	assert.Zero(t, c.Stats().Entries)
}
