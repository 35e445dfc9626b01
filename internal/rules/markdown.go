package rules

import (
	"strings"

	"smartcursor/internal/editor"
)

// MarkdownClass is the outcome of the Markdown heuristic.
type MarkdownClass int

const (
	// MarkdownProse is a paragraph without CJK text.
	MarkdownProse MarkdownClass = iota
	// MarkdownCJK is a paragraph containing CJK text.
	MarkdownCJK
	// MarkdownFenced is inside a ``` or ~~~ block.
	MarkdownFenced
	// MarkdownIndented is inside an indented code block.
	MarkdownIndented
)

// ClassifyMarkdown applies the paragraph heuristic at pos.
//
// Fences are counted from the first line through the cursor line; any line
// whose trimmed text starts with ``` or ~~~ toggles, without checking that
// opening and closing markers agree.
func ClassifyMarkdown(doc editor.Document, pos editor.Position) MarkdownClass {
	if insideFence(doc, pos.Line) {
		return MarkdownFenced
	}
	if insideIndentedBlock(doc, pos.Line) {
		return MarkdownIndented
	}
	if paragraphHasCJK(doc, pos.Line) {
		return MarkdownCJK
	}
	return MarkdownProse
}

func insideFence(doc editor.Document, line int) bool {
	fences := 0
	for i := 0; i <= line && i < doc.LineCount(); i++ {
		t := strings.TrimLeft(doc.LineText(i), " \t")
		if strings.HasPrefix(t, "```") || strings.HasPrefix(t, "~~~") {
			fences++
		}
	}
	return fences%2 == 1
}

func indented(s string) bool {
	return strings.HasPrefix(s, "    ") || strings.HasPrefix(s, "\t")
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// insideIndentedBlock reports whether line is indented code: an indented
// line that starts the document, follows a blank line, or continues an
// indented previous non-blank line.
func insideIndentedBlock(doc editor.Document, line int) bool {
	if !indented(doc.LineText(line)) {
		return false
	}
	if line == 0 || blank(doc.LineText(line-1)) {
		return true
	}
	for i := line - 1; i >= 0; i-- {
		t := doc.LineText(i)
		if blank(t) {
			continue
		}
		return indented(t)
	}
	return true
}

func paragraphHasCJK(doc editor.Document, line int) bool {
	if blank(doc.LineText(line)) {
		return false
	}
	start := line
	for start > 0 && !blank(doc.LineText(start-1)) {
		start--
	}
	end := line
	for end+1 < doc.LineCount() && !blank(doc.LineText(end+1)) {
		end++
	}
	for i := start; i <= end; i++ {
		if ContainsCJK(doc.LineText(i)) {
			return true
		}
	}
	return false
}

// ContainsCJK reports whether s has a character in U+4E00..U+9FA5.
func ContainsCJK(s string) bool {
	for _, r := range s {
		if r >= 0x4E00 && r <= 0x9FA5 {
			return true
		}
	}
	return false
}
