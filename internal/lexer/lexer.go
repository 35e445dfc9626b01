// Package lexer classifies the lexical region a cursor sits in.
//
// The scanner walks the text preceding the cursor exactly once and reports
// whether the end of that text lies inside a comment, a quoted string or a
// template literal. It is not a parser: raw strings, nested block comments and
// the bodies of template interpolations are not modelled.
//
// Scanning is streaming. A State can be fed the text in arbitrary chunks and
// ends up identical to a State fed the whole text at once, which is what the
// position cache relies on when it resumes from an earlier scan.
package lexer

// Result is the classification reached at the end of a scanned prefix.
type Result struct {
	InLineComment    bool `json:"in_line_comment"`
	InBlockComment   bool `json:"in_block_comment"`
	InDoubleString   bool `json:"in_double_string"`
	InSingleString   bool `json:"in_single_string"`
	InTemplateString bool `json:"in_template_string"`
}

// Any reports whether the prefix ends inside any natural-language region.
func (r Result) Any() bool {
	return r.InLineComment || r.InBlockComment || r.InDoubleString ||
		r.InSingleString || r.InTemplateString
}

// State is the running classification while walking a text prefix.
//
// At most one of the region flags is set at a time. InTemplate and
// TemplateDepth compose: while TemplateDepth > 0 the scanner is inside a
// ${...} interpolation and the template string itself is suspended.
type State struct {
	InLineComment  bool
	InBlockComment bool
	InDoubleQuoted bool
	InSingleQuoted bool
	InTemplate     bool
	TemplateDepth  int

	// backslashes is the length of the run of '\' immediately before the
	// next byte. It is counted over the raw text regardless of region.
	backslashes int

	// pending holds the first byte of a two-byte marker whose second byte
	// has not been seen yet: '/' in code, '*' in a block comment, '$' in a
	// template. Zero when nothing is pending.
	pending byte
}

// Scan classifies the text preceding a cursor in one forward pass.
func Scan(prefix string) Result {
	var s State
	s.Feed(prefix)
	return s.Result()
}

// Feed advances the state over chunk. Feeding "ab" then "cd" is equivalent to
// feeding "abcd".
func (s *State) Feed(chunk string) {
	for i := 0; i < len(chunk); i++ {
		s.step(chunk[i])
	}
}

// Result snapshots the state.
func (s *State) Result() Result {
	return Result{
		InLineComment:    s.InLineComment,
		InBlockComment:   s.InBlockComment,
		InDoubleString:   s.InDoubleQuoted,
		InSingleString:   s.InSingleQuoted,
		InTemplateString: s.InTemplate && s.TemplateDepth == 0,
	}
}

func (s *State) step(c byte) {
	escaped := s.backslashes%2 == 1
	if c == '\\' {
		s.backslashes++
	} else {
		s.backslashes = 0
	}

	pending := s.pending
	s.pending = 0

	switch {
	case s.InLineComment:
		if c == '\n' {
			s.InLineComment = false
		}

	case s.InBlockComment:
		if pending == '*' && c == '/' {
			s.InBlockComment = false
			return
		}
		if c == '*' {
			s.pending = '*'
		}

	case s.InDoubleQuoted:
		if c == '"' && !escaped {
			s.InDoubleQuoted = false
		}

	case s.InSingleQuoted:
		if c == '\'' && !escaped {
			s.InSingleQuoted = false
		}

	case s.InTemplate:
		switch {
		case pending == '$' && c == '{':
			s.TemplateDepth++
		case c == '$' && !escaped:
			s.pending = '$'
		case c == '}' && s.TemplateDepth > 0:
			s.TemplateDepth--
		case c == '`' && !escaped && s.TemplateDepth == 0:
			s.InTemplate = false
		}

	default:
		if pending == '/' {
			switch c {
			case '/':
				s.InLineComment = true
				return
			case '*':
				s.InBlockComment = true
				return
			}
		}
		if escaped {
			return
		}
		switch c {
		case '/':
			s.pending = '/'
		case '"':
			s.InDoubleQuoted = true
		case '\'':
			s.InSingleQuoted = true
		case '`':
			s.InTemplate = true
			s.TemplateDepth = 0
		}
	}
}

// IsEscaped reports whether text[i] is preceded by an odd number of
// consecutive backslashes.
func IsEscaped(text string, i int) bool {
	n := 0
	for j := i - 1; j >= 0 && text[j] == '\\'; j-- {
		n++
	}
	return n%2 == 1
}

// IsInsideDoubleQuotedString reports whether the end of a single line prefix
// lies inside a double-quoted string. Only that line is considered.
func IsInsideDoubleQuotedString(line string) bool {
	in := false
	for i := 0; i < len(line); i++ {
		if line[i] == '"' && !IsEscaped(line, i) {
			in = !in
		}
	}
	return in
}

// FindLineCommentStart returns the byte offset of the first "//" on the line
// prefix that is not inside a double-quoted string, or -1.
func FindLineCommentStart(line string) int {
	in := false
	for i := 0; i < len(line)-1; i++ {
		c := line[i]
		if c == '"' && !IsEscaped(line, i) {
			in = !in
			continue
		}
		if !in && c == '/' && line[i+1] == '/' {
			return i
		}
	}
	return -1
}
