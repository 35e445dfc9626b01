package lexer

import (
	"math/rand"
	"strings"
	"testing"
)

func TestScan(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		want   Result
	}{
		{"empty", "", Result{}},
		{"plain code", "int x = 5;", Result{}},
		{"division is code", "a = b / c;", Result{}},
		{"line comment", "int x; // note", Result{InLineComment: true}},
		{"line comment closed by newline", "// note\nint y", Result{}},
		{"block comment open", "x = 1; /* hello", Result{InBlockComment: true}},
		{"block comment closed", "/* a */ x", Result{}},
		{"block comment stars", "/* a **/ x", Result{}},
		{"opener star does not close", "/*/ still", Result{InBlockComment: true}},
		{"double quoted open", `printf("hello`, Result{InDoubleString: true}},
		{"double quoted closed", `printf("hello");`, Result{}},
		{"escaped quote keeps string open", `s = "a\"b`, Result{InDoubleString: true}},
		{"escaped backslash closes", `s = "a\\" + x`, Result{}},
		{"single quoted open", `c = 'x`, Result{InSingleString: true}},
		{"single inside double ignored", `s = "it's`, Result{InDoubleString: true}},
		{"comment marker inside string", `url = "http://x`, Result{InDoubleString: true}},
		{"quote inside comment", `// don't`, Result{InLineComment: true}},
		{"quote inside block comment", `/* "x */ y`, Result{}},
		{"template open", "s = `hello", Result{InTemplateString: true}},
		{"template closed", "s = `hello`", Result{}},
		{"template interpolation", "s = `a${x", Result{}},
		{"template after interpolation", "s = `a${x}b", Result{InTemplateString: true}},
		{"escaped interpolation", "s = `a\\${x", Result{InTemplateString: true}},
		{"escaped backtick", "s = `a\\`b", Result{InTemplateString: true}},
		{"multi-line block comment", "/*\n * doc\n * more", Result{InBlockComment: true}},
		{"escaped slash is not a comment", `x \// y`, Result{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Scan(tc.prefix)
			if got != tc.want {
				t.Errorf("Scan(%q) = %+v, want %+v", tc.prefix, got, tc.want)
			}
		})
	}
}

func TestScanTemplateNesting(t *testing.T) {
	full := "`a${1+\"x\"}b`"

	mid := Scan("`a${1+\"x")
	if mid.InTemplateString {
		t.Error("inside ${} the template string must be suspended")
	}
	if mid.InDoubleString {
		t.Error("a string inside ${} must not be reported as the outer context")
	}

	before := Scan(full[:len(full)-1])
	if !before.InTemplateString {
		t.Error("expected template string before closing backtick")
	}

	after := Scan(full)
	if after.Any() {
		t.Errorf("expected all flags false after closing backtick, got %+v", after)
	}

	if r := Scan("`hello"); !r.InTemplateString {
		t.Error("expected template string before final backtick")
	}
	if r := Scan("`hello`"); r.Any() {
		t.Errorf("expected all flags false, got %+v", r)
	}
}

func TestScanNoMarkers(t *testing.T) {
	const alphabet = "abc xyz 0123\n\t;(){}[]=+-*<>,.\\"
	rng := rand.New(rand.NewSource(1))
	for n := 0; n < 500; n++ {
		var b strings.Builder
		for i := rng.Intn(60); i > 0; i-- {
			b.WriteByte(alphabet[rng.Intn(len(alphabet))])
		}
		p := b.String()
		if r := Scan(p); r.Any() {
			t.Fatalf("Scan(%q) = %+v, want no region", p, r)
		}
	}
}

func TestEscapingLaw(t *testing.T) {
	for k := 0; k < 5; k++ {
		odd := `"a` + strings.Repeat(`\`, 2*k+1) + `"`
		if r := Scan(odd); !r.InDoubleString {
			t.Errorf("%d backslashes: quote must not close the string", 2*k+1)
		}
		even := `"a` + strings.Repeat(`\`, 2*k) + `"`
		if r := Scan(even); r.InDoubleString {
			t.Errorf("%d backslashes: quote must close the string", 2*k)
		}
	}
}

func TestFeedChunked(t *testing.T) {
	inputs := []string{
		"int x = 1; // comment\nint y = 2; /* block ** still */ z",
		"s = `tpl ${a + \"b\"} more` + 'c' + \"d\\\"e\"",
		"/* open",
		"x = \"http://example.com\" // trailing",
		"a\\\\\\\"b \"c\\\\\" `x\\${y}` /*/ */",
		"`${`${x}`}`",
	}

	for _, in := range inputs {
		want := Scan(in)

		for cut := 0; cut <= len(in); cut++ {
			var s State
			s.Feed(in[:cut])
			s.Feed(in[cut:])
			if got := s.Result(); got != want {
				t.Fatalf("split %q at %d: got %+v, want %+v", in, cut, got, want)
			}
		}

		rng := rand.New(rand.NewSource(int64(len(in))))
		for n := 0; n < 50; n++ {
			var s State
			rest := in
			for len(rest) > 0 {
				size := 1 + rng.Intn(len(rest))
				s.Feed(rest[:size])
				rest = rest[size:]
			}
			if got := s.Result(); got != want {
				t.Fatalf("random chunks of %q: got %+v, want %+v", in, got, want)
			}
		}
	}
}

func TestIsEscaped(t *testing.T) {
	tests := []struct {
		text string
		i    int
		want bool
	}{
		{`"`, 0, false},
		{`\"`, 1, true},
		{`\\"`, 2, false},
		{`\\\"`, 3, true},
		{`a"`, 1, false},
	}
	for _, tc := range tests {
		if got := IsEscaped(tc.text, tc.i); got != tc.want {
			t.Errorf("IsEscaped(%q, %d) = %v, want %v", tc.text, tc.i, got, tc.want)
		}
	}
}

func TestFindLineCommentStart(t *testing.T) {
	tests := []struct {
		line string
		want int
	}{
		{"int x = 5; // set x", 11},
		{`"http://x"`, -1},
		{`s = "a" // b`, 8},
		{`s = "a\"//" x`, -1},
		{"/", -1},
		{"//", 0},
		{"no comment", -1},
	}
	for _, tc := range tests {
		if got := FindLineCommentStart(tc.line); got != tc.want {
			t.Errorf("FindLineCommentStart(%q) = %d, want %d", tc.line, got, tc.want)
		}
	}
}

func TestIsInsideDoubleQuotedString(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{`printf("hi`, true},
		{`printf("hi")`, false},
		{`"a\"b`, true},
		{`"a\\"`, false},
		{``, false},
	}
	for _, tc := range tests {
		if got := IsInsideDoubleQuotedString(tc.line); got != tc.want {
			t.Errorf("IsInsideDoubleQuotedString(%q) = %v, want %v", tc.line, got, tc.want)
		}
	}
}
