// Package cache memoizes lexical scans by document position.
//
// Cached wraps any Scanner with the same contract. Entries are keyed by
// (document, line, character) and stamped with the document version they
// were computed at; InvalidateDocument drops every entry of a document and
// raises its generation so a scan racing with an edit can never be stored.
// Disabling the cache changes latency only, never a classification.
package cache

import (
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"smartcursor/internal/editor"
	"smartcursor/internal/lexer"
)

// DefaultSize is the default number of cached positions.
const DefaultSize = 4096

// Scanner classifies the text preceding a position in a document.
type Scanner interface {
	ScanAt(doc editor.Document, pos editor.Position) lexer.Result
}

// Direct scans the whole prefix every time.
type Direct struct{}

// ScanAt implements Scanner.
func (Direct) ScanAt(doc editor.Document, pos editor.Position) lexer.Result {
	return lexer.Scan(doc.Prefix(pos))
}

type key struct {
	doc       string
	line      int
	character int
}

type lineKey struct {
	doc  string
	line int
}

type resultEntry struct {
	version int64
	result  lexer.Result
}

type lineEntry struct {
	version int64
	state   lexer.State
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Resumed uint64 `json:"resumed"`
	Entries int    `json:"entries"`
	Dropped uint64 `json:"dropped"`
}

// Cached is a Scanner decorator backed by bounded LRU caches.
type Cached struct {
	results *lru.Cache[key, resultEntry]
	lines   *lru.Cache[lineKey, lineEntry]

	mu          sync.Mutex
	generations map[string]int64

	hits    atomic.Uint64
	misses  atomic.Uint64
	resumed atomic.Uint64
	dropped atomic.Uint64
}

// New creates a cache holding up to size positions. A miss resumes from the
// cached scanner state at the start of the cursor line when there is one.
func New(size int) (*Cached, error) {
	if size <= 0 {
		size = DefaultSize
	}
	c := &Cached{generations: make(map[string]int64)}

	results, err := lru.NewWithEvict[key, resultEntry](size, func(key, resultEntry) {
		c.dropped.Add(1)
	})
	if err != nil {
		return nil, err
	}
	lines, err := lru.New[lineKey, lineEntry](size)
	if err != nil {
		return nil, err
	}
	c.results = results
	c.lines = lines
	return c, nil
}

// Get returns the cached result for a position, if it is current.
func (c *Cached) Get(doc editor.Document, pos editor.Position) (lexer.Result, bool) {
	e, ok := c.results.Get(key{doc.ID(), pos.Line, pos.Character})
	if !ok || e.version != doc.Version() {
		return lexer.Result{}, false
	}
	return e.result, true
}

// Put stores a result computed at version. Results older than the
// document's current generation are discarded.
func (c *Cached) Put(docID string, version int64, pos editor.Position, r lexer.Result) {
	if !c.current(docID, version) {
		return
	}
	c.results.Add(key{docID, pos.Line, pos.Character}, resultEntry{version: version, result: r})
}

// InvalidateDocument drops every entry of a document. It must be called on
// every mutation of that document.
func (c *Cached) InvalidateDocument(docID string, version int64) {
	c.mu.Lock()
	if version > c.generations[docID] {
		c.generations[docID] = version
	}
	c.mu.Unlock()

	for _, k := range c.results.Keys() {
		if k.doc == docID {
			c.results.Remove(k)
		}
	}
	for _, k := range c.lines.Keys() {
		if k.doc == docID {
			c.lines.Remove(k)
		}
	}
}

// Forget drops a closed document including its generation.
func (c *Cached) Forget(docID string) {
	c.InvalidateDocument(docID, 0)
	c.mu.Lock()
	delete(c.generations, docID)
	c.mu.Unlock()
}

// ScanAt implements Scanner.
func (c *Cached) ScanAt(doc editor.Document, pos editor.Position) lexer.Result {
	if r, ok := c.Get(doc, pos); ok {
		c.hits.Add(1)
		return r
	}
	c.misses.Add(1)

	version := doc.Version()
	start := c.lineStart(doc, pos.Line, version)
	start.Feed(editor.LinePrefix(doc.LineText(pos.Line), pos.Character))
	r := start.Result()

	c.Put(doc.ID(), version, pos, r)
	return r
}

// lineStart returns the scanner state at the first character of line.
func (c *Cached) lineStart(doc editor.Document, line int, version int64) lexer.State {
	lk := lineKey{doc.ID(), line}
	if e, ok := c.lines.Get(lk); ok && e.version == version {
		c.resumed.Add(1)
		return e.state
	}

	var s lexer.State
	if line > 0 {
		s.Feed(doc.Prefix(editor.Position{Line: line}))
	}
	if c.current(doc.ID(), version) {
		c.lines.Add(lk, lineEntry{version: version, state: s})
	}
	return s
}

func (c *Cached) current(docID string, version int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return version >= c.generations[docID]
}

// Stats returns a snapshot of the counters.
func (c *Cached) Stats() Stats {
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Resumed: c.resumed.Load(),
		Entries: c.results.Len(),
		Dropped: c.dropped.Load(),
	}
}
