package chunk

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Aman-CERP/amanmem/internal/transcript"
)

// Builder accumulates messages in order and emits chunks as they fill.
type Builder struct {
	opts  Options
	next  int
	cur   *pending
	ready []Chunk
}

type pending struct {
	text     strings.Builder
	roles    map[string]bool
	chunk    Chunk
	tools    orderedSet
	files    orderedSet
	hasStart bool
}

// NewBuilder creates a Builder.
func NewBuilder(opts Options) *Builder {
	return &Builder{opts: opts.withDefaults()}
}

// Add feeds one message and returns the chunks it completed, if any.
func (b *Builder) Add(m transcript.Message) []Chunk {
	switch m.Kind {
	case transcript.KindToolCall:
		p := b.current(m)
		p.tools.add(m.Tool)
		for _, f := range m.Files {
			p.files.add(f)
		}
		p.touch(m)
	case transcript.KindSystem:
		if b.opts.IncludeSystem {
			b.addContent(m, m.Text)
		}
	case transcript.KindToolResult:
		label := "tool result"
		if m.Tool != "" {
			label = m.Tool + " result"
		}
		b.addContent(m, fmt.Sprintf("[%s] %s", label, m.Text))
	case transcript.KindText:
		b.addContent(m, m.Role+": "+m.Text)
	}
	return b.drain()
}

// Flush completes the chunk in progress and returns every chunk not yet
// returned. A trailing run of tool calls with no content produces nothing.
func (b *Builder) Flush() []Chunk {
	b.finish()
	return b.drain()
}

func (b *Builder) drain() []Chunk {
	out := b.ready
	b.ready = nil
	return out
}

func (b *Builder) current(m transcript.Message) *pending {
	if b.cur == nil {
		b.cur = &pending{roles: make(map[string]bool)}
	}
	if !b.cur.hasStart {
		b.cur.chunk.StartIndex = m.Index
		b.cur.hasStart = true
	}
	return b.cur
}

func (b *Builder) addContent(m transcript.Message, text string) {
	text = strings.TrimSpace(text)
	for text != "" {
		p := b.current(m)
		room := b.opts.MaxChars - p.text.Len()
		if p.text.Len() > 0 {
			room-- // separator
		}
		if len(text) > room && p.chunk.MessageCount > 0 {
			b.finish()
			continue
		}

		piece := cutAt(text, room)
		if piece == "" {
			_, size := utf8.DecodeRuneInString(text)
			piece = text[:size]
		}
		text = strings.TrimSpace(text[len(piece):])

		if p.text.Len() > 0 {
			p.text.WriteByte('\n')
		}
		p.text.WriteString(piece)
		p.roles[m.Role] = true
		p.chunk.MessageCount++
		p.touch(m)

		// An oversized message continues in the next chunk.
		if text != "" || p.chunk.MessageCount >= b.opts.MaxMessages {
			b.finish()
		}
	}
}

func (p *pending) touch(m transcript.Message) {
	p.chunk.EndIndex = m.Index
	if m.Timestamp.IsZero() {
		return
	}
	if p.chunk.Timestamp.IsZero() {
		p.chunk.Timestamp = m.Timestamp
	}
	p.chunk.EndTimestamp = m.Timestamp
}

func (b *Builder) finish() {
	p := b.cur
	if p == nil {
		return
	}
	if p.chunk.MessageCount == 0 {
		// Tool calls alone do not make a chunk; carry their metadata on.
		return
	}
	b.cur = nil

	c := p.chunk
	c.Index = b.next
	b.next++
	c.Text = p.text.String()
	c.Role = dominantRole(p.roles)
	c.Tools = p.tools.items
	c.Files = mergeFiles(p.files.items, extractFiles(c.Text))
	c.Concepts = extractConcepts(c.Text)
	b.ready = append(b.ready, c)
}

// Split chunks a complete message slice.
func Split(msgs []transcript.Message, opts Options) []Chunk {
	b := NewBuilder(opts)
	var out []Chunk
	for _, m := range msgs {
		out = append(out, b.Add(m)...)
	}
	return append(out, b.Flush()...)
}

func dominantRole(roles map[string]bool) string {
	if len(roles) == 1 {
		for r := range roles {
			return r
		}
	}
	return RoleMixed
}

// cutAt returns the longest prefix of s of at most n bytes that ends on a
// word boundary when one exists in the second half, else on a rune boundary.
func cutAt(s string, n int) string {
	if n >= len(s) {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	if i := strings.LastIndexAny(s[:n], " \n\t"); i > n/2 {
		return s[:i]
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

type orderedSet struct {
	items []string
	seen  map[string]bool
}

func (s *orderedSet) add(v string) {
	if v == "" {
		return
	}
	if s.seen == nil {
		s.seen = make(map[string]bool)
	}
	if s.seen[v] {
		return
	}
	s.seen[v] = true
	s.items = append(s.items, v)
}
