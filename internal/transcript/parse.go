package transcript

import (
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// fileKeys are tool input fields that name a file.
var fileKeys = []string{"file_path", "path", "notebook_path", "filename"}

// parser converts raw records into messages. It remembers tool call IDs so
// results can be attributed to the tool that produced them.
type parser struct {
	toolNames map[string]string
}

func newParser() *parser {
	return &parser{toolNames: make(map[string]string)}
}

// parseLine returns the messages in one record. ok is false for malformed
// records; a well-formed record with nothing to index returns no messages.
func (p *parser) parseLine(line []byte, lineNo int) (msgs []Message, ok bool) {
	if !gjson.ValidBytes(line) {
		return nil, false
	}
	rec := gjson.ParseBytes(line)
	if !rec.IsObject() {
		return nil, false
	}

	base := Message{
		Timestamp: parseTimestamp(rec.Get("timestamp")),
		SessionID: rec.Get("sessionId").String(),
		Line:      lineNo,
	}

	recType := rec.Get("type").String()
	switch recType {
	case "summary":
		return p.system(base, rec.Get("summary").String()), true
	case "system":
		text := rec.Get("content").String()
		if text == "" {
			text = rec.Get("message.content").String()
		}
		return p.system(base, text), true
	}

	content := rec.Get("message.content")
	role := rec.Get("message.role").String()
	if !content.Exists() {
		content = rec.Get("content")
		role = rec.Get("role").String()
	}
	if role == "" {
		role = recType
	}
	base.Role = role
	if !content.Exists() {
		return nil, true
	}

	if content.Type == gjson.String {
		if role == "system" {
			return p.system(base, content.String()), true
		}
		return p.text(base, content.String()), true
	}
	if !content.IsArray() {
		return nil, false
	}

	for _, block := range content.Array() {
		switch block.Get("type").String() {
		case "text":
			msgs = append(msgs, p.text(base, block.Get("text").String())...)
		case "tool_use":
			msgs = append(msgs, p.toolCall(base, block))
		case "tool_result":
			msgs = append(msgs, p.toolResult(base, block)...)
		}
		// thinking, image and unknown blocks carry nothing to index
	}
	return msgs, true
}

func (p *parser) text(base Message, text string) []Message {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	base.Kind = KindText
	base.Text = text
	return []Message{base}
}

func (p *parser) system(base Message, text string) []Message {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	base.Kind = KindSystem
	base.Role = "system"
	base.Text = text
	return []Message{base}
}

func (p *parser) toolCall(base Message, block gjson.Result) Message {
	name := block.Get("name").String()
	if id := block.Get("id").String(); id != "" {
		p.toolNames[id] = name
	}

	input := block.Get("input")
	var files []string
	for _, key := range fileKeys {
		if v := input.Get(key).String(); v != "" {
			files = append(files, v)
		}
	}

	base.Kind = KindToolCall
	base.Tool = name
	base.Input = input.Raw
	base.Files = files
	return base
}

func (p *parser) toolResult(base Message, block gjson.Result) []Message {
	var text string
	c := block.Get("content")
	switch {
	case c.Type == gjson.String:
		text = c.String()
	case c.IsArray():
		var parts []string
		for _, item := range c.Array() {
			if item.Get("type").String() == "text" {
				parts = append(parts, item.Get("text").String())
			}
		}
		text = strings.Join(parts, "\n")
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	base.Kind = KindToolResult
	base.Text = text
	base.Tool = p.toolNames[block.Get("tool_use_id").String()]
	return []Message{base}
}

func parseTimestamp(v gjson.Result) time.Time {
	switch v.Type {
	case gjson.String:
		if t, err := time.Parse(time.RFC3339Nano, v.String()); err == nil {
			return t.UTC()
		}
	case gjson.Number:
		// Unix milliseconds or seconds
		n := v.Int()
		if n > 1e12 {
			return time.UnixMilli(n).UTC()
		}
		return time.Unix(n, 0).UTC()
	}
	return time.Time{}
}
