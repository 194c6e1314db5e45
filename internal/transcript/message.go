// Package transcript discovers exported assistant transcripts and turns
// each JSONL file into an ordered stream of typed messages.
package transcript

import "time"

// Kind discriminates the message union.
type Kind string

const (
	KindText       Kind = "text"
	KindToolCall   Kind = "tool_call"
	KindToolResult Kind = "tool_result"
	KindSystem     Kind = "system"
)

// Message is one unit of conversation content. Which fields are set
// depends on Kind:
//
//	text         Role, Text
//	tool_call    Role, Tool, Input, Files
//	tool_result  Role, Text, Tool (when the call was seen earlier)
//	system       Text
type Message struct {
	Kind      Kind
	Role      string
	Text      string
	Tool      string
	Input     string
	Files     []string
	Timestamp time.Time
	SessionID string

	// Index is the position of the message in the file's stream.
	Index int
	// Line is the 1-based source line the message came from.
	Line int
}

// IsContent reports whether the message carries conversational text that
// counts toward a chunk's message count.
func (m Message) IsContent() bool {
	return m.Kind == KindText || m.Kind == KindToolResult || m.Kind == KindSystem
}

// File is a discovered transcript.
type File struct {
	Path       string
	Project    string
	ModifiedAt time.Time
	Size       int64
}
