// Package chunk groups a transcript's message stream into bounded text
// units for embedding.
package chunk

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Defaults for chunk bounds.
const (
	DefaultMaxChars    = 3000
	DefaultMaxMessages = 10
)

// RoleMixed marks a chunk whose messages came from more than one role.
const RoleMixed = "mixed"

// pointNamespace seeds deterministic point IDs.
var pointNamespace = uuid.MustParse("6f1d6a4e-2c5b-5d0e-9a57-3b8f4c1e7a20")

// Chunk is an ordered run of messages from one transcript.
type Chunk struct {
	Index        int
	Text         string
	Role         string
	Timestamp    time.Time
	EndTimestamp time.Time
	Tools        []string
	Files        []string
	Concepts     []string
	// MessageCount counts content messages; tool calls are excluded.
	MessageCount int
	StartIndex   int
	EndIndex     int
}

// Options bounds chunk size.
type Options struct {
	MaxChars      int
	MaxMessages   int
	IncludeSystem bool
}

func (o Options) withDefaults() Options {
	if o.MaxChars <= 0 {
		o.MaxChars = DefaultMaxChars
	}
	if o.MaxMessages <= 0 {
		o.MaxMessages = DefaultMaxMessages
	}
	return o
}

// PointID returns the stable vector point ID of chunk index of path, so
// re-ingesting a file overwrites its previous points.
func PointID(path string, index int) string {
	return uuid.NewSHA1(pointNamespace, []byte(path+"#"+strconv.Itoa(index))).String()
}
