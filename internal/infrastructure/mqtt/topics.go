package mqtt

import (
	"path/filepath"
	"strings"
)

// DefaultTopicPrefix is the root of every kvstore topic.
const DefaultTopicPrefix = "kvstore"

// Topics builds kvstore MQTT topics under a configurable prefix.
//
//	topics := mqtt.NewTopics("kvstore")
//	topics.Changes("/var/lib/kvstore/app.db")
//	// Returns: "kvstore/app.db/changes"
type Topics struct {
	Prefix string
}

// NewTopics returns topic builders rooted at prefix.
// An empty prefix means DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// Changes returns the change feed topic of the database at path.
//
// Example: kvstore/app.db/changes
func (t Topics) Changes(path string) string {
	return t.prefix() + "/" + DatabaseSegment(path) + "/changes"
}

// AllChanges returns a pattern matching every database's change feed.
//
// Pattern: kvstore/+/changes
func (t Topics) AllChanges() string {
	return t.prefix() + "/+/changes"
}

// SystemStatus returns the retained online/offline status topic.
//
// Example: kvstore/system/status
func (t Topics) SystemStatus() string {
	return t.prefix() + "/system/status"
}

// DatabaseSegment turns a database path into a single topic level:
// the file name with wildcard and separator characters replaced.
func DatabaseSegment(path string) string {
	name := filepath.Base(path)
	if name == "." || name == string(filepath.Separator) {
		name = "default"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '+', '#', '/':
			return '_'
		}
		return r
	}, name)
}
