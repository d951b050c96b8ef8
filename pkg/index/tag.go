// Package index persists the canonical tag rows and their usage counters,
// and feeds incremental updates to whoever indexes them in memory.
package index

import "time"

// Tag is one canonical hashtag. Key is derived from Display by the
// normalizer and is never hand-edited; two tags cannot share a Key.
type Tag struct {
	Key        string    `json:"key" msgpack:"k"`
	Display    string    `json:"display" msgpack:"d"`
	CountTotal int64     `json:"countTotal" msgpack:"c"`
	LastUsedAt time.Time `json:"lastUsedAt" msgpack:"t"`
}

// Notifier receives tag mutations as they are committed. Implementations
// must be safe for concurrent calls; the store invokes them on whichever
// request goroutine performed the write.
type Notifier interface {
	TagUsed(t Tag)
	TagReleased(t Tag)
}
