package index

import (
	"context"
	"fmt"
	"os"

	"github.com/vmihailenco/msgpack/v5"
)

// Snapshot format: a msgpack stream of a header followed by Tag records.
// Binary keeps the dump ~40% smaller than JSON and loads without an
// allocation per field name.

const snapshotVersion = 1

type snapshotHeader struct {
	Version int `msgpack:"v"`
	Count   int `msgpack:"n"`
}

// WriteSnapshot dumps every tag row to path. The file is written via a
// temp name and renamed so readers never observe a partial dump.
func (s *SQLiteStore) WriteSnapshot(ctx context.Context, path string) (int, error) {
	tags, err := s.Tags(ctx)
	if err != nil {
		return 0, fmt.Errorf("snapshot read: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("snapshot create: %w", err)
	}

	enc := msgpack.NewEncoder(f)
	if err := enc.Encode(snapshotHeader{Version: snapshotVersion, Count: len(tags)}); err != nil {
		f.Close()
		os.Remove(tmp)
		return 0, fmt.Errorf("snapshot header: %w", err)
	}
	for _, t := range tags {
		if err := enc.Encode(t); err != nil {
			f.Close()
			os.Remove(tmp)
			return 0, fmt.Errorf("snapshot tag %q: %w", t.Key, err)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return 0, err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return 0, err
	}
	return len(tags), nil
}

// ReadSnapshot loads a tag dump written by WriteSnapshot.
func ReadSnapshot(path string) ([]Tag, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := msgpack.NewDecoder(f)
	var hdr snapshotHeader
	if err := dec.Decode(&hdr); err != nil {
		return nil, fmt.Errorf("snapshot header: %w", err)
	}
	if hdr.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", hdr.Version)
	}

	tags := make([]Tag, 0, hdr.Count)
	for i := 0; i < hdr.Count; i++ {
		var t Tag
		if err := dec.Decode(&t); err != nil {
			return nil, fmt.Errorf("snapshot tag %d: %w", i, err)
		}
		tags = append(tags, t)
	}
	return tags, nil
}
