package storydb

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"

	bbolt "go.etcd.io/bbolt"
)

var (
	bucketStories = []byte("stories")
	bucketMeta    = []byte("meta")
)

// Story is one location-anchored note. Immutable once appended. The JSON
// field names match the legacy data.json records.
type Story struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	Username string `json:"username"`
	PosX     int    `json:"pos_x"`
	PosY     int    `json:"pos_y"`
}

// Trimmed returns a copy with surrounding whitespace removed from the text
// fields, the normalization applied before a story is persisted.
func (s Story) Trimmed() Story {
	s.Title = strings.TrimSpace(s.Title)
	s.Content = strings.TrimSpace(s.Content)
	s.Username = strings.TrimSpace(s.Username)
	return s
}

// Store is an append-only story collection backed by bbolt. Records are
// JSON-encoded under monotonically increasing keys, so iteration order is
// insertion order.
type Store struct {
	bolt *bbolt.DB
}

// Open opens or creates the story database and ensures its buckets exist.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("storydb: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketStories, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("storydb: create buckets: %w", err)
	}
	return &Store{bolt: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.bolt != nil {
		return s.bolt.Close()
	}
	return nil
}

// Path returns the filesystem path of the database file.
func (s *Store) Path() string {
	if s.bolt != nil {
		return s.bolt.Path()
	}
	return ""
}

// Append persists a story at the next insertion-order slot.
func (s *Store) Append(story Story) error {
	data, err := json.Marshal(story)
	if err != nil {
		return fmt.Errorf("storydb: encode story: %w", err)
	}
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketStories)
		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("storydb: next sequence: %w", err)
		}
		return b.Put(seqKey(seq), data)
	})
}

// All returns every story in insertion order. The slice is a snapshot; the
// caller owns it.
func (s *Store) All() ([]Story, error) {
	var stories []Story
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketStories).ForEach(func(k, v []byte) error {
			var st Story
			if err := json.Unmarshal(v, &st); err != nil {
				return fmt.Errorf("storydb: decode story %d: %w", keyToSeq(k), err)
			}
			stories = append(stories, st)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return stories, nil
}

// Count returns the number of stored stories.
func (s *Store) Count() (int, error) {
	var n int
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketStories).Stats().KeyN
		return nil
	})
	return n, err
}

// seqKey converts a sequence number to an 8-byte big-endian key, keeping
// bbolt's byte-order iteration aligned with insertion order.
func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

func keyToSeq(k []byte) uint64 {
	if len(k) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(k)
}
