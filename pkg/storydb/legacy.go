package storydb

import (
	"encoding/json"
	"fmt"
	"os"
)

// ImportJSON loads stories from a legacy data.json file (a flat JSON array
// of records) and appends any the store does not yet hold. Import is
// positional: with N stories already stored, only entries after index N are
// appended, so re-importing the same file is a no-op.
func (s *Store) ImportJSON(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("storydb: read %s: %w", path, err)
	}
	var entries []Story
	if err := json.Unmarshal(raw, &entries); err != nil {
		return 0, fmt.Errorf("storydb: parse %s: %w", path, err)
	}

	have, err := s.Count()
	if err != nil {
		return 0, err
	}
	imported := 0
	for i := have; i < len(entries); i++ {
		if err := s.Append(entries[i].Trimmed()); err != nil {
			return imported, err
		}
		imported++
	}
	return imported, nil
}

// ExportJSON writes the full story collection to path in the legacy
// data.json array format.
func (s *Store) ExportJSON(path string) error {
	stories, err := s.All()
	if err != nil {
		return err
	}
	if stories == nil {
		stories = []Story{}
	}
	data, err := json.MarshalIndent(stories, "", "    ")
	if err != nil {
		return fmt.Errorf("storydb: encode export: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("storydb: write %s: %w", path, err)
	}
	return nil
}
