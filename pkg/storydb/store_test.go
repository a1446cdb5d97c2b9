package storydb

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "stories.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendPreservesOrder(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 20; i++ {
		st := Story{
			Title:    fmt.Sprintf("title %d", i),
			Content:  fmt.Sprintf("content %d", i),
			Username: "dana1",
			PosX:     i,
			PosY:     -i,
		}
		if err := s.Append(st); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	stories, err := s.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(stories) != 20 {
		t.Fatalf("got %d stories, want 20", len(stories))
	}
	for i, st := range stories {
		if st.Title != fmt.Sprintf("title %d", i) {
			t.Errorf("story %d out of order: %q", i, st.Title)
		}
		if st.PosX != i || st.PosY != -i {
			t.Errorf("story %d position changed: (%d,%d)", i, st.PosX, st.PosY)
		}
	}
}

func TestTrimmed(t *testing.T) {
	st := Story{Title: "  A Title \n", Content: "\tbody ", Username: " dana1 ", PosX: 3, PosY: 4}
	got := st.Trimmed()
	if got.Title != "A Title" || got.Content != "body" || got.Username != "dana1" {
		t.Errorf("Trimmed: %+v", got)
	}
	if got.PosX != 3 || got.PosY != 4 {
		t.Errorf("Trimmed touched position: %+v", got)
	}
}

func TestCountEmpty(t *testing.T) {
	s := openTestStore(t)
	n, err := s.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 0 {
		t.Errorf("Count = %d, want 0", n)
	}
	stories, err := s.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(stories) != 0 {
		t.Errorf("All returned %d stories on empty store", len(stories))
	}
}

func TestImportExportJSON(t *testing.T) {
	s := openTestStore(t)
	dir := t.TempDir()
	legacy := filepath.Join(dir, "data.json")

	raw := `[
        {"title": " first ", "content": "one", "username": "a", "pos_x": 1, "pos_y": 2},
        {"title": "second", "content": "two", "username": "b", "pos_x": 3, "pos_y": 4}
    ]`
	if err := os.WriteFile(legacy, []byte(raw), 0644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	n, err := s.ImportJSON(legacy)
	if err != nil {
		t.Fatalf("ImportJSON: %v", err)
	}
	if n != 2 {
		t.Errorf("imported %d, want 2", n)
	}

	// Re-import is a no-op.
	n, err = s.ImportJSON(legacy)
	if err != nil {
		t.Fatalf("second ImportJSON: %v", err)
	}
	if n != 0 {
		t.Errorf("re-import added %d entries, want 0", n)
	}

	stories, err := s.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(stories) != 2 || stories[0].Title != "first" {
		t.Errorf("unexpected stories after import: %+v", stories)
	}

	out := filepath.Join(dir, "export.json")
	if err := s.ExportJSON(out); err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}
	s2, err := Open(filepath.Join(dir, "stories2.db"))
	if err != nil {
		t.Fatalf("Open second store: %v", err)
	}
	defer s2.Close()
	if _, err := s2.ImportJSON(out); err != nil {
		t.Fatalf("importing export: %v", err)
	}
	round, err := s2.All()
	if err != nil {
		t.Fatalf("All on second store: %v", err)
	}
	if len(round) != 2 || round[1].Content != "two" {
		t.Errorf("export/import round trip mismatch: %+v", round)
	}
}

func TestWatchImportsOnChange(t *testing.T) {
	s := openTestStore(t)
	dir := t.TempDir()
	legacy := filepath.Join(dir, "data.json")
	if err := os.WriteFile(legacy, []byte(`[]`), 0644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	stop, err := s.Watch(legacy)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer stop()

	raw := `[{"title": "t", "content": "c", "username": "u", "pos_x": 0, "pos_y": 0}]`
	if err := os.WriteFile(legacy, []byte(raw), 0644); err != nil {
		t.Fatalf("rewriting fixture: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		n, err := s.Count()
		if err != nil {
			t.Fatalf("Count: %v", err)
		}
		if n == 1 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("watcher did not import the new story in time")
}
