package storydb

import (
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch starts an fsnotify watcher on a legacy story JSON file. Whenever the
// file is written or recreated, the idempotent import runs again so stories
// dropped in from outside the server become visible without a restart.
// The returned stop function shuts the watcher down.
func (s *Store) Watch(path string) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if filepath.Base(event.Name) != base {
					continue
				}
				n, err := s.ImportJSON(path)
				if err != nil {
					log.Printf("Story file watcher: import %s: %v", path, err)
					continue
				}
				if n > 0 {
					log.Printf("Story file changed: imported %d new stories from %s", n, path)
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("Story file watcher error: %v", err)
			}
		}
	}()

	// Watch the directory: editors replace files, which breaks file watches.
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}
	log.Printf("Watching legacy story file for changes: %s", path)
	return func() { watcher.Close() }, nil
}
