package token

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch observes the token file for changes made by other processes (the
// cross-tab logout/login signal). When the persisted access token differs
// from the in-memory one, the registered OnExternalChange callback fires
// with the old and new values and the cache is updated.
//
// This is an advisory signal only. It is never the source of truth for
// session validity; the refresh flow is.
//
// Watch returns once the watcher is armed; the loop runs until ctx is
// cancelled.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// Watch the directory, not the file: editors and our own persist path
	// replace the file, and a watch on the old inode would go stale.
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		watcher.Close()
		return err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != s.path {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				s.reloadAndNotify()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("token file watcher error", "error", err)
			}
		}
	}()

	return nil
}

// reloadAndNotify re-reads the file and fires the external-change callback
// if the access token on disk differs from the cached one. Our own writes
// update the cache before persisting, so they never trigger the callback.
func (s *Store) reloadAndNotify() {
	s.mu.Lock()

	old := s.access

	s.access = ""
	s.refresh = ""
	if err := s.loadLocked(); err != nil {
		s.logger.Warn("failed to reload token file", "error", err)
		s.access = old
		s.mu.Unlock()
		return
	}

	updated := s.access
	fn := s.externalChange
	s.mu.Unlock()

	if updated != old && fn != nil {
		fn(old, updated)
	}
}
