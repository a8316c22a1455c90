package server

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const watchDebounce = 250 * time.Millisecond

// watchFile calls onChange once writes to path settle. The parent directory
// is watched because editors and Commit replace the file by rename.
func watchFile(ctx context.Context, path string, debounce time.Duration, onChange func(), log *zap.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	path = filepath.Clean(path)
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path || ev.Op&relevant == 0 {
				continue
			}
			timer.Reset(debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("file watcher error", zap.String("path", path), zap.Error(err))
		case <-timer.C:
			onChange()
		}
	}
}

func (s *Server) watchAuthfile(ctx context.Context) error {
	s.log.Info("watching authfile", zap.String("path", s.store.Path()))
	return watchFile(ctx, s.store.Path(), watchDebounce, s.authfileChanged, s.log)
}

// authfileChanged tells connected admins about external edits. It never
// reloads by itself.
func (s *Server) authfileChanged() {
	changed, err := s.store.ChangedOnDisk()
	if err != nil {
		s.log.Warn("authfile changed but cannot be loaded", zap.Error(err))
		s.hub.NotifyAdmins("authfile changed on disk but cannot be loaded: " + err.Error())
		return
	}
	if !changed {
		return
	}
	n := s.hub.NotifyAdmins("authfile changed on disk; press Ctrl-R (or send a reload frame) to load it")
	s.log.Info("authfile changed on disk", zap.Int("admins_notified", n))
}
