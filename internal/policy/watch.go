package policy

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounce = 100 * time.Millisecond

// Watch reloads the policy whenever its file changes, until ctx is done.
// The parent directory is watched so editors that replace the file by
// rename are picked up too.
func (p *Policy) Watch(ctx context.Context) error {
	if p.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	target := filepath.Clean(p.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return err
	}
	p.logger.Debug("watching table policy")

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				p.logger.Debug("table policy changed", "op", event.Op.String())
				p.Reload()
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Error("policy watcher error", "error", err)
		}
	}
}
