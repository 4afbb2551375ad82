package config

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the config file on change and delivers each valid new config
// to onChange. Invalid edits are logged and skipped so a half-saved file
// never tears down a running session. Returns when ctx is done.
//
// The parent directory is watched rather than the file itself: editors that
// save via rename (vim, VS Code) replace the inode, which silently kills a
// file-level watch.
func Watch(ctx context.Context, path string, onChange func(Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	target := filepath.Clean(path)

	// Debounce: editors fire multiple events per save.
	var timer *time.Timer
	reload := func() {
		cfg, err := Load(target)
		if err != nil {
			log.Printf("CONFIG: reload skipped: %v", err)
			return
		}
		log.Printf("CONFIG: reloaded %s", target)
		onChange(cfg)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(evt.Name) != target {
				continue
			}
			if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) && !evt.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(200*time.Millisecond, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("CONFIG: watch error: %v", err)
		}
	}
}
