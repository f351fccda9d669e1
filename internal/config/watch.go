package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 100 * time.Millisecond

// WatchTiers reloads the tier file into set whenever it changes, until ctx is
// done. A file that fails to parse or that was removed leaves the previous
// tiers in place; a removed file is picked up again when it reappears.
func WatchTiers(ctx context.Context, path string, set *TierSet) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("tiers: watcher: %w", err)
	}
	defer fw.Close()

	path = filepath.Clean(path)
	// Watch the directory so editors that replace the file are seen.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("tiers: watch %s: %w", filepath.Dir(path), err)
	}

	ticker := time.NewTicker(reloadDebounce)
	defer ticker.Stop()
	var pending time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				pending = time.Now()
			}

		case <-ticker.C:
			if pending.IsZero() || time.Since(pending) < reloadDebounce {
				continue
			}
			pending = time.Time{}
			if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
				log.Printf("tiers: %s removed, keeping previous tiers %v", path, set.List())
				continue
			}
			stakes, err := LoadTiers(path)
			if err != nil {
				log.Printf("tiers: reload %s: %v (keeping previous tiers)", path, err)
				continue
			}
			set.Replace(stakes)
			log.Printf("tiers: reloaded %s: %v", path, set.List())

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Printf("tiers: watch error: %v", err)
		}
	}
}
