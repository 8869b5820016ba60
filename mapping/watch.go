package mapping

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchDebounce is the quiet period Watch waits for before reporting a
// burst of changes.
var WatchDebounce = 200 * time.Millisecond

// Watch watches the mapping paths recursively and calls fn with the
// changed files once changes settle. It blocks until ctx is done.
func Watch(ctx context.Context, paths []string, fn func(changed []string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("mapping: watch: %w", err)
	}
	defer w.Close()
	for _, p := range paths {
		if err := watchRecursive(w, p); err != nil {
			return err
		}
	}
	var (
		pending = make(map[string]struct{})
		timer   = time.NewTimer(WatchDebounce)
	)
	timer.Stop()
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("mapping: watch: %w", err)
		case e, ok := <-w.Events:
			if !ok {
				return nil
			}
			if e.Has(fsnotify.Create) {
				if info, err := os.Stat(e.Name); err == nil && info.IsDir() {
					if err := watchRecursive(w, e.Name); err != nil {
						return err
					}
					continue
				}
			}
			if !isMappingFile(e.Name) || e.Op == fsnotify.Chmod {
				continue
			}
			pending[e.Name] = struct{}{}
			timer.Reset(WatchDebounce)
		case <-timer.C:
			changed := make([]string, 0, len(pending))
			for p := range pending {
				changed = append(changed, p)
			}
			clear(pending)
			fn(changed)
		}
	}
}

func watchRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !de.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(de.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.Add(path); err != nil {
			return fmt.Errorf("mapping: watch %s: %w", path, err)
		}
		return nil
	})
}

func isMappingFile(name string) bool {
	switch {
	case strings.HasSuffix(name, "_test.go"):
		return false
	case strings.HasSuffix(name, ".go"), strings.HasSuffix(name, ".orm.yml"), strings.HasSuffix(name, ".orm.yaml"):
		return true
	}
	return false
}
