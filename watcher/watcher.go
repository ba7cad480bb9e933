// Package watcher reports changes to files matching a set of glob patterns
// below a project root.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"golang.org/x/exp/slog"
)

// OnChange is called with the root-relative, slash-separated path of a
// changed file. Calls are not serialized: a burst of changes can produce
// overlapping calls.
type OnChange func(ctx context.Context, path string)

type Watcher struct {
	root    string
	include []string
	exclude []string
}

// New validates the patterns. Patterns use doublestar syntax and are relative
// to root.
func New(root string, include, exclude []string) (*Watcher, error) {
	for _, p := range append(append([]string(nil), include...), exclude...) {
		if !doublestar.ValidatePattern(p) {
			return nil, errors.Errorf("invalid watch pattern %q", p)
		}
	}
	if len(include) == 0 {
		return nil, errors.New("no watch patterns")
	}
	return &Watcher{root: root, include: include, exclude: exclude}, nil
}

// Matches reports whether the root-relative path is watched.
func (w *Watcher) Matches(path string) bool {
	for _, p := range w.exclude {
		if doublestar.MatchUnvalidated(p, path) {
			return false
		}
	}
	for _, p := range w.include {
		if doublestar.MatchUnvalidated(p, path) {
			return true
		}
	}
	return false
}

// bases returns the existing directories that have to be watched, i.e. the
// static prefixes of the include patterns.
func (w *Watcher) bases() []string {
	seen := map[string]bool{}
	var out []string
	for _, p := range w.include {
		base, _ := doublestar.SplitPattern(p)
		if !seen[base] {
			seen[base] = true
			out = append(out, base)
		}
	}
	sort.Strings(out)
	return out
}

// Run watches until ctx is done, calling onChange for every matching create,
// write, remove or rename. It waits for in-progress callbacks before
// returning.
func (w *Watcher) Run(ctx context.Context, onChange OnChange) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "error creating file watcher")
	}
	defer fw.Close()

	for _, base := range w.bases() {
		dir := filepath.Join(w.root, filepath.FromSlash(base))
		if _, err := os.Stat(dir); err != nil {
			slog.Warn("Not watching missing directory", "dir", dir)
			continue
		}
		if err := addTree(fw, dir); err != nil {
			return err
		}
	}
	slog.Info("Watching for changes", "root", w.root, "patterns", len(w.include))

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Error("File watcher error", "err", err)
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := addTree(fw, event.Name); err != nil {
						slog.Warn("Could not watch new directory", "dir", event.Name, "err", err)
					}
					continue
				}
			}
			rel, err := filepath.Rel(w.root, event.Name)
			if err != nil {
				continue
			}
			rel = filepath.ToSlash(rel)
			if !w.Matches(rel) {
				continue
			}
			slog.Debug("File changed", "path", rel, "op", event.Op.String())
			wg.Add(1)
			go func() {
				defer wg.Done()
				onChange(ctx, rel)
			}()
		}
	}
}

func addTree(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return errors.Wrapf(fw.Add(path), "error watching %q", path)
	})
}
