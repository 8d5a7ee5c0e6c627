// Package bench finds benchmark applications on disk.
//
// A benchmark application lives at benchmark/<layer>/<app>/<framework>/ and
// is recognised by a marker file (a Makefile) directly inside that
// directory.
package bench

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/scarfbench/scarf/internal/errs"
)

// Marker is the file that identifies a benchmarked application directory.
const Marker = "Makefile"

// Entry is one discovered layer/app/framework triple.
type Entry struct {
	Layer     string `json:"layer"`
	App       string `json:"app"`
	Framework string `json:"framework"`
	Path      string `json:"path"`
}

// Discover walks root and returns every directory that directly contains a
// regular file named marker. A symlinked root is resolved, but symlinks
// below it are not followed. Any traversal error fails the whole walk.
func Discover(root, marker string) ([]string, error) {
	if marker == "" {
		marker = Marker
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, errs.IO(err, "reading benchmark root %s", root)
	}
	if !info.IsDir() {
		return nil, errs.IO(fmt.Errorf("not a directory"), "reading benchmark root %s", root)
	}
	// WalkDir does not descend into a symlinked root, so walk its target
	// and report paths under root as given.
	walkRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, errs.IO(err, "resolving benchmark root %s", root)
	}

	seen := make(map[string]struct{})
	err = filepath.WalkDir(walkRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && d.Name() == marker {
			rel, err := filepath.Rel(walkRoot, filepath.Dir(path))
			if err != nil {
				return err
			}
			seen[filepath.Join(root, rel)] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, errs.IO(err, "walking %s", root)
	}

	dirs := make([]string, 0, len(seen))
	for dir := range seen {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	return dirs, nil
}

// BenchmarkRoot returns the benchmark directory inside a scarf checkout.
func BenchmarkRoot(repoRoot string) string {
	return filepath.Join(repoRoot, "benchmark")
}

// List discovers the applications under repoRoot/benchmark, optionally
// restricted to one layer. Marker directories that are not exactly
// layer/app/framework deep are ignored.
func List(repoRoot, layer, marker string) ([]Entry, error) {
	benchRoot := BenchmarkRoot(repoRoot)
	base := benchRoot
	if layer != "" {
		base = filepath.Join(benchRoot, layer)
	}
	dirs, err := Discover(base, marker)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, dir := range dirs {
		rel, err := filepath.Rel(benchRoot, dir)
		if err != nil {
			continue
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) != 3 {
			continue
		}
		entries = append(entries, Entry{
			Layer:     parts[0],
			App:       parts[1],
			Framework: parts[2],
			Path:      dir,
		})
	}
	return entries, nil
}

// Dirs returns the paths of the given entries.
func Dirs(entries []Entry) []string {
	dirs := make([]string, len(entries))
	for i, e := range entries {
		dirs[i] = e.Path
	}
	return dirs
}
