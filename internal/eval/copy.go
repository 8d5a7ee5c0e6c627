package eval

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/scarfbench/scarf/internal/errs"
)

// excluded names are skipped at the top level of a framework tree only.
var excluded = map[string]struct{}{
	"smoke.py":      {},
	"smoke":         {},
	"Makefile":      {},
	".dockerignore": {},
	"Dockerfile":    {},
}

// Excluded reports whether a top-level entry of a framework tree is left
// out of snapshots.
func Excluded(name string) bool {
	_, ok := excluded[name]
	return ok
}

// CopySnapshot copies appDir/framework/ into dest, skipping the excluded
// names at the top level. Files already in dest that are not part of the
// snapshot are kept; files that are get overwritten.
func CopySnapshot(appDir, framework, dest string) error {
	src := filepath.Join(appDir, framework)
	info, err := os.Stat(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return errs.NotFoundf("framework dir %s", src)
		}
		return errs.IO(err, "reading %s", src)
	}
	if !info.IsDir() {
		return errs.NotFoundf("framework dir %s is not a directory", src)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return errs.IO(err, "creating %s", dest)
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return errs.IO(err, "reading %s", src)
	}
	for _, e := range entries {
		if Excluded(e.Name()) {
			slog.Debug("skipping excluded entry", "path", filepath.Join(src, e.Name()))
			continue
		}
		if err := copyEntry(filepath.Join(src, e.Name()), filepath.Join(dest, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyEntry(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return errs.IO(err, "reading %s", src)
	}
	switch mode := info.Mode(); {
	case mode&fs.ModeSymlink != 0:
		target, err := os.Readlink(src)
		if err != nil {
			return errs.IO(err, "reading link %s", src)
		}
		if err := removeIfExists(dst); err != nil {
			return err
		}
		if err := os.Symlink(target, dst); err != nil {
			return errs.IO(err, "linking %s", dst)
		}
	case mode.IsDir():
		if err := os.MkdirAll(dst, mode.Perm()|0o700); err != nil {
			return errs.IO(err, "creating %s", dst)
		}
		entries, err := os.ReadDir(src)
		if err != nil {
			return errs.IO(err, "reading %s", src)
		}
		for _, e := range entries {
			if err := copyEntry(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
				return err
			}
		}
	case mode.IsRegular():
		return copyFile(src, dst, mode.Perm())
	default:
		slog.Debug("skipping special file", "path", src, "mode", mode)
	}
	return nil
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return errs.IO(err, "opening %s", src)
	}
	defer in.Close()

	// Remove first so a read-only copy from an earlier run can be replaced.
	if err := removeIfExists(dst); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return errs.IO(err, "creating %s", dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errs.IO(err, "copying %s", src)
	}
	if err := out.Close(); err != nil {
		return errs.IO(err, "writing %s", dst)
	}
	return nil
}

func removeIfExists(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return errs.IO(err, "reading %s", path)
	}
	if info.IsDir() {
		return errs.IO(errors.New("is a directory"), "replacing %s", path)
	}
	if err := os.Remove(path); err != nil {
		return errs.IO(err, "replacing %s", path)
	}
	return nil
}
