// pkg/environment/copy.go - copies application source and bundled binaries into the target.

package environment

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var excludedSourceDirs = map[string]bool{
	"__pycache__":   true,
	".pytest_cache": true,
	".mypy_cache":   true,
}

var excludedSourceExts = map[string]bool{
	".pyc": true,
	".pyo": true,
}

func excludedFromSource(name string, isDir bool) bool {
	if isDir {
		return excludedSourceDirs[name]
	}
	return excludedSourceExts[strings.ToLower(filepath.Ext(name))]
}

// copyTree copies src into dst, skipping entries for which skip returns true.
// It returns the number of files written.
func copyTree(src, dst string, skip func(name string, isDir bool) bool) (int, error) {
	files := 0
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, werr error) error {
		if werr != nil {
			return werr
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel != "." && skip != nil && skip(d.Name(), d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		target := filepath.Join(dst, rel)
		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o755)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			_ = os.Remove(target)
			return os.Symlink(link, target)
		default:
			info, err := d.Info()
			if err != nil {
				return err
			}
			if _, err := copyFile(path, target, info.Mode().Perm()); err != nil {
				return err
			}
			files++
			return nil
		}
	})
	return files, err
}

// copyFile from src to dst
func copyFile(src, dst string, perm os.FileMode) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0o200)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	n, err := io.Copy(out, in)
	if err != nil {
		return 0, fmt.Errorf("copying %s: %w", src, err)
	}
	return n, out.Sync()
}

// sameFile reports whether a and b name the same existing file.
func sameFile(a, b string) bool {
	ai, err := os.Stat(a)
	if err != nil {
		return false
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ai, bi)
}
