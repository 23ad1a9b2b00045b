// pkg/extract/archive.go - unpacks the bundled runtime archive into the install target.

package extract

import (
	"archive/tar"
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/windowsadmins/lexsetup/pkg/logging"
)

// Format identifies an archive codec.
type Format int

const (
	FormatUnknown Format = iota
	FormatZip
	FormatTar
	FormatTarGz
	FormatTarZst
)

func (f Format) String() string {
	switch f {
	case FormatZip:
		return "zip"
	case FormatTar:
		return "tar"
	case FormatTarGz:
		return "tar.gz"
	case FormatTarZst:
		return "tar.zst"
	default:
		return "unknown"
	}
}

// ErrUnsafePath is returned for entries that would land outside the
// destination directory.
var ErrUnsafePath = errors.New("archive entry escapes destination")

// Options tune an extraction.
type Options struct {
	// StripSingleRoot moves the contents of a lone top-level directory up
	// into the destination.
	StripSingleRoot bool
	// OnEntry is called for each regular file written.
	OnEntry func(name string)
}

// DetectFormat picks the codec from the file name.
func DetectFormat(path string) Format {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return FormatZip
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FormatTarGz
	case strings.HasSuffix(lower, ".tar.zst"), strings.HasSuffix(lower, ".tzst"):
		return FormatTarZst
	case strings.HasSuffix(lower, ".tar"):
		return FormatTar
	default:
		return FormatUnknown
	}
}

// Archive unpacks src into dest, creating dest if needed. ctx is checked
// between entries.
func Archive(ctx context.Context, src, dest string, opts Options) error {
	format := DetectFormat(src)
	logging.Info("Extracting archive", "source", src, "destination", dest, "format", format)

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}

	var err error
	switch format {
	case FormatZip:
		err = extractZip(ctx, src, dest, opts)
	case FormatTar, FormatTarGz, FormatTarZst:
		err = extractTarFile(ctx, src, dest, format, opts)
	default:
		return fmt.Errorf("unsupported archive format: %s", filepath.Base(src))
	}
	if err != nil {
		return err
	}

	if opts.StripSingleRoot {
		if err := stripSingleRoot(dest); err != nil {
			return fmt.Errorf("flattening %s: %w", dest, err)
		}
	}
	return verifySymlinks(dest)
}

// entryPath resolves an entry name under dest and refuses names whose
// parent directories already exist on disk as symlinks.
func entryPath(dest, name string) (string, error) {
	target, err := safeJoin(dest, name)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(dest, filepath.Dir(target))
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	if rel == "." {
		return target, nil
	}
	cur := dest
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		cur = filepath.Join(cur, part)
		fi, err := os.Lstat(cur)
		if errors.Is(err, fs.ErrNotExist) {
			break
		}
		if err != nil {
			return "", err
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			return "", fmt.Errorf("%w: %s passes through symlink %s", ErrUnsafePath, name, cur)
		}
	}
	return target, nil
}

// safeJoin resolves an archive entry name under dest.
func safeJoin(dest, name string) (string, error) {
	name = strings.ReplaceAll(name, `\`, "/")
	if strings.HasPrefix(name, "/") || filepath.VolumeName(name) != "" {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	target := filepath.Join(dest, filepath.FromSlash(name))
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return target, nil
}

func extractZip(ctx context.Context, src, dest string, opts Options) error {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		target, err := entryPath(dest, f.Name)
		if err != nil {
			return err
		}
		mode := f.Mode()

		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case mode&os.ModeSymlink != 0:
			rc, err := f.Open()
			if err != nil {
				return err
			}
			linkTarget, err := io.ReadAll(io.LimitReader(rc, 4096))
			rc.Close()
			if err != nil {
				return err
			}
			if err := writeSymlink(dest, target, string(linkTarget)); err != nil {
				return err
			}
		default:
			rc, err := f.Open()
			if err != nil {
				return fmt.Errorf("reading %s from archive: %w", f.Name, err)
			}
			err = writeFile(target, rc, mode.Perm())
			rc.Close()
			if err != nil {
				return err
			}
			if opts.OnEntry != nil {
				opts.OnEntry(f.Name)
			}
		}
	}
	return nil
}

func extractTarFile(ctx context.Context, src, dest string, format Format, opts Options) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer f.Close()

	var r io.Reader = f
	switch format {
	case FormatTarGz:
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("reading gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	case FormatTarZst:
		zr, err := zstd.NewReader(f)
		if err != nil {
			return fmt.Errorf("reading zstd stream: %w", err)
		}
		defer zr.Close()
		r = zr
	}
	return extractTar(ctx, r, dest, opts)
}

func extractTar(ctx context.Context, r io.Reader, dest string, opts Options) error {
	tr := tar.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading tar entry: %w", err)
		}

		target, err := entryPath(dest, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, os.FileMode(hdr.Mode).Perm()); err != nil {
				return err
			}
			if opts.OnEntry != nil {
				opts.OnEntry(hdr.Name)
			}
		case tar.TypeSymlink:
			if err := writeSymlink(dest, target, hdr.Linkname); err != nil {
				return err
			}
		case tar.TypeLink:
			source, err := entryPath(dest, hdr.Linkname)
			if err != nil {
				return err
			}
			if fi, err := os.Lstat(source); err == nil && fi.Mode()&os.ModeSymlink != 0 {
				return fmt.Errorf("%w: hard link %s to symlink %s", ErrUnsafePath, hdr.Name, hdr.Linkname)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.Link(source, target); err != nil {
				return fmt.Errorf("linking %s: %w", hdr.Name, err)
			}
		default:
			logging.Debug("Skipping unsupported tar entry", "name", hdr.Name, "type", hdr.Typeflag)
		}
	}
}

func writeFile(target string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	if perm == 0 {
		perm = 0o644
	}
	// never write through a link left by an earlier entry
	if fi, err := os.Lstat(target); err == nil && fi.Mode()&os.ModeSymlink != 0 {
		if err := os.Remove(target); err != nil {
			return err
		}
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0o200)
	if err != nil {
		return fmt.Errorf("creating %s: %w", target, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("writing %s: %w", target, err)
	}
	return out.Close()
}

// writeSymlink creates target -> link, refusing links that resolve outside dest.
func writeSymlink(dest, target, link string) error {
	if filepath.IsAbs(link) || filepath.VolumeName(link) != "" || !resolvesInside(dest, filepath.Dir(target), link) {
		return fmt.Errorf("%w: symlink %s -> %s", ErrUnsafePath, target, link)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	_ = os.Remove(target)
	return os.Symlink(link, target)
}

// resolvesInside walks link from dir one component at a time, following
// symlinks already on disk, and reports whether every step stays in dest.
func resolvesInside(dest, dir, link string) bool {
	parts := splitLink(link)
	cur := dir
	hops := 0
	for len(parts) > 0 {
		part := parts[0]
		parts = parts[1:]
		switch part {
		case ".":
			continue
		case "..":
			cur = filepath.Dir(cur)
			if !within(dest, cur) {
				return false
			}
			continue
		}
		next := filepath.Join(cur, part)
		fi, err := os.Lstat(next)
		if err == nil && fi.Mode()&os.ModeSymlink != 0 {
			hops++
			if hops > 40 {
				return false
			}
			inner, err := os.Readlink(next)
			if err != nil || filepath.IsAbs(inner) || filepath.VolumeName(inner) != "" {
				return false
			}
			parts = append(splitLink(inner), parts...)
			continue
		}
		cur = next
		if !within(dest, cur) {
			return false
		}
	}
	return true
}

func splitLink(link string) []string {
	return strings.FieldsFunc(link, func(r rune) bool { return r == '/' || r == '\\' })
}

func within(dest, path string) bool {
	rel, err := filepath.Rel(dest, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// verifySymlinks re-checks every link once all entries are written, since a
// later entry can change what an earlier link resolves to.
func verifySymlinks(dest string) error {
	return filepath.WalkDir(dest, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type()&fs.ModeSymlink == 0 {
			return nil
		}
		link, err := os.Readlink(path)
		if err != nil {
			return err
		}
		if filepath.IsAbs(link) || !resolvesInside(dest, filepath.Dir(path), link) {
			return fmt.Errorf("%w: symlink %s -> %s", ErrUnsafePath, path, link)
		}
		return nil
	})
}

// stripSingleRoot flattens dest/<root>/... into dest/... when root is the
// only entry.
func stripSingleRoot(dest string) error {
	entries, err := os.ReadDir(dest)
	if err != nil {
		return err
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		return nil
	}

	// rename first so a child sharing the root's name cannot collide
	root := filepath.Join(dest, entries[0].Name())
	staging := filepath.Join(dest, ".extract-root")
	if err := os.Rename(root, staging); err != nil {
		return err
	}

	children, err := os.ReadDir(staging)
	if err != nil {
		return err
	}
	for _, c := range children {
		if err := os.Rename(filepath.Join(staging, c.Name()), filepath.Join(dest, c.Name())); err != nil {
			return err
		}
	}
	logging.Debug("Flattened single top-level directory", "root", entries[0].Name(), "destination", dest)
	return os.Remove(staging)
}
