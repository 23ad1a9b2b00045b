package extract

import (
	"archive/tar"
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	name string
	body string
	dir  bool
	link string
}

func writeZip(t *testing.T, path string, entries []entry) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, e := range entries {
		if e.dir {
			_, err := zw.Create(e.name + "/")
			require.NoError(t, err)
			continue
		}
		w, err := zw.Create(e.name)
		require.NoError(t, err)
		_, err = io.WriteString(w, e.body)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}

func writeTar(t *testing.T, w io.Writer, entries []entry) {
	t.Helper()
	tw := tar.NewWriter(w)
	for _, e := range entries {
		switch {
		case e.dir:
			require.NoError(t, tw.WriteHeader(&tar.Header{Name: e.name + "/", Typeflag: tar.TypeDir, Mode: 0o755}))
		case e.link != "":
			require.NoError(t, tw.WriteHeader(&tar.Header{Name: e.name, Typeflag: tar.TypeSymlink, Linkname: e.link, Mode: 0o777}))
		default:
			require.NoError(t, tw.WriteHeader(&tar.Header{Name: e.name, Typeflag: tar.TypeReg, Mode: 0o755, Size: int64(len(e.body))}))
			_, err := io.WriteString(tw, e.body)
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
}

func writeTarGz(t *testing.T, path string, entries []entry) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	gz := gzip.NewWriter(f)
	writeTar(t, gz, entries)
	require.NoError(t, gz.Close())
}

func writeTarZst(t *testing.T, path string, entries []entry) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	zw, err := zstd.NewWriter(f)
	require.NoError(t, err)
	writeTar(t, zw, entries)
	require.NoError(t, zw.Close())
}

var runtimeEntries = []entry{
	{name: "python", dir: true},
	{name: "python/python.exe", body: "binary"},
	{name: "python/python312._pth", body: "python312.zip\n.\n#import site\n"},
	{name: "python/Lib/os.py", body: "# os"},
}

func TestArchiveFormats(t *testing.T) {
	testMatrix := []struct {
		name  string
		file  string
		write func(*testing.T, string, []entry)
	}{
		{name: "zip", file: "runtime.zip", write: writeZip},
		{name: "tar.gz", file: "runtime.tar.gz", write: writeTarGz},
		{name: "tgz", file: "runtime.tgz", write: writeTarGz},
		{name: "tar.zst", file: "runtime.tar.zst", write: writeTarZst},
	}

	for _, tc := range testMatrix {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			src := filepath.Join(dir, tc.file)
			tc.write(t, src, runtimeEntries)

			dest := filepath.Join(dir, "out")
			var seen []string
			err := Archive(context.Background(), src, dest, Options{
				StripSingleRoot: true,
				OnEntry:         func(name string) { seen = append(seen, name) },
			})
			require.NoError(t, err)

			assert.FileExists(t, filepath.Join(dest, "python.exe"))
			assert.FileExists(t, filepath.Join(dest, "python312._pth"))
			assert.FileExists(t, filepath.Join(dest, "Lib", "os.py"))
			assert.NoDirExists(t, filepath.Join(dest, "python"))
			assert.Len(t, seen, 3)
		})
	}
}

func TestArchiveWithoutStripKeepsRoot(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "runtime.zip")
	writeZip(t, src, runtimeEntries)

	dest := filepath.Join(dir, "out")
	require.NoError(t, Archive(context.Background(), src, dest, Options{}))
	assert.FileExists(t, filepath.Join(dest, "python", "python.exe"))
}

func TestStripSingleRootWithSameNamedChild(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "runtime.tar.gz")
	writeTarGz(t, src, []entry{
		{name: "python/python", dir: true},
		{name: "python/python/lib.py", body: "x"},
		{name: "python/README", body: "readme"},
	})

	dest := filepath.Join(dir, "out")
	require.NoError(t, Archive(context.Background(), src, dest, Options{StripSingleRoot: true}))
	assert.FileExists(t, filepath.Join(dest, "python", "lib.py"))
	assert.FileExists(t, filepath.Join(dest, "README"))
}

func TestArchiveRejectsEscapingEntries(t *testing.T) {
	testMatrix := []struct {
		name    string
		entries []entry
	}{
		{name: "parent traversal", entries: []entry{{name: "../evil.txt", body: "x"}}},
		{name: "nested traversal", entries: []entry{{name: "ok/../../evil.txt", body: "x"}}},
		{name: "absolute symlink", entries: []entry{{name: "link", link: "/etc/passwd"}}},
		{name: "escaping symlink", entries: []entry{{name: "a/link", link: "../../outside"}}},
	}

	for _, tc := range testMatrix {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			src := filepath.Join(dir, "bad.tar.gz")
			writeTarGz(t, src, tc.entries)

			err := Archive(context.Background(), src, filepath.Join(dir, "out"), Options{})
			assert.ErrorIs(t, err, ErrUnsafePath)
			assert.NoFileExists(t, filepath.Join(dir, "evil.txt"))
		})
	}
}

func TestArchiveRejectsSymlinkChains(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need elevated rights on Windows")
	}
	testMatrix := []struct {
		name    string
		entries []entry
	}{
		{name: "write through linked parent", entries: []entry{
			{name: "a", link: "."},
			{name: "a/b", link: ".."},
			{name: "b/evil.txt", body: "x"},
		}},
		{name: "link resolved through earlier link", entries: []entry{
			{name: "a", link: "."},
			{name: "c", link: "a/../evil.txt"},
		}},
		{name: "earlier link redirected by later one", entries: []entry{
			{name: "c", link: "a/../evil.txt"},
			{name: "a", link: "."},
		}},
	}

	for _, tc := range testMatrix {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			src := filepath.Join(dir, "bad.tar")
			f, err := os.Create(src)
			require.NoError(t, err)
			writeTar(t, f, tc.entries)
			require.NoError(t, f.Close())

			err = Archive(context.Background(), src, filepath.Join(dir, "out"), Options{})
			assert.ErrorIs(t, err, ErrUnsafePath)
			assert.NoFileExists(t, filepath.Join(dir, "evil.txt"))
		})
	}
}

func TestArchiveReplacesLinkWithRegularFile(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need elevated rights on Windows")
	}
	dir := t.TempDir()
	src := filepath.Join(dir, "runtime.tar")
	f, err := os.Create(src)
	require.NoError(t, err)
	writeTar(t, f, []entry{
		{name: "target.txt", body: "original"},
		{name: "alias", link: "target.txt"},
		{name: "alias", body: "replacement"},
	})
	require.NoError(t, f.Close())

	dest := filepath.Join(dir, "out")
	require.NoError(t, Archive(context.Background(), src, dest, Options{}))

	got, err := os.ReadFile(filepath.Join(dest, "target.txt"))
	require.NoError(t, err)
	assert.Equal(t, "original", string(got))
	fi, err := os.Lstat(filepath.Join(dest, "alias"))
	require.NoError(t, err)
	assert.True(t, fi.Mode().IsRegular())
}

func TestArchiveSymlinkInsideDestination(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need elevated rights on Windows")
	}
	dir := t.TempDir()
	src := filepath.Join(dir, "runtime.tar.zst")
	writeTarZst(t, src, []entry{
		{name: "bin/python3.12", body: "binary"},
		{name: "bin/python3", link: "python3.12"},
	})

	dest := filepath.Join(dir, "out")
	require.NoError(t, Archive(context.Background(), src, dest, Options{}))

	target, err := os.Readlink(filepath.Join(dest, "bin", "python3"))
	require.NoError(t, err)
	assert.Equal(t, "python3.12", target)
}

func TestArchiveUnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "runtime.rar")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	err := Archive(context.Background(), src, filepath.Join(dir, "out"), Options{})
	assert.ErrorContains(t, err, "unsupported archive format")
}

func TestArchiveHonoursCancellation(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "runtime.zip")
	writeZip(t, src, runtimeEntries)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Archive(ctx, src, filepath.Join(dir, "out"), Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, FormatZip, DetectFormat("A.ZIP"))
	assert.Equal(t, FormatTarGz, DetectFormat("x.tgz"))
	assert.Equal(t, FormatTarZst, DetectFormat("x.tar.zst"))
	assert.Equal(t, FormatTar, DetectFormat("x.tar"))
	assert.Equal(t, FormatUnknown, DetectFormat("x.7z"))
}
