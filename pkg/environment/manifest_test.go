package environment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "requirements.txt")
	require.NoError(t, os.WriteFile(path, []byte(
		"# core\nspacy==3.7.2\n\n--extra-index-url https://example.invalid\nnumpy>=1.26  # pinned by spacy\n"), 0o644))

	reqs, err := ReadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"spacy==3.7.2", "numpy>=1.26"}, reqs)
}

func TestRequirementName(t *testing.T) {
	testMatrix := map[string]string{
		"pkgA":                       "pkgA",
		"spacy==3.7.2":               "spacy",
		"uvicorn[standard]>=0.20":    "uvicorn",
		"pywin32; sys_platform=='x'": "pywin32",
		"numpy (>=1.0)":              "numpy",
	}
	for in, want := range testMatrix {
		assert.Equal(t, want, RequirementName(in), in)
	}
}

func TestFailingPackage(t *testing.T) {
	testMatrix := []struct {
		name string
		tail []string
		want string
	}{
		{
			name: "no matching distribution",
			tail: []string{"Collecting pkgA", "ERROR: No matching distribution found for pkgB==1.0"},
			want: "pkgB",
		},
		{
			name: "wheel build failure",
			tail: []string{"Building wheel for cymem (pyproject.toml): started", "ERROR: Failed building wheel for cymem"},
			want: "cymem",
		},
		{
			name: "failed to build",
			tail: []string{"ERROR: Failed to build blis"},
			want: "blis",
		},
		{
			name: "falls back to last collecting line",
			tail: []string{"Collecting pkgA", "Collecting thinc<8.3,>=8.1", "ERROR: Could not install packages due to an OSError"},
			want: "thinc",
		},
		{
			name: "nothing recognisable",
			tail: []string{"Traceback (most recent call last):"},
			want: "",
		},
	}

	for _, tc := range testMatrix {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, FailingPackage(tc.tail))
		})
	}
}

func TestPatchSearchPathFile(t *testing.T) {
	testMatrix := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "embedded default",
			in:   "python312.zip\n.\n\n# Uncomment to run site.main() automatically\n#import site\n",
			want: "python312.zip\n.\n# Uncomment to run site.main() automatically\nLib/site-packages\n../app-src\nimport site\n",
		},
		{
			name: "already patched is stable",
			in:   "python312.zip\n.\nLib/site-packages\n../app-src\nimport site\n",
			want: "python312.zip\n.\nLib/site-packages\n../app-src\nimport site\n",
		},
		{
			name: "windows line endings and backslashes",
			in:   "python312.zip\r\n.\r\nLib\\site-packages\r\n",
			want: "python312.zip\r\n.\r\nLib\\site-packages\r\n../app-src\r\nimport site\r\n",
		},
	}

	for _, tc := range testMatrix {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, patchSearchPathFile(tc.in))
		})
	}
}

func TestPatchSearchPathsWithoutPthFiles(t *testing.T) {
	patched, err := PatchSearchPaths(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, patched)
}
