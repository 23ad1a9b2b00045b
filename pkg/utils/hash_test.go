package utils

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sha256("hello\n")
const helloSHA = "5891b5b522d5df086d0ff0b110fbd9d21bb4fc7163af34d08286a2e846f6be03"

func TestVerifySHA256(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(path, []byte("hello\n"), 0o644))

	testMatrix := []struct {
		name     string
		expected string
		mismatch bool
	}{
		{name: "empty skips", expected: ""},
		{name: "match", expected: helloSHA},
		{name: "case insensitive", expected: "5891B5B522D5DF086D0FF0B110FBD9D21BB4FC7163AF34D08286A2E846F6BE03"},
		{name: "mismatch", expected: "00", mismatch: true},
	}

	for _, tc := range testMatrix {
		t.Run(tc.name, func(t *testing.T) {
			err := VerifySHA256(path, tc.expected)
			if !tc.mismatch {
				assert.NoError(t, err)
				return
			}
			var mismatch *ChecksumMismatchError
			require.True(t, errors.As(err, &mismatch))
			assert.Equal(t, helloSHA, mismatch.Actual)
		})
	}
}

func TestVerifySHA256MissingFile(t *testing.T) {
	err := VerifySHA256(filepath.Join(t.TempDir(), "missing"), helloSHA)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
