package hasher

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	for algo, want := range map[string]string{"": "sha256", "sha256": "sha256", "blake3": "blake3"} {
		h, err := New(algo)
		require.NoError(t, err, "algorithm %q", algo)
		assert.Equal(t, want, h.Name())
	}

	_, err := New("md5")
	assert.Error(t, err)
}

func TestSHA256KnownDigest(t *testing.T) {
	h, err := New("sha256")
	require.NoError(t, err)
	// Fixed vector: sha256("abc").
	assert.Equal(t,
		"ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		h.HashBytes([]byte("abc")))
}

func TestHashFileMatchesHashBytes(t *testing.T) {
	for _, algo := range []string{"sha256", "blake3"} {
		t.Run(algo, func(t *testing.T) {
			h, err := New(algo)
			require.NoError(t, err)

			content := []byte("some document content\nwith two lines\n")
			path := filepath.Join(t.TempDir(), "doc.md")
			require.NoError(t, os.WriteFile(path, content, 0o644))

			digest, size, err := h.HashFile(path)
			require.NoError(t, err)
			assert.Equal(t, int64(len(content)), size)
			assert.Equal(t, h.HashBytes(content), digest)
			assert.Len(t, digest, 64)
		})
	}
}

func TestHashFileMissing(t *testing.T) {
	h, err := New("sha256")
	require.NoError(t, err)
	_, _, err = h.HashFile(filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)
}

func TestAlgorithmsDisagree(t *testing.T) {
	sha, _ := New("sha256")
	b3, _ := New("blake3")
	assert.NotEqual(t, sha.HashBytes([]byte("x")), b3.HashBytes([]byte("x")))
}
