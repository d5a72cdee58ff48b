package untar

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func makeArchive(t *testing.T, entries map[string]string) *bytes.Buffer {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for name, content := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Typeflag: tar.TypeReg,
			Mode:     0644,
			Size:     int64(len(content)),
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}

	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return &buf
}

func TestExtract(t *testing.T) {
	dest := t.TempDir()
	archive := makeArchive(t, map[string]string{
		"pkg/README":     "hello",
		"pkg/src/main.c": "int main() { return 0; }",
		"pkg/configure":  "#!/bin/sh",
	})

	require.NoError(t, Extract(archive, dest))

	data, err := os.ReadFile(filepath.Join(dest, "pkg", "README"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))

	_, err = os.Stat(filepath.Join(dest, "pkg", "src", "main.c"))
	require.NoError(t, err)
}

func TestExtractRejectsEscape(t *testing.T) {
	dest := t.TempDir()
	archive := makeArchive(t, map[string]string{
		"../evil": "oops",
	})

	err := Extract(archive, dest)
	require.Error(t, err)
	require.Contains(t, err.Error(), "escapes destination")
}

func TestExtractBadStream(t *testing.T) {
	err := Extract(bytes.NewReader([]byte("not a gzip stream")), t.TempDir())
	require.Error(t, err)
}
