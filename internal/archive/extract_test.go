package archive

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
)

type entry struct {
	name string
	body string
	mode os.FileMode
}

// writeZip builds an archive from entries; names are written verbatim.
func writeZip(t *testing.T, entries ...entry) string {
	t.Helper()

	var buf bytes.Buffer

	w := zip.NewWriter(&buf)

	for _, e := range entries {
		header := &zip.FileHeader{Name: e.name, Method: zip.Deflate}
		if e.mode != 0 {
			header.SetMode(e.mode)
		}

		f, err := w.CreateHeader(header)
		require.NoError(t, err)

		_, err = f.Write([]byte(e.body))
		require.NoError(t, err)
	}

	require.NoError(t, w.Close())

	path := filepath.Join(t.TempDir(), "server.zip")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	return path
}

// TestExtract_Tree unpacks nested files and directories.
func TestExtract_Tree(t *testing.T) {
	t.Parallel()

	archivePath := writeZip(t,
		entry{name: "bedrock_server", body: "binary", mode: 0o755},
		entry{name: "server.properties", body: "level-name=Bedrock level"},
		entry{name: "behavior_packs/", mode: os.ModeDir | 0o755},
		entry{name: "behavior_packs/vanilla/manifest.json", body: "{}"},
		entry{name: "./resource_packs/a.json", body: "a"},
	)

	staging := filepath.Join(t.TempDir(), "staging")
	require.NoError(t, Extract(context.Background(), archivePath, staging))

	data, err := os.ReadFile(filepath.Join(staging, "bedrock_server"))
	require.NoError(t, err)
	require.Equal(t, "binary", string(data))

	info, err := os.Stat(filepath.Join(staging, "bedrock_server"))
	require.NoError(t, err)
	require.NotZero(t, info.Mode().Perm()&0o100, "executable bit survives")

	require.FileExists(t, filepath.Join(staging, "behavior_packs", "vanilla", "manifest.json"))
	require.FileExists(t, filepath.Join(staging, "resource_packs", "a.json"))
}

// TestExtract_RejectsTraversal fails the whole archive and writes nothing.
func TestExtract_RejectsTraversal(t *testing.T) {
	t.Parallel()

	for name, evil := range map[string]string{
		"parent":        "../evil.txt",
		"nested parent": "packs/../../evil.txt",
		"absolute":      "/tmp/evil.txt",
		"backslash":     `..\evil.txt`,
		"windows drive": "C:/evil.txt",
		"dot dot only":  "..",
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			archivePath := writeZip(t,
				entry{name: "bedrock_server", body: "binary"},
				entry{name: evil, body: "pwned"},
			)

			parent := t.TempDir()
			staging := filepath.Join(parent, "staging")

			err := Extract(context.Background(), archivePath, staging)

			var archiveErr *ArchiveError
			require.ErrorAs(t, err, &archiveErr)
			require.Equal(t, archivePath, archiveErr.Archive)

			require.NoFileExists(t, filepath.Join(parent, "evil.txt"))
			require.NoFileExists(t, filepath.Join(staging, "bedrock_server"), "nothing is extracted")
		})
	}
}

// TestExtract_NotAZip rejects arbitrary bytes.
func TestExtract_NotAZip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "server.zip")
	require.NoError(t, os.WriteFile(path, []byte("<html>maintenance</html>"), 0o600))

	err := Extract(context.Background(), path, t.TempDir())

	var archiveErr *ArchiveError
	require.ErrorAs(t, err, &archiveErr)
}

// TestExtract_Truncated rejects an archive cut in half.
func TestExtract_Truncated(t *testing.T) {
	t.Parallel()

	archivePath := writeZip(t, entry{name: "bedrock_server", body: string(bytes.Repeat([]byte("x"), 4096))})

	data, err := os.ReadFile(archivePath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(archivePath, data[:len(data)/2], 0o600))

	err = Extract(context.Background(), archivePath, t.TempDir())

	var archiveErr *ArchiveError
	require.ErrorAs(t, err, &archiveErr)
}

// TestExtract_Empty rejects an archive without files.
func TestExtract_Empty(t *testing.T) {
	t.Parallel()

	archivePath := writeZip(t, entry{name: "only-a-dir/", mode: os.ModeDir | 0o755})

	err := Extract(context.Background(), archivePath, t.TempDir())
	require.ErrorIs(t, err, ErrEmptyArchive)
}

// TestExtract_Symlink rejects symlink entries.
func TestExtract_Symlink(t *testing.T) {
	t.Parallel()

	archivePath := writeZip(t,
		entry{name: "bedrock_server", body: "binary"},
		entry{name: "link", body: "/etc/passwd", mode: os.ModeSymlink | 0o777},
	)

	err := Extract(context.Background(), archivePath, t.TempDir())
	require.ErrorIs(t, err, ErrUnsupportedEntry)
}

// TestStagedPath validates names directly.
func TestStagedPath(t *testing.T) {
	t.Parallel()

	root := t.TempDir()

	got, err := stagedPath(root, "a/b/../c.txt")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "a", "c.txt"), got)

	got, err = stagedPath(root, "./")
	require.NoError(t, err)
	require.Equal(t, root, got)

	for _, bad := range []string{"", "..", "../x", "a/../../x", "/x", `\x`, "c:x", `..\..\x`} {
		_, err = stagedPath(root, bad)
		require.ErrorIs(t, err, ErrPathEscapes, bad)
	}
}
