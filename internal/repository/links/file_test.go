package links

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/bedrock-up/internal/domain/release"
)

var errSimulatedCrash = errors.New("simulated crash before rename")

// TestFileRepository_LoadMissing returns an empty record for a missing file.
func TestFileRepository_LoadMissing(t *testing.T) {
	t.Parallel()

	repo := NewFileRepository(filepath.Join(t.TempDir(), "missing.json"))

	record := repo.Load(context.Background())
	require.NotNil(t, record)
	require.Empty(t, record.Links)

	_, ok := record.Identity(release.ChannelLinux)
	require.False(t, ok)
}

// TestFileRepository_LoadCorrupt treats unparsable content as an empty record.
func TestFileRepository_LoadCorrupt(t *testing.T) {
	t.Parallel()

	for name, body := range map[string]string{
		"garbage":      "{not json",
		"wrong shape":  `[1, 2, 3]`,
		"empty object": `{}`,
		"empty file":   ``,
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), "links.json")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

			record := NewFileRepository(path).Load(context.Background())
			require.Empty(t, record.Links)
		})
	}
}

// TestFileRepository_LoadDirectory treats an unreadable path as an empty record.
func TestFileRepository_LoadDirectory(t *testing.T) {
	t.Parallel()

	record := NewFileRepository(t.TempDir()).Load(context.Background())
	require.Empty(t, record.Links)
}

// TestFileRepository_LoadLegacy imports the raw catalog payload written by older versions.
func TestFileRepository_LoadLegacy(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "links.json")
	legacy := `{"result":{"links":[
		{"downloadType":"serverBedrockLinux","downloadUrl":"https://example.com/bedrock-server-1.21.40.03.zip"},
		{"downloadType":"serverJar","downloadUrl":""}
	]}}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o600))

	record := NewFileRepository(path).Load(context.Background())

	identity, ok := record.Identity(release.ChannelLinux)
	require.True(t, ok)
	require.Equal(t, "https://example.com/bedrock-server-1.21.40.03.zip", identity)

	_, ok = record.Identity(release.ChannelServerJar)
	require.False(t, ok)
}

// TestFileRepository_SaveLoad_Roundtrip ensures Save followed by Load returns an equal record.
func TestFileRepository_SaveLoad_Roundtrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "dir", "links.json")
	repo := NewFileRepository(path)

	want := NewRecord()
	want.Set(release.ChannelLinux, "https://example.com/a.zip")
	want.Set(release.ChannelPreviewWindows, "https://example.com/b.zip")

	require.NoError(t, repo.Save(context.Background(), want))

	got := repo.Load(context.Background())
	require.Equal(t, want, got)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temporary files are left behind")
}

// TestFileRepository_SaveFailure reports a PersistenceError when the directory cannot be created.
func TestFileRepository_SaveFailure(t *testing.T) {
	t.Parallel()

	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	repo := NewFileRepository(filepath.Join(blocker, "links.json"))

	err := repo.Save(context.Background(), NewRecord())

	var persistenceErr *PersistenceError
	require.ErrorAs(t, err, &persistenceErr)
	require.Equal(t, "create directory", persistenceErr.Op)
}

// TestFileRepository_CrashBeforeRename keeps the previous record intact.
func TestFileRepository_CrashBeforeRename(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "links.json")
	repo := NewFileRepository(path)

	old := NewRecord()
	old.Set(release.ChannelLinux, "https://example.com/old.zip")
	require.NoError(t, repo.Save(context.Background(), old))

	// The temp file is fully written, then the process "dies" before rename.
	var leftover string

	repo.rename = func(oldPath, _ string) error {
		data, err := os.ReadFile(oldPath)
		require.NoError(t, err)
		require.Contains(t, string(data), "new.zip")

		leftover = filepath.Join(dir, "crash-copy.tmp")
		require.NoError(t, os.WriteFile(leftover, data, 0o600))

		return errSimulatedCrash
	}

	updated := old.Clone()
	updated.Set(release.ChannelLinux, "https://example.com/new.zip")

	err := repo.Save(context.Background(), updated)
	require.ErrorIs(t, err, errSimulatedCrash)

	var persistenceErr *PersistenceError
	require.ErrorAs(t, err, &persistenceErr)
	require.Equal(t, "rename", persistenceErr.Op)

	// Readers still observe the complete old record despite the leftover temp data.
	repo.rename = os.Rename
	got := repo.Load(context.Background())
	require.Equal(t, old, got)
	require.FileExists(t, leftover)
}

// TestRecordClone does not share the map.
func TestRecordClone(t *testing.T) {
	t.Parallel()

	a := NewRecord()
	a.Set(release.ChannelWindows, "x")

	b := a.Clone()
	b.Set(release.ChannelWindows, "y")

	identity, _ := a.Identity(release.ChannelWindows)
	require.Equal(t, "x", identity)

	require.Empty(t, (*Record)(nil).Clone().Links)
}
