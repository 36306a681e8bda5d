package profile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/craftd/internal/errdefs"
)

func openStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(dir, nil)
	require.NoError(t, err)
	return s
}

func TestOpenBootstrapsDefault(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)

	list := s.List()
	require.Len(t, list, 1)
	p := s.Current()
	assert.Equal(t, DefaultName, p.Name)
	assert.Equal(t, UnknownVersion, p.Version)
	assert.Equal(t, filepath.Join(dir, DefaultDirName), p.ServerDirectory)
	assert.Equal(t, filepath.Join(dir, DefaultDirName, ArtifactName), p.ServerJarPath)
	assert.Equal(t, "2G", p.MinMemory)
	assert.Equal(t, "4G", p.MaxMemory)
	assert.NotEmpty(t, p.ID)
	assert.DirExists(t, p.ServerDirectory)
	assert.FileExists(t, filepath.Join(dir, profilesFile))
	assert.FileExists(t, filepath.Join(dir, currentFile))
}

func TestCreateAndReload(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)
	p, err := s.Create("Survival: Hard", "1.20.4", "main world")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, NamedDirName, "Survival_ Hard"), p.ServerDirectory)
	assert.DirExists(t, p.ServerDirectory)
	require.NoError(t, s.SetCurrent(p.ID))

	again := openStore(t, dir)
	require.Len(t, again.List(), 2)
	assert.Equal(t, p.ID, again.Current().ID)
	assert.Equal(t, "1.20.4", again.Current().Version)
}

func TestCreateNeverSharesDirectories(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)
	def := s.Current()

	// "server" is the default profile's directory name.
	named, err := s.Create("server", "1.21.1", "")
	require.NoError(t, err)
	assert.NotEqual(t, def.ServerDirectory, named.ServerDirectory)
	assert.NotEqual(t, def.ServerJarPath, named.ServerJarPath)

	// both sanitize to a_b
	a, err := s.Create("a/b", "", "")
	require.NoError(t, err)
	b, err := s.Create("a_b", "", "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, NamedDirName, "a_b"), a.ServerDirectory)
	assert.Equal(t, filepath.Join(dir, NamedDirName, "a_b-2"), b.ServerDirectory)

	// a deleted profile keeps its directory, which is not handed out again
	require.NoError(t, s.Delete(a.ID))
	c, err := s.Create("a:b", "", "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, NamedDirName, "a_b-3"), c.ServerDirectory)

	seen := map[string]string{}
	for _, p := range s.List() {
		if other, ok := seen[p.ServerDirectory]; ok {
			t.Fatalf("%q and %q share %s", p.Name, other, p.ServerDirectory)
		}
		seen[p.ServerDirectory] = p.Name
	}
}

func TestCreateRejectsEmptyAndDuplicateNames(t *testing.T) {
	s := openStore(t, t.TempDir())
	_, err := s.Create("   ", "1.21", "")
	assert.ErrorIs(t, err, errdefs.ErrInvalidOperation)

	_, err = s.Create("default server", "1.21", "")
	assert.ErrorIs(t, err, errdefs.ErrInvalidOperation)
	assert.Len(t, s.List(), 1)
}

func TestDeleteLastProfileRejected(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)
	before, err := os.ReadFile(filepath.Join(dir, profilesFile))
	require.NoError(t, err)
	only := s.Current()

	err = s.Delete(only.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrLastProfile))
	assert.False(t, errors.Is(err, errdefs.ErrNotFound))

	after, err := os.ReadFile(filepath.Join(dir, profilesFile))
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, []Profile{only}, s.List())
}

func TestDeleteCurrentSwitchesAndKeepsDirectory(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)
	def := s.Current()
	p, err := s.Create("Creative", "1.21.1", "")
	require.NoError(t, err)
	require.NoError(t, s.SetCurrent(p.ID))

	require.NoError(t, s.Delete(p.ID))
	assert.Equal(t, def.ID, s.Current().ID)
	assert.DirExists(t, p.ServerDirectory)
	_, err = s.Get(p.ID)
	assert.ErrorIs(t, err, errdefs.ErrNotFound)

	assert.ErrorIs(t, s.Delete("missing"), errdefs.ErrNotFound)
}

func TestUpdate(t *testing.T) {
	s := openStore(t, t.TempDir())
	other, err := s.Create("Other", "1.19.4", "")
	require.NoError(t, err)

	p := s.Current()
	p.Name = "Renamed"
	p.Version = "1.21.1"
	p.MaxMemory = "8G"
	got, err := s.Update(p)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, "8G", got.MaxMemory)
	assert.Equal(t, "2G", got.MinMemory)
	assert.False(t, got.LastModified.Before(got.Created))

	p.Name = "OTHER"
	_, err = s.Update(p)
	assert.ErrorIs(t, err, errdefs.ErrInvalidOperation)

	other.MinMemory = "lots"
	_, err = s.Update(other)
	assert.ErrorIs(t, err, errdefs.ErrInvalidOperation)

	got, err = s.SetVersion(other.ID, "1.20.6")
	require.NoError(t, err)
	assert.Equal(t, "1.20.6", got.Version)
}

func TestFind(t *testing.T) {
	s := openStore(t, t.TempDir())
	p, err := s.Create("Modded", "1.20.1", "")
	require.NoError(t, err)

	byName, err := s.Find("modded")
	require.NoError(t, err)
	assert.Equal(t, p.ID, byName.ID)
	byID, err := s.Find(p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Modded", byID.Name)
	_, err = s.Find("nope")
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestCorruptListIsReplaced(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, profilesFile), []byte("{not json"), 0o644))
	s := openStore(t, dir)
	assert.Equal(t, DefaultName, s.Current().Name)
	assert.FileExists(t, filepath.Join(dir, profilesFile+".corrupt"))
}

func TestUnknownCurrentFallsBackToFirst(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)
	first := s.Current()
	_, err := s.Create("Second", "1.21", "")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, currentFile), []byte("gone\n"), 0o644))

	assert.Equal(t, first.ID, openStore(t, dir).Current().ID)
}

func TestSanitizeDirName(t *testing.T) {
	assert.Equal(t, "a_b_c", SanitizeDirName("a/b\\c"))
	assert.Equal(t, "My Server", SanitizeDirName("My Server..."))
	assert.Equal(t, "profile", SanitizeDirName(".."))
	assert.Equal(t, "profile", SanitizeDirName("???"))
}

func TestHeapFlags(t *testing.T) {
	assert.Equal(t, []string{"-Xms1G", "-Xmx6G"}, Profile{MinMemory: "1G", MaxMemory: "6G"}.HeapFlags())
	assert.Equal(t, []string{"-Xms2G", "-Xmx4G"}, Profile{MinMemory: "", MaxMemory: "-1"}.HeapFlags())
	assert.True(t, ValidMemory("512M"))
	assert.True(t, ValidMemory("1024"))
	assert.False(t, ValidMemory("0G"))
	assert.False(t, ValidMemory("2GB"))
}

func TestEULA(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, EULAAccepted(dir))
	require.NoError(t, os.WriteFile(filepath.Join(dir, eulaFile), []byte("eula=false\n"), 0o644))
	assert.False(t, EULAAccepted(dir))
	require.NoError(t, AcceptEULA(dir))
	assert.True(t, EULAAccepted(dir))
}

func TestResetWorldState(t *testing.T) {
	dir := t.TempDir()
	for _, d := range []string{"world", "world_nether", "World_the_end", "plugins"} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, d, "region"), 0o750))
	}
	for _, f := range []string{"eula.txt", "usercache.json", "server.properties", "worldlist.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte("x"), 0o644))
	}

	removed, err := ResetWorldState(dir)
	require.NoError(t, err)
	assert.Len(t, removed, 5)
	for _, gone := range []string{"world", "world_nether", "World_the_end", "eula.txt", "usercache.json"} {
		assert.NoFileExists(t, filepath.Join(dir, gone))
		assert.NoDirExists(t, filepath.Join(dir, gone))
	}
	assert.DirExists(t, filepath.Join(dir, "plugins"))
	assert.FileExists(t, filepath.Join(dir, "server.properties"))
	assert.FileExists(t, filepath.Join(dir, "worldlist.txt"))

	removed, err = ResetWorldState(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Empty(t, removed)
}
