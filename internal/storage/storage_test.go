package storage

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bingarchiver/internal/hash"
	"bingarchiver/internal/index"
	"bingarchiver/internal/models"
	"bingarchiver/internal/testsupport"
)

func openStore(t *testing.T, folder string) *Store {
	t.Helper()
	store, err := Open(folder, zerolog.Nop())
	require.NoError(t, err)
	return store
}

// writeImage creates a real file so pruning keeps the entry.
func writeImage(t *testing.T, dir, name string, seed uint64) *models.ImageInfo {
	t.Helper()
	path := filepath.Join(dir, name)
	testsupport.WritePNG(t, path, testsupport.Blocks(32, 32, seed))
	info, err := hash.NewHasher().Inspect(path)
	require.NoError(t, err)
	return info
}

func TestOpen_CreatesDatabase(t *testing.T) {
	dir := t.TempDir()
	store := openStore(t, dir)
	defer store.Close()

	assert.FileExists(t, filepath.Join(dir, IndexFileName))
	assert.Equal(t, filepath.Join(dir, IndexFileName), store.Path())
	assert.True(t, IsStoreFile(IndexFileName))
	assert.True(t, IsStoreFile(LockFileName))
	assert.False(t, IsStoreFile("a.jpg"))
}

func TestOpen_Locked(t *testing.T) {
	dir := t.TempDir()
	store := openStore(t, dir)

	_, err := Open(dir, zerolog.Nop())
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, store.Close())
	again := openStore(t, dir)
	require.NoError(t, again.Close())
}

func TestIndexRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := openStore(t, dir)

	idx := index.New()
	for i, name := range []string{"c.png", "a.png", "b.png"} {
		require.NoError(t, idx.Put(writeImage(t, dir, name, uint64(i+1))))
	}
	require.NoError(t, store.SaveIndex(idx))
	require.NoError(t, store.Close())

	store = openStore(t, dir)
	defer store.Close()
	loaded := store.LoadIndex()

	want := idx.Entries()
	got := loaded.Entries()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Path, got[i].Path, "insertion order must survive")
		assert.Equal(t, want[i].Fingerprint.GetHash(), got[i].Fingerprint.GetHash())
		assert.Equal(t, want[i].Fingerprint.Bits(), got[i].Fingerprint.Bits())
		assert.Equal(t, want[i].Width, got[i].Width)
		assert.Equal(t, want[i].Height, got[i].Height)
		assert.Equal(t, want[i].Format, got[i].Format)
		assert.Equal(t, want[i].FileSize, got[i].FileSize)
		assert.Equal(t, want[i].HasExif, got[i].HasExif)
		assert.True(t, want[i].ModTime.Equal(got[i].ModTime))
	}
}

func TestSaveIndex_Replaces(t *testing.T) {
	dir := t.TempDir()
	store := openStore(t, dir)
	defer store.Close()

	idx := index.New()
	require.NoError(t, idx.Put(writeImage(t, dir, "a.png", 1)))
	require.NoError(t, idx.Put(writeImage(t, dir, "b.png", 2)))
	require.NoError(t, store.SaveIndex(idx))

	idx.Prune(func(path string) bool { return filepath.Base(path) != "a.png" })
	require.NoError(t, store.SaveIndex(idx))

	loaded := store.LoadIndex()
	assert.Equal(t, 1, loaded.Len())
	assert.True(t, loaded.Has(filepath.Join(dir, "b.png")))
}

func paths(idx *index.Index) []string {
	var out []string
	for _, e := range idx.Entries() {
		out = append(out, filepath.Base(e.Path))
	}
	return out
}

func TestSaveIndex_WritesOnlyChanges(t *testing.T) {
	dir := t.TempDir()
	store := openStore(t, dir)
	defer store.Close()

	idx := index.New()
	for i, name := range []string{"a.png", "b.png", "c.png"} {
		require.NoError(t, idx.Put(writeImage(t, dir, name, uint64(i+1))))
	}
	require.NoError(t, store.SaveIndex(idx))

	// Rows that did not change are not rewritten, so this edit survives the next save
	_, err := store.db.Exec(`UPDATE images SET width = 999 WHERE path = ?`, filepath.Join(dir, "b.png"))
	require.NoError(t, err)

	require.NoError(t, idx.Put(writeImage(t, dir, "d.png", 4)))
	require.NoError(t, store.SaveIndex(idx))

	loaded := store.LoadIndex()
	assert.Equal(t, []string{"a.png", "b.png", "c.png", "d.png"}, paths(loaded))
	b, ok := loaded.Get(filepath.Join(dir, "b.png"))
	require.True(t, ok)
	assert.Equal(t, 999, b.Width)
}

func TestSaveIndex_OverwriteKeepsPosition(t *testing.T) {
	dir := t.TempDir()
	store := openStore(t, dir)

	idx := index.New()
	require.NoError(t, idx.Put(writeImage(t, dir, "a.png", 1)))
	require.NoError(t, idx.Put(writeImage(t, dir, "b.png", 2)))
	require.NoError(t, store.SaveIndex(idx))

	idx.Prune(func(path string) bool { return filepath.Base(path) != "a.png" })
	require.NoError(t, idx.Put(writeImage(t, dir, "c.png", 3)))
	replaced := writeImage(t, dir, "b.png", 5)
	require.NoError(t, idx.Put(replaced))
	require.NoError(t, store.SaveIndex(idx))
	require.NoError(t, store.Close())

	store = openStore(t, dir)
	defer store.Close()
	loaded := store.LoadIndex()
	assert.Equal(t, []string{"b.png", "c.png"}, paths(loaded))
	b, ok := loaded.Get(replaced.Path)
	require.True(t, ok)
	assert.Equal(t, replaced.Fingerprint.GetHash(), b.Fingerprint.GetHash())
}

func TestSaveIndex_WithoutLoad(t *testing.T) {
	dir := t.TempDir()
	store := openStore(t, dir)
	a := writeImage(t, dir, "a.png", 1)
	b := writeImage(t, dir, "b.png", 2)

	idx := index.New()
	require.NoError(t, idx.Put(a))
	require.NoError(t, idx.Put(b))
	require.NoError(t, store.SaveIndex(idx))
	require.NoError(t, store.Close())

	// A new store that never loaded the table saves an index in the opposite order
	store = openStore(t, dir)
	defer store.Close()
	reversed := index.New()
	require.NoError(t, reversed.Put(b))
	require.NoError(t, reversed.Put(a))
	require.NoError(t, store.SaveIndex(reversed))

	assert.Equal(t, []string{"b.png", "a.png"}, paths(store.LoadIndex()))
}

func TestLoadIndex_Empty(t *testing.T) {
	store := openStore(t, t.TempDir())
	defer store.Close()

	assert.Equal(t, 0, store.LoadIndex().Len())
}

func TestOpen_CorruptDatabase(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, IndexFileName)
	require.NoError(t, os.WriteFile(dbPath, bytes.Repeat([]byte("not a database "), 200), 0o644))

	store := openStore(t, dir)
	defer store.Close()

	assert.Equal(t, 0, store.LoadIndex().Len())
	assert.FileExists(t, dbPath+".corrupt")

	idx := index.New()
	require.NoError(t, idx.Put(writeImage(t, dir, "a.png", 1)))
	require.NoError(t, store.SaveIndex(idx))
	assert.Equal(t, 1, store.LoadIndex().Len())
}

func TestLoadIndex_DropsBadFingerprint(t *testing.T) {
	dir := t.TempDir()
	store := openStore(t, dir)
	defer store.Close()

	idx := index.New()
	good := writeImage(t, dir, "a.png", 1)
	require.NoError(t, idx.Put(good))
	require.NoError(t, store.SaveIndex(idx))

	_, err := store.db.Exec(`INSERT INTO images (seq, path, fingerprint, width, height, format, file_size, mod_time, has_exif)
		VALUES (5, '/x.png', 'garbage', 1, 1, 'png', 1, '', 0)`)
	require.NoError(t, err)

	loaded := store.LoadIndex()
	assert.Equal(t, 1, loaded.Len())
	assert.True(t, loaded.Has(good.Path))

	// The next save clears the dropped row
	require.NoError(t, store.SaveIndex(loaded))
	var count int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM images`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestLastScannedDate(t *testing.T) {
	store := openStore(t, t.TempDir())
	defer store.Close()

	_, ok, err := store.LastScannedDate()
	require.NoError(t, err)
	assert.False(t, ok)

	day := time.Date(2014, 10, 8, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.SetLastScannedDate(day))
	require.NoError(t, store.SetLastScannedDate(day.AddDate(0, 0, 1)))

	got, ok, err := store.LastScannedDate()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2014-10-09", got.Format(time.DateOnly))
}

func TestRecordRun(t *testing.T) {
	store := openStore(t, t.TempDir())
	defer store.Close()

	start := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	for i := 1; i <= 3; i++ {
		require.NoError(t, store.RecordRun(&models.Report{
			RunID:      string(rune('0' + i)),
			Folder:     "/photos",
			StartedAt:  start,
			FinishedAt: start.Add(time.Minute),
			Scanned:    10 * i,
			Kept:       i,
			Duplicates: 1,
			Mismatches: 2,
			Errors:     3,
		}))
	}

	runs, err := store.RecentRuns(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "3", runs[0].RunID)
	assert.Equal(t, 30, runs[0].Scanned)
	assert.Equal(t, 3, runs[0].Errors)
	assert.True(t, start.Equal(runs[0].StartedAt))
	assert.Equal(t, "2", runs[1].RunID)

	all, err := store.RecentRuns(0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMigrations(t *testing.T) {
	dir := t.TempDir()
	store := openStore(t, dir)
	assert.Equal(t, schemaVersion, store.getSchemaVersion())
	require.NoError(t, store.Close())

	// Reopen - should not fail
	store2 := openStore(t, dir)
	defer store2.Close()
	assert.Equal(t, schemaVersion, store2.getSchemaVersion())
}
