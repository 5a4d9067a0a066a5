package stash

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readSnapshot(t *testing.T, path string) map[string]any {
	t.Helper()
	buf, err := os.ReadFile(path)
	require.NoError(t, err)
	doc := make(map[string]any)
	require.NoError(t, json.Unmarshal(buf, &doc))
	return doc
}

func TestInitialSnapshotWritten(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stash.json")
	s, err := New(path, WithLogger(quietLogger()))
	require.NoError(t, err)
	defer s.Close()
	assert.Empty(t, readSnapshot(t, path))
}

func TestInitialDataSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stash.json")
	s, err := New(path,
		WithLogger(quietLogger()),
		WithInitialData(map[string]any{"motd": "welcome", "port": 8080}),
	)
	require.NoError(t, err)
	defer s.Close()

	val, ok := s.Get("motd")
	assert.True(t, ok)
	assert.Equal(t, "welcome", val)

	doc := readSnapshot(t, path)
	assert.Len(t, doc, 2)
	assert.Contains(t, doc, "motd")
	assert.Contains(t, doc, "port")
}

func TestInitialDataIgnoredWhenSnapshotExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stash.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"k": {"value": "disk"}}`), 0o644))
	s, err := New(path,
		WithLogger(quietLogger()),
		WithInitialData(map[string]any{"k": "seed"}),
	)
	require.NoError(t, err)
	defer s.Close()
	val, ok := s.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "disk", val)
}

func TestCorruptSnapshot(t *testing.T) {
	for name, content := range map[string]string{
		"not serialized":  "not json at all {{",
		"scalar toplevel": `42`,
		"bare value":      `{"k": 42}`,
		"missing value":   `{"k": {"expires": 123}}`,
		"bad expires":     `{"k": {"value": 1, "expires": "soon"}}`,
		"bad list item":   `{"k": [{"value": 1}, "oops"]}`,
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "stash.json")
			require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
			_, err := New(path, WithLogger(quietLogger()))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrCorruptSnapshot))
		})
	}
}

func TestNewFailsWhenDirectoryMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "no", "such", "dir", "stash.json")
	_, err := New(path, WithLogger(quietLogger()))
	assert.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stash.json")
	s, err := New(path, WithLogger(quietLogger()))
	require.NoError(t, err)
	s.Set("name", "gopher", NoExpiration)
	s.Set("count", 7, NoExpiration)
	s.Set("nested", map[string]any{"a": "b"}, NoExpiration)
	s.Set("fleeting", "gone", 10*time.Millisecond)
	s.Push("seq", "one", NoExpiration)
	s.Push("seq", "two", NoExpiration)
	require.NoError(t, s.Save())
	require.NoError(t, s.Close())

	time.Sleep(20 * time.Millisecond)
	reopened, err := New(path, WithLogger(quietLogger()))
	require.NoError(t, err)
	defer reopened.Close()

	val, ok := reopened.Get("name")
	assert.True(t, ok)
	assert.Equal(t, "gopher", val)
	val, ok = reopened.Get("count")
	assert.True(t, ok)
	assert.EqualValues(t, 7, val)
	val, ok = reopened.Get("nested")
	assert.True(t, ok)
	assert.Equal(t, map[string]any{"a": "b"}, val)
	_, ok = reopened.Get("fleeting")
	assert.False(t, ok)
	assert.Equal(t, []any{"one", "two"}, reopened.List("seq"))
}

func TestSweepOnSave(t *testing.T) {
	s := newTestStore(t, WithDebounce(time.Minute))
	s.Set("stale", 1, 10*time.Millisecond)
	s.Set("live", 2, NoExpiration)
	s.Push("mixed", "goes", 10*time.Millisecond)
	s.Push("mixed", "stays", NoExpiration)
	s.Push("doomed", "goes", 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Save())

	doc := readSnapshot(t, s.Path())
	assert.NotContains(t, doc, "stale")
	assert.NotContains(t, doc, "doomed")
	assert.Contains(t, doc, "live")
	mixed, ok := doc["mixed"].([]any)
	require.True(t, ok)
	require.Len(t, mixed, 1)
	entry, ok := mixed[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "stays", entry["value"])
}

func TestStaleEntriesKeptUntilSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stash.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"old": {"value": "x", "expires": 1}}`), 0o644))
	s, err := New(path, WithLogger(quietLogger()))
	require.NoError(t, err)
	defer s.Close()

	// Invisible to reads, but the snapshot is loaded verbatim.
	_, ok := s.Get("old")
	assert.False(t, ok)
	assert.Contains(t, readSnapshot(t, path), "old")

	require.NoError(t, s.Save())
	assert.NotContains(t, readSnapshot(t, path), "old")
}

func TestDebounceCoalescing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stash.json")
	s, err := New(path, WithLogger(quietLogger()), WithDebounce(50*time.Millisecond))
	require.NoError(t, err)
	defer s.Close()

	s.Set("a", 1, NoExpiration)
	s.Set("b", 2, NoExpiration)
	s.Set("c", 3, NoExpiration)

	// Nothing hits the disk before the debounce window elapses.
	assert.Empty(t, readSnapshot(t, path))

	assert.Eventually(t, func() bool {
		return len(readSnapshot(t, path)) == 3
	}, time.Second, 10*time.Millisecond)

	// The timer is one-shot: once fired, no further writes happen without
	// a new mutation.
	require.NoError(t, os.WriteFile(path, []byte("sentinel"), 0o644))
	time.Sleep(100 * time.Millisecond)
	buf, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "sentinel", string(buf))
}

func TestSaveCancelsPendingFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stash.json")
	s, err := New(path, WithLogger(quietLogger()), WithDebounce(50*time.Millisecond))
	require.NoError(t, err)
	defer s.Close()

	s.Set("a", 1, NoExpiration)
	require.NoError(t, s.Save())
	assert.Contains(t, readSnapshot(t, path), "a")

	// The scheduled write-back was disarmed; prove no second write lands.
	require.NoError(t, os.WriteFile(path, []byte("sentinel"), 0o644))
	time.Sleep(100 * time.Millisecond)
	buf, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "sentinel", string(buf))
}

func TestUnchangedSnapshotSkipsWrite(t *testing.T) {
	s := newTestStore(t, WithDebounce(time.Minute))
	s.Set("a", 1, NoExpiration)
	require.NoError(t, s.Save())

	// Same content hashes the same, so the second save leaves the file
	// alone entirely.
	require.NoError(t, os.WriteFile(s.Path(), []byte("sentinel"), 0o644))
	require.NoError(t, s.Save())
	buf, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, "sentinel", string(buf))
}

func TestCloseFlushesPending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stash.json")
	s, err := New(path, WithLogger(quietLogger()), WithDebounce(time.Minute))
	require.NoError(t, err)

	s.Set("a", 1, NoExpiration)
	assert.Empty(t, readSnapshot(t, path))
	require.NoError(t, s.Close())
	assert.Contains(t, readSnapshot(t, path), "a")
}

func TestCloseWithoutPendingWritesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stash.json")
	s, err := New(path, WithLogger(quietLogger()))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("sentinel"), 0o644))
	require.NoError(t, s.Close())
	buf, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "sentinel", string(buf))
}

func TestClosedStore(t *testing.T) {
	s := newTestStore(t)
	s.Set("kept", 1, NoExpiration)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	// Mutations are dropped, reads keep serving from memory.
	s.Set("dropped", 2, NoExpiration)
	_, ok := s.Get("dropped")
	assert.False(t, ok)
	val, ok := s.Get("kept")
	assert.True(t, ok)
	assert.Equal(t, 1, val)

	err := s.Save()
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestSerializationFailure(t *testing.T) {
	s := newTestStore(t, WithDebounce(time.Minute))
	s.Set("ok", 1, NoExpiration)
	require.NoError(t, s.Save())

	// Channels cannot be encoded. The save fails, the previous snapshot
	// stays intact, and the value stays readable in memory.
	s.Set("bad", make(chan int), NoExpiration)
	err := s.Save()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSerialization))
	assert.Contains(t, readSnapshot(t, s.Path()), "ok")
	assert.NotContains(t, readSnapshot(t, s.Path()), "bad")
	_, ok := s.Get("bad")
	assert.True(t, ok)
}
