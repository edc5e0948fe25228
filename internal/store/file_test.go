package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFileBackend(t *testing.T) *FileBackend {
	t.Helper()
	b, err := NewFileBackend(filepath.Join(t.TempDir(), "records"), nil)
	require.NoError(t, err)
	return b
}

func TestFileBackend_Contract(t *testing.T) {
	testBackendContract(t, newTestFileBackend(t))
}

func TestNewFileBackend_RequiresDir(t *testing.T) {
	_, err := NewFileBackend("", nil)
	assert.Error(t, err)
}

func TestFileBackend_Path(t *testing.T) {
	b := newTestFileBackend(t)

	p := b.Path("login_a/b")
	assert.Equal(t, b.Dir(), filepath.Dir(p))
	assert.Equal(t, "login_a_b.json", filepath.Base(p))
}

func TestFileBackend_SetLeavesNoTempFiles(t *testing.T) {
	b := newTestFileBackend(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Set(ctx, "k", []byte("v")))
	}

	entries, err := os.ReadDir(b.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "k.json", entries[0].Name())
}

func TestFileBackend_Cleanup(t *testing.T) {
	b := newTestFileBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "old", []byte("1")))
	require.NoError(t, b.Set(ctx, "fresh", []byte("2")))

	stale := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(b.Path("old"), stale, stale))

	tmp := filepath.Join(b.Dir(), tmpPrefix+"abandoned")
	require.NoError(t, os.WriteFile(tmp, []byte("partial"), 0o600))
	require.NoError(t, os.Chtimes(tmp, stale, stale))

	other := filepath.Join(b.Dir(), "notes.txt")
	require.NoError(t, os.WriteFile(other, []byte("keep"), 0o600))
	require.NoError(t, os.Chtimes(other, stale, stale))

	removed, err := b.Cleanup(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = b.Get(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = b.Get(ctx, "fresh")
	assert.NoError(t, err)

	assert.NoFileExists(t, tmp)
	assert.FileExists(t, other)
}

func TestFileBackend_CancelledContext(t *testing.T) {
	b := newTestFileBackend(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, b.Set(ctx, "k", []byte("v")), context.Canceled)
	_, err := b.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, b.Delete(ctx, "k"), context.Canceled)
}

func TestFileBackend_PingMissingDir(t *testing.T) {
	b := newTestFileBackend(t)
	require.NoError(t, os.RemoveAll(b.Dir()))

	assert.Error(t, b.Ping(context.Background()))
}
