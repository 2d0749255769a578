package source

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T) *ClassificationCache {
	t.Helper()
	c, err := OpenClassificationCache(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCacheLifecycle(t *testing.T) {
	c := openTestCache(t)

	require.NoError(t, c.Load("subj-1"))
	_, ok := c.Get("histology")
	assert.False(t, ok, "fresh cache has no entries")

	c.Put("histology", "adenocarcinoma", "high")
	entry, ok := c.Get("histology")
	require.True(t, ok)
	assert.Equal(t, "adenocarcinoma", entry.Value)
	assert.Equal(t, "high", entry.Confidence)

	require.NoError(t, c.Flush())

	// A fresh load for the same subject sees the flushed entry.
	require.NoError(t, c.Load("subj-1"))
	entry, ok = c.Get("histology")
	require.True(t, ok)
	assert.Equal(t, "adenocarcinoma", entry.Value)
}

func TestUnflushedEntriesNotPersisted(t *testing.T) {
	c := openTestCache(t)

	require.NoError(t, c.Load("subj-1"))
	c.Put("histology", "adenocarcinoma", "high")
	// No Flush: reloading discards the in-memory write.
	require.NoError(t, c.Load("subj-1"))
	_, ok := c.Get("histology")
	assert.False(t, ok)
}

func TestCacheIsolatesSubjects(t *testing.T) {
	c := openTestCache(t)

	require.NoError(t, c.Load("subj-1"))
	c.Put("histology", "adenocarcinoma", "high")
	require.NoError(t, c.Flush())

	require.NoError(t, c.Load("subj-2"))
	_, ok := c.Get("histology")
	assert.False(t, ok, "entries must not leak across subjects")
}

func TestFlushWithNothingDirtyIsNoOp(t *testing.T) {
	c := openTestCache(t)
	require.NoError(t, c.Load("subj-1"))
	assert.NoError(t, c.Flush())
}

func TestPutOverwrites(t *testing.T) {
	c := openTestCache(t)
	require.NoError(t, c.Load("subj-1"))

	c.Put("histology", "adenocarcinoma", "low")
	c.Put("histology", "lobular carcinoma", "high")
	require.NoError(t, c.Flush())

	require.NoError(t, c.Load("subj-1"))
	entry, ok := c.Get("histology")
	require.True(t, ok)
	assert.Equal(t, "lobular carcinoma", entry.Value)
}
