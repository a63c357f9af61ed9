package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "b.pdf"), "b")
	touch(t, filepath.Join(root, "a.PDF"), "a")
	touch(t, filepath.Join(root, "notes.txt"), "n")
	touch(t, filepath.Join(root, "sub", "c.pdf"), "c")
	touch(t, filepath.Join(root, ".hidden", "d.pdf"), "d")
	touch(t, filepath.Join(root, ".e.pdf"), "e")

	got, stats, err := Discover(root, true)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "a.PDF"),
		filepath.Join(root, "b.pdf"),
		filepath.Join(root, "sub", "c.pdf"),
	}, got)
	assert.Equal(t, uint32(3), stats.Matched)
	assert.Equal(t, uint32(4), stats.Scanned)

	all, _, err := Discover(root, false)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestDiscover_Errors(t *testing.T) {
	_, _, err := Discover("  ", false)
	assert.Error(t, err)
	_, _, err = Discover(filepath.Join(t.TempDir(), "missing"), false)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestHashFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "x.pdf")
	touch(t, p, "abc")
	sum, err := HashFile(p)
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", sum)
}

func recv(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(3 * time.Second):
		t.Fatal("no watch event")
		return ""
	}
}

func TestWatch_InitialScanAndNewFiles(t *testing.T) {
	root := t.TempDir()
	existing := filepath.Join(root, "old.pdf")
	touch(t, existing, "old")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, _, err := Watch(ctx, WatchConfig{Roots: []string{root}, InitialScan: true, Debounce: 50 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, existing, recv(t, events))

	fresh := filepath.Join(root, "new.pdf")
	touch(t, fresh, "new")
	touch(t, filepath.Join(root, "ignored.txt"), "x")
	assert.Equal(t, fresh, recv(t, events))

	// identical rewrite is not emitted again
	touch(t, fresh, "new")
	select {
	case p := <-events:
		t.Fatalf("unexpected event for %s", p)
	case <-time.After(200 * time.Millisecond):
	}

	cancel()
	require.Eventually(t, func() bool {
		_, ok := <-events
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatch_RequiresRoots(t *testing.T) {
	_, _, err := Watch(context.Background(), WatchConfig{})
	assert.Error(t, err)
}
