package dag_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"duraguard/dag"
)

func openTarget(t *testing.T, path string) *os.File {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func readAll(t *testing.T, path string) []byte {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return b
}

// A fresh guard, single small write, clean shutdown, reopen.
// The write never reaches BLOCK, so it's never flushed; on reopen it must be
// replayed byte-for-byte onto the target file.
func TestFreshGuardSingleWriteReplaysOnReopen(t *testing.T) {
	dir := t.TempDir()
	targetPath := filepath.Join(dir, "target.aof")
	fd := openTarget(t, targetPath)

	g, err := dag.Init(fd, dir, "staging.ring", 2*dag.BLOCK, false)
	require.NoError(t, err)
	require.NoError(t, g.Write([]byte("HELLO")))
	require.EqualValues(t, 0, g.DurableLength(), "nothing flushed yet")
	require.EqualValues(t, 5, g.StagedLength())
	require.NoError(t, g.Deinit())
	fd.Close()

	fd2 := openTarget(t, targetPath)
	g2, err := dag.Init(fd2, dir, "staging.ring", 2*dag.BLOCK, false)
	require.NoError(t, err)
	defer g2.Deinit()

	require.Equal(t, []byte("HELLO"), readAll(t, targetPath))
	require.EqualValues(t, 0, g2.DurableLength())
	require.EqualValues(t, 5, g2.StagedLength())
}

// A write that fills exactly one BLOCK kicks off a flush;
// WaitPendingFlush folds the completed flush into the durable watermark,
// advancing it and the ring start by a whole BLOCK, and the next write is
// staged after it.
func TestFlushCycleAdvancesDurableLength(t *testing.T) {
	dir := t.TempDir()
	targetPath := filepath.Join(dir, "target.aof")
	fd := openTarget(t, targetPath)

	g, err := dag.Init(fd, dir, "staging.ring", 4*dag.BLOCK, false)
	require.NoError(t, err)
	defer g.Deinit()

	payload := bytes.Repeat([]byte{0x41}, dag.BLOCK)
	require.NoError(t, g.Write(payload))

	g.WaitPendingFlush()

	require.EqualValues(t, dag.BLOCK, g.DurableLength())
	require.EqualValues(t, dag.BLOCK, g.RingStart())
	require.EqualValues(t, 0, g.StagedLength())

	require.NoError(t, g.Write([]byte{0x42}))
	require.EqualValues(t, 1, g.StagedLength())
	require.EqualValues(t, dag.BLOCK+1, g.BufferEnd())

	want := append(append([]byte{}, payload...), 0x42)
	require.Equal(t, want, readAll(t, targetPath))
}

// A write whose worst-case wrap-around footprint exceeds
// capacity is rejected outright, before touching the target file.
func TestOversizedWriteRejected(t *testing.T) {
	dir := t.TempDir()
	targetPath := filepath.Join(dir, "target.aof")
	fd := openTarget(t, targetPath)

	g, err := dag.Init(fd, dir, "staging.ring", 2*dag.BLOCK, false)
	require.NoError(t, err)
	defer g.Deinit()

	huge := make([]byte, 2*dag.BLOCK+1)
	require.Error(t, g.Write(huge))
	require.EqualValues(t, 0, g.StagedLength())
	require.Empty(t, readAll(t, targetPath))
}

func TestCapacityOutOfRangeRejected(t *testing.T) {
	dir := t.TempDir()
	targetPath := filepath.Join(dir, "target.aof")
	fd := openTarget(t, targetPath)

	_, err := dag.Init(fd, dir, "staging.ring", dag.BLOCK, false)
	require.ErrorIs(t, err, dag.ErrCapacityRange)
}
