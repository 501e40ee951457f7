package dag_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"duraguard/dag"
)

// A write crosses a BLOCK boundary, kicking off a flush,
// but the process goes away before that flush is ever observed (no
// WaitPendingFlush, no further Write, no Deinit). On reopen, the staged
// bytes must still be recoverable from the ring even though pending_blocks
// was never folded into durable_length.
func TestRecoverAfterMirrorBeforeFlushObserved(t *testing.T) {
	dir := t.TempDir()
	targetPath := filepath.Join(dir, "target.aof")
	fd := openTarget(t, targetPath)

	g, err := dag.Init(fd, dir, "staging.ring", 4*dag.BLOCK, false)
	require.NoError(t, err)

	payload := bytes.Repeat([]byte{0x7A}, dag.BLOCK+dag.BLOCK/2)
	require.NoError(t, g.Write(payload))
	// Deliberately do not call WaitPendingFlush, Deinit, or close fd: this
	// stands in for the process disappearing mid-flush, with whatever the
	// flusher goroutine happens to have done (or not) left unobserved. The
	// fd and its flusher are simply abandoned, as they would be on a real
	// crash — explicitly closing fd here would let the still-running
	// flusher's fdatasync race a closed descriptor for no test benefit.

	fd2 := openTarget(t, targetPath)
	g2, err := dag.Init(fd2, dir, "staging.ring", 4*dag.BLOCK, false)
	require.NoError(t, err)
	defer g2.Deinit()

	require.EqualValues(t, 0, g2.DurableLength())
	require.EqualValues(t, len(payload), g2.StagedLength())
	require.Equal(t, payload, readAll(t, targetPath))
}

// A staging file whose on-disk size doesn't match 16+capacity is reported as
// broken rather than silently reinterpreted.
func TestBrokenStagingSizeMismatch(t *testing.T) {
	dir := t.TempDir()
	targetPath := filepath.Join(dir, "target.aof")
	stagingPath := filepath.Join(dir, "staging.ring")

	fd := openTarget(t, targetPath)
	g, err := dag.Init(fd, dir, "staging.ring", 2*dag.BLOCK, false)
	require.NoError(t, err)
	require.NoError(t, g.Deinit())
	fd.Close()

	// Corrupt the staging file's size.
	require.NoError(t, os.Truncate(stagingPath, 1))

	fd2 := openTarget(t, targetPath)
	defer fd2.Close()
	_, err = dag.Init(fd2, dir, "staging.ring", 2*dag.BLOCK, false)
	require.ErrorIs(t, err, dag.ErrBroken)
}

// If the target file is shorter than the durable length recorded in staging
// metadata, recovery must fail rather than silently treat the missing bytes
// as never having existed.
func TestTargetShorterThanDurableLengthFails(t *testing.T) {
	dir := t.TempDir()
	targetPath := filepath.Join(dir, "target.aof")
	fd := openTarget(t, targetPath)

	g, err := dag.Init(fd, dir, "staging.ring", 4*dag.BLOCK, false)
	require.NoError(t, err)
	payload := bytes.Repeat([]byte{0x11}, dag.BLOCK)
	require.NoError(t, g.Write(payload))
	g.WaitPendingFlush()
	require.EqualValues(t, dag.BLOCK, g.DurableLength())
	require.NoError(t, g.Deinit())
	fd.Close()

	// Truncate the target file out from under the recorded durable length,
	// simulating a target file that lost bytes it should never have lost.
	require.NoError(t, os.Truncate(targetPath, dag.BLOCK/2))

	fd2 := openTarget(t, targetPath)
	defer fd2.Close()
	_, err = dag.Init(fd2, dir, "staging.ring", 4*dag.BLOCK, false)
	require.ErrorIs(t, err, dag.ErrTargetBroken)
}

// reset=true discards any recoverable staging state and starts fresh against
// whatever the target file currently contains.
func TestResetDiscardsRecoverableState(t *testing.T) {
	dir := t.TempDir()
	targetPath := filepath.Join(dir, "target.aof")
	fd := openTarget(t, targetPath)

	g, err := dag.Init(fd, dir, "staging.ring", 2*dag.BLOCK, false)
	require.NoError(t, err)
	require.NoError(t, g.Write([]byte("stale")))
	fd.Close()

	fd2 := openTarget(t, targetPath)
	defer fd2.Close()
	g2, err := dag.Init(fd2, dir, "staging.ring", 2*dag.BLOCK, true)
	require.NoError(t, err)
	defer g2.Deinit()

	require.EqualValues(t, 0, g2.StagedLength())
	require.EqualValues(t, len("stale"), g2.DurableLength())
}
