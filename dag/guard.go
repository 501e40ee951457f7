package dag

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"duraguard/metrics"
	"duraguard/ring"
)

// Guard is the write/recover coordinator: the public API that orchestrates
// append-to-file, mirror-to-ring, buffer_end advancement, flusher kickoff,
// and post-crash replay.
//
// Concurrency: one Guard serves exactly one writer goroutine, which owns the
// mmap'd staging region exclusively; the background flusher only ever reads
// the target file descriptor. No lock is required because every metadata
// update the writer makes is a single aligned nvmem store, and the only
// thing the flusher touches concurrently is the read-only fdatasync call on
// the file descriptor.
type Guard struct {
	file *os.File

	capacity      uint64
	durableLength uint64
	pendingBlocks uint64

	buf     *ring.Ring
	meta    *meta
	mapped  []byte
	ringBuf []byte

	fl      *flusher
	log     *logrus.Entry
	metrics *metrics.Set
}

// Option customizes Init beyond the parameters passed positionally (fd,
// staging path, capacity, reset).
type Option func(*options)

type options struct {
	log     *logrus.Entry
	metrics *metrics.Set
}

// WithLogger attaches a logrus entry used for diagnostics, replacing the
// package default (logrus.StandardLogger() with a "component":"dag" field).
func WithLogger(log *logrus.Entry) Option {
	return func(o *options) { o.log = log }
}

// WithMetrics attaches a Prometheus metrics.Set. A nil Set (the default)
// disables instrumentation entirely.
func WithMetrics(m *metrics.Set) Option {
	return func(o *options) { o.metrics = m }
}

// Init opens or creates the staging file, maps it, and either resets it to
// fresh metadata or validates and replays existing state.
func Init(fd *os.File, stagingDir, stagingName string, stagingBytes uint64, reset bool, opts ...Option) (*Guard, error) {
	if fd == nil {
		return nil, ErrInvalidFD
	}
	cfg := options{log: logrus.WithField("component", "dag")}
	for _, o := range opts {
		o(&cfg)
	}

	blockCount := stagingBytes / BLOCK
	if blockCount < minBlocks || blockCount > maxBlocks {
		return nil, errors.Wrapf(ErrCapacityRange, "stagingBytes=%d", stagingBytes)
	}
	capacity := blockCount * BLOCK
	stagingFileSize := int64(2*8 + capacity)

	path := filepath.Join(stagingDir, stagingName)
	existed, stagingFile, err := openStaging(path, stagingFileSize)
	if err != nil {
		return nil, err
	}
	defer stagingFile.Close()

	mapped, err := unix.Mmap(int(stagingFile.Fd()), 0, int(stagingFileSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrap(err, "dag: mmap staging file")
	}

	g := &Guard{
		file:     fd,
		capacity: capacity,
		meta:     newMeta(mapped),
		mapped:   mapped,
		ringBuf:  mapped[16:],
		log:      cfg.log,
		metrics:  cfg.metrics,
	}

	targetStat, err := fd.Stat()
	if err != nil {
		unix.Munmap(mapped)
		return nil, errors.Wrap(err, "dag: stat target file")
	}

	if existed && !reset {
		if err := g.recover(targetStat.Size()); err != nil {
			unix.Munmap(mapped)
			return nil, err
		}
	} else {
		g.durableLength = uint64(targetStat.Size())
		g.buf = ring.New(capacity, 0, 0)
		g.meta.storeMixed(g.durableLength, 0)
		g.meta.storeEnd(0)
	}

	g.fl = newFlusher(fd, cfg.log)
	g.updateMetrics()
	return g, nil
}

// openStaging opens the staging file at path, creating and sizing it if
// absent, and reports whether it already existed. A pre-existing file whose
// size doesn't match the expected 16+capacity layout is reported broken
// rather than silently reinterpreted.
func openStaging(path string, wantSize int64) (existed bool, f *os.File, err error) {
	st, statErr := os.Stat(path)
	existed = statErr == nil
	if existed && st.Size() != wantSize {
		return true, nil, errors.Wrapf(ErrBroken, "staging file %q has size %d, want %d", path, st.Size(), wantSize)
	}

	f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return existed, nil, errors.Wrapf(err, "dag: open staging file %q", path)
	}
	if !existed {
		if err := f.Truncate(wantSize); err != nil {
			f.Close()
			return existed, nil, errors.Wrapf(err, "dag: truncate staging file %q", path)
		}
	}
	return existed, f, nil
}

// recover validates previously-persisted metadata and replays whatever was
// staged-but-unsynced back onto the target file.
func (g *Guard) recover(targetSize int64) error {
	durableLength, start := g.meta.loadMixed()
	if start >= g.capacity {
		return errors.Wrapf(ErrBroken, "start=%d >= capacity=%d", start, g.capacity)
	}
	bufEnd := g.meta.loadEnd()
	if bufEnd >= g.capacity {
		return errors.Wrapf(ErrBroken, "buffer_end=%d >= capacity=%d", bufEnd, g.capacity)
	}

	var length uint64
	if bufEnd >= start {
		length = bufEnd - start
	} else {
		length = g.capacity + bufEnd - start
	}

	if uint64(targetSize) < durableLength {
		return errors.Wrapf(ErrTargetBroken, "target size=%d < durable_length=%d", targetSize, durableLength)
	}
	if uint64(targetSize) > durableLength {
		if err := g.file.Truncate(int64(durableLength)); err != nil {
			return errors.Wrap(err, "dag: truncate target file during recovery")
		}
	}
	if _, err := g.file.Seek(int64(durableLength), io.SeekStart); err != nil {
		return errors.Wrap(err, "dag: seek target file during recovery")
	}

	if err := g.replay(start, length); err != nil {
		return err
	}

	g.durableLength = durableLength
	g.buf = ring.New(g.capacity, start, length)
	return nil
}

// replay writes the ring bytes [start, start+length) (mod capacity) back to
// the target file with ordinary appends. No data-sync is issued here;
// durability of replayed bytes is only re-established once the first
// post-replay flush cycle completes. This is a known, accepted window on
// the tail end of durability after a reopen, not a bug.
func (g *Guard) replay(start, length uint64) error {
	if length == 0 {
		return nil
	}
	if start+length <= g.capacity {
		if _, err := g.file.Write(g.ringBuf[start : start+length]); err != nil {
			return errors.Wrap(err, "dag: replay write")
		}
		return nil
	}
	frontSz := g.capacity - start
	if _, err := g.file.Write(g.ringBuf[start : start+frontSz]); err != nil {
		return errors.Wrap(err, "dag: replay write (front)")
	}
	backSz := length - frontSz
	if _, err := g.file.Write(g.ringBuf[:backSz]); err != nil {
		return errors.Wrap(err, "dag: replay write (back)")
	}
	return nil
}

// Write appends data to the logical stream as a single atomic unit: either
// the whole of data is durable-eventually via staging, or Write returns an
// error before anything is written.
func (g *Guard) Write(data []byte) error {
	n := uint64(len(data))

	g.handleFlushIfDone()

	if g.buf.Len()+n > g.capacity {
		if (g.buf.Len()%BLOCK)+n > g.capacity {
			return errors.Wrapf(ErrTooLarge, "len=%d exceeds worst-case room in capacity=%d", n, g.capacity)
		}
		if g.pendingBlocks > 0 {
			g.fl.waitDone()
			g.advanceAfterFlush(g.pendingBlocks)
			g.pendingBlocks = 0
		}
		if g.buf.Len()+n > g.capacity {
			if err := g.syncNow(); err != nil {
				return err
			}
		}
	}

	if _, err := g.file.Write(data); err != nil {
		return errors.Wrap(err, "dag: append write")
	}

	g.buf.Mirror(g.ringBuf, data)
	g.buf.Grow(n)
	g.meta.storeEnd(g.buf.End())

	if g.buf.Len() >= BLOCK && g.pendingBlocks == 0 {
		g.pendingBlocks = g.buf.Len() / BLOCK
		g.fl.kick()
	}

	g.updateMetrics()
	return nil
}

// handleFlushIfDone is the non-blocking poll at the top of every Write:
// if a previously kicked-off flush has completed, fold its result into
// durable_length/start before deciding whether this write needs to block.
func (g *Guard) handleFlushIfDone() {
	if g.pendingBlocks == 0 {
		return
	}
	if g.fl.pollDone() {
		g.advanceAfterFlush(g.pendingBlocks)
		g.pendingBlocks = 0
	}
}

// syncNow performs the synchronous overflow-path fdatasync: when even
// waiting for the in-flight flush didn't free enough room, sync directly
// and advance by every whole BLOCK currently staged; the sub-BLOCK
// remainder stays staged.
func (g *Guard) syncNow() error {
	if err := unix.Fdatasync(int(g.file.Fd())); err != nil {
		return errors.Wrap(err, "dag: synchronous fdatasync")
	}
	g.advanceAfterFlush(g.buf.Len() / BLOCK)
	return nil
}

// advanceAfterFlush folds a completed flush of blockCount blocks into the
// durable watermark: advance start, shrink len, grow durable_length, and
// persist the mixed cell in one store so the two always change together.
func (g *Guard) advanceAfterFlush(blockCount uint64) {
	if blockCount == 0 {
		return
	}
	flushSize := blockCount * BLOCK
	g.buf.AdvanceStart(flushSize)
	g.durableLength += flushSize
	g.meta.storeMixed(g.durableLength, g.buf.Start())
	if g.metrics != nil {
		g.metrics.FlushesTotal.Inc()
	}
}

// WaitPendingFlush blocks until any in-flight flush completes and folds its
// result into the durable watermark, instead of waiting for the next Write
// to observe it via the non-blocking poll. Not part of the minimal write
// contract, but a natural addition for callers that want an explicit sync
// barrier (e.g. before reporting a batch as committed) without waiting for
// another byte to write.
func (g *Guard) WaitPendingFlush() {
	if g.pendingBlocks == 0 {
		return
	}
	g.fl.waitDone()
	g.advanceAfterFlush(g.pendingBlocks)
	g.pendingBlocks = 0
	g.updateMetrics()
}

// DurableLength returns the number of bytes of the target file confirmed
// durable by fdatasync.
func (g *Guard) DurableLength() uint64 { return g.durableLength }

// StagedLength returns the number of bytes currently mirrored in the
// staging ring but not yet confirmed durable.
func (g *Guard) StagedLength() uint64 { return g.buf.Len() }

// RingStart returns the ring-relative start offset of the staged region.
func (g *Guard) RingStart() uint64 { return g.buf.Start() }

// BufferEnd returns the ring offset just past the most recently mirrored
// byte.
func (g *Guard) BufferEnd() uint64 { return g.buf.End() }

// Deinit cancels and joins the flusher and unmaps the staging region. There
// is no implicit final sync: whatever remains staged is replayed on the next
// Init.
func (g *Guard) Deinit() error {
	g.fl.teardown()
	if err := unix.Munmap(g.mapped); err != nil {
		return errors.Wrap(err, "dag: munmap staging file")
	}
	return nil
}

func (g *Guard) updateMetrics() {
	if g.metrics == nil {
		return
	}
	g.metrics.DurableLength.Set(float64(g.durableLength))
	g.metrics.StagedLength.Set(float64(g.buf.Len()))
	g.metrics.PendingBlocks.Set(float64(g.pendingBlocks))
}

// String implements fmt.Stringer for diagnostics/log fields.
func (g *Guard) String() string {
	return fmt.Sprintf("dag.Guard{durable=%d staged=%d start=%d capacity=%d}",
		g.durableLength, g.buf.Len(), g.buf.Start(), g.capacity)
}
