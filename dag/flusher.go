package dag

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sys/unix"
)

// sema is a binary counting semaphore built on semaphore.Weighted, matching
// the POSIX sem_init(&s, 0, 0)/sem_post/sem_wait/sem_trywait vocabulary the
// flush handoff is modeled on. golang.org/x/sync is promoted to direct use
// here instead of hand-rolling the same thing on top of a channel.
type sema struct {
	w *semaphore.Weighted
}

func newSema() *sema {
	s := &sema{w: semaphore.NewWeighted(1)}
	// Start at value 0: immediately consume the single unit of weight so
	// the first wait() blocks until a post().
	_ = s.w.Acquire(context.Background(), 1)
	return s
}

func (s *sema) post() {
	s.w.Release(1)
}

func (s *sema) wait(ctx context.Context) error {
	return s.w.Acquire(ctx, 1)
}

func (s *sema) tryWait() bool {
	return s.w.TryAcquire(1)
}

// flusher is the single background worker: idle -> flushing -> done -> idle,
// signaled by the start/done semaphores, with pending_blocks owned entirely
// by the coordinator (the flusher never reads or writes it).
type flusher struct {
	fd      *os.File
	start   *sema
	done    *sema
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
	log     *logrus.Entry
}

func newFlusher(fd *os.File, log *logrus.Entry) *flusher {
	ctx, cancel := context.WithCancel(context.Background())
	f := &flusher{
		fd:      fd,
		start:   newSema(),
		done:    newSema(),
		ctx:     ctx,
		cancel:  cancel,
		stopped: make(chan struct{}),
		log:     log,
	}
	go f.run()
	return f
}

func (f *flusher) run() {
	defer close(f.stopped)
	for {
		// The only permitted cancellation point: blocked waiting for a
		// flush to be requested. Once a flush has started it always runs
		// to completion.
		if err := f.start.wait(f.ctx); err != nil {
			return
		}
		if err := unix.Fdatasync(int(f.fd.Fd())); err != nil {
			// A data-sync failure is fatal because metadata
			// advancement is conditioned on it; without it the next write
			// cycle cannot make progress, and there is no in-band retry.
			f.log.WithError(err).Fatal("dag: fdatasync failed, flush task cannot continue")
		}
		f.done.post()
	}
}

// kick posts the start signal, requesting a flush.
func (f *flusher) kick() {
	f.start.post()
}

// pollDone is sem_trywait(sem_done): returns true if a flush has completed
// since the last pollDone/waitDone.
func (f *flusher) pollDone() bool {
	return f.done.tryWait()
}

// waitDone blocks until the in-flight flush completes.
func (f *flusher) waitDone() {
	// The coordinator only calls this when it knows a flush is in flight on
	// its own single-writer thread, so the background context can't have
	// been canceled yet; errors here would only come from Deinit racing a
	// synchronous overflow wait, which the single-writer contract forbids (no
	// concurrent Deinit).
	_ = f.done.wait(context.Background())
}

// teardown cancels the flusher and joins it. Cancellation only takes effect
// while the flusher is parked in the idle wait state: a flush that has
// already started runs its fdatasync to completion before the goroutine
// exits, so teardown may block for one in-flight sync. Guard.Deinit calls
// teardown without first waiting for a pending flush.
func (f *flusher) teardown() {
	f.cancel()
	<-f.stopped
}
