package pra

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"duraguard/metrics"
)

// AllocFunc requests a slot of the given standardized size from the backing
// allocator and reports the offset it was placed at.
type AllocFunc func(stdSize uint64) (offset uint64, err error)

// FreeFunc releases the slot at offset back to the backing allocator.
type FreeFunc func(offset uint64) error

// StandardizeFunc maps a raw requested size to the backing allocator's size
// class for it.
type StandardizeFunc func(size uint64) (stdSize uint64, err error)

// PageAllocatableFunc reports whether the backing allocator is willing to
// hand out pageID at all (some pages are reserved for its own bookkeeping).
type PageAllocatableFunc func(pageID uint64) bool

// Config bundles the fixed region parameters and the callbacks into the
// backing allocator that New would otherwise take as a long positional
// argument list. Collapsing scalars and func-typed parameters into one
// struct follows the same constructor shape buildbarn/bb-storage uses for
// its storage backends.
type Config struct {
	TotalBytes   uint64
	PageBytes    uint64
	MaxSmallSize uint64

	Alloc             AllocFunc
	Free              FreeFunc
	StandardizeSize   StandardizeFunc
	IsPageAllocatable PageAllocatableFunc

	// BaseAddr is an opaque handle to the backing region, threaded through
	// untouched by Allocator itself; callbacks may close over it to
	// translate an offset into a real pointer.
	BaseAddr uintptr

	Logger  *logrus.Entry
	Metrics *metrics.AllocatorSet
}

// Allocator reconstructs a backing allocator's free-list state from a set
// of (offset, size) submissions. It is single-use: once Finish returns, the
// value must not be touched again.
type Allocator struct {
	cfg Config

	pageBytes      uint64
	pageCount      uint64
	highestTouched uint64
	pages          []page

	finished bool
}

// New validates cfg and allocates the page table. No callback is invoked
// until Add.
func New(cfg Config) (*Allocator, error) {
	if cfg.PageBytes == 0 || cfg.TotalBytes == 0 || cfg.TotalBytes%cfg.PageBytes != 0 {
		return nil, errors.Wrap(ErrOutOfRange, "pra: TotalBytes must be a positive multiple of PageBytes")
	}
	if cfg.Alloc == nil || cfg.Free == nil || cfg.StandardizeSize == nil || cfg.IsPageAllocatable == nil {
		return nil, errors.New("pra: all four callbacks are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.WithField("component", "pra")
	}

	pageCount := cfg.TotalBytes / cfg.PageBytes
	return &Allocator{
		cfg:       cfg,
		pageBytes: cfg.PageBytes,
		pageCount: pageCount,
		pages:     make([]page, pageCount),
	}, nil
}

// Add records that a live allocation of size bytes already occupies offset.
// Submission order doesn't affect the result: the page table ends up the
// same regardless of the order Add is called in. Extrapolation runs only
// when a submission touches a page for the first time; later submissions
// on that page, or on pages it extrapolated, are checked against the
// recorded size class and bias instead.
func (a *Allocator) Add(offset, size uint64) error {
	if a.finished {
		panic("pra: Add called on an Allocator after Finish")
	}
	if offset >= a.cfg.TotalBytes {
		return errors.Wrapf(ErrOutOfRange, "offset=%d >= total=%d", offset, a.cfg.TotalBytes)
	}

	stdSize, err := a.cfg.StandardizeSize(size)
	if err != nil {
		return errors.Wrap(err, "pra: StandardizeSize callback")
	}
	if stdSize < size || stdSize > a.cfg.MaxSmallSize {
		return errors.Wrapf(ErrOutOfRange, "standardized size %d out of range for requested size %d", stdSize, size)
	}

	pageID := offset / a.pageBytes
	offsetInPage := offset % a.pageBytes

	p := &a.pages[pageID]
	if !p.touched {
		itemIndex := offsetInPage / stdSize
		bias := offsetInPage - itemIndex*stdSize

		np := a.touchFresh(pageID, stdSize, bias)
		np.bits.set(int(itemIndex))

		if err := a.extrapolate(pageID, stdSize, bias); err != nil {
			return err
		}
		a.touchMetrics()
		return nil
	}

	if p.stdSize != stdSize {
		return errors.Wrapf(ErrMismatch, "page %d already has std_size=%d, got %d", pageID, p.stdSize, stdSize)
	}
	if offsetInPage < p.bias {
		return errors.Wrapf(ErrMismatch, "offset_in_page=%d precedes page %d bias=%d", offsetInPage, pageID, p.bias)
	}
	rem := offsetInPage - p.bias
	if rem%stdSize != 0 {
		return errors.Wrapf(ErrMismatch, "offset %d doesn't land on a slot boundary for page %d", offset, pageID)
	}
	itemIndex := int(rem / stdSize)
	if itemIndex >= p.slotCount {
		return errors.Wrapf(ErrOutOfRange, "item index %d >= slot_count %d on page %d", itemIndex, p.slotCount, pageID)
	}
	if !p.bits.set(itemIndex) {
		return errors.Wrapf(ErrAlreadySet, "offset=%d (page %d slot %d)", offset, pageID, itemIndex)
	}
	return nil
}

func (a *Allocator) touchMetrics() {
	if a.cfg.Metrics == nil {
		return
	}
	touched := 0
	for i := range a.pages {
		if a.pages[i].touched {
			touched++
		}
	}
	a.cfg.Metrics.PagesTouched.Set(float64(touched))
}
