package pra

import "github.com/pkg/errors"

// Finish drives the backing allocator through the fill/free sequence:
// fill every touched page's size class completely in slot order,
// verifying the backing allocator's placement matches the page table at
// every step, then free back whichever slots weren't actually live.
//
// Finish consumes the Allocator; using it again afterwards is
// undefined (enforced here as a panic rather than silent corruption, since
// Go has no analogue of undefined behavior to fall back on).
func (a *Allocator) Finish() error {
	if a.finished {
		panic("pra: Finish called twice on the same Allocator")
	}
	a.finished = true

	if err := a.fillPass(); err != nil {
		return err
	}
	return a.freePass()
}

func (a *Allocator) fillPass() error {
	for pageID := uint64(0); pageID <= a.highestTouched; pageID++ {
		p := &a.pages[pageID]

		if !a.cfg.IsPageAllocatable(pageID) {
			if p.touched {
				return errors.Wrapf(ErrMismatch, "page %d has a committed size class but is not allocatable", pageID)
			}
			p.stdSize = a.pageBytes
			p.bias = a.pageBytes // sentinel: skip this page in the free pass
			continue
		}

		if p.bias >= a.pageBytes {
			continue
		}

		if !p.touched {
			a.touchFresh(pageID, a.pageBytes, 0)
		}

		for i := 0; i < p.slotCount; i++ {
			want := pageID*a.pageBytes + p.bias + uint64(i)*p.stdSize
			got, err := a.cfg.Alloc(p.stdSize)
			if err != nil {
				return errors.Wrapf(err, "pra: Alloc callback for page %d slot %d", pageID, i)
			}
			if got != want {
				return errors.Wrapf(ErrAllocatorDesync, "page %d slot %d: backing allocator returned %d, predicted %d", pageID, i, got, want)
			}
			if a.cfg.Metrics != nil {
				a.cfg.Metrics.SlotsFilled.Inc()
			}
		}
	}
	return nil
}

func (a *Allocator) freePass() error {
	for pageID := uint64(0); pageID <= a.highestTouched; pageID++ {
		p := &a.pages[pageID]
		if p.bias >= a.pageBytes {
			continue
		}
		for i := 0; i < p.slotCount; i++ {
			if p.bits.isSet(i) {
				continue
			}
			offset := pageID*a.pageBytes + p.bias + uint64(i)*p.stdSize
			if err := a.cfg.Free(offset); err != nil {
				return errors.Wrapf(err, "pra: Free callback for page %d slot %d", pageID, i)
			}
			if a.cfg.Metrics != nil {
				a.cfg.Metrics.SlotsFreed.Inc()
			}
		}
		p.bits.heap = nil
	}
	return nil
}
