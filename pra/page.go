package pra

import "duraguard/util"

// page is one backing page's descriptor: the size class it has been
// committed to, the bias (distance from the page start to the first slot
// this page owns), and which slots within that size class are live.
//
// bias == page_size (the sentinel "skip in the free pass" value) is
// only ever set by Finish for pages the backing allocator refuses to hand
// out; Add never produces it.
type page struct {
	touched   bool
	stdSize   uint64
	bias      uint64
	slotCount int
	bits      bitmap
}

func (a *Allocator) slotCountFor(bias, stdSize uint64) int {
	return int(util.CeilDiv(a.pageBytes-bias, stdSize))
}

// touchFresh commits pageID to (stdSize, bias) for the first time, building
// its bitmap and tracking highestTouched.
func (a *Allocator) touchFresh(pageID, stdSize, bias uint64) *page {
	p := &a.pages[pageID]
	p.touched = true
	p.stdSize = stdSize
	p.bias = bias
	p.slotCount = a.slotCountFor(bias, stdSize)
	p.bits = newBitmap(p.slotCount)
	if pageID > a.highestTouched {
		a.highestTouched = pageID
	}
	return p
}

// extrapolate infers and commits every neighbouring page that must share the
// same (stdSize, bias) size class by construction, walking backwards while
// this page's bias is nonzero and forwards while the page doesn't end on a
// slot boundary.
func (a *Allocator) extrapolate(pageID, stdSize, bias uint64) error {
	curPage, curBias := pageID, bias
	for curBias != 0 {
		if curPage == 0 {
			return ErrOutOfRange
		}
		prevBias := (curBias + a.pageBytes) % stdSize
		prevPage := curPage - 1
		pp := &a.pages[prevPage]
		if pp.touched {
			return ErrMismatch
		}
		a.touchFresh(prevPage, stdSize, prevBias)
		curPage, curBias = prevPage, prevBias
	}

	curPage, curBias = pageID, bias
	for {
		rest := (a.pageBytes - curBias) % stdSize
		if rest == 0 {
			return nil
		}
		nextRest := (rest + a.pageBytes) % stdSize
		var nextBias uint64
		if nextRest <= a.pageBytes {
			nextBias = (a.pageBytes - nextRest) % stdSize
		} else {
			nextBias = stdSize + a.pageBytes - nextRest
		}
		nextPage := curPage + 1
		if nextPage >= a.pageCount {
			return ErrOutOfRange
		}
		np := &a.pages[nextPage]
		if np.touched {
			return ErrMismatch
		}
		a.touchFresh(nextPage, stdSize, nextBias)
		curPage, curBias = nextPage, nextBias
	}
}
