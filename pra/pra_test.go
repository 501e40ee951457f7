package pra_test

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"duraguard/internal/toyalloc"
	"duraguard/pra"
)

func newToyConfig(totalBytes, pageBytes uint64, classes ...uint64) toyalloc.Config {
	return toyalloc.Config{TotalBytes: totalBytes, PageBytes: pageBytes, SizeClasses: classes}
}

// A single-size round trip. After Finish, the lowest slot never
// submitted (slot 0) comes back first from the backing allocator.
func TestSingleSizeRoundTrip(t *testing.T) {
	toy := toyalloc.New(newToyConfig(4096, 4096, 256))
	cfg := pra.Config{
		TotalBytes:        4096,
		PageBytes:         4096,
		MaxSmallSize:      256,
		Alloc:             toy.Alloc,
		Free:              toy.Free,
		StandardizeSize:   toy.StandardizeSize,
		IsPageAllocatable: toy.IsPageAllocatable,
	}

	a, err := pra.New(cfg)
	require.NoError(t, err)
	for _, k := range []uint64{2, 5, 9} {
		require.NoError(t, a.Add(256*k, 256))
	}
	require.NoError(t, a.Finish())

	got, err := toy.Alloc(256)
	require.NoError(t, err)
	require.EqualValues(t, 0, got)
}

// A cross-page bin. One submission at offset 384 with
// std_size 384 must extrapolate pages 0, 1, 2 with the bias sequence the
// page-partitioning arithmetic dictates, fill every slot, and free back
// every slot except the one actually submitted.
func TestCrossPageBinExtrapolation(t *testing.T) {
	const pageBytes = 4096
	const stdSize = 384
	totalBytes := uint64(3 * pageBytes)

	toy := toyalloc.New(newToyConfig(totalBytes, pageBytes, stdSize))
	cfg := pra.Config{
		TotalBytes:        totalBytes,
		PageBytes:         pageBytes,
		MaxSmallSize:      stdSize,
		Alloc:             toy.Alloc,
		Free:              toy.Free,
		StandardizeSize:   toy.StandardizeSize,
		IsPageAllocatable: toy.IsPageAllocatable,
	}

	a, err := pra.New(cfg)
	require.NoError(t, err)
	require.NoError(t, a.Add(384, 384))
	require.NoError(t, a.Finish())

	want := expectedFreeOffsets(pageBytes, stdSize, totalBytes, 384)
	got := drainAll(t, toy, stdSize, len(want))
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	require.Equal(t, want, got)

	_, err = toy.Alloc(stdSize)
	require.Error(t, err, "free list exhausted, backing region fully reconstructed")
}

// Q3: reconstructing twice over equivalent inputs produces allocators with
// the same live set.
func TestFinishIsIdempotentAcrossEquivalentInputs(t *testing.T) {
	const pageBytes = 4096
	const stdSize = 384
	totalBytes := uint64(3 * pageBytes)

	build := func() *toyalloc.Allocator {
		toy := toyalloc.New(newToyConfig(totalBytes, pageBytes, stdSize))
		cfg := pra.Config{
			TotalBytes:        totalBytes,
			PageBytes:         pageBytes,
			MaxSmallSize:      stdSize,
			Alloc:             toy.Alloc,
			Free:              toy.Free,
			StandardizeSize:   toy.StandardizeSize,
			IsPageAllocatable: toy.IsPageAllocatable,
		}
		a, err := pra.New(cfg)
		require.NoError(t, err)
		require.NoError(t, a.Add(384, 384))
		require.NoError(t, a.Finish())
		return toy
	}

	toyA := build()
	toyB := build()

	want := expectedFreeOffsets(pageBytes, stdSize, totalBytes, 384)
	gotA := drainAll(t, toyA, stdSize, len(want))
	gotB := drainAll(t, toyB, stdSize, len(want))
	sort.Slice(gotA, func(i, j int) bool { return gotA[i] < gotA[j] })
	sort.Slice(gotB, func(i, j int) bool { return gotB[i] < gotB[j] })

	require.Equal(t, gotA, gotB)
}

func TestMismatchedResubmissionRejected(t *testing.T) {
	toy := toyalloc.New(newToyConfig(4096, 4096, 256, 512))
	cfg := pra.Config{
		TotalBytes:        4096,
		PageBytes:         4096,
		MaxSmallSize:      512,
		Alloc:             toy.Alloc,
		Free:              toy.Free,
		StandardizeSize:   toy.StandardizeSize,
		IsPageAllocatable: toy.IsPageAllocatable,
	}
	a, err := pra.New(cfg)
	require.NoError(t, err)
	require.NoError(t, a.Add(0, 256))
	require.ErrorIs(t, a.Add(256, 512), pra.ErrMismatch)
}

func TestDuplicateSubmissionRejected(t *testing.T) {
	toy := toyalloc.New(newToyConfig(4096, 4096, 256))
	cfg := pra.Config{
		TotalBytes:        4096,
		PageBytes:         4096,
		MaxSmallSize:      256,
		Alloc:             toy.Alloc,
		Free:              toy.Free,
		StandardizeSize:   toy.StandardizeSize,
		IsPageAllocatable: toy.IsPageAllocatable,
	}
	a, err := pra.New(cfg)
	require.NoError(t, err)
	require.NoError(t, a.Add(256, 256))
	require.ErrorIs(t, a.Add(256, 256), pra.ErrAlreadySet)
}

func TestAllocatorDesyncDetected(t *testing.T) {
	cfg := pra.Config{
		TotalBytes:   4096,
		PageBytes:    4096,
		MaxSmallSize: 256,
		Alloc: func(stdSize uint64) (uint64, error) {
			return 4095, nil // never the offset the page table predicts
		},
		Free:              func(uint64) error { return nil },
		StandardizeSize:   func(size uint64) (uint64, error) { return 256, nil },
		IsPageAllocatable: func(uint64) bool { return true },
	}
	a, err := pra.New(cfg)
	require.NoError(t, err)
	require.NoError(t, a.Add(0, 256))
	require.ErrorIs(t, a.Finish(), pra.ErrAllocatorDesync)
}

// expectedFreeOffsets computes every slot offset the bin extrapolator and
// fill pass will touch for a single submission at (submittedOffset, stdSize)
// against an otherwise-empty region, minus the submitted slot itself.
func expectedFreeOffsets(pageBytes, stdSize, totalBytes, submittedOffset uint64) []uint64 {
	pageCount := totalBytes / pageBytes
	type pageInfo struct{ bias uint64 }
	pages := make(map[uint64]pageInfo)

	pageID := submittedOffset / pageBytes
	offsetInPage := submittedOffset % pageBytes
	itemIndex := offsetInPage / stdSize
	bias := offsetInPage - itemIndex*stdSize
	pages[pageID] = pageInfo{bias: bias}

	curPage, curBias := pageID, bias
	for curBias != 0 && curPage > 0 {
		prevBias := (curBias + pageBytes) % stdSize
		curPage--
		pages[curPage] = pageInfo{bias: prevBias}
		curBias = prevBias
	}

	curPage, curBias = pageID, bias
	for {
		rest := (pageBytes - curBias) % stdSize
		if rest == 0 {
			break
		}
		nextRest := (rest + pageBytes) % stdSize
		var nextBias uint64
		if nextRest <= pageBytes {
			nextBias = (pageBytes - nextRest) % stdSize
		} else {
			nextBias = stdSize + pageBytes - nextRest
		}
		curPage++
		if curPage >= pageCount {
			break
		}
		pages[curPage] = pageInfo{bias: nextBias}
		curBias = nextBias
	}

	var out []uint64
	for pid, info := range pages {
		slotCount := (pageBytes - info.bias + stdSize - 1) / stdSize
		for i := uint64(0); i < slotCount; i++ {
			offset := pid*pageBytes + info.bias + i*stdSize
			if offset == submittedOffset {
				continue
			}
			out = append(out, offset)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func drainAll(t *testing.T, toy *toyalloc.Allocator, stdSize uint64, max int) []uint64 {
	t.Helper()
	var out []uint64
	for i := 0; i < max; i++ {
		offset, err := toy.Alloc(stdSize)
		require.NoError(t, err)
		out = append(out, offset)
	}
	return out
}
