// Command prareplay demonstrates pra.Allocator against internal/toyalloc: it
// parses a list of offset:size pairs describing allocations that supposedly
// already exist in the backing region, replays them through an Allocator,
// and reports how many submitted allocations were reconstructed across how
// large a region.
package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"duraguard/internal/toyalloc"
	"duraguard/pra"
)

func parsePairs(raw string) ([][2]uint64, error) {
	if raw == "" {
		return nil, nil
	}
	var out [][2]uint64
	for _, tok := range strings.Split(raw, ",") {
		parts := strings.SplitN(tok, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed offset:size pair %q", tok)
		}
		offset, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing offset in %q: %w", tok, err)
		}
		size, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing size in %q: %w", tok, err)
		}
		out = append(out, [2]uint64{offset, size})
	}
	return out, nil
}

func parseSizeClasses(raw string) ([]uint64, error) {
	var out []uint64
	for _, tok := range strings.Split(raw, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		v, err := strconv.ParseUint(tok, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing size class %q: %w", tok, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func newRootCmd() *cobra.Command {
	var (
		totalBytes   uint64
		pageBytes    uint64
		maxSmallSize uint64
		sizeClasses  string
		pairsRaw     string
		debug        bool
	)

	cmd := &cobra.Command{
		Use:   "prareplay",
		Short: "replay a set of (offset, size) allocations through pra.Allocator over a toy backing allocator",
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				logrus.SetLevel(logrus.DebugLevel)
			}

			classes, err := parseSizeClasses(sizeClasses)
			if err != nil {
				return err
			}
			pairs, err := parsePairs(pairsRaw)
			if err != nil {
				return err
			}

			toy := toyalloc.New(toyalloc.Config{
				TotalBytes:  totalBytes,
				PageBytes:   pageBytes,
				SizeClasses: classes,
			})

			a, err := pra.New(pra.Config{
				TotalBytes:        totalBytes,
				PageBytes:         pageBytes,
				MaxSmallSize:      maxSmallSize,
				Alloc:             toy.Alloc,
				Free:              toy.Free,
				StandardizeSize:   toy.StandardizeSize,
				IsPageAllocatable: toy.IsPageAllocatable,
			})
			if err != nil {
				return fmt.Errorf("pra.New: %w", err)
			}

			for _, p := range pairs {
				if err := a.Add(p[0], p[1]); err != nil {
					return fmt.Errorf("Add(%d, %d): %w", p[0], p[1], err)
				}
			}
			if err := a.Finish(); err != nil {
				return fmt.Errorf("Finish: %w", err)
			}

			fmt.Printf("reconstructed %d submitted allocations across a %d-byte region\n", len(pairs), totalBytes)
			return nil
		},
	}

	f := cmd.Flags()
	f.Uint64Var(&totalBytes, "total-bytes", 0, "size of the backing region in bytes")
	f.Uint64Var(&pageBytes, "page-bytes", 4096, "page size in bytes")
	f.Uint64Var(&maxSmallSize, "max-small-size", 0, "largest size class pra will accept")
	f.StringVar(&sizeClasses, "size-classes", "", "comma-separated ascending list of size classes the toy allocator understands")
	f.StringVar(&pairsRaw, "pairs", "", "comma-separated offset:size pairs to replay")
	f.BoolVar(&debug, "debug", false, "enable debug logging")

	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.WithError(err).Fatal("prareplay failed")
	}
}
