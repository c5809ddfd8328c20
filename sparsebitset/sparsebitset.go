// Package sparsebitset encodes and decodes sets of 32-bit non-negative
// integers as a compact tree whose branch factor is chosen per-set to
// minimize the encoded size. It backs the coverage descriptors the IFT
// mapping table uses to describe codepoint-to-chunk membership.
package sparsebitset

import (
	"errors"
	"fmt"
	"sort"

	"github.com/w3c/ift-brotli-diff/bitio"
)

// BranchFactor selects the fan-out of the encoded tree.
type BranchFactor int

const (
	BF2 BranchFactor = iota
	BF4
	BF8
	BF32
)

var (
	nodeSize     = [4]uint64{2, 4, 8, 32}
	nodeSizeLog2 = [4]uint{1, 2, 3, 5}
	twigSize     = [4]uint64{4, 16, 64, 1024} // nodeSize^2
	twigSizeLog2 = [4]uint{2, 4, 6, 10}
	maxDepth     = [4]uint32{31, 16, 11, 7}
	// Approximates the geometric sum 1/bf + 1/bf^2 + ... used to estimate
	// the number of interior nodes above a given count of leaf nodes.
	geometricFactor = [4]float64{1 / 0.4, 1 / 1.8, 1 / 3.0, 1 / 15.0}
)

var (
	// ErrTruncatedInput is returned when encoded bytes end before a tree
	// traversal expects them to.
	ErrTruncatedInput = errors.New("sparsebitset: truncated input")
	// ErrDepthExceedsMax is returned when a decoded header's depth field
	// is larger than the branch factor's maximum representable depth.
	ErrDepthExceedsMax = errors.New("sparsebitset: depth exceeds maximum for branch factor")
)

func selectorForBF(bf BranchFactor) byte {
	switch bf {
	case BF2:
		return 0b00
	case BF4:
		return 0b01
	case BF8:
		return 0b10
	case BF32:
		return 0b11
	}
	panic("sparsebitset: invalid branch factor")
}

func bfForSelector(sel byte) BranchFactor {
	switch sel & 0b11 {
	case 0b00:
		return BF2
	case 0b01:
		return BF4
	case 0b10:
		return BF8
	default:
		return BF32
	}
}

// sortedUnique returns a sorted copy of values with duplicates removed.
func sortedUnique(values []uint32) []uint32 {
	if len(values) == 0 {
		return nil
	}
	out := append([]uint32(nil), values...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	n := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[n-1] {
			out[n] = out[i]
			n++
		}
	}
	return out[:n]
}

// treeDepthFor returns the minimum depth d such that bf^d > maxValue.
func treeDepthFor(maxValue uint32, bf BranchFactor) uint32 {
	depth := uint32(1)
	remaining := uint64(maxValue) >> nodeSizeLog2[bf]
	for remaining > 0 {
		depth++
		remaining >>= nodeSizeLog2[bf]
	}
	return depth
}

// countInRange reports how many of the values in [lo, hi) are present in
// the sorted, deduplicated slice sorted.
func countInRange(sorted []uint32, lo, hi uint64) uint64 {
	loIdx := sort.Search(len(sorted), func(i int) bool { return uint64(sorted[i]) >= lo })
	hiIdx := sort.Search(len(sorted), func(i int) bool { return uint64(sorted[i]) >= hi })
	return uint64(hiIdx - loIdx)
}

// Encode picks the branch factor that minimizes the estimated encoded size
// for values and encodes the set with it. Returns nil for an empty set.
func Encode(values []uint32) []byte {
	sorted := sortedUnique(values)
	if len(sorted) == 0 {
		return nil
	}
	bf := chooseBranchFactor(sorted)
	return encodeWithBranchFactor(sorted, bf)
}

// EncodeWithBranchFactor encodes values using a caller-chosen branch
// factor rather than the adaptive heuristic.
func EncodeWithBranchFactor(values []uint32, bf BranchFactor) []byte {
	sorted := sortedUnique(values)
	if len(sorted) == 0 {
		return nil
	}
	return encodeWithBranchFactor(sorted, bf)
}

// chooseBranchFactor estimates the encoded byte size for each branch
// factor and returns the cheapest, breaking ties in the order
// BF4, BF2, BF32, BF8.
func chooseBranchFactor(sorted []uint32) BranchFactor {
	maxValue := sorted[len(sorted)-1]

	costs := make(map[BranchFactor]float64, 4)
	for _, bf := range []BranchFactor{BF2, BF4, BF8, BF32} {
		costs[bf] = estimateBytes(sorted, maxValue, bf)
	}

	best := BF4
	for _, bf := range []BranchFactor{BF2, BF32, BF8} {
		if costs[bf] < costs[best] {
			best = bf
		}
	}
	return best
}

// estimateBytes approximates the encoded size in bytes for the given
// branch factor, following spec section 4.C step 2: count non-empty leaf
// nodes, subtract the leaves fully covered by filled twigs, and scale the
// remainder by a constant geometric factor to approximate the interior
// node count.
func estimateBytes(sorted []uint32, maxValue uint32, bf BranchFactor) float64 {
	nonEmptyLeafNodes := uint64(0)
	i := 0
	for i < len(sorted) {
		bucket := uint64(sorted[i]) >> nodeSizeLog2[bf]
		j := i
		for j < len(sorted) && uint64(sorted[j])>>nodeSizeLog2[bf] == bucket {
			j++
		}
		nonEmptyLeafNodes++
		i = j
	}

	filledTwigs := uint64(0)
	i = 0
	for i < len(sorted) {
		twig := uint64(sorted[i]) >> twigSizeLog2[bf]
		j := i
		for j < len(sorted) && uint64(sorted[j])>>twigSizeLog2[bf] == twig {
			j++
		}
		if uint64(j-i) == twigSize[bf] {
			filledTwigs++
		}
		i = j
	}
	filledLeaves := filledTwigs * nodeSize[bf]

	leafNodes := nonEmptyLeafNodes
	if filledLeaves < leafNodes {
		leafNodes -= filledLeaves
	} else {
		leafNodes = 0
	}

	interior := float64(leafNodes) * geometricFactor[bf]
	totalNodes := float64(leafNodes) + interior

	switch bf {
	case BF2:
		return totalNodes / 4
	case BF4:
		return totalNodes / 2
	case BF8:
		return totalNodes
	default: // BF32
		return totalNodes * 4
	}
}

func encodeWithBranchFactor(sorted []uint32, bf BranchFactor) []byte {
	maxValue := sorted[len(sorted)-1]
	depth := treeDepthFor(maxValue, bf)

	w := bitio.NewBuffer()
	header := selectorForBF(bf) | byte(depth<<2)
	w.AppendNumber(uint32(header), 8)

	type job struct{ base uint64 }
	pending := []job{{0}}

	for layer := uint32(0); layer < depth; layer++ {
		childSpan := uint64(1) << (nodeSizeLog2[bf] * uint(depth-layer-1))
		fullSpan := childSpan * nodeSize[bf]
		isLeafLayer := layer == depth-1

		var next []job
		for _, j := range pending {
			present := countInRange(sorted, j.base, j.base+fullSpan)
			if present == fullSpan {
				// Fully filled subtree: emit the sentinel zero mask and
				// do not descend further.
				w.AppendNumber(0, bitsFor(bf))
				continue
			}

			var mask uint32
			var children []uint64
			for bit := uint64(0); bit < nodeSize[bf]; bit++ {
				childBase := j.base + bit*childSpan
				if countInRange(sorted, childBase, childBase+childSpan) > 0 {
					mask |= 1 << bit
					children = append(children, childBase)
				}
			}
			w.AppendNumber(mask, bitsFor(bf))
			if !isLeafLayer {
				for _, c := range children {
					next = append(next, job{c})
				}
			}
		}
		pending = next
	}

	return w.Bytes()
}

// bitsFor returns the number of bits used to encode one node's child mask
// for the given branch factor: one bit per child, so equal to the branch
// factor itself.
func bitsFor(bf BranchFactor) uint {
	return uint(nodeSize[bf])
}

// Decode parses a sparse bit set encoded by Encode (or
// EncodeWithBranchFactor) and returns its members in ascending order. An
// empty input decodes to an empty, nil set. The reserved high bit of the
// header is ignored (decoders are liberal, encoders are conservative).
func Decode(data []byte) ([]uint32, error) {
	if len(data) == 0 {
		return nil, nil
	}

	header := data[0]
	bf := bfForSelector(header)
	depth := uint32(header>>2) & 0b11111
	if depth == 0 {
		return nil, nil
	}
	if depth > maxDepth[bf] {
		return nil, fmt.Errorf("%w: depth %d exceeds max %d for this branch factor", ErrDepthExceedsMax, depth, maxDepth[bf])
	}

	r := bitio.NewReader(data, 8)
	type job struct{ base uint64 }
	pending := []job{{0}}
	var out []uint32

	for layer := uint32(0); layer < depth; layer++ {
		childSpan := uint64(1) << (nodeSizeLog2[bf] * uint(depth-layer-1))
		fullSpan := childSpan * nodeSize[bf]
		isLeafLayer := layer == depth-1

		var next []job
		for _, j := range pending {
			mask, err := r.ReadNumber(bitsFor(bf))
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrTruncatedInput, err)
			}
			if mask == 0 {
				for v := j.base; v < j.base+fullSpan; v++ {
					out = append(out, uint32(v))
				}
				continue
			}
			for bit := uint64(0); bit < nodeSize[bf]; bit++ {
				if mask&(1<<bit) == 0 {
					continue
				}
				childBase := j.base + bit*childSpan
				if isLeafLayer {
					out = append(out, uint32(childBase))
				} else {
					next = append(next, job{childBase})
				}
			}
		}
		pending = next
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
