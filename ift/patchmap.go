// Package ift ties the brotli stream writer, glyf/loca diff driver, and
// per-table patch container into the top-level incremental font
// transfer diff/patch operation, plus the patch map entries that
// describe which codepoints and features a patch covers.
package ift

import (
	"fmt"
	"sort"

	"github.com/w3c/ift-brotli-diff/sparsebitset"
)

// Coverage describes the subset of a font a patch applies to: a set of
// Unicode codepoints (offset by Bias when encoded, so the sparsebitset
// encoding stays compact) and an optional ordered set of
// OpenType feature tags. An empty Coverage matches everything.
type Coverage struct {
	Codepoints map[uint32]struct{}
	Bias       uint32
	Features   []string
}

// NewCoverage builds a Coverage from a set of codepoints, choosing Bias
// as the minimum codepoint so the sparsebitset encoding of the biased
// set stays small, mirroring how the original encoder shifts every
// codepoint down before encoding.
func NewCoverage(codepoints []uint32, features []string) Coverage {
	c := Coverage{Codepoints: map[uint32]struct{}{}}
	if len(codepoints) > 0 {
		min := codepoints[0]
		for _, cp := range codepoints[1:] {
			if cp < min {
				min = cp
			}
		}
		c.Bias = min
	}
	for _, cp := range codepoints {
		c.Codepoints[cp] = struct{}{}
	}
	if len(features) > 0 {
		sorted := append([]string(nil), features...)
		sort.Strings(sorted)
		c.Features = sorted
	}
	return c
}

// Intersects reports whether this coverage overlaps the given codepoint
// and feature sets. An empty side of either comparison is treated as
// "matches everything" only when the coverage's own corresponding set
// is also empty; an unspecified input never matches a specified
// coverage, and an unspecified coverage matches any input.
func (c Coverage) Intersects(codepoints map[uint32]struct{}, features map[string]struct{}) bool {
	if len(codepoints) == 0 && len(c.Codepoints) != 0 {
		return false
	}
	if len(features) == 0 && len(c.Features) != 0 {
		return false
	}
	if len(codepoints) != 0 && len(c.Codepoints) != 0 {
		if !codepointsIntersect(codepoints, c.Codepoints) {
			return false
		}
	}
	if len(features) != 0 && len(c.Features) != 0 {
		found := false
		for _, f := range c.Features {
			if _, ok := features[f]; ok {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func codepointsIntersect(a, b map[uint32]struct{}) bool {
	smaller, larger := a, b
	if len(b) < len(a) {
		smaller, larger = b, a
	}
	for cp := range smaller {
		if _, ok := larger[cp]; ok {
			return true
		}
	}
	return false
}

// Equal reports whether two coverages describe the same set of
// codepoints, the same bias, and the same ordered feature list.
func (c Coverage) Equal(other Coverage) bool {
	if c.Bias != other.Bias {
		return false
	}
	if len(c.Codepoints) != len(other.Codepoints) {
		return false
	}
	for cp := range c.Codepoints {
		if _, ok := other.Codepoints[cp]; !ok {
			return false
		}
	}
	if len(c.Features) != len(other.Features) {
		return false
	}
	for i, f := range c.Features {
		if other.Features[i] != f {
			return false
		}
	}
	return true
}

// PatchMapEntry associates a Coverage with the index of the patch that
// extends a font to also cover it. PatchIndex values need not be
// contiguous; they identify patches in whatever external patch store
// the caller maintains.
type PatchMapEntry struct {
	Coverage      Coverage
	PatchIndex    uint32
	Encoding      string
	ExtensionOnly bool
}

// Equal reports whether two entries are structurally identical,
// matching the original's field-by-field operator==.
func (e PatchMapEntry) Equal(other PatchMapEntry) bool {
	return e.Coverage.Equal(other.Coverage) &&
		e.PatchIndex == other.PatchIndex &&
		e.Encoding == other.Encoding &&
		e.ExtensionOnly == other.ExtensionOnly
}

// EncodeCodepoints returns the sparsebitset encoding of this coverage's
// biased codepoint set, as stored in an on-wire patch map entry.
func (c Coverage) EncodeCodepoints() []byte {
	values := make([]uint32, 0, len(c.Codepoints))
	for cp := range c.Codepoints {
		values = append(values, cp-c.Bias)
	}
	return sparsebitset.Encode(values)
}

// DecodeCoverage rebuilds a Coverage from a sparsebitset-encoded,
// biased codepoint set plus the bias and feature list carried
// alongside it on the wire.
func DecodeCoverage(encoded []byte, bias uint32, features []string) (Coverage, error) {
	biased, err := sparsebitset.Decode(encoded)
	if err != nil {
		return Coverage{}, fmt.Errorf("ift: decoding coverage: %w", err)
	}
	c := Coverage{Codepoints: make(map[uint32]struct{}, len(biased)), Bias: bias}
	for _, v := range biased {
		c.Codepoints[v+bias] = struct{}{}
	}
	if len(features) > 0 {
		sorted := append([]string(nil), features...)
		sort.Strings(sorted)
		c.Features = sorted
	}
	return c, nil
}
