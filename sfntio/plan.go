package sfntio

// Plan describes which glyphs a subset keeps and how their IDs were
// renumbered. NewToOld[newID] is the glyph's ID in the original font;
// OldToNew is its inverse, keyed by original glyph ID, with absent
// entries meaning "dropped from this subset".
type Plan struct {
	NewToOld []uint16
	OldToNew map[uint16]uint16

	// RetainGIDs is true when the requested glyph set preserves the
	// original font's glyph numbering rather than renumbering
	// contiguously from zero: the subset was asked to retain original
	// IDs (always true for single-font patch diffing, where base and
	// derived plans must agree on what a given glyph ID means). BuildPlan
	// copies it from its retainGIDs argument and does not itself check
	// whether the glyph set is sparse; IsSparse is that check.
	RetainGIDs bool
}

// BuildPlan closes glyphIDs over composite-glyph dependencies, adds the
// mandatory .notdef glyph, sorts and deduplicates, and drops any ID at
// or past numGlyphs. If retainGIDs is true, the subset keeps the
// original glyph numbering (NewToOld[g] == g for every kept glyph, with
// gaps for dropped ones); otherwise glyphs are renumbered contiguously
// in ascending original-ID order.
func BuildPlan(glyf *GlyfTable, numGlyphs uint16, glyphIDs []uint16, retainGIDs bool) (*Plan, error) {
	origLen := len(glyphIDs)
	for i := 0; i < origLen; i++ {
		deps, err := glyf.Dependencies(glyphIDs[i], 0)
		if err != nil {
			return nil, err
		}
		if len(deps) > 1 {
			glyphIDs = append(glyphIDs, deps[1:]...)
		}
	}

	sortUint16(glyphIDs)
	if len(glyphIDs) == 0 || glyphIDs[0] != 0 {
		glyphIDs = append([]uint16{0}, glyphIDs...)
	}
	for i := 0; i < len(glyphIDs); i++ {
		if numGlyphs <= glyphIDs[i] {
			glyphIDs = glyphIDs[:i]
			break
		} else if 0 < i && glyphIDs[i] == glyphIDs[i-1] {
			glyphIDs = append(glyphIDs[:i], glyphIDs[i+1:]...)
			i--
		}
	}

	p := &Plan{RetainGIDs: retainGIDs}
	if retainGIDs {
		last := glyphIDs[len(glyphIDs)-1]
		p.NewToOld = make([]uint16, last+1)
		p.OldToNew = make(map[uint16]uint16, len(glyphIDs))
		for i := range p.NewToOld {
			p.NewToOld[i] = uint16(i)
		}
		kept := map[uint16]bool{}
		for _, g := range glyphIDs {
			kept[g] = true
		}
		for g := uint16(0); g <= last; g++ {
			if kept[g] {
				p.OldToNew[g] = g
			}
		}
		return p, nil
	}

	p.NewToOld = append([]uint16(nil), glyphIDs...)
	p.OldToNew = make(map[uint16]uint16, len(glyphIDs))
	for newID, oldID := range glyphIDs {
		p.OldToNew[oldID] = uint16(newID)
	}
	return p, nil
}

// IsSparse reports whether a candidate glyph set, once closed over
// dependencies, covers fewer glyphs than the font defines — the signal
// BuildPlan's caller uses to decide whether the resulting subset should
// retain original glyph numbering.
func IsSparse(glyphIDs []uint16, numGlyphs uint16) bool {
	seen := map[uint16]bool{}
	for _, g := range glyphIDs {
		seen[g] = true
	}
	return uint16(len(seen)) < numGlyphs
}
