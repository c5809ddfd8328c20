// Package glyfdiff walks a base and a derived font's glyph ID spaces in
// lockstep to produce a brotli-encoded patch for the glyf/loca table
// pair: glyph ranges that already exist in the base are emitted as
// dictionary references, ranges new to the derived font are emitted as
// freshly compressed data.
package glyfdiff

import (
	"github.com/w3c/ift-brotli-diff/brotlistream"
	"github.com/w3c/ift-brotli-diff/sfntio"
)

type mode int

const (
	modeInit mode = iota
	modeNew
	modeExisting
)

// Driver runs the glyf/loca diff state machine. Construct one with
// NewDriver and call MakeDiff once.
type Driver struct {
	glyfRange *brotlistream.TableRange
	locaRange *brotlistream.TableRange
	out       *brotlistream.Stream

	basePlan, derivedPlan *sfntio.Plan
	derivedFont           *sfntio.Font

	baseGID, derivedGID               uint16
	baseGlyphCount, derivedGlyphCount uint16
	locaWidth                         uint64
	retainGIDs                        bool

	mode         mode
	locaDiverged bool
}

// NewDriver prepares a diff run between basePlan/baseFont and
// derivedPlan/derivedFont, appending its output onto out (typically a
// stream already primed with the tables preceding loca in file order).
// useShortLoca selects 16-bit halved versus 32-bit loca offsets, read
// from the derived font's head table by the caller.
func NewDriver(basePlan, derivedPlan *sfntio.Plan, baseFont, derivedFont *sfntio.Font, out *brotlistream.Stream, useShortLoca bool) *Driver {
	locaWidth := uint64(4)
	if useShortLoca {
		locaWidth = 2
	}

	baseGlyphCount := baseFont.Maxp.NumGlyphs
	derivedGlyphCount := derivedFont.Maxp.NumGlyphs

	retainGIDs := basePlan.RetainGIDs && derivedPlan.RetainGIDs

	baseGlyf := baseFont.Tables["glyf"]
	baseLoca := baseFont.Tables["loca"]
	derivedGlyf := derivedFont.Tables["glyf"]
	derivedLoca := derivedFont.Tables["loca"]

	glyfRange := brotlistream.NewTableRange(derivedGlyf, baseFont.Offsets["glyf"], uint64(len(baseGlyf)),
		out.WindowBits(), out.DictionarySize(), derivedFont.Offsets["glyf"])
	locaRange := brotlistream.NewTableRange(derivedLoca, baseFont.Offsets["loca"], uint64(len(baseLoca)),
		out.WindowBits(), out.DictionarySize(), derivedFont.Offsets["loca"])

	return &Driver{
		glyfRange:         glyfRange,
		locaRange:         locaRange,
		out:               out,
		basePlan:          basePlan,
		derivedPlan:       derivedPlan,
		derivedFont:       derivedFont,
		baseGlyphCount:    baseGlyphCount,
		derivedGlyphCount: derivedGlyphCount,
		locaWidth:         locaWidth,
		retainGIDs:        retainGIDs,
	}
}

// MakeDiff runs the state machine to completion and appends the
// resulting loca-then-glyf meta-blocks onto the driver's output stream.
func (d *Driver) MakeDiff() error {
	for d.derivedGID < d.derivedGlyphCount {
		baseDerivedGID, ok := d.baseToDerivedGID(d.baseGID)
		matches := ok && baseDerivedGID == d.derivedGID

		switch d.mode {
		case modeInit:
			if err := d.startRange(matches); err != nil {
				return err
			}
			continue

		case modeNew:
			d.locaDiverged = true
			if !matches {
				length := d.glyphLength(d.derivedGID)
				if err := d.glyfRange.Extend(0, length); err != nil {
					return err
				}
				if err := d.locaRange.Extend(0, d.locaWidth); err != nil {
					return err
				}
				d.derivedGID++
				continue
			}
			if err := d.commitRange(); err != nil {
				return err
			}
			if err := d.startRange(matches); err != nil {
				return err
			}
			continue

		case modeExisting:
			if matches {
				length := d.glyphLength(d.derivedGID)
				if err := d.glyfRange.Extend(length, length); err != nil {
					return err
				}
				if err := d.locaRange.Extend(d.locaWidth, d.locaWidth); err != nil {
					return err
				}
				d.derivedGID++
				d.baseGID++
				continue
			}
			if err := d.commitRange(); err != nil {
				return err
			}
			if err := d.startRange(matches); err != nil {
				return err
			}
			continue
		}
	}

	if err := d.commitRange(); err != nil {
		return err
	}
	// loca has one trailing entry beyond the glyph count.
	if err := d.locaRange.Extend(d.locaWidth, d.locaWidth); err != nil {
		return err
	}
	if d.locaDiverged {
		if err := d.locaRange.CommitNew(); err != nil {
			return err
		}
	} else {
		if err := d.locaRange.CommitExisting(); err != nil {
			return err
		}
	}

	d.locaRange.Stream.FourByteAlignUncompressed()
	d.out.Append(d.locaRange.Stream)
	d.glyfRange.Stream.FourByteAlignUncompressed()
	d.out.Append(d.glyfRange.Stream)
	return nil
}

// baseToDerivedGID maps a base-subset glyph ID to the derived subset's
// glyph ID space by way of the original font's glyph IDs, reporting
// false when the base glyph has no counterpart in the derived subset.
func (d *Driver) baseToDerivedGID(baseGID uint16) (uint16, bool) {
	if d.retainGIDs {
		if baseGID < d.baseGlyphCount {
			return baseGID, true
		}
		return 0, false
	}
	if int(baseGID) >= len(d.basePlan.NewToOld) {
		return 0, false
	}
	oldGID := d.basePlan.NewToOld[baseGID]
	newGID, ok := d.derivedPlan.OldToNew[oldGID]
	return newGID, ok
}

func (d *Driver) commitRange() error {
	switch d.mode {
	case modeNew:
		return d.glyfRange.CommitNew()
	case modeExisting:
		if err := d.glyfRange.CommitExisting(); err != nil {
			return err
		}
		if !d.locaDiverged {
			return d.locaRange.CommitExisting()
		}
	}
	return nil
}

func (d *Driver) startRange(matches bool) error {
	length := d.glyphLength(d.derivedGID)
	if matches {
		if err := d.glyfRange.Extend(length, length); err != nil {
			return err
		}
		if err := d.locaRange.Extend(d.locaWidth, d.locaWidth); err != nil {
			return err
		}
		d.mode = modeExisting
		d.baseGID++
	} else {
		if err := d.glyfRange.Extend(0, length); err != nil {
			return err
		}
		if err := d.locaRange.Extend(0, d.locaWidth); err != nil {
			return err
		}
		d.mode = modeNew
		d.locaDiverged = true
	}
	d.derivedGID++
	return nil
}

// glyphLength returns the byte length of gid in the derived font, read
// directly from its parsed loca table.
func (d *Driver) glyphLength(gid uint16) uint64 {
	return uint64(d.derivedFont.Loca.Get(gid+1) - d.derivedFont.Loca.Get(gid))
}
