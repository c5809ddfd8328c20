// Package sfntio parses the SFNT container shared by TrueType and
// OpenType fonts far enough to read and rewrite the tables a font-patch
// engine cares about: head, maxp, hmtx, post, cmap, and the glyf/loca
// outline pair. It is not a full font shaping or rendering library.
package sfntio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/sfnt"
)

// ErrInvalidFontData is returned when a font blob fails a structural
// check while being parsed.
var ErrInvalidFontData = errors.New("sfntio: invalid font data")

// ErrUnsupportedFormat is returned by Sniff for container formats this
// package does not parse directly (WOFF, WOFF2, and bare CFF/OTTO
// outlines, none of which this patch engine's glyf/loca path applies to).
// Blobs with any other unrecognized tag, EOT included, are reported as
// ErrInvalidFontData.
var ErrUnsupportedFormat = errors.New("sfntio: unsupported font container")

// Sniff identifies a font blob's SFNT version tag and, where possible,
// confirms it parses with golang.org/x/image/font/sfnt or
// github.com/golang/freetype/truetype, the two general-purpose Go font
// readers in wide use; either accepting the blob is treated as
// confirmation it is a well-formed SFNT container before this package's
// own, narrower parser runs over it.
func Sniff(b []byte) (string, error) {
	if len(b) < 4 {
		return "", fmt.Errorf("%w: too short", ErrInvalidFontData)
	}
	tag := string(b[:4])
	switch {
	case tag == "true" || tag == "ttcf" || binary.BigEndian.Uint32(b[:4]) == 0x00010000:
		if _, err := truetype.Parse(b); err != nil {
			if _, serr := sfnt.Parse(b); serr != nil {
				return "", fmt.Errorf("%w: %v", ErrInvalidFontData, err)
			}
		}
		return "font/truetype", nil
	case tag == "OTTO":
		if _, err := sfnt.Parse(b); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidFontData, err)
		}
		return "", fmt.Errorf("%w: CFF outlines", ErrUnsupportedFormat)
	case tag == "wOFF" || tag == "wOF2":
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, tag)
	}
	return "", fmt.Errorf("%w: unrecognized tag %q", ErrInvalidFontData, tag)
}

// Font is a parsed TrueType-flavored SFNT font: a table directory plus
// the handful of tables this package's callers read structured fields
// from.
type Font struct {
	Data    []byte
	Tables  map[string][]byte
	Offsets map[string]uint64 // byte offset of each table within Data

	Head *HeadTable
	Maxp *MaxpTable
	Hhea *HheaTable
	Hmtx *HmtxTable
	Post *PostTable
	Cmap *CmapTable
	Loca *LocaTable
	Glyf *GlyfTable
}

// Parse reads a TrueType-flavored SFNT font (the container format
// Sniff reports as "font/truetype"). CFF-flavored OpenType fonts are
// out of scope: this package's callers only ever need the glyf/loca
// outline tables.
func Parse(b []byte) (*Font, error) {
	if len(b) < 12 || math.MaxUint32 < len(b) {
		return nil, ErrInvalidFontData
	}
	r := newBinaryReader(b)
	versionTag := r.ReadString(4)
	if versionTag != "true" && versionTag != "ttcf" && binary.BigEndian.Uint32([]byte(versionTag)) != 0x00010000 {
		return nil, fmt.Errorf("%w: not a TrueType-flavored SFNT", ErrInvalidFontData)
	}
	numTables := r.ReadUint16()
	_ = r.ReadUint16() // searchRange
	_ = r.ReadUint16() // entrySelector
	_ = r.ReadUint16() // rangeShift

	frontSize := uint32(12) + 16*uint32(numTables)
	if uint32(len(b)) < frontSize {
		return nil, ErrInvalidFontData
	}

	tables := make(map[string][]byte, numTables)
	offsets := make(map[string]uint64, numTables)
	for i := 0; i < int(numTables); i++ {
		tag := r.ReadString(4)
		_ = r.ReadUint32() // checksum, not verified: patches are applied to trusted local bytes
		offset := r.ReadUint32()
		length := r.ReadUint32()
		if uint32(len(b)) <= offset || uint32(len(b))-offset < length {
			return nil, fmt.Errorf("%w: table %q out of bounds", ErrInvalidFontData, tag)
		}
		tables[tag] = b[offset : offset+length : offset+length]
		offsets[tag] = uint64(offset)
	}

	f := &Font{Data: b, Tables: tables, Offsets: offsets}
	var err error
	if f.Head, err = parseHead(tables["head"]); err != nil {
		return nil, err
	}
	if f.Maxp, err = parseMaxp(tables["maxp"]); err != nil {
		return nil, err
	}
	if f.Hhea, err = parseHhea(tables["hhea"]); err != nil {
		return nil, err
	}
	f.Hmtx = parseHmtx(tables["hmtx"], f.Hhea.NumberOfHMetrics, f.Maxp.NumGlyphs)
	f.Post = parsePost(tables["post"], f.Maxp.NumGlyphs)
	f.Cmap = parseCmap(tables["cmap"])
	f.Loca = parseLoca(tables["loca"], f.Maxp.NumGlyphs, f.Head.IndexToLocFormat == 1)
	f.Glyf = &GlyfTable{data: tables["glyf"], loca: f.Loca}
	return f, nil
}

// HeadTable holds the subset of the "head" table this package reshapes
// during subsetting.
type HeadTable struct {
	Raw               []byte
	IndexToLocFormat  int16
	UnitsPerEm        uint16
}

func parseHead(b []byte) (*HeadTable, error) {
	if len(b) < 54 {
		return nil, fmt.Errorf("%w: head table too short", ErrInvalidFontData)
	}
	return &HeadTable{
		Raw:              b,
		UnitsPerEm:       binary.BigEndian.Uint16(b[18:]),
		IndexToLocFormat: int16(binary.BigEndian.Uint16(b[50:])),
	}, nil
}

// MaxpTable holds the glyph count from the "maxp" table.
type MaxpTable struct {
	Raw       []byte
	NumGlyphs uint16
}

func parseMaxp(b []byte) (*MaxpTable, error) {
	if len(b) < 6 {
		return nil, fmt.Errorf("%w: maxp table too short", ErrInvalidFontData)
	}
	return &MaxpTable{Raw: b, NumGlyphs: binary.BigEndian.Uint16(b[4:])}, nil
}

// HheaTable holds the subset of "hhea" this package needs to slice
// "hmtx" correctly.
type HheaTable struct {
	Raw              []byte
	NumberOfHMetrics uint16
}

func parseHhea(b []byte) (*HheaTable, error) {
	if len(b) < 36 {
		return nil, fmt.Errorf("%w: hhea table too short", ErrInvalidFontData)
	}
	return &HheaTable{Raw: b, NumberOfHMetrics: binary.BigEndian.Uint16(b[34:])}, nil
}

// HmtxTable exposes per-glyph advance width and left side bearing.
type HmtxTable struct {
	raw                    []byte
	numberOfHMetrics       uint16
	numGlyphs              uint16
}

func parseHmtx(b []byte, numberOfHMetrics, numGlyphs uint16) *HmtxTable {
	return &HmtxTable{raw: b, numberOfHMetrics: numberOfHMetrics, numGlyphs: numGlyphs}
}

func (t *HmtxTable) Advance(glyphID uint16) uint16 {
	if t.numberOfHMetrics == 0 {
		return 0
	}
	if t.numberOfHMetrics <= glyphID {
		glyphID = t.numberOfHMetrics - 1
	}
	off := int(glyphID) * 4
	if off+2 > len(t.raw) {
		return 0
	}
	return binary.BigEndian.Uint16(t.raw[off:])
}

func (t *HmtxTable) LeftSideBearing(glyphID uint16) int16 {
	if glyphID < t.numberOfHMetrics {
		off := int(glyphID)*4 + 2
		if off+2 > len(t.raw) {
			return 0
		}
		return int16(binary.BigEndian.Uint16(t.raw[off:]))
	}
	off := int(t.numberOfHMetrics)*4 + int(glyphID-t.numberOfHMetrics)*2
	if off+2 > len(t.raw) {
		return 0
	}
	return int16(binary.BigEndian.Uint16(t.raw[off:]))
}

// PostTable exposes glyph names for version-2.0 "post" tables; for other
// versions Get reports ".notdef" for every glyph.
type PostTable struct {
	version        uint32
	glyphNameIndex []uint16
	names          []string
}

func parsePost(b []byte, numGlyphs uint16) *PostTable {
	t := &PostTable{}
	if len(b) < 4 {
		return t
	}
	t.version = binary.BigEndian.Uint32(b)
	if t.version != 0x00020000 || len(b) < 34 {
		return t
	}
	r := newBinaryReader(b)
	r.i = 32
	n := r.ReadUint16()
	t.glyphNameIndex = make([]uint16, n)
	for i := range t.glyphNameIndex {
		t.glyphNameIndex[i] = r.ReadUint16()
	}
	for r.i < len(b) {
		l := int(r.ReadByte())
		if r.i+l > len(b) {
			break
		}
		t.names = append(t.names, r.ReadString(l))
	}
	_ = numGlyphs
	return t
}

func (t *PostTable) GlyphNameIndex(glyphID uint16) uint16 {
	if int(glyphID) < len(t.glyphNameIndex) {
		return t.glyphNameIndex[glyphID]
	}
	return 0
}

func (t *PostTable) Get(glyphID uint16) string {
	idx := t.GlyphNameIndex(glyphID)
	if idx < 258 {
		return macGlyphName(idx)
	}
	i := int(idx) - 258
	if i < len(t.names) {
		return t.names[i]
	}
	return ""
}

// macGlyphName is intentionally minimal: no code in this module reads
// the 258 standard Macintosh glyph names, and they play no part in
// diff/patch correctness.
func macGlyphName(idx uint16) string {
	if idx == 0 {
		return ".notdef"
	}
	return fmt.Sprintf(".mac%d", idx)
}

// CmapTable maps runes to glyph IDs using whichever subtable Parse
// found most specific: format 12, then format 4, then nothing.
type CmapTable struct {
	toGlyph map[rune]uint16
}

func parseCmap(b []byte) *CmapTable {
	t := &CmapTable{toGlyph: map[rune]uint16{}}
	if len(b) < 4 {
		return t
	}
	numTables := binary.BigEndian.Uint16(b[2:])
	var best uint32
	var bestFormat uint16
	for i := 0; i < int(numTables); i++ {
		rec := b[4+i*8:]
		offset := binary.BigEndian.Uint32(rec[4:])
		if int(offset) >= len(b) {
			continue
		}
		format := binary.BigEndian.Uint16(b[offset:])
		if format == 12 || (format == 4 && bestFormat != 12) {
			best, bestFormat = offset, format
		}
	}
	if bestFormat == 12 {
		parseCmapFormat12(b[best:], t.toGlyph)
	} else if bestFormat == 4 {
		parseCmapFormat4(b[best:], t.toGlyph)
	}
	return t
}

func parseCmapFormat12(b []byte, out map[rune]uint16) {
	if len(b) < 16 {
		return
	}
	numGroups := binary.BigEndian.Uint32(b[12:])
	for i := uint32(0); i < numGroups; i++ {
		rec := b[16+i*12:]
		if len(rec) < 12 {
			break
		}
		start := binary.BigEndian.Uint32(rec)
		end := binary.BigEndian.Uint32(rec[4:])
		startGlyph := binary.BigEndian.Uint32(rec[8:])
		for c := start; c <= end; c++ {
			out[rune(c)] = uint16(startGlyph + (c - start))
		}
	}
}

func parseCmapFormat4(b []byte, out map[rune]uint16) {
	if len(b) < 14 {
		return
	}
	segCountX2 := binary.BigEndian.Uint16(b[6:])
	segCount := int(segCountX2 / 2)
	endCodes := b[14:]
	startCodes := endCodes[segCountX2+2:]
	idDeltas := startCodes[segCountX2:]
	idRangeOffsets := idDeltas[segCountX2:]
	for i := 0; i < segCount; i++ {
		end := binary.BigEndian.Uint16(endCodes[i*2:])
		start := binary.BigEndian.Uint16(startCodes[i*2:])
		delta := int16(binary.BigEndian.Uint16(idDeltas[i*2:]))
		rangeOffset := binary.BigEndian.Uint16(idRangeOffsets[i*2:])
		for c := uint32(start); c <= uint32(end) && c != 0xFFFF; c++ {
			var glyph uint16
			if rangeOffset == 0 {
				glyph = uint16(int32(c) + int32(delta))
			} else {
				idx := i*2 + int(rangeOffset) + int(uint16(c)-start)*2
				if idx+2 > len(idRangeOffsets) {
					continue
				}
				g := binary.BigEndian.Uint16(idRangeOffsets[idx:])
				if g != 0 {
					glyph = uint16(int32(g) + int32(delta))
				}
			}
			if glyph != 0 {
				out[rune(c)] = glyph
			}
		}
	}
}

func (t *CmapTable) ToGlyph(r rune) (uint16, bool) {
	g, ok := t.toGlyph[r]
	return g, ok
}

// ToUnicode is the inverse lookup used when rebuilding a subset's cmap;
// it is O(n) in the table's size, which is acceptable given subsetting
// runs once per patch, not on a hot path.
func (t *CmapTable) ToUnicode(glyphID uint16) rune {
	for r, g := range t.toGlyph {
		if g == glyphID {
			return r
		}
	}
	return 0
}

// LocaTable exposes glyph offsets into "glyf", transparently doubling
// short (16-bit halved) offsets to their real byte values.
type LocaTable struct {
	raw   []byte
	long  bool
}

func parseLoca(b []byte, numGlyphs uint16, long bool) *LocaTable {
	return &LocaTable{raw: b, long: long}
}

// Get returns the byte offset of glyphID into "glyf". glyphID may be
// numGlyphs, the sentinel final entry marking the table's end.
func (t *LocaTable) Get(glyphID uint16) uint32 {
	if t.long {
		off := int(glyphID) * 4
		if off+4 > len(t.raw) {
			return 0
		}
		return binary.BigEndian.Uint32(t.raw[off:])
	}
	off := int(glyphID) * 2
	if off+2 > len(t.raw) {
		return 0
	}
	return uint32(binary.BigEndian.Uint16(t.raw[off:])) * 2
}

func (t *LocaTable) Long() bool { return t.long }

// GlyfTable exposes each glyph's raw outline bytes via its loca entry.
type GlyfTable struct {
	data []byte
	loca *LocaTable
}

func (t *GlyfTable) Get(glyphID uint16) []byte {
	start, end := t.loca.Get(glyphID), t.loca.Get(glyphID+1)
	if end < start || uint32(len(t.data)) < end {
		return nil
	}
	return t.data[start:end]
}

// Dependencies returns the glyph IDs a composite glyph references,
// recursing into nested composites up to depth 8 (the same bound
// TrueType rasterizers use to reject cyclic composite glyphs).
func (t *GlyfTable) Dependencies(glyphID uint16, depth int) ([]uint16, error) {
	if 8 < depth {
		return nil, fmt.Errorf("%w: composite glyph nesting too deep", ErrInvalidFontData)
	}
	b := t.Get(glyphID)
	deps := []uint16{glyphID}
	if len(b) < 10 {
		return deps, nil
	}
	numberOfContours := int16(binary.BigEndian.Uint16(b))
	if 0 <= numberOfContours {
		return deps, nil
	}
	offset := uint32(10)
	for {
		if len(b) < int(offset)+4 {
			break
		}
		flags := binary.BigEndian.Uint16(b[offset:])
		subGlyphID := binary.BigEndian.Uint16(b[offset+2:])
		subDeps, err := t.Dependencies(subGlyphID, depth+1)
		if err != nil {
			return nil, err
		}
		deps = append(deps, subDeps...)
		length, more := glyfCompositeArgLength(flags)
		if !more {
			break
		}
		offset += length
	}
	return deps, nil
}

// glyfCompositeArgLength returns the byte length of one composite glyph
// component record (flags, glyph index, and the variably-sized
// argument/scale fields that follow) and whether another component
// follows it.
func glyfCompositeArgLength(flags uint16) (uint32, bool) {
	const (
		argsAreWords    = 0x0001
		weHaveScale     = 0x0008
		moreComponents  = 0x0020
		weHaveXYScale   = 0x0040
		weHave2x2       = 0x0080
	)
	length := uint32(4)
	if flags&argsAreWords != 0 {
		length += 4
	} else {
		length += 2
	}
	switch {
	case flags&weHave2x2 != 0:
		length += 8
	case flags&weHaveXYScale != 0:
		length += 4
	case flags&weHaveScale != 0:
		length += 2
	}
	return length, flags&moreComponents != 0
}

func sortUint16(s []uint16) {
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
}
