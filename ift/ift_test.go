package ift

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/w3c/ift-brotli-diff/sfntio"
)

// buildTestFont assembles a minimal, directly-parseable TrueType font
// with exactly the tables DiffFontStream/glyfdiff need, laid out so
// loca immediately precedes glyf (the layout DiffFontStream requires).
// glyphs gives each glyph's raw glyf bytes; lengths must be even since
// loca is written in the short (halved-offset) format.
func buildTestFont(t *testing.T, glyphs [][]byte) *sfntio.Font {
	t.Helper()
	numGlyphs := uint16(len(glyphs))

	head := make([]byte, 54)
	binary.BigEndian.PutUint16(head[18:], 1000) // unitsPerEm
	binary.BigEndian.PutUint16(head[50:], 0)    // indexToLocFormat: short

	hhea := make([]byte, 36)
	binary.BigEndian.PutUint16(hhea[34:], numGlyphs)

	maxp := make([]byte, 6)
	binary.BigEndian.PutUint16(maxp[4:], numGlyphs)

	hmtx := make([]byte, int(numGlyphs)*4)
	for i := range glyphs {
		binary.BigEndian.PutUint16(hmtx[i*4:], 500)
		binary.BigEndian.PutUint16(hmtx[i*4+2:], 0)
	}

	var glyf bytes.Buffer
	loca := make([]byte, (int(numGlyphs)+1)*2)
	pos := uint16(0)
	for i, g := range glyphs {
		if len(g)%2 != 0 {
			t.Fatalf("glyph %d has odd length %d, short loca needs even lengths", i, len(g))
		}
		binary.BigEndian.PutUint16(loca[i*2:], pos)
		glyf.Write(g)
		pos += uint16(len(g) / 2)
	}
	binary.BigEndian.PutUint16(loca[int(numGlyphs)*2:], pos)

	tags := []string{"head", "hhea", "maxp", "hmtx", "loca", "glyf"}
	tables := map[string][]byte{
		"head": head, "hhea": hhea, "maxp": maxp, "hmtx": hmtx,
		"loca": loca, "glyf": glyf.Bytes(),
	}

	var buf bytes.Buffer
	header := make([]byte, 12)
	binary.BigEndian.PutUint32(header, 0x00010000)
	binary.BigEndian.PutUint16(header[4:], uint16(len(tags)))
	buf.Write(header)
	dirStart := buf.Len()
	buf.Write(make([]byte, len(tags)*16))

	offset := uint32(dirStart + len(tags)*16)
	entry := dirStart
	for _, tag := range tags {
		data := tables[tag]
		dir := buf.Bytes()
		copy(dir[entry:], tag)
		binary.BigEndian.PutUint32(dir[entry+8:], offset)
		binary.BigEndian.PutUint32(dir[entry+12:], uint32(len(data)))
		entry += 16

		buf.Write(data)
		offset += uint32(len(data))
	}

	font, err := sfntio.Parse(buf.Bytes())
	if err != nil {
		t.Fatalf("Parse test font: %v", err)
	}
	return font
}

func identityPlan(numGlyphs uint16) *sfntio.Plan {
	p := &sfntio.Plan{RetainGIDs: true, OldToNew: map[uint16]uint16{}}
	for i := uint16(0); i < numGlyphs; i++ {
		p.NewToOld = append(p.NewToOld, i)
		p.OldToNew[i] = i
	}
	return p
}

func TestDiffApplyFontStreamRoundTrip(t *testing.T) {
	base := buildTestFont(t, [][]byte{{0, 1, 2, 3}})
	derived := buildTestFont(t, [][]byte{{0, 1, 2, 3}, {4, 5, 6, 7, 8, 9, 10, 11}})

	basePlan := identityPlan(1)
	derivedPlan := identityPlan(2)

	patch, err := Diff(base, derived, basePlan, derivedPlan, 22)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if patch.Kind != KindFontStream {
		t.Fatalf("Kind = %v, want KindFontStream", patch.Kind)
	}

	got, err := Apply(base, patch)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !bytes.Equal(got, derived.Data) {
		t.Fatalf("applied font (%d bytes) != derived font (%d bytes)", len(got), len(derived.Data))
	}
}

func TestPatchSerializeDeserializeFontStream(t *testing.T) {
	base := buildTestFont(t, [][]byte{{0, 1, 2, 3}})
	derived := buildTestFont(t, [][]byte{{0, 1, 2, 3}, {4, 5, 6, 7, 8, 9, 10, 11}})

	patch, err := Diff(base, derived, identityPlan(1), identityPlan(2), 22)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}

	wire := patch.Serialize()
	roundTripped, err := DeserializePatch(wire)
	if err != nil {
		t.Fatalf("DeserializePatch: %v", err)
	}
	got, err := Apply(base, roundTripped)
	if err != nil {
		t.Fatalf("Apply after round trip: %v", err)
	}
	if !bytes.Equal(got, derived.Data) {
		t.Fatalf("applied font after serialize round trip does not match derived")
	}
}

func TestDiffFallsBackToTableContainerOnLayoutMismatch(t *testing.T) {
	base := &sfntio.Font{
		Data:    []byte("whole base font bytes"),
		Tables:  map[string][]byte{"glyf": []byte("base-glyf"), "loca": []byte("base-loca"), "name": []byte("Base Name")},
		Offsets: map[string]uint64{"glyf": 0, "loca": 100, "name": 200}, // loca (offset 100) does not immediately precede glyf (offset 0)
	}
	derived := &sfntio.Font{
		Data:    []byte("whole derived font bytes, a bit longer"),
		Tables:  map[string][]byte{"glyf": []byte("derived-glyf"), "loca": []byte("derived-loca"), "name": []byte("Derived Name")},
		Offsets: map[string]uint64{"glyf": 0, "loca": 100, "name": 200},
	}

	patch, err := Diff(base, derived, identityPlan(0), identityPlan(0), 22)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if patch.Kind != KindTableContainer {
		t.Fatalf("Kind = %v, want KindTableContainer", patch.Kind)
	}

	out, err := Apply(base, patch)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !bytes.Contains(out, derived.Tables["glyf"]) {
		t.Fatalf("rebuilt font missing derived glyf table bytes")
	}
	if !bytes.Contains(out, derived.Tables["name"]) {
		t.Fatalf("rebuilt font missing derived name table bytes")
	}

	wire := patch.Serialize()
	roundTripped, err := DeserializePatch(wire)
	if err != nil {
		t.Fatalf("DeserializePatch: %v", err)
	}
	out2, err := Apply(base, roundTripped)
	if err != nil {
		t.Fatalf("Apply after round trip: %v", err)
	}
	if !bytes.Equal(out, out2) {
		t.Fatalf("table-container patch did not round-trip through Serialize/Deserialize")
	}
}

func TestCoverageIntersectsRespectsUnspecifiedSets(t *testing.T) {
	c := NewCoverage([]uint32{65, 66, 67}, []string{"smcp"})

	if !c.Intersects(map[uint32]struct{}{66: {}}, map[string]struct{}{"smcp": {}}) {
		t.Fatalf("expected intersection on overlapping codepoint and feature")
	}
	if c.Intersects(map[uint32]struct{}{99: {}}, map[string]struct{}{"smcp": {}}) {
		t.Fatalf("expected no intersection: disjoint codepoints")
	}
	if c.Intersects(map[uint32]struct{}{}, map[string]struct{}{"smcp": {}}) {
		t.Fatalf("an unspecified input codepoint set should not match a specified coverage")
	}

	empty := Coverage{}
	if !empty.Intersects(map[uint32]struct{}{1: {}}, map[string]struct{}{}) {
		t.Fatalf("an unspecified coverage should match any input")
	}
}

func TestCoverageEqualAndPatchMapEntryEqual(t *testing.T) {
	a := NewCoverage([]uint32{10, 20, 30}, []string{"liga", "kern"})
	b := NewCoverage([]uint32{30, 20, 10}, []string{"kern", "liga"})
	if !a.Equal(b) {
		t.Fatalf("coverages built from the same set in different orders should be equal")
	}

	e1 := PatchMapEntry{Coverage: a, PatchIndex: 3, Encoding: "brotli"}
	e2 := PatchMapEntry{Coverage: b, PatchIndex: 3, Encoding: "brotli"}
	if !e1.Equal(e2) {
		t.Fatalf("expected equal patch map entries")
	}
	e2.PatchIndex = 4
	if e1.Equal(e2) {
		t.Fatalf("entries with different patch indices should not be equal")
	}
}

func TestCoverageEncodeDecodeRoundTrip(t *testing.T) {
	c := NewCoverage([]uint32{1000, 1001, 1050, 2000}, []string{"smcp"})
	encoded := c.EncodeCodepoints()

	decoded, err := DecodeCoverage(encoded, c.Bias, c.Features)
	if err != nil {
		t.Fatalf("DecodeCoverage: %v", err)
	}
	if !c.Equal(decoded) {
		t.Fatalf("decoded coverage does not match original: %+v vs %+v", decoded, c)
	}
}
