package sfntio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestSniffRejectsShortInput(t *testing.T) {
	if _, err := Sniff([]byte{0, 1}); !errors.Is(err, ErrInvalidFontData) {
		t.Fatalf("err = %v, want ErrInvalidFontData", err)
	}
}

func TestSniffRejectsUnrecognizedTag(t *testing.T) {
	if _, err := Sniff([]byte("zzzzmore bytes")); !errors.Is(err, ErrInvalidFontData) {
		t.Fatalf("err = %v, want ErrInvalidFontData", err)
	}
}

func TestSniffRejectsWOFFWithoutParsing(t *testing.T) {
	if _, err := Sniff([]byte("wOFFgarbage")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}
	if _, err := Sniff([]byte("wOF2garbage")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestSniffRejectsMalformedOTTO(t *testing.T) {
	if _, err := Sniff([]byte("OTTOnotactuallycff")); !errors.Is(err, ErrInvalidFontData) {
		t.Fatalf("err = %v, want ErrInvalidFontData", err)
	}
}

func TestSniffRejectsMalformedTrueType(t *testing.T) {
	tag := make([]byte, 4)
	binary.BigEndian.PutUint32(tag, 0x00010000)
	if _, err := Sniff(append(tag, []byte("not a real sfnt directory")...)); !errors.Is(err, ErrInvalidFontData) {
		t.Fatalf("err = %v, want ErrInvalidFontData", err)
	}
}

// buildFont assembles a minimal, directly-parseable TrueType font: the
// six tables the patch engine reads, laid out with loca immediately
// preceding glyf. glyphs gives each glyph's raw glyf bytes (even
// lengths only, since loca is written in the short format here).
func buildFont(t *testing.T, glyphs [][]byte) []byte {
	t.Helper()
	numGlyphs := uint16(len(glyphs))

	head := make([]byte, 54)
	binary.BigEndian.PutUint16(head[18:], 1000)
	binary.BigEndian.PutUint16(head[50:], 0)

	hhea := make([]byte, 36)
	binary.BigEndian.PutUint16(hhea[34:], numGlyphs)

	maxp := make([]byte, 6)
	binary.BigEndian.PutUint16(maxp[4:], numGlyphs)

	hmtx := make([]byte, int(numGlyphs)*4)
	for i := range glyphs {
		binary.BigEndian.PutUint16(hmtx[i*4:], 500)
	}

	var glyf bytes.Buffer
	loca := make([]byte, (int(numGlyphs)+1)*2)
	pos := uint16(0)
	for i, g := range glyphs {
		if len(g)%2 != 0 {
			t.Fatalf("glyph %d has odd length %d", i, len(g))
		}
		binary.BigEndian.PutUint16(loca[i*2:], pos)
		glyf.Write(g)
		pos += uint16(len(g) / 2)
	}
	binary.BigEndian.PutUint16(loca[int(numGlyphs)*2:], pos)

	post := make([]byte, 32)
	binary.BigEndian.PutUint32(post, 0x00030000)

	tags := []string{"head", "hhea", "maxp", "hmtx", "post", "loca", "glyf"}
	tables := map[string][]byte{
		"head": head, "hhea": hhea, "maxp": maxp, "hmtx": hmtx,
		"post": post, "loca": loca, "glyf": glyf.Bytes(),
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
	return buf.Bytes()
}

func TestParseRoundTripsCoreTables(t *testing.T) {
	data := buildFont(t, [][]byte{{0, 1, 2, 3}, {4, 5, 6, 7, 8, 9}})
	font, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if font.Maxp.NumGlyphs != 2 {
		t.Fatalf("NumGlyphs = %d, want 2", font.Maxp.NumGlyphs)
	}
	if font.Head.IndexToLocFormat != 0 {
		t.Fatalf("IndexToLocFormat = %d, want 0 (short)", font.Head.IndexToLocFormat)
	}
	if !bytes.Equal(font.Glyf.Get(0), []byte{0, 1, 2, 3}) {
		t.Fatalf("glyph 0 = %v, want {0,1,2,3}", font.Glyf.Get(0))
	}
	if !bytes.Equal(font.Glyf.Get(1), []byte{4, 5, 6, 7, 8, 9}) {
		t.Fatalf("glyph 1 = %v, want {4,5,6,7,8,9}", font.Glyf.Get(1))
	}
	if font.Offsets["loca"]+uint64(len(font.Tables["loca"])) != font.Offsets["glyf"] {
		t.Fatalf("loca does not immediately precede glyf in this fixture")
	}
}

func TestParseRejectsTruncatedTableDirectory(t *testing.T) {
	data := buildFont(t, [][]byte{{0, 1, 2, 3}})
	if _, err := Parse(data[:20]); !errors.Is(err, ErrInvalidFontData) {
		t.Fatalf("err = %v, want ErrInvalidFontData", err)
	}
}

func TestBuildPlanRetainGIDsKeepsGapsAndAddsNotdef(t *testing.T) {
	data := buildFont(t, [][]byte{{0, 0}, {0, 0}, {0, 0}, {0, 0}, {0, 0}})
	font, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	plan, err := BuildPlan(font.Glyf, font.Maxp.NumGlyphs, []uint16{3}, true)
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if !plan.RetainGIDs {
		t.Fatalf("expected RetainGIDs plan")
	}
	if _, ok := plan.OldToNew[0]; !ok {
		t.Fatalf("expected glyph 0 (.notdef) to be retained automatically")
	}
	if _, ok := plan.OldToNew[3]; !ok {
		t.Fatalf("expected requested glyph 3 to be retained")
	}
	if _, ok := plan.OldToNew[1]; ok {
		t.Fatalf("glyph 1 was not requested and should be dropped")
	}
	if len(plan.NewToOld) != 4 {
		t.Fatalf("NewToOld length = %d, want 4 (0..3 inclusive)", len(plan.NewToOld))
	}
}

func TestBuildPlanDenseRenumbersContiguously(t *testing.T) {
	data := buildFont(t, [][]byte{{0, 0}, {0, 0}, {0, 0}, {0, 0}, {0, 0}})
	font, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	plan, err := BuildPlan(font.Glyf, font.Maxp.NumGlyphs, []uint16{3}, false)
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if len(plan.NewToOld) != 2 {
		t.Fatalf("NewToOld length = %d, want 2 (.notdef + glyph 3)", len(plan.NewToOld))
	}
	if plan.NewToOld[0] != 0 || plan.NewToOld[1] != 3 {
		t.Fatalf("NewToOld = %v, want [0 3]", plan.NewToOld)
	}
	if plan.OldToNew[3] != 1 {
		t.Fatalf("OldToNew[3] = %d, want 1", plan.OldToNew[3])
	}
}

func TestIsSparse(t *testing.T) {
	if IsSparse([]uint16{0, 1, 2}, 3) {
		t.Fatalf("covering every glyph should not be sparse")
	}
	if !IsSparse([]uint16{0, 1}, 3) {
		t.Fatalf("covering fewer glyphs than the font defines should be sparse")
	}
}

func TestSubsetProducesParseableFont(t *testing.T) {
	data := buildFont(t, [][]byte{{0, 0}, {1, 1, 1, 1}, {2, 2}})
	font, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	plan, err := BuildPlan(font.Glyf, font.Maxp.NumGlyphs, []uint16{1}, false)
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}

	out, err := Subset(font, plan)
	if err != nil {
		t.Fatalf("Subset: %v", err)
	}
	subset, err := Parse(out)
	if err != nil {
		t.Fatalf("Parse(Subset output): %v", err)
	}
	if subset.Maxp.NumGlyphs != uint16(len(plan.NewToOld)) {
		t.Fatalf("subset NumGlyphs = %d, want %d", subset.Maxp.NumGlyphs, len(plan.NewToOld))
	}
	if !bytes.Equal(subset.Glyf.Get(1), []byte{1, 1, 1, 1}) {
		t.Fatalf("subset glyph 1 = %v, want the original glyph 1's bytes", subset.Glyf.Get(1))
	}
}

func TestBuildFontRecomputesChecksumAdjustment(t *testing.T) {
	head := make([]byte, 54)
	binary.BigEndian.PutUint32(head[8:], 0x5F0F3CF5) // magic number
	out, err := BuildFont(map[string][]byte{
		"head": head,
		"abcd": []byte("hello"),
	})
	if err != nil {
		t.Fatalf("BuildFont: %v", err)
	}
	font, err := Parse(out)
	// Parse requires maxp/hhea which this minimal fixture doesn't have,
	// so a parse error here is expected.
	if err == nil && font != nil {
		t.Fatalf("unexpected successful parse of a font with no maxp table")
	}
	if len(out) == 0 {
		t.Fatalf("BuildFont produced no output")
	}
	// With checksumAdjustment written, the whole font sums to 0xB1B0AFBA.
	if sum := calcChecksum(out); sum != 0xB1B0AFBA {
		t.Fatalf("whole-font checksum = %#x, want 0xB1B0AFBA", sum)
	}
}
