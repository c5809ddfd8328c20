package sfntio

import (
	"encoding/binary"
	"math"
	"sort"
	"time"
)

// Subset rebuilds font restricted to the glyphs named in plan,
// producing a standalone, checksummed SFNT byte blob. It is a
// reference subsetter for producing realistic base/derived font pairs
// (the glyfdiff and ift tests build their fonts by hand instead); the
// patch engine itself never
// calls it; it only ever diffs and patches subsets a caller already
// produced.
func Subset(font *Font, plan *Plan) ([]byte, error) {
	tags := []string{"cmap", "head", "hhea", "hmtx", "maxp", "post"}
	for _, tag := range []string{"name", "OS/2", "cvt ", "fpgm", "prep"} {
		if _, ok := font.Tables[tag]; ok {
			tags = append(tags, tag)
		}
	}
	tags = append(tags, "glyf", "loca")
	sort.Strings(tags)

	// RetainGIDs subsets keep glyph ID 0..max contiguous (with unkept
	// glyphs as zero-length entries) so that a glyph's ID still means
	// the same thing as in the original font; otherwise glyphs are
	// renumbered densely. Either way plan.NewToOld already holds the
	// right sequence of original glyph IDs to iterate in new-ID order.
	glyphIDs := plan.NewToOld

	w := newBinaryWriter()
	w.WriteUint32(0x00010000)
	numTables := uint16(len(tags))
	entrySelector := uint16(math.Log2(float64(numTables)))
	searchRange := uint16(1 << (entrySelector + 4))
	w.WriteUint16(numTables)
	w.WriteUint16(searchRange)
	w.WriteUint16(entrySelector)
	w.WriteUint16(numTables<<4 - searchRange)
	w.WriteBytes(make([]byte, int(numTables)*16))

	offsets := make([]uint32, numTables)
	lengths := make([]uint32, numTables)
	var checksumAdjustmentPos uint32
	iGlyf := -1
	for i, tag := range tags {
		if tag == "glyf" {
			iGlyf = i
		}
	}

	for i, tag := range tags {
		offsets[i] = w.Len()
		switch tag {
		case "head":
			head := font.Head.Raw
			w.WriteBytes(head[:8])
			checksumAdjustmentPos = w.Len()
			w.WriteUint32(0)
			w.WriteBytes(head[12:28])
			w.WriteInt64(int64(time.Now().UTC().Sub(time.Date(1904, 1, 1, 0, 0, 0, 0, time.UTC)) / 1e9))
			w.WriteBytes(head[36:50])
			if iGlyf >= 0 && lengths[iGlyf] <= math.MaxUint16 {
				w.WriteInt16(0)
			} else {
				w.WriteInt16(1)
			}
			w.WriteBytes(head[52:])
		case "glyf":
			writeGlyf(w, font, glyphIDs, plan)
		case "loca":
			writeLoca(w, font, glyphIDs, plan, lengths[iGlyf] <= math.MaxUint16)
		case "maxp":
			maxp := font.Maxp.Raw
			w.WriteBytes(maxp[:4])
			w.WriteUint16(uint16(len(glyphIDs)))
			w.WriteBytes(maxp[6:])
		case "hhea":
			numberOfHMetrics := uint16(0)
			for _, glyphID := range glyphIDs {
				if font.Hhea.NumberOfHMetrics <= glyphID {
					break
				}
				numberOfHMetrics++
			}
			hhea := font.Hhea.Raw
			w.WriteBytes(hhea[:34])
			w.WriteUint16(numberOfHMetrics)
		case "hmtx":
			for _, glyphID := range glyphIDs {
				if glyphID < font.Hhea.NumberOfHMetrics {
					w.WriteUint16(font.Hmtx.Advance(glyphID))
				}
				w.WriteInt16(font.Hmtx.LeftSideBearing(glyphID))
			}
		case "post":
			post := font.Tables["post"]
			if len(post) < 32 {
				post = make([]byte, 32)
				binary.BigEndian.PutUint32(post, 0x00030000)
			}
			w.WriteBytes(post[:32])
		case "cmap":
			writeCmap(w, font, glyphIDs)
		default:
			w.WriteBytes(font.Tables[tag])
		}
		lengths[i] = w.Len() - offsets[i]
		padding := (4 - lengths[i]&3) & 3
		for j := uint32(0); j < padding; j++ {
			w.WriteByte(0x00)
		}
	}

	buf := w.Bytes()
	for i, tag := range tags {
		pos := 12 + i<<4
		copy(buf[pos:], []byte(tag))
		padding := (4 - lengths[i]&3) & 3
		checksum := calcChecksum(buf[offsets[i] : offsets[i]+lengths[i]+padding])
		binary.BigEndian.PutUint32(buf[pos+4:], checksum)
		binary.BigEndian.PutUint32(buf[pos+8:], offsets[i])
		binary.BigEndian.PutUint32(buf[pos+12:], lengths[i])
	}
	binary.BigEndian.PutUint32(buf[checksumAdjustmentPos:], 0xB1B0AFBA-calcChecksum(buf))
	return buf, nil
}

func writeGlyf(w *binaryWriter, font *Font, glyphIDs []uint16, plan *Plan) {
	for _, glyphID := range glyphIDs {
		if plan.RetainGIDs {
			if _, ok := plan.OldToNew[glyphID]; !ok {
				continue
			}
		}
		b := font.Glyf.Get(glyphID)
		if len(b) == 0 {
			continue
		}
		start := w.Len()
		w.WriteBytes(b)
		numberOfContours := int16(binary.BigEndian.Uint16(b))
		if 0 <= numberOfContours {
			continue
		}
		offset := uint32(10)
		for {
			flags := binary.BigEndian.Uint16(b[offset:])
			subGlyphID := binary.BigEndian.Uint16(b[offset+2:])
			newSub := plan.OldToNew[subGlyphID]
			out := w.Bytes()
			binary.BigEndian.PutUint16(out[start+offset+2:], newSub)
			length, more := glyfCompositeArgLength(flags)
			if !more {
				break
			}
			offset += length
		}
	}
}

func writeLoca(w *binaryWriter, font *Font, glyphIDs []uint16, plan *Plan, short bool) {
	glyphLen := func(glyphID uint16) uint32 {
		if plan.RetainGIDs {
			if _, ok := plan.OldToNew[glyphID]; !ok {
				return 0
			}
		}
		pos1, pos2 := font.Loca.Get(glyphID), font.Loca.Get(glyphID+1)
		return pos2 - pos1
	}
	if short {
		pos := uint16(0)
		for _, glyphID := range glyphIDs {
			w.WriteUint16(pos)
			pos += uint16(glyphLen(glyphID) / 2)
		}
		w.WriteUint16(pos)
		return
	}
	pos := uint32(0)
	for _, glyphID := range glyphIDs {
		w.WriteUint32(pos)
		pos += glyphLen(glyphID)
	}
	w.WriteUint32(pos)
}

func writeCmap(w *binaryWriter, font *Font, glyphIDs []uint16) {
	w.WriteUint16(0)
	w.WriteUint16(1)
	w.WriteUint16(0)
	w.WriteUint16(4)
	w.WriteUint32(12)

	start := w.Len()
	w.WriteUint16(12)
	w.WriteUint16(0)
	w.WriteUint32(0)
	w.WriteUint32(0)

	type pair struct {
		r rune
		g uint16
	}
	var rs []pair
	for newID, oldID := range glyphIDs {
		if r := font.Cmap.ToUnicode(oldID); r != 0 {
			rs = append(rs, pair{r, uint16(newID)})
		}
	}
	sort.Slice(rs, func(i, j int) bool { return rs[i].r < rs[j].r })

	w.WriteUint32(uint32(len(rs)))
	for _, p := range rs {
		w.WriteUint32(uint32(p.r))
		w.WriteUint32(uint32(p.r))
		w.WriteUint32(uint32(p.g))
	}
	out := w.Bytes()
	binary.BigEndian.PutUint32(out[start+4:], w.Len()-start)
}
