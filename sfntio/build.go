package sfntio

import (
	"encoding/binary"
	"math"
	"sort"
)

// BuildFont assembles a standalone, checksummed SFNT binary from a
// complete tag->bytes table map, recomputing the table directory and
// head's checksumAdjustment field. Unlike Subset, it performs no glyph
// renumbering or table synthesis: every table's bytes are taken
// verbatim from tables, which is what a patch applier needs once it
// has reconstructed each table's final form.
func BuildFont(tables map[string][]byte) ([]byte, error) {
	tags := make([]string, 0, len(tables))
	for tag := range tables {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

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
	haveHead := false

	for i, tag := range tags {
		offsets[i] = w.Len()
		data := tables[tag]
		if tag == "head" && len(data) >= 12 {
			haveHead = true
			w.WriteBytes(data[:8])
			checksumAdjustmentPos = w.Len()
			w.WriteUint32(0)
			w.WriteBytes(data[12:])
		} else {
			w.WriteBytes(data)
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
	if haveHead {
		binary.BigEndian.PutUint32(buf[checksumAdjustmentPos:], 0xB1B0AFBA-calcChecksum(buf))
	}
	return buf, nil
}
