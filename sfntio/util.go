package sfntio

import "encoding/binary"

// binaryReader walks a byte slice sequentially, matching TrueType/OpenType's
// big-endian field layout.
type binaryReader struct {
	b []byte
	i int
}

func newBinaryReader(b []byte) *binaryReader {
	return &binaryReader{b: b}
}

func (r *binaryReader) ReadBytes(n int) []byte {
	b := r.b[r.i : r.i+n]
	r.i += n
	return b
}

func (r *binaryReader) ReadByte() byte { return r.ReadBytes(1)[0] }

func (r *binaryReader) ReadString(n int) string { return string(r.ReadBytes(n)) }

func (r *binaryReader) ReadUint16() uint16 { return binary.BigEndian.Uint16(r.ReadBytes(2)) }

func (r *binaryReader) ReadInt16() int16 { return int16(r.ReadUint16()) }

func (r *binaryReader) ReadUint32() uint32 { return binary.BigEndian.Uint32(r.ReadBytes(4)) }

// binaryWriter appends big-endian fields to a growable byte slice.
type binaryWriter struct {
	buf []byte
}

func newBinaryWriter() *binaryWriter { return &binaryWriter{} }

func (w *binaryWriter) Bytes() []byte { return w.buf }

func (w *binaryWriter) Len() uint32 { return uint32(len(w.buf)) }

func (w *binaryWriter) WriteBytes(v []byte) { w.buf = append(w.buf, v...) }

func (w *binaryWriter) WriteByte(v byte) { w.buf = append(w.buf, v) }

func (w *binaryWriter) WriteUint8(v uint8) { w.buf = append(w.buf, v) }

func (w *binaryWriter) WriteString(v string) { w.buf = append(w.buf, v...) }

func (w *binaryWriter) WriteUint16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *binaryWriter) WriteInt16(v int16) { w.WriteUint16(uint16(v)) }

func (w *binaryWriter) WriteUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *binaryWriter) WriteInt64(v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	w.buf = append(w.buf, b[:]...)
}

// calcChecksum computes the table checksum algorithm from the OpenType
// spec: the sum of the table's bytes read as big-endian uint32 words,
// zero-padded to a four-byte boundary.
func calcChecksum(b []byte) uint32 {
	if len(b)%4 != 0 {
		b = append(append([]byte{}, b...), make([]byte, 4-len(b)%4)...)
	}
	var sum uint32
	for i := 0; i < len(b); i += 4 {
		sum += binary.BigEndian.Uint32(b[i:])
	}
	return sum
}
