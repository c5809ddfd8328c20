// Package brotlistream assembles a valid brotli stream one meta-block at a
// time: literal runs as uncompressed meta-blocks, backward references into a
// shared dictionary as single-command compressed meta-blocks, and arbitrary
// byte runs as brotli-encoded meta-blocks with an optional priming
// dictionary. It implements the meta-block framing described in RFC 7932
// sections 2 and 9, not general-purpose brotli compression.
package brotlistream

import (
	"errors"
	"fmt"
	"math"
	"math/bits"

	"github.com/w3c/ift-brotli-diff/bitio"
)

var (
	// ErrWindowOverflow is returned when a requested dictionary reference
	// or compressed insertion would place its source bytes outside the
	// stream's sliding window.
	ErrWindowOverflow = errors.New("brotlistream: reference falls outside window")
	// ErrOneByteCopy is returned by InsertFromDictionary for a length of
	// exactly one byte, which brotli's copy-length alphabet cannot encode
	// (the minimum representable copy length is two bytes).
	ErrOneByteCopy = errors.New("brotlistream: a one-byte dictionary copy is not representable")
	// ErrMetaBlockTooLarge is returned when a single meta-block would
	// need to carry more than 2^24 bytes and the caller bypassed the
	// internal splitting helpers.
	ErrMetaBlockTooLarge = errors.New("brotlistream: meta-block exceeds maximum size")
)

// maxMetaBlockSize is the largest MLEN a single meta-block header can
// encode (RFC 7932 section 9.2: six MLEN nibbles, biased by one).
const maxMetaBlockSize = 1 << 24

// Stream accumulates meta-blocks into a single brotli stream. The zero
// value is not usable; construct one with NewStream.
type Stream struct {
	buf            *bitio.Buffer
	windowBits     uint
	windowSize     uint64
	dictionarySize uint64
	uncompressedSize uint64
	headerWritten  bool
}

// NewStream returns an empty stream that will reference a shared
// dictionary of dictionarySize bytes through a window of 2^windowBits-16
// bytes. windowBits is clamped to the representable range [10, 24].
func NewStream(windowBits uint, dictionarySize uint64) *Stream {
	if windowBits < 10 {
		windowBits = 10
	}
	if windowBits > 24 {
		windowBits = 24
	}
	return NewStreamWithOffset(windowBits, dictionarySize, 0)
}

// NewStreamWithOffset is like NewStream but seeds the stream's logical
// uncompressed-size counter at initialOffset instead of zero. A
// TableRange uses this so that a per-table stream, destined to be
// spliced after other tables via Append, computes the same backward
// reference distances it would if it had been written in place from
// the start.
func NewStreamWithOffset(windowBits uint, dictionarySize uint64, initialOffset uint64) *Stream {
	if windowBits < 10 {
		windowBits = 10
	}
	if windowBits > 24 {
		windowBits = 24
	}
	return &Stream{
		buf:              bitio.NewBuffer(),
		windowBits:       windowBits,
		windowSize:       (uint64(1) << windowBits) - 16,
		dictionarySize:   dictionarySize,
		uncompressedSize: initialOffset,
	}
}

// Bytes returns the stream's encoded bytes so far. The stream is not
// guaranteed to be a complete, decodable brotli stream until EndStream
// has been called. The caller must not modify the returned slice.
func (s *Stream) Bytes() []byte { return s.buf.Bytes() }

// WindowBits returns the stream's configured window size exponent.
func (s *Stream) WindowBits() uint { return s.windowBits }

// DictionarySize returns the size in bytes of the shared dictionary this
// stream was constructed to reference.
func (s *Stream) DictionarySize() uint64 { return s.dictionarySize }

// UncompressedSize returns the total number of logical output bytes
// emitted by the stream so far, across all meta-blocks.
func (s *Stream) UncompressedSize() uint64 { return s.uncompressedSize }

// windowCodes maps (windowBits - 10) to the (code, width) pair RFC 7932
// section 9.1 assigns to a stream header's WBITS field: a one-bit code
// for windowBits == 16, four-bit codes for 18 through 24, and seven-bit
// codes for the rest.
var windowCodes = [15]struct {
	code  uint32
	width uint
}{
	{0b0100001, 7}, // 10
	{0b0110001, 7}, // 11
	{0b1000001, 7}, // 12
	{0b1010001, 7}, // 13
	{0b1100001, 7}, // 14
	{0b1110001, 7}, // 15
	{0b0000000, 1}, // 16
	{0b0000001, 7}, // 17
	{0b0011, 4},    // 18
	{0b0101, 4},    // 19
	{0b0111, 4},    // 20
	{0b1001, 4},    // 21
	{0b1011, 4},    // 22
	{0b1101, 4},    // 23
	{0b1111, 4},    // 24
}

func (s *Stream) addStreamHeader() {
	c := windowCodes[s.windowBits-10]
	s.buf.AppendNumber(c.code, c.width)
	s.headerWritten = true
}

// addMlen writes ISLAST, MNIBBLES and MLEN-1 for a meta-block of size
// bytes. size == 0 writes the empty-meta-block-as-padding form and
// reports true. It reports false, writing no meta-block header, if size cannot be
// represented by a single meta-block header.
func (s *Stream) addMlen(size uint64) bool {
	if !s.headerWritten {
		s.addStreamHeader()
	}
	if size == 0 {
		s.buf.AppendNumber(0, 1)    // ISLAST = 0
		s.buf.AppendNumber(0b11, 2) // MNIBBLES marker for an empty meta-block
		s.buf.AppendNumber(0, 1)    // reserved
		s.buf.AppendNumber(0, 2)    // MSKIPBYTES = 0
		s.buf.PadToEndOfByte()
		return true
	}

	var nibbles uint
	var code uint32
	switch {
	case size <= 1<<16:
		nibbles, code = 4, 0b00
	case size <= 1<<20:
		nibbles, code = 5, 0b01
	case size <= maxMetaBlockSize:
		nibbles, code = 6, 0b10
	default:
		return false
	}

	s.buf.AppendNumber(0, 1)             // ISLAST = 0
	s.buf.AppendNumber(code, 2)          // MNIBBLES
	s.buf.AppendNumber(uint32(size-1), nibbles*4) // MLEN - 1
	return true
}

// InsertUncompressed appends data as one or more uncompressed meta-blocks,
// splitting at maxMetaBlockSize boundaries as needed.
func (s *Stream) InsertUncompressed(data []byte) {
	for len(data) > maxMetaBlockSize {
		s.insertUncompressedChunk(data[:maxMetaBlockSize])
		data = data[maxMetaBlockSize:]
	}
	if len(data) > 0 {
		s.insertUncompressedChunk(data)
	}
}

func (s *Stream) insertUncompressedChunk(data []byte) {
	s.addMlen(uint64(len(data)))
	s.buf.AppendNumber(1, 1) // ISUNCOMPRESSED = 1
	s.buf.PadToEndOfByte()
	s.buf.AppendRaw(data)
	s.uncompressedSize += uint64(len(data))
}

// FourByteAlignUncompressed emits between zero and three zero bytes as a
// single uncompressed meta-block so the stream's logical uncompressed
// size becomes a multiple of four. The glyf table diff driver calls this
// between entries so that loca offsets stay four-byte aligned in the
// reconstructed table.
func (s *Stream) FourByteAlignUncompressed() {
	pad := (4 - int(s.uncompressedSize%4)) % 4
	if pad == 0 {
		return
	}
	s.InsertUncompressed(make([]byte, pad))
}

// numOfPostfixBits returns the NPOSTFIX header value wide enough to
// represent distance as a single-command compressed meta-block, per the
// distance-code derivation in RFC 7932 section 4.
func numOfPostfixBits(distance uint64) uint {
	switch {
	case distance <= 67108860:
		return 0
	case distance <= 134217720:
		return 1
	case distance <= 268435440:
		return 2
	default:
		return 3
	}
}

// copyExtraBitsTable gives the number of extra bits associated with each
// copy-length code, per RFC 7932 section 5 table.
var copyExtraBitsTable = [24]uint{
	0, 0, 0, 0, 0, 0, 0, 0,
	1, 1, 2, 2, 3, 3, 4, 4,
	5, 5, 6, 7, 8, 9, 10, 24,
}

// toCopyCode returns the copy-length code for length along with its
// extra-bit width and the extra-bit value to emit.
func toCopyCode(length uint64) (code uint, numExtraBits uint, extraBits uint64) {
	maxLength := uint64(2)
	prevMaxLength := uint64(1)
	c := uint(0)
	for {
		if length <= maxLength || c == 23 {
			return c, copyExtraBitsTable[c], length - prevMaxLength - 1
		}
		c++
		prevMaxLength = maxLength
		maxLength += uint64(1) << copyExtraBitsTable[c]
	}
}

// insertAndCopyCode folds a copy-length code into the 704-symbol
// insert-and-copy alphabet at the point that always selects zero
// inserted literals, per RFC 7932 section 5.
func insertAndCopyCode(length uint64) (code uint16, numExtraBits uint, extraBits uint64) {
	c, numExtraBits, extraBits := toCopyCode(length)
	var prefix uint16
	switch {
	case c <= 7:
		prefix, c = 128, c
	case c <= 15:
		prefix, c = 192, c-8
	default:
		prefix, c = 384, c-16
	}
	return prefix | uint16(c), numExtraBits, extraBits
}

// log2FloorNonZero returns floor(log2(v)) for v >= 1.
func log2FloorNonZero(v uint64) uint {
	return uint(bits.Len64(v)) - 1
}

// distanceCode computes the composite distance symbol for an absolute
// distance value with NDIRECT fixed at zero, mirroring the packed
// (extra-bit-count, code) pair brotli's encoder derives directly from
// RFC 7932 section 4 rather than the ring-buffer-aware short codes.
func distanceCode(distance uint64, postfixBits uint) (code uint16, numExtraBits uint, extraBits uint64) {
	d := distance + 15
	if d < 16 {
		return uint16(d), 0, 0
	}
	d -= 16
	d += uint64(1) << (postfixBits + 2)

	bucket := log2FloorNonZero(d) - 1
	postfixMask := uint64(1)<<postfixBits - 1
	postfix := d & postfixMask
	prefix := (d >> bucket) & 1
	offset := (2 + prefix) << bucket
	nbits := bucket - postfixBits

	code = uint16(16 + ((2*(nbits-1)+uint(prefix))<<postfixBits) + uint(postfix))
	extraBits = (d - offset) >> postfixBits
	return code, nbits, extraBits
}

// distanceCodeWidth returns the number of bits needed for the distance
// alphabet's single-symbol simple prefix tree, given NDIRECT = 0.
func distanceCodeWidth(postfixBits uint) uint {
	n := 16 + (48 << postfixBits)
	return uint(math.Ceil(math.Log2(float64(n))))
}

// addPrefixTree emits a simple (one-symbol) prefix tree: tree type 01,
// NSYM-1 = 0, followed by the symbol packed in width bits.
func (s *Stream) addPrefixTree(symbol uint32, width uint) {
	s.buf.AppendNumber(0b01, 2)
	s.buf.AppendNumber(0b00, 2)
	s.buf.AppendNumber(symbol, width)
}

// InsertFromDictionary appends a single backward reference of length
// bytes starting at byte offset of the shared dictionary followed by the
// stream's own output (offset 0 is the dictionary's first byte), as a
// one-command compressed meta-block. A length of zero is a no-op.
func (s *Stream) InsertFromDictionary(offset, length uint64) error {
	if length == 0 {
		return nil
	}
	if length == 1 {
		return ErrOneByteCopy
	}
	if s.uncompressedSize+s.dictionarySize > s.windowSize {
		return fmt.Errorf("%w: dictionary reference", ErrWindowOverflow)
	}

	available := s.dictionarySize + min64(s.windowSize, s.uncompressedSize)
	if offset > available {
		return fmt.Errorf("%w: offset %d exceeds available window %d", ErrWindowOverflow, offset, available)
	}
	distance := available - offset

	if length > maxMetaBlockSize {
		// Split into two dictionary-reference commands covering the same
		// bytes. The second command's offset shifts forward by the first
		// command's length; its distance stays the same, since the first
		// command grows the stream's output by that same length.
		first := uint64(maxMetaBlockSize)
		if err := s.InsertFromDictionary(offset, first); err != nil {
			return err
		}
		return s.InsertFromDictionary(offset+first, length-first)
	}

	postfixBits := numOfPostfixBits(distance)
	icCode, icExtraWidth, icExtraValue := insertAndCopyCode(length)
	distCode, distExtraWidth, distExtraValue := distanceCode(distance, postfixBits)
	distWidth := distanceCodeWidth(postfixBits)

	s.addMlen(length)
	s.buf.AppendNumber(0, 1) // ISUNCOMPRESSED = 0
	s.buf.AppendNumber(0, 1) // NBLTYPESL = 1
	s.buf.AppendNumber(0, 1) // NBLTYPESI = 1
	s.buf.AppendNumber(0, 1) // NBLTYPESD = 1
	s.buf.AppendNumber(uint32(postfixBits), 2)
	s.buf.AppendNumber(0b0000, 4) // NDIRECT = 0
	s.buf.AppendNumber(0b00, 2)   // literal context mode
	s.buf.AppendNumber(0, 1)      // NTREESL = 1
	s.buf.AppendNumber(0, 1)      // NTREESD = 1

	s.addPrefixTree(0, 8)
	s.addPrefixTree(uint32(icCode), 10)
	s.addPrefixTree(uint32(distCode), distWidth)

	s.buf.AppendNumber(uint32(icExtraValue), icExtraWidth)
	s.buf.AppendNumber(uint32(distExtraValue), distExtraWidth)

	s.uncompressedSize += length
	return nil
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// InsertCompressed brotli-encodes data with no priming dictionary and
// appends it as one or more compressed meta-blocks.
func (s *Stream) InsertCompressed(data []byte) error {
	return s.InsertCompressedWithPartialDict(data, nil)
}

// InsertCompressedWithPartialDict brotli-encodes data, priming the
// encoder with the trailing partialDict bytes of the shared dictionary
// so references into the not-yet-written prefix of the current
// reconstruction can still be found, and appends the result as one or
// more compressed meta-blocks.
func (s *Stream) InsertCompressedWithPartialDict(data []byte, partialDict []byte) error {
	if len(data) == 0 {
		return nil
	}
	if uint64(len(partialDict)) > s.dictionarySize {
		partialDict = partialDict[uint64(len(partialDict))-s.dictionarySize:]
	}
	if !s.headerWritten {
		s.addStreamHeader()
	}

	streamOffset := s.uncompressedSize + s.dictionarySize - uint64(len(partialDict))
	if streamOffset > s.windowSize {
		return fmt.Errorf("%w: compressed insertion", ErrWindowOverflow)
	}

	compressed, err := compress(data, partialDict, defaultQuality, s.windowBits)
	if err != nil {
		return err
	}
	s.appendCompressedBody(compressed)
	s.uncompressedSize += uint64(len(data))
	return nil
}

// appendCompressedBody splices compressed, a real encoder's flushed
// output for this same window size as produced by compress, onto s,
// discarding the leading window-bits header the encoder wrote for its
// own standalone use. s already owns (or will own) its single header via
// addStreamHeader, and a brotli stream may have only one, so the bits
// are re-packed rather than byte-copied: the encoder's header width
// rarely lands on a byte boundary.
func (s *Stream) appendCompressedBody(compressed []byte) {
	width := windowCodes[s.windowBits-10].width
	s.buf.AppendBitsFrom(compressed, int(width))
}

// Append concatenates other's encoded content onto s bit-for-bit. If
// both s and other have already written their own window-bits header,
// other's is stripped first, since a stream may only carry one.
func (s *Stream) Append(other *Stream) {
	skipBits := 0
	if other.headerWritten {
		if s.headerWritten {
			skipBits = int(windowCodes[other.windowBits-10].width)
		} else {
			s.headerWritten = true
		}
	}
	s.buf.AppendBitsFrom(other.buf.Bytes(), skipBits)
	s.uncompressedSize += other.uncompressedSize
}

// EndStream writes the final empty, ISLAST meta-block that terminates a
// brotli stream.
func (s *Stream) EndStream() {
	if !s.headerWritten {
		s.addStreamHeader()
	}
	s.buf.AppendNumber(1, 1) // ISLAST = 1
	s.buf.AppendNumber(1, 1) // ISLASTEMPTY = 1
	s.buf.PadToEndOfByte()
}
