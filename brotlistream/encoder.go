package brotlistream

import (
	"bytes"
	"fmt"

	"github.com/andybalholm/brotli"
)

// defaultQuality is the compression level InsertCompressed and
// InsertCompressedWithPartialDict drive the encoder at. Font subsetting
// patches favor a mid-range quality: high enough to find dictionary
// matches, low enough to keep diff generation fast for interactive use.
const defaultQuality = 5

// ErrEncoderFailure wraps any error returned by the underlying brotli
// encoder.
var ErrEncoderFailure = fmt.Errorf("brotlistream: encoder failure")

// compress brotli-encodes data, priming the encoder with dict as a shared
// dictionary when non-empty, at the given window size. The encoder is
// flushed, not closed: the returned bytes carry the encoder's own
// window-bits stream header followed by one or more non-final meta-
// blocks, with no ISLAST terminator. A brotli stream may only have one
// window-bits header and one terminator, both owned by the caller's
// Stream, so appendCompressedBody strips the header this function's
// output starts with before splicing the rest in bit-for-bit.
func compress(data []byte, dict []byte, quality int, windowBits uint) ([]byte, error) {
	var out bytes.Buffer
	opts := brotli.WriterOptions{
		Quality: quality,
		LGWin:   int(windowBits),
	}
	if len(dict) > 0 {
		opts.Dictionary = dict
	}
	w := brotli.NewWriterOptions(&out, opts)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoderFailure, err)
	}
	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoderFailure, err)
	}
	return out.Bytes(), nil
}
