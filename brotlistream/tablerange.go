package brotlistream

import (
	"errors"
	"fmt"
)

// ErrPendingExceedsTable is returned when extending a run would reach
// past the end of either the base or derived table's bytes.
var ErrPendingExceedsTable = errors.New("brotlistream: pending run exceeds table bounds")

// TableRange accumulates a run of classified bytes (either "exists in
// the base table" or "is new to the derived table") for a single font
// table and commits each run onto an owned Stream targeting that
// table's contribution to the reconstructed font.
type TableRange struct {
	Derived []byte // the derived table's raw bytes
	Stream  *Stream

	baseTableOffset uint64 // byte offset of this table within the base font
	baseTableSize   uint64
	derivedTableSize uint64

	baseOffset, derivedOffset   uint64
	basePending, derivedPending uint64
}

// NewTableRange returns a TableRange targeting derived, an owned stream
// primed with the given window and dictionary size, and an initial
// stream offset equal to the derived table's byte offset within its
// font file (so backward references line up with the font's logical
// layout).
func NewTableRange(derived []byte, baseTableOffset, baseTableSize uint64, windowBits uint, dictionarySize uint64, derivedTableOffset uint64) *TableRange {
	return &TableRange{
		Derived:          derived,
		Stream:           NewStreamWithOffset(windowBits, dictionarySize, derivedTableOffset),
		baseTableOffset:  baseTableOffset,
		baseTableSize:    baseTableSize,
		derivedTableSize: uint64(len(derived)),
	}
}

// Extend grows the current pending run by baseLen bytes in the base
// table and derivedLen bytes in the derived table.
func (tr *TableRange) Extend(baseLen, derivedLen uint64) error {
	if tr.baseOffset+tr.basePending+baseLen > tr.baseTableSize {
		return fmt.Errorf("%w: base", ErrPendingExceedsTable)
	}
	if tr.derivedOffset+tr.derivedPending+derivedLen > tr.derivedTableSize {
		return fmt.Errorf("%w: derived", ErrPendingExceedsTable)
	}
	tr.basePending += baseLen
	tr.derivedPending += derivedLen
	return nil
}

// CommitNew flushes the pending run as freshly brotli-compressed bytes
// and advances both cursors.
func (tr *TableRange) CommitNew() error {
	chunk := tr.Derived[tr.derivedOffset : tr.derivedOffset+tr.derivedPending]
	if err := tr.Stream.InsertCompressed(chunk); err != nil {
		return err
	}
	tr.advance()
	return nil
}

// CommitExisting flushes the pending run as a dictionary reference into
// the base table at the run's current base offset, falling back to an
// uncompressed literal insertion when the run is exactly one byte (a
// length the copy-length alphabet cannot represent).
func (tr *TableRange) CommitExisting() error {
	err := tr.Stream.InsertFromDictionary(tr.baseTableOffset+tr.baseOffset, tr.derivedPending)
	if errors.Is(err, ErrOneByteCopy) {
		chunk := tr.Derived[tr.derivedOffset : tr.derivedOffset+tr.derivedPending]
		tr.Stream.InsertUncompressed(chunk)
		tr.advance()
		return nil
	}
	if err != nil {
		return err
	}
	tr.advance()
	return nil
}

func (tr *TableRange) advance() {
	tr.baseOffset += tr.basePending
	tr.derivedOffset += tr.derivedPending
	tr.basePending = 0
	tr.derivedPending = 0
}
