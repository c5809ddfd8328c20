package ift

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"

	"github.com/w3c/ift-brotli-diff/brotlistream"
	"github.com/w3c/ift-brotli-diff/glyfdiff"
	"github.com/w3c/ift-brotli-diff/sfntio"
	"github.com/w3c/ift-brotli-diff/tablepatch"
)

// ErrTableLayout is returned by DiffFontStream when the base or derived
// font's loca table does not immediately precede its glyf table, a layout
// invariant the single-stream font diff depends on to split the file
// into a compressed-with-dictionary prefix, the glyf/loca range, and a
// freshly compressed suffix. Diff falls back to a per-table patch
// (tablepatch.Diff) when this invariant doesn't hold.
var ErrTableLayout = errors.New("ift: loca must immediately precede glyf")

// ErrUnknownPatchKind is returned when deserializing a Patch whose kind
// byte does not match any known patch representation.
var ErrUnknownPatchKind = errors.New("ift: unknown patch kind")

// Kind identifies which representation a Patch carries.
type Kind byte

const (
	// KindFontStream is a single brotli stream covering the entire
	// derived font byte-for-byte, decodable against the base font's
	// bytes as an external dictionary. Produced by DiffFontStream.
	KindFontStream Kind = 1
	// KindTableContainer is a tablepatch.Container: independent
	// per-table brotli diffs plus a removed-table list, reassembled
	// into a full font with sfntio.BuildFont. Produced as a fallback
	// when the font-stream layout invariant doesn't hold.
	KindTableContainer Kind = 2
)

// Patch is the output of Diff: either a whole-font brotli stream or a
// per-table patch container, tagged by Kind.
type Patch struct {
	Kind           Kind
	FontStream     []byte
	TableContainer *tablepatch.Container
}

// Diff produces a Patch that turns base into derived. It prefers the
// glyf/loca-aware single-stream font diff (DiffFontStream), which
// produces smaller patches by encoding unchanged glyph ranges as
// dictionary backward-references instead of independently compressing
// every table; when either font's table layout doesn't meet that path's
// requirements, it falls back to a per-table patch over the tables named
// in tablepatch.DefaultTargetTags (other tables are taken from base).
func Diff(base, derived *sfntio.Font, basePlan, derivedPlan *sfntio.Plan, windowBits uint) (*Patch, error) {
	stream, err := DiffFontStream(base, derived, basePlan, derivedPlan, windowBits)
	if err == nil {
		return &Patch{Kind: KindFontStream, FontStream: stream}, nil
	}
	if !errors.Is(err, ErrTableLayout) {
		return nil, err
	}

	container, err := tablepatch.Diff(base.Tables, derived.Tables, nil)
	if err != nil {
		return nil, fmt.Errorf("ift: table-container fallback: %w", err)
	}
	return &Patch{Kind: KindTableContainer, TableContainer: container}, nil
}

// Apply reconstructs the derived font's bytes from base and a Patch
// produced by Diff.
func Apply(base *sfntio.Font, patch *Patch) ([]byte, error) {
	switch patch.Kind {
	case KindFontStream:
		return ApplyFontStream(base, patch.FontStream)
	case KindTableContainer:
		tables, err := tablepatch.Apply(base.Tables, patch.TableContainer)
		if err != nil {
			return nil, err
		}
		return sfntio.BuildFont(tables)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownPatchKind, patch.Kind)
	}
}

// DiffFontStream builds a single continuous brotli stream that
// reconstructs derived's bytes exactly, given base's bytes as a shared
// dictionary: the file prefix preceding loca is compressed against the
// corresponding base prefix, the loca/glyf table pair is diffed glyph
// range by glyph range (glyfdiff), and any trailing tables after glyf
// are freshly compressed without the dictionary.
func DiffFontStream(base, derived *sfntio.Font, basePlan, derivedPlan *sfntio.Plan, windowBits uint) ([]byte, error) {
	baseLocaOffset := base.Offsets["loca"]
	derivedLocaOffset := derived.Offsets["loca"]
	derivedGlyfOffset := derived.Offsets["glyf"]

	if derivedLocaOffset+uint64(len(derived.Tables["loca"])) != derivedGlyfOffset {
		return nil, ErrTableLayout
	}
	if baseLocaOffset+uint64(len(base.Tables["loca"])) != base.Offsets["glyf"] {
		return nil, ErrTableLayout
	}

	out := brotlistream.NewStream(windowBits, uint64(len(base.Data)))

	prefix := derived.Data[:derivedLocaOffset]
	basePrefix := base.Data[:baseLocaOffset]
	if err := out.InsertCompressedWithPartialDict(prefix, basePrefix); err != nil {
		return nil, fmt.Errorf("ift: diffing prefix: %w", err)
	}

	useShortLoca := derived.Head.IndexToLocFormat == 0
	driver := glyfdiff.NewDriver(basePlan, derivedPlan, base, derived, out, useShortLoca)
	if err := driver.MakeDiff(); err != nil {
		return nil, fmt.Errorf("ift: diffing glyf/loca: %w", err)
	}

	derivedGlyfEnd := derivedGlyfOffset + uint64(len(derived.Tables["glyf"]))
	if uint64(len(derived.Data)) > derivedGlyfEnd {
		suffix := derived.Data[derivedGlyfEnd:]
		if err := out.InsertCompressed(suffix); err != nil {
			return nil, fmt.Errorf("ift: diffing suffix: %w", err)
		}
	}

	out.EndStream()
	return out.Bytes(), nil
}

// ApplyFontStream decodes a patch produced by DiffFontStream against
// base's raw bytes as the brotli external dictionary, yielding the
// derived font's bytes directly: the diff covers the whole file, so no
// table directory reassembly is needed on the apply side.
func ApplyFontStream(base *sfntio.Font, patch []byte) ([]byte, error) {
	r, err := brotli.NewReader(bytes.NewReader(patch), &brotli.ReaderOptions{Dictionary: base.Data})
	if err != nil {
		return nil, fmt.Errorf("ift: opening patch stream: %w", err)
	}
	return io.ReadAll(r)
}

// Serialize encodes a Patch into a self-describing byte string:
// Diff/Apply are the in-process API; this is the wire format for
// shipping a Patch between processes.
func (p *Patch) Serialize() []byte {
	switch p.Kind {
	case KindFontStream:
		buf := []byte{byte(KindFontStream)}
		return append(buf, p.FontStream...)
	case KindTableContainer:
		buf := []byte{byte(KindTableContainer)}
		return append(buf, p.TableContainer.Serialize()...)
	default:
		return nil
	}
}

// DeserializePatch parses a Patch serialized by Patch.Serialize.
func DeserializePatch(data []byte) (*Patch, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty patch", ErrUnknownPatchKind)
	}
	kind := Kind(data[0])
	body := data[1:]
	switch kind {
	case KindFontStream:
		return &Patch{Kind: KindFontStream, FontStream: body}, nil
	case KindTableContainer:
		container, err := tablepatch.Deserialize(body)
		if err != nil {
			return nil, err
		}
		return &Patch{Kind: KindTableContainer, TableContainer: container}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownPatchKind, kind)
	}
}
