// Package tablepatch diffs and patches a font table-by-table: each
// target table gets its own brotli binary diff (base table bytes as
// the shared dictionary, derived table bytes as the payload), tables
// outside an allowlist pass through untouched, and tables absent from
// the derived font are recorded as removed.
package tablepatch

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/andybalholm/brotli"
)

// ErrMalformedContainer is returned by Deserialize when the patch
// container's framing is inconsistent.
var ErrMalformedContainer = errors.New("tablepatch: malformed patch container")

// DefaultTargetTags lists the tables this engine knows how to diff
// meaningfully. Tables outside this set are always passed through
// unchanged; listing them here would just spend a brotli binary diff
// on bytes this engine has no structural opinion about.
var DefaultTargetTags = map[string]bool{
	"glyf": true, "loca": true, "cmap": true, "head": true, "hhea": true,
	"hmtx": true, "maxp": true, "name": true, "OS/2": true, "post": true,
	"cvt ": true, "fpgm": true, "prep": true, "kern": true,
}

// Container is the serialized form of a per-table patch: one brotli
// binary diff per changed table, plus the set of tables present in the
// base font but absent from the derived font.
type Container struct {
	TablePatches  map[string][]byte
	RemovedTables []string
}

// Diff builds a Container describing how to turn baseTables into
// derivedTables, restricted to the tags in targetTags (DefaultTargetTags
// if nil). Tables outside targetTags that differ are silently skipped:
// the caller is expected to carry them through verbatim.
func Diff(baseTables, derivedTables map[string][]byte, targetTags map[string]bool) (*Container, error) {
	if targetTags == nil {
		targetTags = DefaultTargetTags
	}
	c := &Container{TablePatches: map[string][]byte{}}

	tags := unionTags(baseTables, derivedTables, targetTags)
	for _, tag := range tags {
		base, inBase := baseTables[tag]
		derived, inDerived := derivedTables[tag]
		if inBase && !inDerived {
			c.RemovedTables = append(c.RemovedTables, tag)
			continue
		}
		if !inDerived {
			continue
		}
		if bytesEqual(base, derived) {
			continue
		}
		patch, err := DiffTable(base, derived)
		if err != nil {
			return nil, fmt.Errorf("tablepatch: diffing %q: %w", tag, err)
		}
		c.TablePatches[tag] = patch
	}
	return c, nil
}

// Apply reconstructs the derived table set from baseTables and a
// Container, passing through any table neither patched nor removed.
func Apply(baseTables map[string][]byte, c *Container) (map[string][]byte, error) {
	removed := make(map[string]bool, len(c.RemovedTables))
	for _, tag := range c.RemovedTables {
		removed[tag] = true
	}

	out := make(map[string][]byte, len(baseTables)+len(c.TablePatches))
	for tag, data := range baseTables {
		if removed[tag] {
			continue
		}
		out[tag] = data
	}
	for tag, patch := range c.TablePatches {
		base := baseTables[tag]
		derived, err := PatchTable(base, patch)
		if err != nil {
			return nil, fmt.Errorf("tablepatch: patching %q: %w", tag, err)
		}
		out[tag] = derived
	}
	return out, nil
}

// DiffTable produces a brotli binary diff of derived against base,
// using base's bytes as the shared dictionary so unchanged regions
// compress to backward references.
func DiffTable(base, derived []byte) ([]byte, error) {
	var out bytes.Buffer
	opts := brotli.WriterOptions{Quality: 9}
	if len(base) > 0 {
		opts.Dictionary = base
	}
	w := brotli.NewWriterOptions(&out, opts)
	if _, err := w.Write(derived); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// PatchTable reconstructs a derived table's bytes from a base table and
// a patch produced by DiffTable, decoding with base as the external
// dictionary so the diff's backward references resolve correctly.
func PatchTable(base, patch []byte) ([]byte, error) {
	var opts brotli.ReaderOptions
	if len(base) > 0 {
		opts.Dictionary = base
	}
	r, err := brotli.NewReader(bytes.NewReader(patch), &opts)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

// unionTags returns the sorted set of table tags present in either
// table map and allowed by targetTags.
func unionTags(a, b map[string][]byte, targetTags map[string]bool) []string {
	seen := map[string]bool{}
	var tags []string
	add := func(m map[string][]byte) {
		for tag := range m {
			if !targetTags[tag] || seen[tag] {
				continue
			}
			seen[tag] = true
			tags = append(tags, tag)
		}
	}
	add(a)
	add(b)
	sort.Strings(tags)
	return tags
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Serialize encodes a Container into a compact, deterministic binary
// form: a varint count of table patches, each as a (tag, length,
// bytes) triple sorted by tag, followed by a varint count of removed
// table tags. Table tags and binary diffs are the only payloads this
// container carries, so a purpose-built framing is simpler than
// reaching for a general structured-data format none of this module's
// other dependencies provide.
func (c *Container) Serialize() []byte {
	tags := make([]string, 0, len(c.TablePatches))
	for tag := range c.TablePatches {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	var buf []byte
	buf = appendUvarint(buf, uint64(len(tags)))
	for _, tag := range tags {
		buf = appendTag(buf, tag)
		patch := c.TablePatches[tag]
		buf = appendUvarint(buf, uint64(len(patch)))
		buf = append(buf, patch...)
	}

	removed := append([]string(nil), c.RemovedTables...)
	sort.Strings(removed)
	buf = appendUvarint(buf, uint64(len(removed)))
	for _, tag := range removed {
		buf = appendTag(buf, tag)
	}
	return buf
}

// Deserialize parses a Container serialized by Serialize.
func Deserialize(data []byte) (*Container, error) {
	c := &Container{TablePatches: map[string][]byte{}}
	r := &byteReader{data: data}

	numPatches, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < numPatches; i++ {
		tag, err := r.tag()
		if err != nil {
			return nil, err
		}
		n, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		patch, err := r.bytes(int(n))
		if err != nil {
			return nil, err
		}
		c.TablePatches[tag] = patch
	}

	numRemoved, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < numRemoved; i++ {
		tag, err := r.tag()
		if err != nil {
			return nil, err
		}
		c.RemovedTables = append(c.RemovedTables, tag)
	}
	return c, nil
}

func appendUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

func appendTag(buf []byte, tag string) []byte {
	b := make([]byte, 4)
	copy(b, tag)
	return append(buf, b...)
}

type byteReader struct {
	data []byte
	pos  int
}

func (r *byteReader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.data[r.pos:])
	if n <= 0 {
		return 0, ErrMalformedContainer
	}
	r.pos += n
	return v, nil
}

func (r *byteReader) tag() (string, error) {
	if len(r.data)-r.pos < 4 {
		return "", ErrMalformedContainer
	}
	tag := string(r.data[r.pos : r.pos+4])
	r.pos += 4
	return tag, nil
}

func (r *byteReader) bytes(n int) ([]byte, error) {
	if len(r.data)-r.pos < n {
		return nil, ErrMalformedContainer
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}
