package tablepatch

import (
	"bytes"
	"testing"
)

func TestDiffApplyRoundTrip(t *testing.T) {
	base := map[string][]byte{
		"head": []byte("head-table-bytes-unchanged"),
		"glyf": []byte("base glyph outlines here, quite a lot of them"),
		"kern": []byte("kerning pairs"),
	}
	derived := map[string][]byte{
		"head": []byte("head-table-bytes-unchanged"),
		"glyf": []byte("base glyph outlines here, plus new glyph outlines appended"),
	}

	c, err := Diff(base, derived, nil)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if _, ok := c.TablePatches["head"]; ok {
		t.Fatalf("unchanged table head should not produce a patch")
	}
	if _, ok := c.TablePatches["glyf"]; !ok {
		t.Fatalf("changed table glyf should produce a patch")
	}
	if len(c.RemovedTables) != 1 || c.RemovedTables[0] != "kern" {
		t.Fatalf("RemovedTables = %v, want [kern]", c.RemovedTables)
	}

	out, err := Apply(base, c)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !bytes.Equal(out["head"], derived["head"]) {
		t.Fatalf("head mismatch: got %q", out["head"])
	}
	if !bytes.Equal(out["glyf"], derived["glyf"]) {
		t.Fatalf("glyf mismatch: got %q, want %q", out["glyf"], derived["glyf"])
	}
	if _, ok := out["kern"]; ok {
		t.Fatalf("kern should have been removed")
	}
}

func TestDiffSkipsTagsOutsideAllowlist(t *testing.T) {
	base := map[string][]byte{"xxxx": []byte("one")}
	derived := map[string][]byte{"xxxx": []byte("two")}

	c, err := Diff(base, derived, map[string]bool{"glyf": true})
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(c.TablePatches) != 0 || len(c.RemovedTables) != 0 {
		t.Fatalf("expected no patches or removals for an out-of-allowlist tag, got %+v", c)
	}
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	c := &Container{
		TablePatches: map[string][]byte{
			"glyf": []byte{0x01, 0x02, 0x03},
			"loca": []byte{},
		},
		RemovedTables: []string{"kern", "hdmx"},
	}

	data := c.Serialize()
	got, err := Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if !bytes.Equal(got.TablePatches["glyf"], c.TablePatches["glyf"]) {
		t.Fatalf("glyf patch mismatch")
	}
	if len(got.TablePatches["loca"]) != 0 {
		t.Fatalf("loca patch should round-trip as empty")
	}
	if len(got.RemovedTables) != 2 || got.RemovedTables[0] != "hdmx" || got.RemovedTables[1] != "kern" {
		t.Fatalf("RemovedTables = %v, want sorted [hdmx kern]", got.RemovedTables)
	}
}

func TestDeserializeRejectsTruncatedContainer(t *testing.T) {
	c := &Container{TablePatches: map[string][]byte{"glyf": []byte{1, 2, 3, 4}}}
	data := c.Serialize()
	if _, err := Deserialize(data[:len(data)-2]); err == nil {
		t.Fatalf("expected an error decoding a truncated container")
	}
}

func TestDiffApplyHandlesTableAbsentFromBase(t *testing.T) {
	base := map[string][]byte{}
	derived := map[string][]byte{"glyf": []byte("brand new table, no base counterpart")}

	c, err := Diff(base, derived, nil)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	out, err := Apply(base, c)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !bytes.Equal(out["glyf"], derived["glyf"]) {
		t.Fatalf("glyf mismatch: got %q", out["glyf"])
	}
}
