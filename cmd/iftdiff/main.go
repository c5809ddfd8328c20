// Command iftdiff diffs and patches fonts using the incremental font
// transfer brotli patch format: diff produces a patch that turns a base
// font into a derived font, apply reconstructs the derived font's bytes
// from a base font and a patch produced by diff.
package main

import (
	"fmt"
	"io/ioutil"

	"github.com/tdewolff/argp"

	"github.com/w3c/ift-brotli-diff/ift"
	"github.com/w3c/ift-brotli-diff/sfntio"
)

type Diff struct {
	WindowBits uint   `short:"w" default:"22" desc:"Brotli sliding window size exponent"`
	Output     string `short:"o" desc:"Output patch filename"`
	Base       string `index:"0" desc:"Base font file"`
	Derived    string `index:"1" desc:"Derived font file"`
}

type Apply struct {
	Output string `short:"o" desc:"Output font filename"`
	Base   string `index:"0" desc:"Base font file"`
	Patch  string `index:"1" desc:"Patch file"`
}

func main() {
	root := argp.New("Incremental font transfer brotli patch/diff tool")
	root.AddCmd(&Diff{}, "diff", "Produce a patch turning a base font into a derived font")
	root.AddCmd(&Apply{}, "apply", "Apply a patch to a base font")
	root.Parse()
	root.PrintHelp()
}

func loadFont(path string) (*sfntio.Font, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return sfntio.Parse(b)
}

// identityPlan builds the trivial plan for a font diffed against itself
// directly, rather than a subset of itself: every glyph ID means the
// same thing on both sides.
func identityPlan(numGlyphs uint16) *sfntio.Plan {
	p := &sfntio.Plan{RetainGIDs: true, OldToNew: make(map[uint16]uint16, numGlyphs)}
	for i := uint16(0); i < numGlyphs; i++ {
		p.NewToOld = append(p.NewToOld, i)
		p.OldToNew[i] = i
	}
	return p
}

func (cmd *Diff) Run() error {
	base, err := loadFont(cmd.Base)
	if err != nil {
		return fmt.Errorf("reading base font: %w", err)
	}
	derived, err := loadFont(cmd.Derived)
	if err != nil {
		return fmt.Errorf("reading derived font: %w", err)
	}

	patch, err := ift.Diff(base, derived, identityPlan(base.Maxp.NumGlyphs), identityPlan(derived.Maxp.NumGlyphs), cmd.WindowBits)
	if err != nil {
		return fmt.Errorf("diffing fonts: %w", err)
	}

	wire := patch.Serialize()
	if err := ioutil.WriteFile(cmd.Output, wire, 0644); err != nil {
		return fmt.Errorf("writing patch: %w", err)
	}
	fmt.Printf("wrote %d byte patch (kind=%d) to %s\n", len(wire), patch.Kind, cmd.Output)
	return nil
}

func (cmd *Apply) Run() error {
	base, err := loadFont(cmd.Base)
	if err != nil {
		return fmt.Errorf("reading base font: %w", err)
	}
	wire, err := ioutil.ReadFile(cmd.Patch)
	if err != nil {
		return fmt.Errorf("reading patch: %w", err)
	}
	patch, err := ift.DeserializePatch(wire)
	if err != nil {
		return fmt.Errorf("parsing patch: %w", err)
	}

	out, err := ift.Apply(base, patch)
	if err != nil {
		return fmt.Errorf("applying patch: %w", err)
	}
	if err := ioutil.WriteFile(cmd.Output, out, 0644); err != nil {
		return fmt.Errorf("writing font: %w", err)
	}
	fmt.Printf("wrote %d byte font to %s\n", len(out), cmd.Output)
	return nil
}
