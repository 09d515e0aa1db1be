// Package text draws a bitmap font overlay on top of the frame.
package text

import (
	"image"

	"github.com/cockroachdb/errors"
	"github.com/fzipp/bmfont"
	"golang.org/x/image/draw"

	"github.com/spaghettifunk/envgraph/engine/core"
)

// Glyph locates one character in the atlas, in pixels.
type Glyph struct {
	X, Y          int
	Width, Height int
	XOffset       int
	YOffset       int
	XAdvance      int
}

type pair struct {
	first, second rune
}

// Font is a single page bitmap font with its atlas converted to RGBA.
type Font struct {
	Face       string
	LineHeight int
	Base       int
	Atlas      *image.RGBA
	Glyphs     map[rune]Glyph
	kerning    map[pair]int
}

func NewFont(face string, lineHeight, base int, atlas *image.RGBA) *Font {
	return &Font{
		Face:       face,
		LineHeight: lineHeight,
		Base:       base,
		Atlas:      atlas,
		Glyphs:     make(map[rune]Glyph),
		kerning:    make(map[pair]int),
	}
}

// SetKerning registers the horizontal adjustment applied between first and
// second.
func (f *Font) SetKerning(first, second rune, amount int) {
	f.kerning[pair{first, second}] = amount
}

func (f *Font) Kerning(first, second rune) int {
	return f.kerning[pair{first, second}]
}

// Glyph returns the glyph for r, falling back to '?' and then to nothing.
func (f *Font) Glyph(r rune) (Glyph, bool) {
	if g, ok := f.Glyphs[r]; ok {
		return g, true
	}
	g, ok := f.Glyphs['?']
	return g, ok
}

// LoadFont reads an AngelCode .fnt file and the page images it references.
func LoadFont(path string) (*Font, error) {
	bf, err := bmfont.Load(path)
	if err != nil {
		return nil, errors.Wrapf(err, "load font %s", path)
	}
	return FromBMFont(bf)
}

// FromBMFont converts a parsed font. Only page 0 is used; glyphs on other
// pages are dropped.
func FromBMFont(bf *bmfont.BitmapFont) (*Font, error) {
	if bf == nil {
		return nil, errors.Wrap(core.ErrInvalidConfig, "nil font")
	}
	if len(bf.PageSheets) == 0 {
		return nil, errors.Wrap(core.ErrInvalidConfig, "font has no page sheets")
	}
	sheet := bf.PageSheets[0]
	if sheet == nil {
		return nil, errors.Wrap(core.ErrInvalidConfig, "font has no page 0")
	}
	d := bf.Descriptor

	bounds := sheet.Bounds()
	atlas := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(atlas, atlas.Bounds(), sheet, bounds.Min, draw.Src)

	f := NewFont(d.Info.Face, int(d.Common.LineHeight), int(d.Common.Base), atlas)
	for r, c := range d.Chars {
		if c.Page != 0 {
			continue
		}
		f.Glyphs[rune(r)] = Glyph{
			X:        int(c.X),
			Y:        int(c.Y),
			Width:    int(c.Width),
			Height:   int(c.Height),
			XOffset:  int(c.XOffset),
			YOffset:  int(c.YOffset),
			XAdvance: int(c.XAdvance),
		}
	}
	for p, k := range d.Kerning {
		f.SetKerning(rune(p.First), rune(p.Second), int(k.Amount))
	}
	return f, nil
}
