package text

import "github.com/go-gl/mathgl/mgl32"

// Vertex is a screen position in pixels and an atlas coordinate.
type Vertex struct {
	X, Y float32
	U, V float32
}

const (
	vertexStride    = 16
	verticesPerQuad = 6
)

func (f *Font) atlasSize() (float32, float32) {
	if f.Atlas == nil {
		return 1, 1
	}
	b := f.Atlas.Bounds()
	w, h := float32(b.Dx()), float32(b.Dy())
	if w == 0 || h == 0 {
		return 1, 1
	}
	return w, h
}

// Layout appends two triangles per visible glyph of s to dst, starting with
// the top-left corner of the first line at origin. Y grows downwards.
// Characters the font lacks, with no '?' fallback, are skipped.
func Layout(f *Font, s string, origin mgl32.Vec2, scale float32, dst []Vertex) []Vertex {
	aw, ah := f.atlasSize()
	x, y := origin[0], origin[1]
	var prev rune
	for _, r := range s {
		if r == '\n' {
			x = origin[0]
			y += float32(f.LineHeight) * scale
			prev = 0
			continue
		}
		g, ok := f.Glyph(r)
		if !ok {
			prev = 0
			continue
		}
		if prev != 0 {
			x += float32(f.Kerning(prev, r)) * scale
		}
		if g.Width > 0 && g.Height > 0 {
			x0 := x + float32(g.XOffset)*scale
			y0 := y + float32(g.YOffset)*scale
			x1 := x0 + float32(g.Width)*scale
			y1 := y0 + float32(g.Height)*scale
			u0, v0 := float32(g.X)/aw, float32(g.Y)/ah
			u1, v1 := float32(g.X+g.Width)/aw, float32(g.Y+g.Height)/ah
			dst = append(dst,
				Vertex{x0, y0, u0, v0},
				Vertex{x1, y0, u1, v0},
				Vertex{x1, y1, u1, v1},
				Vertex{x0, y0, u0, v0},
				Vertex{x1, y1, u1, v1},
				Vertex{x0, y1, u0, v1},
			)
		}
		x += float32(g.XAdvance) * scale
		prev = r
	}
	return dst
}

// Measure returns the width of the widest line and the total height of s.
func Measure(f *Font, s string, scale float32) (width, height float32) {
	if s == "" {
		return 0, 0
	}
	lines := 1
	var x float32
	var prev rune
	for _, r := range s {
		if r == '\n' {
			lines++
			x, prev = 0, 0
			continue
		}
		g, ok := f.Glyph(r)
		if !ok {
			prev = 0
			continue
		}
		if prev != 0 {
			x += float32(f.Kerning(prev, r)) * scale
		}
		x += float32(g.XAdvance) * scale
		width = max(width, x)
		prev = r
	}
	return width, float32(lines*f.LineHeight) * scale
}
