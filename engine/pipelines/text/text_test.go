package text

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/envgraph/engine/core"
	"github.com/spaghettifunk/envgraph/engine/pipelines"
	"github.com/spaghettifunk/envgraph/engine/renderer"
	"github.com/spaghettifunk/envgraph/engine/renderer/metadata"
	"github.com/spaghettifunk/envgraph/engine/renderer/rendertest"
)

var fakeSPIRV = []byte{0x03, 0x02, 0x23, 0x07}

// testFont has a 4x2 atlas holding two 2x2 glyphs side by side.
func testFont() *Font {
	atlas := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for x := 0; x < 4; x++ {
		for y := 0; y < 2; y++ {
			atlas.Set(x, y, color.RGBA{uint8(x * 60), uint8(y * 100), 7, 255})
		}
	}
	f := NewFont("test", 5, 4, atlas)
	f.Glyphs['A'] = Glyph{X: 0, Y: 0, Width: 2, Height: 2, YOffset: 1, XAdvance: 3}
	f.Glyphs['B'] = Glyph{X: 2, Y: 0, Width: 2, Height: 2, YOffset: 1, XAdvance: 3}
	f.Glyphs[' '] = Glyph{XAdvance: 2}
	f.SetKerning('A', 'B', -1)
	return f
}

func TestLayout(t *testing.T) {
	f := testFont()
	tests := []struct {
		name  string
		text  string
		quads int
		// top-left corner of the last quad
		lastX, lastY float32
	}{
		{"single", "A", 1, 0, 1},
		{"kerning", "AB", 2, 2, 1},
		{"no kerning reversed", "BA", 2, 3, 1},
		{"space advances", "A A", 2, 5, 1},
		{"newline", "A\nA", 2, 0, 6},
		{"missing glyph", "AzA", 2, 3, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verts := Layout(f, tt.text, mgl32.Vec2{}, 1, nil)
			if len(verts) != tt.quads*verticesPerQuad {
				t.Fatalf("len(vertices) = %d, want %d", len(verts), tt.quads*verticesPerQuad)
			}
			last := verts[len(verts)-verticesPerQuad]
			if last.X != tt.lastX || last.Y != tt.lastY {
				t.Errorf("last quad at (%v, %v), want (%v, %v)", last.X, last.Y, tt.lastX, tt.lastY)
			}
		})
	}
}

func TestLayoutTexCoords(t *testing.T) {
	f := testFont()
	verts := Layout(f, "B", mgl32.Vec2{10, 20}, 2, nil)
	want := []Vertex{
		{10, 22, 0.5, 0},
		{14, 22, 1, 0},
		{14, 26, 1, 1},
		{10, 22, 0.5, 0},
		{14, 26, 1, 1},
		{10, 26, 0.5, 1},
	}
	if len(verts) != len(want) {
		t.Fatalf("len(vertices) = %d, want %d", len(verts), len(want))
	}
	for i := range want {
		if verts[i] != want[i] {
			t.Errorf("vertex %d = %+v, want %+v", i, verts[i], want[i])
		}
	}
}

func TestLayoutFallsBackToQuestionMark(t *testing.T) {
	f := testFont()
	f.Glyphs['?'] = f.Glyphs['B']
	verts := Layout(f, "z", mgl32.Vec2{}, 1, nil)
	if len(verts) != verticesPerQuad {
		t.Fatalf("len(vertices) = %d, want %d", len(verts), verticesPerQuad)
	}
	if verts[0].U != 0.5 {
		t.Errorf("fallback U = %v, want 0.5", verts[0].U)
	}
}

func TestMeasure(t *testing.T) {
	f := testFont()
	tests := []struct {
		text          string
		width, height float32
	}{
		{"", 0, 0},
		{"A", 3, 5},
		{"AB", 5, 5},
		{"AB\nA", 5, 10},
		{"A\nA A", 8, 10},
	}
	for _, tt := range tests {
		w, h := Measure(f, tt.text, 1)
		if w != tt.width || h != tt.height {
			t.Errorf("Measure(%q) = (%v, %v), want (%v, %v)", tt.text, w, h, tt.width, tt.height)
		}
	}
}

func setup(t *testing.T, dev *rendertest.Device, p *Pipeline, extent metadata.Extent2D) *renderer.ResourceBinder {
	t.Helper()
	binder := renderer.NewResourceBinder(dev, dev.MemoryProperties(), core.NewDiscardLogger())
	err := p.Setup(&renderer.SetupInfo{
		Device:           dev,
		MemoryProperties: dev.MemoryProperties(),
		QueueFamilies:    dev.QueueFamilies(),
		QueueStart:       metadata.QueueStartIndices{Graphics: 1},
		Requirements:     p.QueueRequirements(),
		RenderPass:       dev.RenderPass(),
		Extent:           extent,
		Binder:           binder,
		Logger:           core.NewDiscardLogger(),
	})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	return binder
}

func newPipeline(opts Options) *Pipeline {
	opts.VertexShader = fakeSPIRV
	opts.FragmentShader = fakeSPIRV
	if opts.Font == nil {
		opts.Font = testFont()
	}
	return New(opts)
}

func TestSetupUploadsAtlas(t *testing.T) {
	dev := rendertest.NewDevice(rendertest.DefaultOptions())
	p := newPipeline(Options{})
	binder := setup(t, dev, p, metadata.Extent2D{Width: 800, Height: 600})

	if got := dev.ReadImage(p.atlas.Handle); !bytes.Equal(got, p.opts.Font.Atlas.Pix) {
		t.Errorf("atlas image = %v, want %v", got, p.opts.Font.Atlas.Pix)
	}
	if _, ok := binder.Buffer(atlasStaging); ok {
		t.Errorf("staging buffer still allocated after upload")
	}

	var combined int
	for _, w := range dev.DescriptorWrites() {
		if w.Type == metadata.DescriptorTypeCombinedImageSampler {
			combined++
			if w.ImageInfo == nil || w.ImageInfo.Sampler == metadata.NullHandle {
				t.Errorf("combined image sampler write without a sampler: %+v", w)
			}
		}
	}
	if combined != 1 {
		t.Errorf("combined image sampler writes = %d, want 1", combined)
	}

	subs := dev.Submissions()
	if len(subs) != 1 {
		t.Fatalf("submissions = %d, want 1", len(subs))
	}
	var got []string
	for _, c := range subs[0].Commands {
		got = append(got, c.Op)
	}
	want := []string{rendertest.OpPipelineBarrier, rendertest.OpCopyBufferToImage, rendertest.OpPipelineBarrier}
	if len(got) != len(want) {
		t.Fatalf("upload ops = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("upload op %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestSetupRequiresFont(t *testing.T) {
	dev := rendertest.NewDevice(rendertest.DefaultOptions())
	p := New(Options{VertexShader: fakeSPIRV, FragmentShader: fakeSPIRV})
	binder := renderer.NewResourceBinder(dev, dev.MemoryProperties(), core.NewDiscardLogger())
	err := p.Setup(&renderer.SetupInfo{Device: dev, Binder: binder, Logger: core.NewDiscardLogger()})
	if !errors.Is(err, core.ErrInvalidConfig) {
		t.Errorf("Setup err = %v, want %v", err, core.ErrInvalidConfig)
	}
}

func TestSetTextRendersQuads(t *testing.T) {
	dev := rendertest.NewDevice(rendertest.DefaultOptions())
	p := newPipeline(Options{Color: [4]float32{1, 0, 0, 1}})
	extent := metadata.Extent2D{Width: 800, Height: 600}
	setup(t, dev, p, extent)

	pool, err := dev.CreateCommandPool(0)
	if err != nil {
		t.Fatalf("CreateCommandPool: %v", err)
	}
	cb, err := dev.AllocateCommandBuffer(pool)
	if err != nil {
		t.Fatalf("AllocateCommandBuffer: %v", err)
	}
	rec := cb.(*rendertest.CommandBuffer)

	if err := p.Render(dev, cb, extent); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if n := len(rec.Commands()); n != 0 {
		t.Errorf("commands without text = %d, want 0", n)
	}

	p.SetText("AB")
	if err := p.PreRender(dev, extent); err != nil {
		t.Fatalf("PreRender: %v", err)
	}
	got, err := dev.ReadBuffer(p.vertices.Handle)
	if err != nil {
		t.Fatalf("ReadBuffer: %v", err)
	}
	// second quad starts after the advance of A minus the kerning
	if x := pipelines.Float(got, verticesPerQuad*4); x != 2 {
		t.Errorf("second quad x = %v, want 2", x)
	}

	if err := cb.Begin(true); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := p.Render(dev, cb, extent); err != nil {
		t.Fatalf("Render: %v", err)
	}
	cmds := rec.Commands()
	if len(cmds) != 5 {
		t.Fatalf("commands = %d, want 5", len(cmds))
	}
	push := cmds[3]
	if push.Op != rendertest.OpPushConstants || len(push.Data) != pushConstantSize {
		t.Errorf("push constants = %s with %d bytes, want %s with %d", push.Op, len(push.Data), rendertest.OpPushConstants, pushConstantSize)
	}
	if red := pipelines.Float(push.Data, 16); red != 1 {
		t.Errorf("pushed red = %v, want 1", red)
	}
	if draw := cmds[4]; draw.VertexCount != 2*verticesPerQuad {
		t.Errorf("draw vertex count = %d, want %d", draw.VertexCount, 2*verticesPerQuad)
	}
}

func TestTextTruncatedToMaxGlyphs(t *testing.T) {
	dev := rendertest.NewDevice(rendertest.DefaultOptions())
	p := newPipeline(Options{MaxGlyphs: 2})
	extent := metadata.Extent2D{Width: 800, Height: 600}
	setup(t, dev, p, extent)

	p.SetText("ABABAB")
	if err := p.PreRender(dev, extent); err != nil {
		t.Fatalf("PreRender: %v", err)
	}
	if p.count != 2*verticesPerQuad {
		t.Errorf("count = %d, want %d", p.count, 2*verticesPerQuad)
	}
}

func TestBottomAnchorFollowsResize(t *testing.T) {
	dev := rendertest.NewDevice(rendertest.DefaultOptions())
	p := newPipeline(Options{Anchor: AnchorBottomLeft, Margin: 4})
	setup(t, dev, p, metadata.Extent2D{Width: 800, Height: 600})

	p.SetText("A")
	tests := []struct {
		height uint32
		want   float32
	}{
		// height - line height - margin + y offset
		{600, 600 - 5 - 4 + 1},
		{300, 300 - 5 - 4 + 1},
	}
	for _, tt := range tests {
		extent := metadata.Extent2D{Width: 800, Height: tt.height}
		p.Resized(extent)
		if err := p.PreRender(dev, extent); err != nil {
			t.Fatalf("PreRender: %v", err)
		}
		got, err := dev.ReadBuffer(p.vertices.Handle)
		if err != nil {
			t.Fatalf("ReadBuffer: %v", err)
		}
		if y := pipelines.Float(got, 1); y != tt.want {
			t.Errorf("height %d: first vertex y = %v, want %v", tt.height, y, tt.want)
		}
	}
}

func TestProjectionMapsPixelsToClipSpace(t *testing.T) {
	p := newPipeline(Options{})
	p.Resized(metadata.Extent2D{Width: 200, Height: 100})
	m := p.Projection()

	tests := []struct {
		pixel mgl32.Vec4
		clip  mgl32.Vec2
	}{
		{mgl32.Vec4{0, 0, 0, 1}, mgl32.Vec2{-1, -1}},
		{mgl32.Vec4{200, 100, 0, 1}, mgl32.Vec2{1, 1}},
		{mgl32.Vec4{100, 50, 0, 1}, mgl32.Vec2{0, 0}},
	}
	for _, tt := range tests {
		got := m.Mul4x1(tt.pixel)
		if !got.Vec2().ApproxEqual(tt.clip) {
			t.Errorf("project %v = %v, want %v", tt.pixel, got.Vec2(), tt.clip)
		}
	}

	// a minimised window keeps the last projection
	p.Resized(metadata.Extent2D{})
	if !p.Projection().ApproxEqual(m) {
		t.Errorf("projection changed for zero extent")
	}
}

func TestCleanupReleasesEverything(t *testing.T) {
	dev := rendertest.NewDevice(rendertest.DefaultOptions())
	p := newPipeline(Options{})
	binder := setup(t, dev, p, metadata.Extent2D{Width: 800, Height: 600})
	p.SetText("AB")
	if err := p.PreRender(dev, metadata.Extent2D{Width: 800, Height: 600}); err != nil {
		t.Fatalf("PreRender: %v", err)
	}

	if err := p.Cleanup(dev); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	binder.Release()
	if live := dev.LiveObjects(); len(live) != 0 {
		t.Errorf("live objects after cleanup = %v, want none", live)
	}
}
