package assets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/envgraph/engine/core"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestIndexAndLoadShaders(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "mesh.vert.spv")
	bad := filepath.Join(dir, "nested", "broken.frag.spv")
	writeFile(t, good, []byte{0x03, 0x02, 0x23, 0x07})
	writeFile(t, bad, []byte{1, 2, 3})
	writeFile(t, filepath.Join(dir, "mesh.vert"), []byte("void main() {}"))

	am := NewAssetManager(core.NewDiscardLogger())
	if err := am.Index(dir); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if n := len(am.Assets()); n != 2 {
		t.Errorf("indexed assets = %d, want 2", n)
	}
	if info, ok := am.Lookup(bad); !ok || info.Type != AssetTypeShader {
		t.Errorf("Lookup(%s) = %+v, %v, want a shader", bad, info, ok)
	}

	code, err := am.Shader(good)
	if err != nil {
		t.Fatalf("Shader: %v", err)
	}
	if len(code) != 4 {
		t.Errorf("len(code) = %d, want 4", len(code))
	}

	tests := []struct {
		name string
		path string
		want error
	}{
		{"partial word", bad, core.ErrInvalidConfig},
		{"not indexed", filepath.Join(dir, "mesh.vert"), core.ErrUnknownResource},
		{"missing", filepath.Join(dir, "nope.spv"), core.ErrUnknownResource},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := am.Shader(tt.path); !errors.Is(err, tt.want) {
				t.Errorf("Shader(%s) err = %v, want %v", tt.path, err, tt.want)
			}
		})
	}
}

func TestWrongTypeIsRejected(t *testing.T) {
	dir := t.TempDir()
	shader := filepath.Join(dir, "text.frag.spv")
	writeFile(t, shader, []byte{0x03, 0x02, 0x23, 0x07})

	am := NewAssetManager(core.NewDiscardLogger())
	if err := am.Index(dir); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if _, err := am.Font(shader); !errors.Is(err, core.ErrInvalidConfig) {
		t.Errorf("Font(shader) err = %v, want %v", err, core.ErrInvalidConfig)
	}
}

func TestIndexMissingDirectory(t *testing.T) {
	am := NewAssetManager(core.NewDiscardLogger())
	if err := am.Index(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Errorf("Index of a missing directory succeeded")
	}
}
