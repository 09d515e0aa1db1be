// Package pipelines holds helpers shared by the pipelines shipped with the
// host.
package pipelines

import (
	"encoding/binary"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/envgraph/engine/renderer"
	"github.com/spaghettifunk/envgraph/engine/renderer/metadata"
)

// Shaders is a vertex and fragment shader module pair.
type Shaders struct {
	Vertex   metadata.ShaderModuleHandle
	Fragment metadata.ShaderModuleHandle
}

// LoadShaders creates both modules. On failure nothing is left alive.
func LoadShaders(device renderer.Device, vertex, fragment []byte) (Shaders, error) {
	var s Shaders
	v, err := device.CreateShaderModule(vertex)
	if err != nil {
		return s, errors.Wrap(err, "vertex shader")
	}
	f, err := device.CreateShaderModule(fragment)
	if err != nil {
		device.DestroyShaderModule(v)
		return s, errors.Wrap(err, "fragment shader")
	}
	s.Vertex, s.Fragment = v, f
	return s, nil
}

func (s *Shaders) Destroy(device renderer.Device) {
	if s.Vertex != metadata.NullHandle {
		device.DestroyShaderModule(s.Vertex)
		s.Vertex = metadata.NullHandle
	}
	if s.Fragment != metadata.NullHandle {
		device.DestroyShaderModule(s.Fragment)
		s.Fragment = metadata.NullHandle
	}
}

// PutFloats writes values little endian into dst and returns the number of
// bytes written. dst must hold 4*len(values) bytes.
func PutFloats(dst []byte, values ...float32) int {
	for i, v := range values {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(v))
	}
	return len(values) * 4
}

// Float reads the i-th little endian float32 of src.
func Float(src []byte, i int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
}

// MatrixBytes returns the column-major bytes of m as a shader reads a mat4.
func MatrixBytes(m mgl32.Mat4) []byte {
	out := make([]byte, 64)
	PutFloats(out, m[:]...)
	return out
}

// VulkanPerspective is mgl32.Perspective with the Y axis flipped for
// Vulkan clip space.
func VulkanPerspective(fovy, aspect, near, far float32) mgl32.Mat4 {
	p := mgl32.Perspective(fovy, aspect, near, far)
	p[5] *= -1
	return p
}
