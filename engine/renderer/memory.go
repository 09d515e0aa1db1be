package renderer

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/envgraph/engine/core"
	"github.com/spaghettifunk/envgraph/engine/renderer/metadata"
)

// FindMemoryType scans the allowed memory types from the lowest bit up and
// returns the first one whose flags include every requested property.
func FindMemoryType(props metadata.MemoryProperties, typeBits uint32, flags metadata.MemoryPropertyFlags) (uint32, error) {
	for i := 0; i < len(props.Types) && i < 32; i++ {
		if typeBits&(1<<uint(i)) == 0 {
			continue
		}
		if props.Types[i].PropertyFlags.Has(flags) {
			return uint32(i), nil
		}
	}
	return 0, errors.Wrapf(core.ErrUnsupportedConfiguration,
		"no memory type in mask %#x has properties %#x", typeBits, uint32(flags))
}
