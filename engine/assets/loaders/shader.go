package loaders

import (
	"os"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/envgraph/engine/core"
)

// ShaderLoader reads compiled SPIR-V.
type ShaderLoader struct{}

func (sl *ShaderLoader) Load(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read shader %s", path)
	}
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, errors.Wrapf(core.ErrInvalidConfig, "shader %s has %d bytes, not whole SPIR-V words", path, len(data))
	}
	return data, nil
}
