package loaders

import (
	"github.com/spaghettifunk/envgraph/engine/pipelines/text"
)

// BitmapFontLoader reads AngelCode .fnt fonts together with their page
// images.
type BitmapFontLoader struct{}

func (fl *BitmapFontLoader) Load(path string) (any, error) {
	return text.LoadFont(path)
}
