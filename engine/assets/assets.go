package assets

import (
	"io/fs"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/envgraph/engine/assets/loaders"
	"github.com/spaghettifunk/envgraph/engine/core"
	"github.com/spaghettifunk/envgraph/engine/pipelines/text"
)

type AssetType int

const (
	AssetTypeNone AssetType = iota
	AssetTypeShader
	AssetTypeFont
)

func (t AssetType) String() string {
	switch t {
	case AssetTypeShader:
		return "shader"
	case AssetTypeFont:
		return "font"
	default:
		return "none"
	}
}

type AssetInfo struct {
	Path    string
	Type    AssetType
	Size    int64
	ModTime time.Time
}

// AssetManager indexes asset directories and loads files through the loader
// registered for their type. Assets are addressed by their slash separated
// path as found under the indexed directories.
type AssetManager struct {
	mu      sync.RWMutex
	assets  map[string]AssetInfo
	loaders map[AssetType]Loader
	logger  *core.Logger
}

func NewAssetManager(logger *core.Logger) *AssetManager {
	am := &AssetManager{
		assets:  make(map[string]AssetInfo),
		loaders: make(map[AssetType]Loader),
		logger:  logger.Named("assets"),
	}
	am.registerLoader(AssetTypeShader, &loaders.ShaderLoader{})
	am.registerLoader(AssetTypeFont, &loaders.BitmapFontLoader{})
	return am
}

func (am *AssetManager) registerLoader(assetType AssetType, loader Loader) {
	am.loaders[assetType] = loader
}

// Index walks each directory and records every file of a known type.
func (am *AssetManager) Index(dirs ...string) error {
	for _, dir := range dirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			assetType := determineAssetType(path)
			if assetType == AssetTypeNone {
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			am.mu.Lock()
			am.assets[filepath.ToSlash(path)] = AssetInfo{
				Path:    filepath.ToSlash(path),
				Type:    assetType,
				Size:    fi.Size(),
				ModTime: fi.ModTime(),
			}
			am.mu.Unlock()
			return nil
		})
		if err != nil {
			return errors.Wrapf(err, "index assets in %s", dir)
		}
	}
	am.logger.Debug("assets indexed", "count", len(am.Assets()))
	return nil
}

func (am *AssetManager) Lookup(path string) (AssetInfo, bool) {
	am.mu.RLock()
	defer am.mu.RUnlock()
	info, ok := am.assets[filepath.ToSlash(path)]
	return info, ok
}

// Assets returns the indexed assets sorted by path.
func (am *AssetManager) Assets() []AssetInfo {
	am.mu.RLock()
	out := make([]AssetInfo, 0, len(am.assets))
	for _, info := range am.assets {
		out = append(out, info)
	}
	am.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Load reads an indexed asset with the loader of its type.
func (am *AssetManager) Load(path string) (any, AssetType, error) {
	info, ok := am.Lookup(path)
	if !ok {
		return nil, AssetTypeNone, errors.Wrapf(core.ErrUnknownResource, "asset %s", path)
	}
	loader, ok := am.loaders[info.Type]
	if !ok {
		return nil, info.Type, errors.Newf("no loader registered for asset type %s", info.Type)
	}
	data, err := loader.Load(info.Path)
	if err != nil {
		return nil, info.Type, err
	}
	am.logger.Debug("asset loaded", "path", info.Path, "type", info.Type)
	return data, info.Type, nil
}

func (am *AssetManager) Shader(path string) ([]byte, error) {
	data, t, err := am.Load(path)
	if err != nil {
		return nil, err
	}
	code, ok := data.([]byte)
	if t != AssetTypeShader || !ok {
		return nil, errors.Wrapf(core.ErrInvalidConfig, "%s is a %s, not a shader", path, t)
	}
	return code, nil
}

func (am *AssetManager) Font(path string) (*text.Font, error) {
	data, t, err := am.Load(path)
	if err != nil {
		return nil, err
	}
	font, ok := data.(*text.Font)
	if t != AssetTypeFont || !ok {
		return nil, errors.Wrapf(core.ErrInvalidConfig, "%s is a %s, not a font", path, t)
	}
	return font, nil
}

func determineAssetType(path string) AssetType {
	switch filepath.Ext(path) {
	case ".spv":
		return AssetTypeShader
	case ".fnt":
		return AssetTypeFont
	default:
		return AssetTypeNone
	}
}
