package assets

// Loader reads one asset type from disk.
type Loader interface {
	Load(path string) (any, error)
}
