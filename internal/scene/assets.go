package scene

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Asset is raster or document bytes referenced by elements.
type Asset struct {
	MIME string `json:"mime"`
	Data []byte `json:"data"`
}

// AssetRef returns the content address of data.
func AssetRef(data []byte) string {
	sum := blake3.Sum256(data)
	return "b3:" + hex.EncodeToString(sum[:])
}

// PutAsset stores data in the graph's asset table and returns its ref.
// Storing the same bytes twice returns the same ref.
func (g *Graph) PutAsset(data []byte, mime string) string {
	ref := AssetRef(data)
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.assets[ref]; !ok {
		g.assets[ref] = Asset{MIME: mime, Data: append([]byte(nil), data...)}
	}
	return ref
}

// Asset returns the asset for ref.
func (g *Graph) Asset(ref string) (Asset, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	a, ok := g.assets[ref]
	return a, ok
}

// LoadAssets adds every asset in assets to the table.
func (g *Graph) LoadAssets(assets map[string]Asset) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for ref, a := range assets {
		g.assets[ref] = a
	}
}

// ReferencedAssets returns the assets that current elements refer to.
// The asset slices are shared and must not be modified.
func (g *Graph) ReferencedAssets() map[string]Asset {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]Asset)
	for _, el := range g.elements {
		if ref := el.String(PropRasterRef); ref != "" {
			if a, ok := g.assets[ref]; ok {
				out[ref] = a
			}
		}
	}
	return out
}
