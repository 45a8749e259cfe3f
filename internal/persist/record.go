// Package persist fits an account's artifacts into its storage quota.
package persist

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/zot/qrcanvas/internal/artifact"
	"github.com/zot/qrcanvas/internal/scene"
)

// RecordVersion is the storage record format written by this package.
const RecordVersion = 1

// Record is the per-account container written to the store in one piece.
type Record struct {
	Version    int               `json:"version"`
	OwnerID    string            `json:"ownerId"`
	QuotaBytes int64             `json:"quotaBytes"`
	UsedBytes  int64             `json:"usedBytes"`
	Artifacts  []*StoredArtifact `json:"artifacts"` // most recently created first
}

// Canvas is the persisted canvas size.
type Canvas struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// StoredArtifact is the persisted form of an artifact at its tier. Stored
// artifacts are replaced, never modified, once they are part of a record.
type StoredArtifact struct {
	ID                   string                 `json:"id"`
	OwnerID              string                 `json:"ownerId"`
	Name                 string                 `json:"name"`
	MimeCategory         artifact.MimeCategory  `json:"mimeCategory"`
	CreatedAt            time.Time              `json:"createdAt"`
	UpdatedAt            time.Time              `json:"updatedAt"`
	Tier                 artifact.Tier          `json:"degradationTier"`
	OriginalSizeBytes    int64                  `json:"originalSizeBytes"`
	SizeHistory          []string               `json:"sizeHistory"`
	Preview              []byte                 `json:"preview"`
	SourceAssetRef       string                 `json:"sourceAssetRef,omitempty"`
	BackgroundAssetOrRef string                 `json:"backgroundAssetOrRef"`
	Assets               map[string]scene.Asset `json:"assets"`
	Canvas               Canvas                 `json:"canvas"`
	SceneElements        scene.Document         `json:"sceneElements"`
}

// clone returns a copy that can be changed without touching s. Asset bytes are shared.
func (s *StoredArtifact) clone() *StoredArtifact {
	c := *s
	c.SizeHistory = append([]string(nil), s.SizeHistory...)
	c.Assets = make(map[string]scene.Asset, len(s.Assets))
	for ref, a := range s.Assets {
		c.Assets[ref] = a
	}
	c.SceneElements.Elements = make([]*scene.Element, len(s.SceneElements.Elements))
	for i, el := range s.SceneElements.Elements {
		c.SceneElements.Elements[i] = el.Clone()
	}
	return &c
}

// backgroundRef returns the raster ref of the background, or its fill color
// when the background is a flat fill.
func backgroundRef(doc scene.Document) string {
	for _, el := range doc.Elements {
		if el.Kind != scene.KindBackground {
			continue
		}
		if ref := el.String(scene.PropRasterRef); ref != "" {
			return ref
		}
		return el.String(scene.PropFillColor)
	}
	return ""
}

// degraded reports whether any artifact in r is stored below full fidelity.
func (r *Record) degraded() bool {
	for _, a := range r.Artifacts {
		if a.Tier != artifact.TierNone {
			return true
		}
	}
	return false
}

// find returns the index of the artifact with id, or -1.
func (r *Record) find(id string) int {
	for i, a := range r.Artifacts {
		if a.ID == id {
			return i
		}
	}
	return -1
}

// copyRecord returns a record with its own artifact slice.
func (r *Record) copyRecord() *Record {
	c := *r
	c.Artifacts = append([]*StoredArtifact(nil), r.Artifacts...)
	return &c
}

// put replaces the artifact with the same id in place, or inserts sa first.
func (r *Record) put(sa *StoredArtifact) {
	if i := r.find(sa.ID); i >= 0 {
		r.Artifacts[i] = sa
		return
	}
	r.Artifacts = append([]*StoredArtifact{sa}, r.Artifacts...)
}

// encodeRecord marshals r with UsedBytes set to the length of the result.
func encodeRecord(r *Record) ([]byte, error) {
	r.UsedBytes = 0
	for i := 0; i < 8; i++ {
		data, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("encode record: %w", err)
		}
		if int64(len(data)) == r.UsedBytes {
			return data, nil
		}
		r.UsedBytes = int64(len(data))
	}
	return nil, fmt.Errorf("encode record: size of %s did not settle", r.OwnerID)
}

// decodeRecord parses a stored record.
func decodeRecord(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if r.Version > RecordVersion {
		return nil, fmt.Errorf("decode record: unsupported version %d", r.Version)
	}
	return &r, nil
}
