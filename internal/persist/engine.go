package persist

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zot/qrcanvas/internal/artifact"
	"github.com/zot/qrcanvas/internal/config"
	"github.com/zot/qrcanvas/internal/metrics"
	"github.com/zot/qrcanvas/internal/raster"
	"github.com/zot/qrcanvas/internal/render"
	"github.com/zot/qrcanvas/internal/scene"
	"github.com/zot/qrcanvas/internal/storage"
)

// Save statuses.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// SaveResult reports the outcome of a successful save.
type SaveResult struct {
	Status     string        `json:"status"`
	Tier       artifact.Tier `json:"updatedTier"`
	UsedBytes  int64         `json:"usedBytes"`
	QuotaBytes int64         `json:"quotaBytes"`
	Demoted    []Demotion    `json:"demoted,omitempty"`
}

// Demotion names an artifact whose stored tier changed during a save.
type Demotion struct {
	ID   string        `json:"id"`
	Tier artifact.Tier `json:"tier"`
}

// Usage is the storage state of one account.
type Usage struct {
	UsedBytes  int64 `json:"usedBytes"`
	QuotaBytes int64 `json:"quotaBytes"`
	Artifacts  int   `json:"artifacts"`
	Degraded   bool  `json:"degraded"`
}

// bounds is the raster limit of a tier.
type bounds struct {
	maxDim  int
	quality int
}

// Engine owns every read and write of the durable store.
type Engine struct {
	config  *config.Config
	backend storage.Backend
	quota   int64
	tiers   map[artifact.Tier]bounds

	records map[string]*Record
	locks   map[string]*sync.Mutex
	mu      sync.Mutex
}

// NewEngine creates an engine writing to backend.
func NewEngine(cfg *config.Config, backend storage.Backend) *Engine {
	c := cfg.Compression
	return &Engine{
		config:  cfg,
		backend: backend,
		quota:   cfg.Storage.QuotaBytes,
		tiers: map[artifact.Tier]bounds{
			artifact.TierThumbnail:  {c.ThumbnailMaxDim, c.ThumbnailQuality},
			artifact.TierAggressive: {c.AggressiveMaxDim, c.AggressiveQuality},
		},
		records: make(map[string]*Record),
		locks:   make(map[string]*sync.Mutex),
	}
}

// lock serializes record updates for owner.
func (e *Engine) lock(owner string) func() {
	e.mu.Lock()
	l, ok := e.locks[owner]
	if !ok {
		l = &sync.Mutex{}
		e.locks[owner] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// storeContext bounds store I/O by the configured timeout. A timeout of zero
// or less means none.
func (e *Engine) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := e.config.Storage.Timeout.Duration(); d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

// record returns owner's record, reading it from the store the first time.
// Callers hold the owner lock.
func (e *Engine) record(ctx context.Context, owner string) (*Record, error) {
	e.mu.Lock()
	rec, ok := e.records[owner]
	e.mu.Unlock()
	if ok {
		return rec, nil
	}

	ctx, cancel := e.storeContext(ctx)
	defer cancel()
	data, err := e.backend.Load(ctx, owner)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		rec = &Record{Version: RecordVersion, OwnerID: owner, QuotaBytes: e.quota}
	case err != nil:
		return nil, fmt.Errorf("load record for %s: %w", owner, err)
	default:
		if rec, err = decodeRecord(data); err != nil {
			return nil, err
		}
		e.config.Log(2, "Loaded record for %s: %d artifacts, %d bytes", owner, len(rec.Artifacts), len(data))
	}

	e.mu.Lock()
	e.records[owner] = rec
	e.mu.Unlock()
	return rec, nil
}

// write stores rec and makes it the cached record. Callers hold the owner lock.
func (e *Engine) write(ctx context.Context, rec *Record, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx, cancel := e.storeContext(ctx)
	defer cancel()
	if err := e.backend.Store(ctx, rec.OwnerID, data); err != nil {
		return fmt.Errorf("store record for %s: %w", rec.OwnerID, err)
	}
	e.mu.Lock()
	e.records[rec.OwnerID] = rec
	e.mu.Unlock()
	return nil
}

// Save writes a into owner's record, demoting stored artifacts as needed to
// stay under the quota. On success a receives its stored tier, preview and
// notes; its graph and assets are not changed. On error nothing is written
// and a is untouched.
func (e *Engine) Save(ctx context.Context, owner string, a *artifact.Artifact) (SaveResult, error) {
	unlock := e.lock(owner)
	defer unlock()

	res, err := e.save(ctx, owner, a)
	switch {
	case errors.Is(err, ErrStorageExceeded):
		metrics.SavesTotal.WithLabelValues("exceeded").Inc()
	case err != nil:
		metrics.SavesTotal.WithLabelValues("error").Inc()
	default:
		metrics.SavesTotal.WithLabelValues(res.Status).Inc()
	}
	return res, err
}

func (e *Engine) save(ctx context.Context, owner string, a *artifact.Artifact) (SaveResult, error) {
	cached, err := e.record(ctx, owner)
	if err != nil {
		return SaveResult{}, err
	}
	// the stored tier only drops unless the source was uploaded again
	base, history := a.Tier, a.SizeHistory
	if i := cached.find(a.ID); i >= 0 && !a.Reset {
		if stored := cached.Artifacts[i]; stored.Tier.Below(base) {
			base, history = stored.Tier, stored.SizeHistory
		}
	}
	sa, err := e.materialize(ctx, owner, a, base, history)
	if err != nil {
		return SaveResult{}, err
	}

	work := cached.copyRecord()
	work.Version = RecordVersion
	work.QuotaBytes = e.quota
	work.put(sa)

	size, err := Estimate(work)
	if err != nil {
		return SaveResult{}, err
	}
	var demoted []Demotion
	for _, step := range []struct{ from, to artifact.Tier }{
		{artifact.TierNone, artifact.TierThumbnail},
		{artifact.TierThumbnail, artifact.TierAggressive},
	} {
		// oldest first; the slice is newest first
		for i := len(work.Artifacts) - 1; i >= 0 && size > e.quota; i-- {
			cur := work.Artifacts[i]
			if cur.Tier != step.from || cur.MimeCategory != artifact.CategoryImage {
				continue
			}
			next, err := e.demote(cur, step.to)
			if err != nil {
				return SaveResult{}, err
			}
			work.Artifacts[i] = next
			demoted = append(demoted, Demotion{ID: next.ID, Tier: next.Tier})
			if size, err = Estimate(work); err != nil {
				return SaveResult{}, err
			}
			e.config.Log(3, "Demoted %s to %s, record now %d bytes", next.ID, next.Tier, size)
		}
	}
	metrics.StoredBytes.Observe(float64(size))
	if size > e.quota {
		err := &ExceededError{OwnerID: owner, NeededBytes: size, QuotaBytes: e.quota}
		e.config.Log(1, "Save refused: %s", err.Detail())
		return SaveResult{}, err
	}

	data, err := encodeRecord(work)
	if err != nil {
		return SaveResult{}, err
	}
	if err := e.write(ctx, work, data); err != nil {
		return SaveResult{}, err
	}

	for _, d := range demoted {
		metrics.TierDemotions.WithLabelValues(string(d.Tier)).Inc()
	}
	stored := work.Artifacts[work.find(a.ID)]
	a.Tier = stored.Tier
	a.SizeHistory = append([]string(nil), stored.SizeHistory...)
	a.Preview = stored.Preview
	a.UpdatedAt = stored.UpdatedAt
	a.Reset = false

	status := StatusOK
	if work.degraded() {
		status = StatusDegraded
	}
	e.config.Log(1, "Saved %s for %s: %s, %d/%d bytes", a.ID, owner, status, size, e.quota)
	return SaveResult{
		Status:     status,
		Tier:       stored.Tier,
		UsedBytes:  size,
		QuotaBytes: e.quota,
		Demoted:    demoted,
	}, nil
}

// materialize builds the stored form of a at tier base or lower. history
// already holds the note for base.
func (e *Engine) materialize(ctx context.Context, owner string, a *artifact.Artifact, base artifact.Tier, history []string) (*StoredArtifact, error) {
	if a.Graph == nil {
		return nil, fmt.Errorf("artifact %s has no scene", a.ID)
	}
	doc := a.Graph.Serialize()
	w, h := a.Graph.Size()
	assets := a.Graph.ReferencedAssets()
	if a.SourceRef != "" {
		if src, ok := a.Graph.Asset(a.SourceRef); ok {
			assets[a.SourceRef] = src
		}
	}

	preview, err := render.Preview(ctx, a.Graph, e.config.Compression.PreviewMaxDim, e.config.Compression.PreviewQuality)
	if err != nil {
		e.config.Log(1, "Preview for %s failed: %v", a.ID, err)
		preview = a.Preview
	}
	if len(preview) == 0 {
		preview = raster.PlaceholderPNG(e.config.Compression.PreviewMaxDim, e.config.Compression.PreviewMaxDim*2/3, a.Name)
	}

	sa := &StoredArtifact{
		ID:                   a.ID,
		OwnerID:              owner,
		Name:                 a.Name,
		MimeCategory:         a.MimeCategory,
		CreatedAt:            a.CreatedAt,
		UpdatedAt:            time.Now().UTC(),
		Tier:                 artifact.TierNone,
		OriginalSizeBytes:    a.OriginalSizeBytes,
		SizeHistory:          append([]string(nil), history...),
		Preview:              preview,
		SourceAssetRef:       a.SourceRef,
		BackgroundAssetOrRef: backgroundRef(doc),
		Assets:               assets,
		Canvas:               Canvas{Width: w, Height: h},
		SceneElements:        doc,
	}

	tier := base
	if a.MimeCategory == artifact.CategoryDocument && tier != artifact.TierUnavailable && sa.SourceAssetRef != "" {
		src := sa.Assets[sa.SourceAssetRef]
		if n := int64(base64.StdEncoding.EncodedLen(len(src.Data))); n > e.config.Storage.DocumentCeilingBytes {
			e.config.Log(1, "Source of %s is %d bytes encoded, over the %d byte ceiling", a.ID, n, e.config.Storage.DocumentCeilingBytes)
			tier = artifact.TierUnavailable
		}
	}
	if tier == artifact.TierNone {
		return sa, nil
	}
	next, err := e.apply(sa, tier)
	if err != nil {
		return nil, err
	}
	if tier == base {
		next.SizeHistory = sa.SizeHistory
	}
	return next, nil
}

// demote returns a copy of sa at tier with a size history note.
func (e *Engine) demote(sa *StoredArtifact, tier artifact.Tier) (*StoredArtifact, error) {
	if !artifact.CanDemote(sa.Tier, tier) {
		return nil, fmt.Errorf("artifact %s: cannot move from tier %s to %s", sa.ID, sa.Tier, tier)
	}
	return e.apply(sa, tier)
}

// apply bounds the assets of a copy of sa to tier and notes the change.
func (e *Engine) apply(sa *StoredArtifact, tier artifact.Tier) (*StoredArtifact, error) {
	out := sa.clone()
	before := assetBytes(out)
	out.Tier = tier

	if b, ok := e.tiers[tier]; ok {
		if err := shrinkRasters(out, b); err != nil {
			return nil, err
		}
	}
	if tier == artifact.TierUnavailable {
		dropSource(out)
	}

	after := assetBytes(out)
	out.SizeHistory = append(out.SizeHistory, note(tier, before, after))
	return out, nil
}

// shrinkRasters bounds background and image rasters and the source image.
// QR rasters are kept as is.
func shrinkRasters(sa *StoredArtifact, b bounds) error {
	refs := make(map[string]bool)
	for _, el := range sa.SceneElements.Elements {
		if el.Kind == scene.KindBackground || el.Kind == scene.KindImage {
			if ref := el.String(scene.PropRasterRef); ref != "" {
				refs[ref] = true
			}
		}
	}
	if sa.MimeCategory == artifact.CategoryImage && sa.SourceAssetRef != "" {
		refs[sa.SourceAssetRef] = true
	}

	renamed := make(map[string]string)
	for ref := range refs {
		a, ok := sa.Assets[ref]
		if !ok {
			continue
		}
		res, err := raster.Shrink(a.Data, b.maxDim, b.quality)
		if errors.Is(err, raster.ErrDecode) {
			continue
		}
		if err != nil {
			return err
		}
		if !res.Changed {
			continue
		}
		next := scene.AssetRef(res.Data)
		delete(sa.Assets, ref)
		sa.Assets[next] = scene.Asset{MIME: res.MIME, Data: res.Data}
		renamed[ref] = next
	}

	for _, el := range sa.SceneElements.Elements {
		if next, ok := renamed[el.String(scene.PropRasterRef)]; ok {
			el.Props[scene.PropRasterRef] = next
		}
	}
	if next, ok := renamed[sa.SourceAssetRef]; ok {
		sa.SourceAssetRef = next
	}
	if next, ok := renamed[sa.BackgroundAssetOrRef]; ok {
		sa.BackgroundAssetOrRef = next
	}
	return nil
}

// dropSource removes the source asset unless an element still draws it.
func dropSource(sa *StoredArtifact) {
	ref := sa.SourceAssetRef
	if ref == "" {
		return
	}
	sa.SourceAssetRef = ""
	for _, el := range sa.SceneElements.Elements {
		if el.String(scene.PropRasterRef) == ref {
			return
		}
	}
	delete(sa.Assets, ref)
}

func assetBytes(sa *StoredArtifact) int {
	n := 0
	for _, a := range sa.Assets {
		n += len(a.Data)
	}
	return n
}

func note(tier artifact.Tier, before, after int) string {
	day := time.Now().UTC().Format("2006-01-02")
	if tier == artifact.TierUnavailable {
		return fmt.Sprintf("%s: source removed to fit storage, page kept (%d -> %d bytes)", day, before, after)
	}
	return fmt.Sprintf("%s: stored as %s to fit storage (%d -> %d bytes)", day, tier.Label(), before, after)
}

// Load returns owner's artifacts, most recently created first. Every artifact
// has a preview; SourceRef is empty when the source can't be re-edited.
func (e *Engine) Load(ctx context.Context, owner string) ([]*artifact.Artifact, error) {
	unlock := e.lock(owner)
	rec, err := e.record(ctx, owner)
	unlock()
	if err != nil {
		return nil, err
	}
	out := make([]*artifact.Artifact, 0, len(rec.Artifacts))
	for _, sa := range rec.Artifacts {
		a, err := e.restore(sa)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Get returns one stored artifact.
func (e *Engine) Get(ctx context.Context, owner, id string) (*artifact.Artifact, error) {
	unlock := e.lock(owner)
	rec, err := e.record(ctx, owner)
	unlock()
	if err != nil {
		return nil, err
	}
	i := rec.find(id)
	if i < 0 {
		return nil, fmt.Errorf("%w: artifact %s", scene.ErrNotFound, id)
	}
	return e.restore(rec.Artifacts[i])
}

// restore rebuilds an in-memory artifact from its stored form.
func (e *Engine) restore(sa *StoredArtifact) (*artifact.Artifact, error) {
	g, err := scene.Deserialize(sa.SceneElements, sa.Assets)
	if err != nil {
		return nil, fmt.Errorf("artifact %s: %w", sa.ID, err)
	}
	preview := sa.Preview
	if len(preview) == 0 {
		preview = raster.PlaceholderPNG(e.config.Compression.PreviewMaxDim, e.config.Compression.PreviewMaxDim*2/3, sa.Name)
	}
	source := sa.SourceAssetRef
	if sa.Tier == artifact.TierUnavailable {
		source = ""
	}
	return &artifact.Artifact{
		ID:                sa.ID,
		OwnerID:           sa.OwnerID,
		Name:              sa.Name,
		MimeCategory:      sa.MimeCategory,
		SourceRef:         source,
		Preview:           preview,
		CreatedAt:         sa.CreatedAt,
		UpdatedAt:         sa.UpdatedAt,
		Tier:              sa.Tier,
		OriginalSizeBytes: sa.OriginalSizeBytes,
		SizeHistory:       append([]string(nil), sa.SizeHistory...),
		Graph:             g,
	}, nil
}

// Delete removes an artifact from owner's record.
func (e *Engine) Delete(ctx context.Context, owner, id string) error {
	unlock := e.lock(owner)
	defer unlock()
	cached, err := e.record(ctx, owner)
	if err != nil {
		return err
	}
	i := cached.find(id)
	if i < 0 {
		return fmt.Errorf("%w: artifact %s", scene.ErrNotFound, id)
	}
	work := cached.copyRecord()
	work.Artifacts = append(work.Artifacts[:i], work.Artifacts[i+1:]...)
	data, err := encodeRecord(work)
	if err != nil {
		return err
	}
	if err := e.write(ctx, work, data); err != nil {
		return err
	}
	e.config.Log(1, "Deleted %s for %s, record now %d bytes", id, owner, len(data))
	return nil
}

// Owners lists the accounts holding a stored record.
func (e *Engine) Owners(ctx context.Context) ([]string, error) {
	ctx, cancel := e.storeContext(ctx)
	defer cancel()
	return e.backend.Owners(ctx)
}

// Usage reports owner's storage state.
func (e *Engine) Usage(ctx context.Context, owner string) (Usage, error) {
	unlock := e.lock(owner)
	defer unlock()
	rec, err := e.record(ctx, owner)
	if err != nil {
		return Usage{}, err
	}
	used := rec.UsedBytes
	if used == 0 && len(rec.Artifacts) > 0 {
		if used, err = Estimate(rec.copyRecord()); err != nil {
			return Usage{}, err
		}
	}
	return Usage{
		UsedBytes:  used,
		QuotaBytes: e.quota,
		Artifacts:  len(rec.Artifacts),
		Degraded:   rec.degraded(),
	}, nil
}
