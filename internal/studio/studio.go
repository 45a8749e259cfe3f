// Package studio ties editors, rasterizers and the persistence engine into
// the operations exposed over HTTP, websocket, MCP and the CLI.
package studio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zot/qrcanvas/internal/artifact"
	"github.com/zot/qrcanvas/internal/background"
	"github.com/zot/qrcanvas/internal/config"
	"github.com/zot/qrcanvas/internal/document"
	"github.com/zot/qrcanvas/internal/persist"
	"github.com/zot/qrcanvas/internal/raster"
	"github.com/zot/qrcanvas/internal/render"
	"github.com/zot/qrcanvas/internal/scene"
	"github.com/zot/qrcanvas/internal/session"
	"github.com/zot/qrcanvas/internal/storage"
)

// ErrInvalidRequest is returned for malformed requests.
var ErrInvalidRequest = errors.New("invalid request")

// IntakeRequest is a new upload.
type IntakeRequest struct {
	OwnerID      string                `json:"ownerId"`
	Name         string                `json:"name"`
	Data         []byte                `json:"data"`
	MimeCategory artifact.MimeCategory `json:"mimeCategory,omitempty"` // detected when empty
}

// Intake is the result of an upload.
type Intake struct {
	Session    *session.Session
	Artifact   artifact.Summary
	Fallback   bool   // the background is a placeholder
	PageCause  string
	Background *scene.Element
}

// Service implements the artifact operations.
type Service struct {
	config     *config.Config
	engine     *persist.Engine
	sessions   *session.Manager
	layer      *background.Layer
	rasterizer *document.Rasterizer
	backend    storage.Backend // set by Start
}

// New creates a service over engine and sessions.
func New(cfg *config.Config, engine *persist.Engine, sessions *session.Manager) *Service {
	return &Service{
		config:     cfg,
		engine:     engine,
		sessions:   sessions,
		layer:      background.NewLayer(cfg),
		rasterizer: document.NewRasterizer(cfg),
	}
}

// Start opens the configured store and builds a service over it.
func Start(cfg *config.Config) (*Service, error) {
	backend, err := storage.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.Storage.Type, err)
	}
	sessions := session.NewManager(cfg.Session.Timeout.Duration(), cfg.History.Limit, background.NewLayer(cfg))
	s := New(cfg, persist.NewEngine(cfg, backend), sessions)
	s.backend = backend
	return s, nil
}

// Sessions returns the editor manager.
func (s *Service) Sessions() *session.Manager {
	return s.sessions
}

// Engine returns the persistence engine.
func (s *Service) Engine() *persist.Engine {
	return s.engine
}

// category resolves the declared or detected source kind.
func category(declared artifact.MimeCategory, data []byte) (artifact.MimeCategory, error) {
	switch declared {
	case artifact.CategoryImage, artifact.CategoryDocument:
		return declared, nil
	case "":
		if document.IsPDF(data) {
			return artifact.CategoryDocument, nil
		}
		return artifact.CategoryImage, nil
	default:
		return "", fmt.Errorf("%w: unknown mime category %q", ErrInvalidRequest, declared)
	}
}

func sourceMIME(cat artifact.MimeCategory, data []byte) string {
	if cat == artifact.CategoryDocument {
		return "application/pdf"
	}
	if _, _, format, err := raster.Dimensions(data); err == nil {
		return raster.MIME(format)
	}
	return "application/octet-stream"
}

// pageFor returns the raster to install for a source.
func (s *Service) pageFor(ctx context.Context, cat artifact.MimeCategory, data []byte) ([]byte, string, document.Page) {
	if cat != artifact.CategoryDocument {
		return data, sourceMIME(cat, data), document.Page{}
	}
	page := s.rasterizer.RenderFirstPage(ctx, data, s.config.Canvas.DocumentScale)
	if page.Placeholder {
		s.config.Log(1, "Document intake fell back to placeholder: %v", page.Cause)
	}
	return page.Data, "image/png", page
}

// Intake creates an artifact from an upload, installs its background and
// opens an editor on it. Nothing is saved.
func (s *Service) Intake(ctx context.Context, req IntakeRequest) (*Intake, error) {
	if req.OwnerID == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidRequest)
	}
	if len(req.Data) == 0 {
		return nil, fmt.Errorf("%w: upload is empty", ErrInvalidRequest)
	}
	cat, err := category(req.MimeCategory, req.Data)
	if err != nil {
		return nil, err
	}
	name := req.Name
	if name == "" {
		name = "Untitled " + time.Now().UTC().Format("2006-01-02 15:04")
	}

	g := scene.New(s.config.Canvas.Width, s.config.Canvas.Height)
	a := artifact.New(req.OwnerID, name, cat, g)
	a.OriginalSizeBytes = int64(len(req.Data))
	a.SourceRef = g.PutAsset(req.Data, sourceMIME(cat, req.Data))

	var res background.Result
	pageData, mime, page := s.pageFor(ctx, cat, req.Data)
	if cat == artifact.CategoryDocument {
		res, err = s.layer.Install(ctx, g, pageData, mime)
	} else {
		res, err = s.layer.InstallAsset(ctx, g, a.SourceRef)
	}
	if err != nil {
		return nil, err
	}
	if p, err := render.Preview(ctx, g, s.config.Compression.PreviewMaxDim, s.config.Compression.PreviewQuality); err == nil {
		a.Preview = p
	}

	sess, _, err := s.sessions.Open(a)
	if err != nil {
		return nil, err
	}
	s.config.Log(1, "Intake %s for %s: %s, %d bytes", a.ID, req.OwnerID, cat, len(req.Data))
	out := &Intake{
		Session:    sess,
		Artifact:   a.Summarize(),
		Fallback:   res.Fallback || page.Placeholder,
		Background: res.Background,
	}
	if page.Cause != nil {
		out.PageCause = page.Cause.Error()
	}
	return out, nil
}

// Open returns the editor for an artifact, loading it from the store if no
// editor is open.
func (s *Service) Open(ctx context.Context, owner, id string) (*session.Session, error) {
	if sess := s.sessions.ForArtifact(id); sess != nil {
		if sess.Artifact().OwnerID != owner {
			return nil, fmt.Errorf("%w: artifact %s", scene.ErrNotFound, id)
		}
		return sess, nil
	}
	a, err := s.engine.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	sess, _, err := s.sessions.Open(a)
	return sess, err
}

// Save persists the open editor's artifact. Other artifacts whose stored
// tier dropped have their open editors updated.
func (s *Service) Save(ctx context.Context, owner, id string) (persist.SaveResult, error) {
	sess := s.sessions.ForArtifact(id)
	if sess == nil || sess.Artifact().OwnerID != owner {
		return persist.SaveResult{}, fmt.Errorf("%w: no open editor for %s", scene.ErrNotFound, id)
	}
	return s.SaveSession(ctx, sess)
}

// SaveSession persists sess's artifact. The save aborts without writing if
// either ctx or the editor is cancelled first.
func (s *Service) SaveSession(ctx context.Context, sess *session.Session) (persist.SaveResult, error) {
	var res persist.SaveResult
	err := sess.Do(func(editorCtx context.Context, a *artifact.Artifact) error {
		saveCtx, cancel := context.WithCancel(editorCtx)
		defer cancel()
		stop := context.AfterFunc(ctx, cancel)
		defer stop()

		var err error
		res, err = s.engine.Save(saveCtx, a.OwnerID, a)
		return err
	})
	if err != nil {
		return persist.SaveResult{}, err
	}
	for _, d := range res.Demoted {
		if d.ID == sess.ArtifactID() {
			continue
		}
		if other := s.sessions.ForArtifact(d.ID); other != nil {
			other.Do(func(_ context.Context, a *artifact.Artifact) error {
				if d.Tier.Below(a.Tier) {
					return a.Demote(d.Tier, "")
				}
				return nil
			})
		}
	}
	return res, nil
}

// LoadCollection returns owner's stored artifacts, most recent first.
func (s *Service) LoadCollection(ctx context.Context, owner string) ([]artifact.Summary, error) {
	if owner == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidRequest)
	}
	list, err := s.engine.Load(ctx, owner)
	if err != nil {
		return nil, err
	}
	out := make([]artifact.Summary, len(list))
	for i, a := range list {
		out[i] = a.Summarize()
	}
	return out, nil
}

// Export renders an artifact to PNG. An open editor's scene is used when
// there is one, so the result doesn't depend on the stored tier.
func (s *Service) Export(ctx context.Context, owner, id string, multiplier float64) ([]byte, error) {
	if multiplier <= 0 || multiplier > render.MaxMultiplier {
		return nil, fmt.Errorf("%w: multiplier must be in (0, %d]", ErrInvalidRequest, render.MaxMultiplier)
	}
	if sess := s.sessions.ForArtifact(id); sess != nil && sess.Artifact().OwnerID == owner {
		var data []byte
		err := sess.Do(func(_ context.Context, a *artifact.Artifact) (err error) {
			data, err = render.ExportPNG(ctx, a.Graph, multiplier)
			return err
		})
		return data, err
	}
	a, err := s.engine.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	return render.ExportPNG(ctx, a.Graph, multiplier)
}

// Delete closes any editor on the artifact and removes it from the store.
func (s *Service) Delete(ctx context.Context, owner, id string) error {
	if sess := s.sessions.ForArtifact(id); sess != nil && sess.Artifact().OwnerID == owner {
		s.sessions.CloseArtifact(id)
	}
	return s.engine.Delete(ctx, owner, id)
}

// Reupload replaces an artifact's source and background and resets its tier.
// Overlay elements are kept.
func (s *Service) Reupload(ctx context.Context, owner, id string, data []byte, declared artifact.MimeCategory) (background.Result, error) {
	if len(data) == 0 {
		return background.Result{}, fmt.Errorf("%w: upload is empty", ErrInvalidRequest)
	}
	cat, err := category(declared, data)
	if err != nil {
		return background.Result{}, err
	}
	sess, err := s.Open(ctx, owner, id)
	if err != nil {
		return background.Result{}, err
	}
	pageData, mime, _ := s.pageFor(sess.Context(), cat, data)
	res, err := sess.SetBackground(pageData, mime)
	if err != nil {
		return background.Result{}, err
	}
	err = sess.Do(func(_ context.Context, a *artifact.Artifact) error {
		a.SourceRef = a.Graph.PutAsset(data, sourceMIME(cat, data))
		a.MimeCategory = cat
		a.OriginalSizeBytes = int64(len(data))
		a.ResetTier(time.Now().UTC().Format("2006-01-02") + ": source uploaded again")
		return nil
	})
	return res, err
}

// Owners lists every account with saved artifacts.
func (s *Service) Owners(ctx context.Context) ([]string, error) {
	return s.engine.Owners(ctx)
}

// Usage reports owner's storage use.
func (s *Service) Usage(ctx context.Context, owner string) (persist.Usage, error) {
	return s.engine.Usage(ctx, owner)
}

// Close closes every editor and the store opened by Start.
func (s *Service) Close() {
	s.sessions.CloseAll()
	if s.backend != nil {
		if err := s.backend.Close(); err != nil {
			s.config.Log(0, "Closing storage: %v", err)
		}
		s.backend = nil
	}
}
