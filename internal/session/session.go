// Package session implements artifact editor sessions.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zot/qrcanvas/internal/artifact"
	"github.com/zot/qrcanvas/internal/background"
	"github.com/zot/qrcanvas/internal/history"
	"github.com/zot/qrcanvas/internal/qr"
	"github.com/zot/qrcanvas/internal/scene"
)

// ErrClosed is returned by operations on a closed editor.
var ErrClosed = errors.New("editor closed")

// Session is one open editor over one artifact. Operations run one at a time.
type Session struct {
	ID       string
	artifact *artifact.Artifact
	history  *history.Stack
	layer    *background.Layer
	gesture  bool

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	connections  map[string]struct{} // connection IDs
	lastActivity time.Time
	mu           sync.Mutex // serializes editor operations
	stateMu      sync.RWMutex
}

// NewSession opens an editor on a. The current scene is the first history entry.
func NewSession(id string, a *artifact.Artifact, historyLimit int, layer *background.Layer) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:           id,
		artifact:     a,
		history:      history.New(historyLimit),
		layer:        layer,
		ctx:          ctx,
		cancel:       cancel,
		connections:  make(map[string]struct{}),
		lastActivity: time.Now(),
	}
	if snap, err := a.Graph.Snapshot(); err == nil {
		s.history.Push(snap)
	}
	a.Graph.SetRecorder(s.record)
	return s
}

// record pushes a snapshot unless a gesture is open. The graph calls it from
// inside an operation, so s.mu is held.
func (s *Session) record(snapshot []byte) {
	if s.gesture {
		return
	}
	s.history.Push(snapshot)
}

// do runs op as one editor operation.
func (s *Session) do(op func(g *scene.Graph) error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return ErrClosed
	}
	s.Touch()
	if err := op(s.artifact.Graph); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Do runs fn with exclusive access to the artifact. The context is cancelled
// when the editor closes.
func (s *Session) Do(fn func(ctx context.Context, a *artifact.Artifact) error) error {
	return s.do(func(*scene.Graph) error {
		return fn(s.ctx, s.artifact)
	})
}

// Add inserts a new element.
func (s *Session) Add(draft scene.Draft) (*scene.Element, error) {
	var el *scene.Element
	err := s.do(func(g *scene.Graph) (err error) {
		el, err = g.Add(draft)
		return err
	})
	return el, err
}

// Update patches an element and records it unless a gesture is open.
func (s *Session) Update(id string, patch scene.Patch) error {
	return s.do(func(g *scene.Graph) error {
		if err := g.Update(id, patch); err != nil {
			return err
		}
		g.Commit()
		return nil
	})
}

// Remove deletes an element.
func (s *Session) Remove(id string) error {
	return s.do(func(g *scene.Graph) error { return g.Remove(id) })
}

// Select sets the selection; "" clears it.
func (s *Session) Select(id string) error {
	return s.do(func(g *scene.Graph) error { return g.Select(id) })
}

// BringToFront moves an element above every other.
func (s *Session) BringToFront(id string) error {
	return s.do(func(g *scene.Graph) error { return g.BringToFront(id) })
}

// SendToBack moves an element just above the background.
func (s *Session) SendToBack(id string) error {
	return s.do(func(g *scene.Graph) error { return g.SendToBack(id) })
}

// BeginGesture starts collapsing mutations into one history entry.
func (s *Session) BeginGesture() error {
	return s.do(func(*scene.Graph) error {
		if s.gesture {
			return fmt.Errorf("%w: gesture already open", scene.ErrInvariantViolation)
		}
		s.gesture = true
		return nil
	})
}

// EndGesture records the gesture's result as a single entry.
func (s *Session) EndGesture() error {
	return s.do(func(g *scene.Graph) error {
		if !s.gesture {
			return fmt.Errorf("%w: no gesture open", scene.ErrInvariantViolation)
		}
		s.gesture = false
		g.Commit()
		return nil
	})
}

// endGestureLocked closes an open gesture before history moves.
func (s *Session) endGestureLocked(g *scene.Graph) {
	if s.gesture {
		s.gesture = false
		g.Commit()
	}
}

// Undo restores the previous entry. It reports false at the oldest entry.
func (s *Session) Undo() (bool, error) {
	moved := false
	err := s.do(func(g *scene.Graph) error {
		s.endGestureLocked(g)
		snap := s.history.Undo()
		if snap == nil {
			return nil
		}
		moved = true
		return g.Restore(snap)
	})
	return moved, err
}

// Redo reapplies the next entry. It reports false at the newest entry.
func (s *Session) Redo() (bool, error) {
	moved := false
	err := s.do(func(g *scene.Graph) error {
		s.endGestureLocked(g)
		snap := s.history.Redo()
		if snap == nil {
			return nil
		}
		moved = true
		return g.Restore(snap)
	})
	return moved, err
}

// CanUndo reports whether Undo would move.
func (s *Session) CanUndo() bool {
	return s.history.CanUndo()
}

// CanRedo reports whether Redo would move.
func (s *Session) CanRedo() bool {
	return s.history.CanRedo()
}

// AddQR places a QR code for content.
func (s *Session) AddQR(content string, size int, opts qr.Options) (*scene.Element, error) {
	var el *scene.Element
	err := s.do(func(g *scene.Graph) (err error) {
		el, err = qr.Create(g, content, size, opts)
		return err
	})
	return el, err
}

// SetBackground installs data as the background. A result that lands after
// Close is discarded and ErrClosed is returned.
func (s *Session) SetBackground(data []byte, mime string) (background.Result, error) {
	var res background.Result
	err := s.do(func(g *scene.Graph) (err error) {
		// a swap and its notice are one entry
		open := s.gesture
		s.gesture = true
		res, err = s.layer.Install(s.ctx, g, data, mime)
		s.gesture = open
		if err == nil && !open {
			g.Commit()
		}
		return err
	})
	if err != nil {
		return background.Result{}, err
	}
	return res, nil
}

// Document returns the current scene document.
func (s *Session) Document() scene.Document {
	return s.artifact.Graph.Serialize()
}

// Artifact returns the artifact being edited. Use Do to change it.
func (s *Session) Artifact() *artifact.Artifact {
	return s.artifact
}

// ArtifactID returns the edited artifact's id.
func (s *Session) ArtifactID() string {
	return s.artifact.ID
}

// Context is cancelled when the editor closes.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Close cancels in-flight work. It does not wait for a running operation.
func (s *Session) Close() {
	if s.closed.Swap(true) {
		return
	}
	s.cancel()
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// AddConnection registers a new connection to this session.
func (s *Session) AddConnection(connectionID string) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	s.connections[connectionID] = struct{}{}
	s.lastActivity = time.Now()
}

// RemoveConnection unregisters a connection from this session.
// Returns true if this was the last connection.
func (s *Session) RemoveConnection(connectionID string) bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	delete(s.connections, connectionID)
	s.lastActivity = time.Now()
	return len(s.connections) == 0
}

// IsActive checks if the session has any connections.
func (s *Session) IsActive() bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return len(s.connections) > 0
}

// GetConnectionCount returns the number of active connections.
func (s *Session) GetConnectionCount() int {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return len(s.connections)
}

// Touch updates the lastActivity timestamp.
func (s *Session) Touch() {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.lastActivity = time.Now()
}

// GetLastActivity returns the last activity time.
func (s *Session) GetLastActivity() time.Time {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.lastActivity
}

// GenerateSessionID creates a unique session identifier.
func GenerateSessionID() string {
	bytes := make([]byte, 16)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
