package protocol

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/zot/qrcanvas/internal/artifact"
	"github.com/zot/qrcanvas/internal/background"
	"github.com/zot/qrcanvas/internal/persist"
	"github.com/zot/qrcanvas/internal/qr"
	"github.com/zot/qrcanvas/internal/scene"
	"github.com/zot/qrcanvas/internal/session"
)

// MessageSender is an interface for sending messages to editor connections.
type MessageSender interface {
	Send(connectionID string, msg *Message) error
	Broadcast(sessionID, exceptConnectionID string, msg *Message) error
}

// Studio is the part of the studio service the handler needs.
type Studio interface {
	SaveSession(ctx context.Context, sess *session.Session) (persist.SaveResult, error)
	Reupload(ctx context.Context, owner, id string, data []byte, category artifact.MimeCategory) (background.Result, error)
}

// Handler processes protocol messages for editor sessions.
type Handler struct {
	studio Studio
	sender MessageSender
	log    func(level int, format string, args ...interface{})
}

// NewHandler creates a new protocol handler. sender may be nil when no
// other connections need to hear about changes.
func NewHandler(studio Studio, sender MessageSender, log func(level int, format string, args ...interface{})) *Handler {
	if log == nil {
		log = func(int, string, ...interface{}) {}
	}
	return &Handler{studio: studio, sender: sender, log: log}
}

// HandleMessage processes one message for sess. Request failures are
// reported in the response; the error return is reserved for transport
// problems.
func (h *Handler) HandleMessage(ctx context.Context, connectionID string, sess *session.Session, msg *Message) (*Response, error) {
	h.log(2, "Message: type=%s from=%s", msg.Type, connectionID)

	result, changed, err := h.dispatch(ctx, sess, msg)
	if err != nil {
		h.log(2, "Message %s failed: %v", msg.Type, err)
		return ErrorResponse(err), nil
	}
	if changed {
		h.notify(connectionID, sess)
	}
	return &Response{Result: result}, nil
}

// HandleBatch processes messages in order and stops at the first failure.
// A gesture batch is recorded as one history step.
func (h *Handler) HandleBatch(ctx context.Context, connectionID string, sess *session.Session, msgs []*Message, gesture bool) ([]*Response, error) {
	if gesture {
		if err := sess.BeginGesture(); err != nil {
			return []*Response{ErrorResponse(err)}, nil
		}
		defer func() {
			if err := sess.EndGesture(); err == nil {
				h.notify(connectionID, sess)
			}
		}()
	}
	out := make([]*Response, 0, len(msgs))
	for _, msg := range msgs {
		resp, err := h.HandleMessage(ctx, connectionID, sess, msg)
		if err != nil {
			return out, err
		}
		out = append(out, resp)
		if resp.Error != "" {
			break
		}
	}
	return out, nil
}

func decode[T any](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	err := json.Unmarshal(data, &v)
	return v, err
}

// dispatch runs msg and reports whether the scene changed.
func (h *Handler) dispatch(ctx context.Context, sess *session.Session, msg *Message) (interface{}, bool, error) {
	switch msg.Type {
	case MsgAdd:
		draft, err := decode[scene.Draft](msg.Data)
		if err != nil {
			return nil, false, err
		}
		el, err := sess.Add(draft)
		return el, err == nil, err

	case MsgUpdate:
		m, err := decode[UpdateMessage](msg.Data)
		if err != nil {
			return nil, false, err
		}
		err = sess.Update(m.ID, m.Patch)
		return nil, err == nil, err

	case MsgRemove, MsgSelect, MsgFront, MsgBack:
		m, err := decode[IDMessage](msg.Data)
		if err != nil {
			return nil, false, err
		}
		op := map[MessageType]func(string) error{
			MsgRemove: sess.Remove,
			MsgSelect: sess.Select,
			MsgFront:  sess.BringToFront,
			MsgBack:   sess.SendToBack,
		}[msg.Type]
		err = op(m.ID)
		return nil, err == nil && msg.Type != MsgSelect, err

	case MsgQR:
		m, err := decode[QRMessage](msg.Data)
		if err != nil {
			return nil, false, err
		}
		size := m.Size
		if size <= 0 {
			size = qr.DefaultSize
		}
		level := m.Level
		if level == "" {
			level = qr.LevelFor(m.Content)
		}
		el, err := sess.AddQR(m.Content, size, qr.Options{Level: level, X: m.X, Y: m.Y})
		return el, err == nil, err

	case MsgBeginGesture:
		return nil, false, sess.BeginGesture()

	case MsgEndGesture:
		err := sess.EndGesture()
		return nil, err == nil, err

	case MsgUndo, MsgRedo:
		move := sess.Undo
		if msg.Type == MsgRedo {
			move = sess.Redo
		}
		moved, err := move()
		if err != nil {
			return nil, false, err
		}
		return HistoryResponse{Moved: moved, State: State(sess)}, moved, nil

	case MsgBackground:
		m, err := decode[BackgroundMessage](msg.Data)
		if err != nil {
			return nil, false, err
		}
		a := sess.Artifact()
		res, err := h.studio.Reupload(ctx, a.OwnerID, a.ID, m.Data, m.MimeCategory)
		if err != nil {
			return nil, false, err
		}
		return map[string]interface{}{"background": res.Background, "fallback": res.Fallback}, true, nil

	case MsgSave:
		res, err := h.studio.SaveSession(ctx, sess)
		return res, false, err

	case MsgGet:
		return State(sess), false, nil

	default:
		return nil, false, fmt.Errorf("%w: %s", ErrUnknownMessage, msg.Type)
	}
}

// notify sends the new scene to the editor's other connections.
func (h *Handler) notify(connectionID string, sess *session.Session) {
	if h.sender == nil {
		return
	}
	msg, err := NewMessage(MsgScene, State(sess))
	if err != nil {
		return
	}
	h.sender.Broadcast(sess.ID, connectionID, msg)
}

// State returns the current editor state of sess.
func State(sess *session.Session) *SceneState {
	a := sess.Artifact()
	return &SceneState{
		ArtifactID: a.ID,
		Document:   sess.Document(),
		Selected:   a.Graph.Selected(),
		CanUndo:    sess.CanUndo(),
		CanRedo:    sess.CanRedo(),
		Tier:       a.Tier,
		TierLabel:  a.Tier.Label(),
	}
}
