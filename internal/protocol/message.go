// Package protocol implements the editor message protocol spoken over the
// websocket and the REST editor endpoint.
package protocol

import (
	"encoding/json"

	"github.com/zot/qrcanvas/internal/artifact"
	"github.com/zot/qrcanvas/internal/scene"
)

// MessageType identifies the type of protocol message.
type MessageType string

const (
	// Scene mutations
	MsgAdd    MessageType = "add"
	MsgUpdate MessageType = "update"
	MsgRemove MessageType = "remove"
	MsgSelect MessageType = "select"
	MsgFront  MessageType = "front"
	MsgBack   MessageType = "back"
	MsgQR     MessageType = "qr"

	// History
	MsgBeginGesture MessageType = "beginGesture"
	MsgEndGesture   MessageType = "endGesture"
	MsgUndo         MessageType = "undo"
	MsgRedo         MessageType = "redo"

	// Source and persistence
	MsgBackground MessageType = "background"
	MsgSave       MessageType = "save"
	MsgGet        MessageType = "get"

	// Server-sent
	MsgScene MessageType = "scene"
	MsgError MessageType = "error"
)

// Message is the base protocol message structure.
type Message struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UpdateMessage patches one element.
type UpdateMessage struct {
	ID string `json:"id"`
	scene.Patch
}

// IDMessage names one element. An empty ID in a select clears the selection.
type IDMessage struct {
	ID string `json:"id"`
}

// QRMessage places a QR code.
type QRMessage struct {
	Content string   `json:"contentString"`
	Size    int      `json:"size,omitempty"`
	Level   string   `json:"errorCorrection,omitempty"` // L, M, Q or H
	X       *float64 `json:"x,omitempty"`
	Y       *float64 `json:"y,omitempty"`
}

// BackgroundMessage uploads a new source for the artifact.
type BackgroundMessage struct {
	Data         []byte                `json:"data"` // base64 in JSON
	MimeCategory artifact.MimeCategory `json:"mimeCategory,omitempty"`
}

// SceneState is the editor state sent after each change and on get.
type SceneState struct {
	ArtifactID string         `json:"artifactId"`
	Document   scene.Document `json:"document"`
	Selected   string         `json:"selected,omitempty"`
	CanUndo    bool           `json:"canUndo"`
	CanRedo    bool           `json:"canRedo"`
	Tier       artifact.Tier  `json:"degradationTier"`
	TierLabel  string         `json:"tierLabel,omitempty"`
}

// HistoryResponse reports an undo or redo.
type HistoryResponse struct {
	Moved bool        `json:"moved"`
	State *SceneState `json:"state"`
}

// ErrorMessage represents an error sent outside a response.
type ErrorMessage struct {
	Code        string `json:"code"`        // One-word error code (e.g., "invalid", "not-found", "quota-exceeded")
	Description string `json:"description"` // Human-readable error description
}

// Response wraps handler responses.
type Response struct {
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
	Code   string      `json:"code,omitempty"`
}

// ErrorResponse builds the response for a failed request.
func ErrorResponse(err error) *Response {
	return &Response{Error: err.Error(), Code: ErrorCode(err)}
}

// BatchWrapper wraps a batch of messages. Gesture batches are recorded as one history step.
type BatchWrapper struct {
	Gesture  bool      `json:"gesture"`
	Messages []Message `json:"messages"`
}

// ParseMessage parses a raw JSON message into a typed message.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ParseMessages parses raw JSON that may be a single message, an array, or a batch wrapper.
// Returns the messages and whether the batch is a gesture.
func ParseMessages(data []byte) ([]*Message, bool, error) {
	if len(data) == 0 {
		return nil, false, nil
	}

	switch data[0] {
	case '[':
		var msgs []Message
		if err := json.Unmarshal(data, &msgs); err != nil {
			return nil, false, err
		}
		result := make([]*Message, len(msgs))
		for i := range msgs {
			result[i] = &msgs[i]
		}
		return result, false, nil

	case '{':
		// Could be wrapper or single message - try wrapper first
		var wrapper BatchWrapper
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return nil, false, err
		}
		if len(wrapper.Messages) > 0 {
			result := make([]*Message, len(wrapper.Messages))
			for i := range wrapper.Messages {
				result[i] = &wrapper.Messages[i]
			}
			return result, wrapper.Gesture, nil
		}

		msg, err := ParseMessage(data)
		if err != nil {
			return nil, false, err
		}
		return []*Message{msg}, false, nil

	default:
		return nil, false, nil
	}
}

// NewMessage creates a new message with the given type and data.
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var raw json.RawMessage
	if data != nil {
		var err error
		raw, err = json.Marshal(data)
		if err != nil {
			return nil, err
		}
	}
	return &Message{
		Type: msgType,
		Data: raw,
	}, nil
}

// Encode serializes a message to JSON.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}
