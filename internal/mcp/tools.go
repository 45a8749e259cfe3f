package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/zot/qrcanvas/internal/artifact"
	"github.com/zot/qrcanvas/internal/persist"
	"github.com/zot/qrcanvas/internal/qr"
	"github.com/zot/qrcanvas/internal/studio"
)

// ArtifactInfo is the tool view of an artifact. Previews are left out.
type ArtifactInfo struct {
	ID           string                `json:"id"`
	Name         string                `json:"name"`
	MimeCategory artifact.MimeCategory `json:"mimeCategory"`
	Tier         artifact.Tier         `json:"degradationTier"`
	TierLabel    string                `json:"tierLabel,omitempty"`
	Editable     bool                  `json:"editable"`
	UpdatedAt    time.Time             `json:"updatedAt"`
	SizeHistory  []string              `json:"sizeHistory,omitempty"`
}

func info(s artifact.Summary) ArtifactInfo {
	return ArtifactInfo{
		ID:           s.ID,
		Name:         s.Name,
		MimeCategory: s.MimeCategory,
		Tier:         s.Tier,
		TierLabel:    s.TierLabel,
		Editable:     s.Editable,
		UpdatedAt:    s.UpdatedAt,
		SizeHistory:  s.SizeHistory,
	}
}

func listing(list []artifact.Summary) []ArtifactInfo {
	out := make([]ArtifactInfo, len(list))
	for i, s := range list {
		out[i] = info(s)
	}
	return out
}

// SavedArtifact is returned by tools that save.
type SavedArtifact struct {
	Artifact ArtifactInfo       `json:"artifact"`
	Save     persist.SaveResult `json:"save"`
	Fallback bool               `json:"fallback,omitempty"`
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcpgo.NewTool("intake_artifact",
		mcpgo.WithDescription("Upload an image or PDF as a new artifact and save it. Give either path or data."),
		mcpgo.WithString("path", mcpgo.Description("Local file to upload")),
		mcpgo.WithString("data", mcpgo.Description("Base64 source bytes")),
		mcpgo.WithString("name", mcpgo.Description("Artifact name")),
		mcpgo.WithString("mimeCategory", mcpgo.Description("image or document; detected when omitted"), mcpgo.Enum("image", "document")),
		mcpgo.WithString("owner", mcpgo.Description("Account id; defaults to the configured owner")),
	), s.handleIntake)

	s.mcp.AddTool(mcpgo.NewTool("list_artifacts",
		mcpgo.WithDescription("List saved artifacts, newest first, with their fidelity tier"),
		mcpgo.WithString("owner", mcpgo.Description("Account id; defaults to the configured owner")),
	), s.handleList)

	s.mcp.AddTool(mcpgo.NewTool("add_qr",
		mcpgo.WithDescription("Place a QR code on an artifact and save it"),
		mcpgo.WithString("id", mcpgo.Required(), mcpgo.Description("Artifact id")),
		mcpgo.WithString("content", mcpgo.Required(), mcpgo.Description("Text or URL to encode")),
		mcpgo.WithNumber("size", mcpgo.Description("Edge length in canvas units"), mcpgo.DefaultNumber(qr.DefaultSize)),
		mcpgo.WithNumber("x", mcpgo.Description("Left edge; near the top-left corner when omitted")),
		mcpgo.WithNumber("y", mcpgo.Description("Top edge; near the top-left corner when omitted")),
		mcpgo.WithString("errorCorrection", mcpgo.Enum("L", "M", "Q", "H")),
		mcpgo.WithString("owner", mcpgo.Description("Account id; defaults to the configured owner")),
	), s.handleAddQR)

	s.mcp.AddTool(mcpgo.NewTool("export_artifact",
		mcpgo.WithDescription("Render an artifact to PNG. Writes to path when given, otherwise returns the image."),
		mcpgo.WithString("id", mcpgo.Required(), mcpgo.Description("Artifact id")),
		mcpgo.WithNumber("multiplier", mcpgo.Description("Output scale, up to 4"), mcpgo.DefaultNumber(1)),
		mcpgo.WithString("path", mcpgo.Description("Output file")),
		mcpgo.WithString("owner", mcpgo.Description("Account id; defaults to the configured owner")),
	), s.handleExport)

	s.mcp.AddTool(mcpgo.NewTool("delete_artifact",
		mcpgo.WithDescription("Delete an artifact and free its storage"),
		mcpgo.WithDestructiveHintAnnotation(true),
		mcpgo.WithString("id", mcpgo.Required(), mcpgo.Description("Artifact id")),
		mcpgo.WithString("owner", mcpgo.Description("Account id; defaults to the configured owner")),
	), s.handleDelete)

	s.mcp.AddTool(mcpgo.NewTool("storage_usage",
		mcpgo.WithDescription("Report bytes used against the storage quota"),
		mcpgo.WithString("owner", mcpgo.Description("Account id; defaults to the configured owner")),
	), s.handleUsage)
}

// toolError reports err as a tool failure. Quota failures carry the detail.
func toolError(err error) (*mcpgo.CallToolResult, error) {
	var exceeded *persist.ExceededError
	if errors.As(err, &exceeded) {
		return mcpgo.NewToolResultError(exceeded.Error() + " (" + exceeded.Detail() + ")"), nil
	}
	return mcpgo.NewToolResultError(err.Error()), nil
}

func jsonResult(v interface{}) (*mcpgo.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcpgo.NewToolResultText(string(data)), nil
}

func (s *Server) handleIntake(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	var data []byte
	if path := req.GetString("path", ""); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return toolError(err)
		}
		data = b
	} else if encoded := req.GetString("data", ""); encoded != "" {
		b, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return toolError(fmt.Errorf("%w: data is not base64", studio.ErrInvalidRequest))
		}
		data = b
	} else {
		return toolError(fmt.Errorf("%w: path or data is required", studio.ErrInvalidRequest))
	}

	in, err := s.studio.Intake(ctx, studio.IntakeRequest{
		OwnerID:      s.owner(req),
		Name:         req.GetString("name", ""),
		Data:         data,
		MimeCategory: artifact.MimeCategory(req.GetString("mimeCategory", "")),
	})
	if err != nil {
		return toolError(err)
	}
	res, err := s.studio.SaveSession(ctx, in.Session)
	if err != nil {
		// nothing was stored; don't leave an editor open on it
		s.studio.Sessions().DestroySession(in.Session.ID)
		return toolError(err)
	}
	return jsonResult(SavedArtifact{
		Artifact: info(in.Session.Artifact().Summarize()),
		Save:     res,
		Fallback: in.Fallback,
	})
}

func (s *Server) handleList(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	list, err := s.studio.LoadCollection(ctx, s.owner(req))
	if err != nil {
		return toolError(err)
	}
	return jsonResult(listing(list))
}

func (s *Server) handleAddQR(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return toolError(err)
	}
	content, err := req.RequireString("content")
	if err != nil {
		return toolError(err)
	}
	sess, err := s.studio.Open(ctx, s.owner(req), id)
	if err != nil {
		return toolError(err)
	}

	opts := qr.Options{Level: req.GetString("errorCorrection", "")}
	if opts.Level == "" {
		opts.Level = qr.LevelFor(content)
	}
	args := req.GetArguments()
	if _, ok := args["x"]; ok {
		x := req.GetFloat("x", 0)
		opts.X = &x
	}
	if _, ok := args["y"]; ok {
		y := req.GetFloat("y", 0)
		opts.Y = &y
	}
	el, err := sess.AddQR(content, int(req.GetFloat("size", qr.DefaultSize)), opts)
	if err != nil {
		return toolError(err)
	}
	res, err := s.studio.SaveSession(ctx, sess)
	if err != nil {
		// a failed save leaves no QR code behind
		sess.Undo()
		return toolError(err)
	}
	return jsonResult(map[string]interface{}{
		"element":  el,
		"artifact": info(sess.Artifact().Summarize()),
		"save":     res,
	})
}

func (s *Server) handleExport(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return toolError(err)
	}
	data, err := s.studio.Export(ctx, s.owner(req), id, req.GetFloat("multiplier", 1))
	if err != nil {
		return toolError(err)
	}
	if path := req.GetString("path", ""); path != "" {
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return toolError(err)
		}
		return mcpgo.NewToolResultText(fmt.Sprintf("wrote %d bytes to %s", len(data), path)), nil
	}
	return mcpgo.NewToolResultImage(fmt.Sprintf("artifact %s", id), base64.StdEncoding.EncodeToString(data), "image/png"), nil
}

func (s *Server) handleDelete(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return toolError(err)
	}
	if err := s.studio.Delete(ctx, s.owner(req), id); err != nil {
		return toolError(err)
	}
	return mcpgo.NewToolResultText("deleted " + id), nil
}

func (s *Server) handleUsage(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	usage, err := s.studio.Usage(ctx, s.owner(req))
	if err != nil {
		return toolError(err)
	}
	return jsonResult(usage)
}
