package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/zot/qrcanvas/internal/config"
	"github.com/zot/qrcanvas/internal/persist"
	"github.com/zot/qrcanvas/internal/raster"
	"github.com/zot/qrcanvas/internal/studio"
)

func newTestServer(t *testing.T, quota int64) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.QuotaBytes = quota
	svc, err := studio.Start(cfg)
	if err != nil {
		t.Fatalf("studio.Start failed: %v", err)
	}
	t.Cleanup(svc.Close)
	return NewServer(cfg, svc)
}

func call(args map[string]any) mcpgo.CallToolRequest {
	var req mcpgo.CallToolRequest
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcpgo.CallToolResult) string {
	t.Helper()
	for _, c := range res.Content {
		switch tc := c.(type) {
		case mcpgo.TextContent:
			return tc.Text
		case *mcpgo.TextContent:
			return tc.Text
		}
	}
	t.Fatal("Expected text content")
	return ""
}

func pngData(t *testing.T) []byte {
	t.Helper()
	data, err := raster.EncodePNG(image.NewRGBA(image.Rect(0, 0, 200, 140)))
	if err != nil {
		t.Fatalf("EncodePNG failed: %v", err)
	}
	return data
}

func intake(t *testing.T, s *Server) SavedArtifact {
	t.Helper()
	res, err := s.handleIntake(context.Background(), call(map[string]any{
		"data": base64.StdEncoding.EncodeToString(pngData(t)),
		"name": "menu",
	}))
	if err != nil || res.IsError {
		t.Fatalf("intake_artifact failed: %v %s", err, text(t, res))
	}
	var out SavedArtifact
	if err := json.Unmarshal([]byte(text(t, res)), &out); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	return out
}

// TestIntakeSavesArtifact verifies intake_artifact stores a new artifact
func TestIntakeSavesArtifact(t *testing.T) {
	s := newTestServer(t, 5<<20)
	saved := intake(t, s)
	if saved.Save.Status != persist.StatusOK || saved.Artifact.Name != "menu" {
		t.Errorf("Unexpected intake result: %+v", saved)
	}

	res, _ := s.handleList(context.Background(), call(nil))
	var list []ArtifactInfo
	json.Unmarshal([]byte(text(t, res)), &list)
	if len(list) != 1 || list[0].ID != saved.Artifact.ID {
		t.Errorf("Expected the artifact listed, got %+v", list)
	}
}

// TestIntakeFromPath verifies a local file upload
func TestIntakeFromPath(t *testing.T) {
	s := newTestServer(t, 5<<20)
	path := filepath.Join(t.TempDir(), "src.png")
	os.WriteFile(path, pngData(t), 0o644)

	res, err := s.handleIntake(context.Background(), call(map[string]any{"path": path}))
	if err != nil || res.IsError {
		t.Fatalf("intake_artifact failed: %v %s", err, text(t, res))
	}
}

// TestIntakeErrors verifies bad input and quota failures are tool errors
func TestIntakeErrors(t *testing.T) {
	s := newTestServer(t, 5<<20)
	for _, args := range []map[string]any{
		{},
		{"data": "%%%"},
		{"path": filepath.Join(t.TempDir(), "missing.png")},
	} {
		res, err := s.handleIntake(context.Background(), call(args))
		if err != nil || !res.IsError {
			t.Errorf("Expected tool error for %v", args)
		}
	}

	small := newTestServer(t, 500)
	res, _ := small.handleIntake(context.Background(), call(map[string]any{
		"data": base64.StdEncoding.EncodeToString(pngData(t)),
	}))
	if !res.IsError || !strings.HasPrefix(text(t, res), persist.ExceededMessage) {
		t.Errorf("Expected quota error, got %s", text(t, res))
	}
	if small.studio.Sessions().Count() != 0 {
		t.Error("Expected no editor left open after a failed intake")
	}
}

// TestAddQRAndExport verifies add_qr saves and export_artifact writes a PNG
func TestAddQRAndExport(t *testing.T) {
	s := newTestServer(t, 5<<20)
	saved := intake(t, s)
	ctx := context.Background()

	res, err := s.handleAddQR(ctx, call(map[string]any{
		"id":      saved.Artifact.ID,
		"content": "https://example.com/menu",
		"size":    120.0,
		"x":       10.0,
		"y":       20.0,
	}))
	if err != nil || res.IsError {
		t.Fatalf("add_qr failed: %v %s", err, text(t, res))
	}
	if !strings.Contains(text(t, res), `"kind": "qr"`) {
		t.Errorf("Expected qr element in result, got %s", text(t, res))
	}

	out := filepath.Join(t.TempDir(), "out.png")
	res, err = s.handleExport(ctx, call(map[string]any{"id": saved.Artifact.ID, "multiplier": 2.0, "path": out}))
	if err != nil || res.IsError {
		t.Fatalf("export_artifact failed: %v %s", err, text(t, res))
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if w, h, _, _ := raster.Dimensions(data); w != 1800 || h != 1260 {
		t.Errorf("Expected 1800x1260, got %dx%d", w, h)
	}

	res, _ = s.handleExport(ctx, call(map[string]any{"id": saved.Artifact.ID}))
	if len(res.Content) == 0 {
		t.Fatal("Expected image content")
	}
	if _, ok := res.Content[len(res.Content)-1].(mcpgo.ImageContent); !ok {
		t.Errorf("Expected image content, got %T", res.Content[len(res.Content)-1])
	}
}

// TestAddQRErrors verifies missing arguments and unknown artifacts
func TestAddQRErrors(t *testing.T) {
	s := newTestServer(t, 5<<20)
	saved := intake(t, s)
	for _, args := range []map[string]any{
		{"content": "x"},
		{"id": saved.Artifact.ID},
		{"id": "missing", "content": "x"},
	} {
		res, err := s.handleAddQR(context.Background(), call(args))
		if err != nil || !res.IsError {
			t.Errorf("Expected tool error for %v", args)
		}
	}
}

// TestDeleteAndUsage verifies delete_artifact frees storage
func TestDeleteAndUsage(t *testing.T) {
	s := newTestServer(t, 5<<20)
	saved := intake(t, s)
	ctx := context.Background()

	usage := func() persist.Usage {
		res, _ := s.handleUsage(ctx, call(nil))
		var u persist.Usage
		json.Unmarshal([]byte(text(t, res)), &u)
		return u
	}
	if u := usage(); u.Artifacts != 1 || u.UsedBytes == 0 {
		t.Errorf("Expected one stored artifact, got %+v", u)
	}

	res, err := s.handleDelete(ctx, call(map[string]any{"id": saved.Artifact.ID}))
	if err != nil || res.IsError {
		t.Fatalf("delete_artifact failed: %v", err)
	}
	if u := usage(); u.Artifacts != 0 {
		t.Errorf("Expected no artifacts after delete, got %+v", u)
	}
}
