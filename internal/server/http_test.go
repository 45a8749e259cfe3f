package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/draw"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/zot/qrcanvas/internal/config"
	"github.com/zot/qrcanvas/internal/persist"
	"github.com/zot/qrcanvas/internal/protocol"
	"github.com/zot/qrcanvas/internal/raster"
	"github.com/zot/qrcanvas/internal/studio"
)

func newTestServer(t *testing.T, quota int64) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.Type = "memory"
	cfg.Storage.QuotaBytes = quota
	svc, err := studio.Start(cfg)
	if err != nil {
		t.Fatalf("studio.Start failed: %v", err)
	}
	s := New(cfg, svc)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Shutdown(context.Background())
	})
	return s, ts
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 320, 240))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{20, 120, 200, 255}), image.Point{}, draw.Src)
	data, err := raster.EncodePNG(img)
	if err != nil {
		t.Fatalf("EncodePNG failed: %v", err)
	}
	return data
}

func postIntake(t *testing.T, ts *httptest.Server, data []byte) IntakeResponse {
	t.Helper()
	body, _ := json.Marshal(studio.IntakeRequest{OwnerID: "owner", Name: "flyer", Data: data})
	resp, err := http.Post(ts.URL+"/api/artifacts", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/artifacts failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("Expected 201, got %d: %s", resp.StatusCode, b)
	}
	var out IntakeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	return out
}

func artifactURL(ts *httptest.Server, id string) string {
	return ts.URL + "/api/owners/owner/artifacts/" + id
}

// TestHTTPIntakeSaveList verifies the intake, save and collection routes
func TestHTTPIntakeSaveList(t *testing.T) {
	_, ts := newTestServer(t, 5<<20)
	in := postIntake(t, ts, testPNG(t))
	if in.Artifact.ID == "" || in.SessionID == "" || in.Fallback {
		t.Fatalf("Unexpected intake response: %+v", in)
	}

	resp, err := http.Post(artifactURL(ts, in.Artifact.ID)+"/save", "application/json", nil)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	var res persist.SaveResult
	json.NewDecoder(resp.Body).Decode(&res)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || res.Status != persist.StatusOK {
		t.Fatalf("Expected ok save, got %d %+v", resp.StatusCode, res)
	}

	resp, err = http.Get(ts.URL + "/api/owners/owner/artifacts")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	defer resp.Body.Close()
	var list CollectionResponse
	json.NewDecoder(resp.Body).Decode(&list)
	if len(list.Artifacts) != 1 || list.Artifacts[0].ID != in.Artifact.ID {
		t.Fatalf("Expected the saved artifact, got %+v", list.Artifacts)
	}
	if list.UsedBytes == 0 || list.UsedBytes > list.QuotaBytes {
		t.Errorf("Expected usage within quota, got %d/%d", list.UsedBytes, list.QuotaBytes)
	}
}

// TestHTTPSaveExceeded verifies a quota failure maps to 507 with the blocking message
func TestHTTPSaveExceeded(t *testing.T) {
	_, ts := newTestServer(t, 500)
	in := postIntake(t, ts, testPNG(t))

	resp, err := http.Post(artifactURL(ts, in.Artifact.ID)+"/save", "application/json", nil)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	defer resp.Body.Close()
	var out protocol.Response
	json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode != http.StatusInsufficientStorage || out.Code != protocol.CodeQuotaExceeded {
		t.Errorf("Expected 507 quota-exceeded, got %d %q", resp.StatusCode, out.Code)
	}
	if out.Error != persist.ExceededMessage {
		t.Errorf("Expected blocking message, got %q", out.Error)
	}
}

// TestHTTPExport verifies export dimensions and multiplier validation
func TestHTTPExport(t *testing.T) {
	_, ts := newTestServer(t, 5<<20)
	in := postIntake(t, ts, testPNG(t))

	resp, err := http.Get(artifactURL(ts, in.Artifact.ID) + "/export?multiplier=2")
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.Header.Get("Content-Type") != "image/png" {
		t.Errorf("Expected image/png, got %s", resp.Header.Get("Content-Type"))
	}
	if w, h, _, err := raster.Dimensions(data); err != nil || w != 1800 || h != 1260 {
		t.Errorf("Expected 1800x1260, got %dx%d (%v)", w, h, err)
	}

	for _, q := range []string{"0", "9", "abc"} {
		resp, err := http.Get(artifactURL(ts, in.Artifact.ID) + "/export?multiplier=" + q)
		if err != nil {
			t.Fatalf("export failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("multiplier %s: expected 400, got %d", q, resp.StatusCode)
		}
	}
}

// TestHTTPMessages verifies editor messages over REST
func TestHTTPMessages(t *testing.T) {
	_, ts := newTestServer(t, 5<<20)
	in := postIntake(t, ts, testPNG(t))

	body := `[{"type":"qr","data":{"contentString":"https://example.com"}},{"type":"remove","data":{"id":"missing"}},{"type":"undo"}]`
	resp, err := http.Post(artifactURL(ts, in.Artifact.ID)+"/messages", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("messages failed: %v", err)
	}
	defer resp.Body.Close()
	var out []protocol.Response
	json.NewDecoder(resp.Body).Decode(&out)
	if len(out) != 2 {
		t.Fatalf("Expected processing to stop at the failure, got %d responses", len(out))
	}
	if out[0].Error != "" || out[1].Code != protocol.CodeNotFound {
		t.Errorf("Unexpected responses: %+v", out)
	}
}

// TestHTTPNotFound verifies unknown artifacts map to 404
func TestHTTPNotFound(t *testing.T) {
	_, ts := newTestServer(t, 5<<20)
	for _, url := range []string{
		artifactURL(ts, "missing") + "/export",
		ts.URL + "/ws/owner/missing",
	} {
		resp, err := http.Get(url)
		if err != nil {
			t.Fatalf("GET %s failed: %v", url, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s: expected 404, got %d", url, resp.StatusCode)
		}
	}
}

// TestHTTPDelete verifies delete closes the editor
func TestHTTPDelete(t *testing.T) {
	s, ts := newTestServer(t, 5<<20)
	in := postIntake(t, ts, testPNG(t))
	if resp, err := http.Post(artifactURL(ts, in.Artifact.ID)+"/save", "application/json", nil); err == nil {
		resp.Body.Close()
	}

	req, _ := http.NewRequest(http.MethodDelete, artifactURL(ts, in.Artifact.ID), nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", resp.StatusCode)
	}
	if s.GetStudio().Sessions().ForArtifact(in.Artifact.ID) != nil {
		t.Error("Expected editor closed")
	}
}

// TestMetricsEndpoint verifies /metrics exposes the studio metrics
func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t, 5<<20)
	postIntake(t, ts, testPNG(t))

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "qrcanvas_open_editors") {
		t.Error("Expected qrcanvas_open_editors in /metrics")
	}
}

// TestWebSocketEditing verifies a websocket client edits and another hears about it
func TestWebSocketEditing(t *testing.T) {
	_, ts := newTestServer(t, 5<<20)
	in := postIntake(t, ts, testPNG(t))
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/owner/" + in.Artifact.ID

	dial := func() *websocket.Conn {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			t.Fatalf("Dial failed: %v", err)
		}
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		return conn
	}
	editor, watcher := dial(), dial()
	defer editor.Close()
	defer watcher.Close()

	// each client starts with the scene
	for _, c := range []*websocket.Conn{editor, watcher} {
		var msg protocol.Message
		if err := c.ReadJSON(&msg); err != nil || msg.Type != protocol.MsgScene {
			t.Fatalf("Expected initial scene, got %+v (%v)", msg, err)
		}
	}

	if err := editor.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"add","data":{"kind":"text","width":120,"height":30,"properties":{"value":"sale"}}}`)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	var resp protocol.Response
	if err := editor.ReadJSON(&resp); err != nil || resp.Error != "" {
		t.Fatalf("Expected add response, got %+v (%v)", resp, err)
	}

	var msg protocol.Message
	if err := watcher.ReadJSON(&msg); err != nil || msg.Type != protocol.MsgScene {
		t.Fatalf("Expected scene broadcast, got %+v (%v)", msg, err)
	}
	var state protocol.SceneState
	json.Unmarshal(msg.Data, &state)
	if len(state.Document.Elements) != 2 || !state.CanUndo {
		t.Errorf("Expected background and text with undo, got %d elements", len(state.Document.Elements))
	}
}
