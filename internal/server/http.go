package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zot/qrcanvas/internal/artifact"
	"github.com/zot/qrcanvas/internal/metrics"
	"github.com/zot/qrcanvas/internal/protocol"
	"github.com/zot/qrcanvas/internal/scene"
	"github.com/zot/qrcanvas/internal/session"
	"github.com/zot/qrcanvas/internal/studio"
)

// maxUpload bounds request bodies carrying source bytes.
const maxUpload = 64 << 20

// IntakeResponse is returned by POST /api/artifacts.
type IntakeResponse struct {
	Artifact  artifact.Summary `json:"artifact"`
	SessionID string           `json:"sessionId"`
	Fallback  bool             `json:"fallback"`
	PageCause string           `json:"pageCause,omitempty"`
}

// CollectionResponse is returned by GET /api/owners/{owner}/artifacts.
type CollectionResponse struct {
	Artifacts  []artifact.Summary `json:"artifacts"`
	UsedBytes  int64              `json:"usedBytes"`
	QuotaBytes int64              `json:"quotaBytes"`
	Degraded   bool               `json:"degraded"`
}

// ReuploadResponse is returned by PUT .../{id}/source.
type ReuploadResponse struct {
	Background *scene.Element `json:"background"`
	Fallback   bool           `json:"fallback"`
	Cause      string         `json:"cause,omitempty"`
}

// HTTPEndpoint handles HTTP requests.
type HTTPEndpoint struct {
	studio     *studio.Service
	handler    *protocol.Handler
	wsEndpoint *WebSocketEndpoint
	router     chi.Router
	log        func(level int, format string, args ...interface{})
}

// NewHTTPEndpoint creates a new HTTP endpoint.
func NewHTTPEndpoint(svc *studio.Service, handler *protocol.Handler, wsEndpoint *WebSocketEndpoint, log func(level int, format string, args ...interface{})) *HTTPEndpoint {
	h := &HTTPEndpoint{
		studio:     svc,
		handler:    handler,
		wsEndpoint: wsEndpoint,
		router:     chi.NewRouter(),
		log:        log,
	}
	h.setupRoutes()
	return h
}

// setupRoutes configures HTTP routes.
func (h *HTTPEndpoint) setupRoutes() {
	r := h.router
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api", func(r chi.Router) {
		r.Post("/artifacts", h.handleIntake)
		r.Route("/owners/{owner}", func(r chi.Router) {
			r.Get("/artifacts", h.handleCollection)
			r.Get("/usage", h.handleUsage)
			r.Route("/artifacts/{id}", func(r chi.Router) {
				r.Post("/save", h.handleSave)
				r.Get("/export", h.handleExport)
				r.Post("/messages", h.handleMessages)
				r.Put("/source", h.handleReupload)
				r.Delete("/", h.handleDelete)
			})
		})
	})
	r.Get("/ws/{owner}/{id}", h.handleWebSocket)
}

// ServeHTTP implements http.Handler.
func (h *HTTPEndpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// handleIntake creates an artifact from an uploaded source and opens its editor.
func (h *HTTPEndpoint) handleIntake(w http.ResponseWriter, r *http.Request) {
	var req studio.IntakeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUpload)).Decode(&req); err != nil {
		h.writeError(w, fmt.Errorf("%w: %v", studio.ErrInvalidRequest, err))
		return
	}
	in, err := h.studio.Intake(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, IntakeResponse{
		Artifact:  in.Artifact,
		SessionID: in.Session.ID,
		Fallback:  in.Fallback,
		PageCause: in.PageCause,
	})
}

func (h *HTTPEndpoint) handleCollection(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	list, err := h.studio.LoadCollection(r.Context(), owner)
	if err != nil {
		h.writeError(w, err)
		return
	}
	usage, err := h.studio.Usage(r.Context(), owner)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, CollectionResponse{
		Artifacts:  list,
		UsedBytes:  usage.UsedBytes,
		QuotaBytes: usage.QuotaBytes,
		Degraded:   usage.Degraded,
	})
}

func (h *HTTPEndpoint) handleUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := h.studio.Usage(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, usage)
}

func (h *HTTPEndpoint) handleSave(w http.ResponseWriter, r *http.Request) {
	owner, id := chi.URLParam(r, "owner"), chi.URLParam(r, "id")
	sess, err := h.studio.Open(r.Context(), owner, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	res, err := h.wsEndpoint.ExecuteInSession(sess.ID, func() (interface{}, error) {
		return h.studio.SaveSession(r.Context(), sess)
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *HTTPEndpoint) handleExport(w http.ResponseWriter, r *http.Request) {
	multiplier := 1.0
	if v := r.URL.Query().Get("multiplier"); v != "" {
		m, err := strconv.ParseFloat(v, 64)
		if err != nil {
			h.writeError(w, fmt.Errorf("%w: multiplier %q", studio.ErrInvalidRequest, v))
			return
		}
		multiplier = m
	}
	data, err := h.studio.Export(r.Context(), chi.URLParam(r, "owner"), chi.URLParam(r, "id"), multiplier)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

// handleMessages runs editor protocol messages over REST.
func (h *HTTPEndpoint) handleMessages(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxUpload))
	if err != nil {
		h.writeError(w, fmt.Errorf("%w: %v", studio.ErrInvalidRequest, err))
		return
	}
	msgs, gesture, err := protocol.ParseMessages(body)
	if err != nil {
		h.writeError(w, err)
		return
	}
	sess, err := h.studio.Open(r.Context(), chi.URLParam(r, "owner"), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	connectionID := "api-" + r.RemoteAddr
	resps, err := h.wsEndpoint.ExecuteInSession(sess.ID, func() (interface{}, error) {
		return h.handler.HandleBatch(r.Context(), connectionID, sess, msgs, gesture)
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resps)
}

// handleReupload replaces the artifact's source with the request body.
func (h *HTTPEndpoint) handleReupload(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxUpload))
	if err != nil || len(data) == 0 {
		h.writeError(w, fmt.Errorf("%w: empty source", studio.ErrInvalidRequest))
		return
	}
	owner, id := chi.URLParam(r, "owner"), chi.URLParam(r, "id")
	cat := artifact.MimeCategory(r.URL.Query().Get("mimeCategory"))
	sess, err := h.studio.Open(r.Context(), owner, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	res, err := h.wsEndpoint.ExecuteInSession(sess.ID, func() (interface{}, error) {
		res, err := h.studio.Reupload(r.Context(), owner, id, data, cat)
		if err != nil {
			return nil, err
		}
		out := ReuploadResponse{Background: res.Background, Fallback: res.Fallback}
		if res.Cause != nil {
			out.Cause = res.Cause.Error()
		}
		return out, nil
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *HTTPEndpoint) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.studio.Delete(r.Context(), chi.URLParam(r, "owner"), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleWebSocket opens the editor for the artifact and upgrades the request.
func (h *HTTPEndpoint) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sess, err := h.studio.Open(r.Context(), chi.URLParam(r, "owner"), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.wsEndpoint.HandleWebSocket(w, r, sess)
}

func (h *HTTPEndpoint) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes an error response with the status for its code.
func (h *HTTPEndpoint) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrSvcClosed) {
		err = session.ErrClosed
	}
	resp := protocol.ErrorResponse(err)
	status := protocol.HTTPStatus(resp.Code)
	if resp.Code == protocol.CodeInternal && h.log != nil {
		h.log(0, "HTTP error: %v", err)
	}
	h.writeJSON(w, status, resp)
}
