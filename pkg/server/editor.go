package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/paulmach/orb/geojson"

	"github.com/systemed/conflation/pkg/graph"
	"github.com/systemed/conflation/pkg/session"
)

// EditorHandler serves read-only session views for a map front end:
//
//	GET /api/status                 session status
//	GET /api/entity/{kind}/{id}     entity as a GeoJSON Feature
type EditorHandler struct {
	session *session.Session
	logger  *slog.Logger
	mux     *http.ServeMux
}

// NewEditorHandler creates the handler for sess.
func NewEditorHandler(sess *session.Session, logger *slog.Logger) *EditorHandler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &EditorHandler{session: sess, logger: logger.With("component", "editor"), mux: http.NewServeMux()}
	h.mux.HandleFunc("GET /api/status", h.handleStatus)
	h.mux.HandleFunc("GET /api/entity/{kind}/{id}", h.handleEntity)
	return h
}

// ServeHTTP implements http.Handler.
func (h *EditorHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *EditorHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := h.session.Status(r.Context())
	h.write(w, http.StatusOK, struct {
		session.Status
		Summary string `json:"summary"`
	}{st, st.Summary()})
}

func (h *EditorHandler) handleEntity(w http.ResponseWriter, r *http.Request) {
	kind, ok := graph.ParseKind(r.PathValue("kind"))
	if !ok {
		h.write(w, http.StatusBadRequest, map[string]string{"error": "kind must be node, way or relation"})
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		h.write(w, http.StatusBadRequest, map[string]string{"error": "id must be an integer"})
		return
	}

	v, err := h.session.Entity(kind, graph.ID(id))
	switch {
	case errors.Is(err, session.ErrEntityNotFound):
		h.write(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	case err != nil:
		h.write(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if v.Geometry == nil {
		h.write(w, http.StatusUnprocessableEntity, map[string]string{"error": "entity has no drawable geometry"})
		return
	}

	f := geojson.NewFeature(v.Geometry)
	f.ID = v.Kind + "/" + strconv.FormatInt(v.ID, 10)
	for k, val := range v.Tags {
		f.Properties[k] = val
	}
	f.Properties["@version"] = v.Version
	f.Properties["@dirty"] = v.Dirty

	w.Header().Set("Content-Type", "application/geo+json")
	h.write(w, http.StatusOK, f)
}

func (h *EditorHandler) write(w http.ResponseWriter, status int, v interface{}) {
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}
