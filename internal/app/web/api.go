package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"immich-sorter/internal/app/controller"
	"immich-sorter/internal/app/formatters"
	"immich-sorter/internal/app/queue"
	"immich-sorter/internal/immich"
)

type assetResponse struct {
	ID           immich.AssetID     `json:"id"`
	Type         immich.AssetType   `json:"type"`
	Name         string             `json:"name"`
	Disposition  immich.Disposition `json:"disposition"`
	LoadState    queue.LoadState    `json:"load_state"`
	ThumbnailURL string             `json:"thumbnail_url"`
	OriginalURL  string             `json:"original_url"`
	Metadata     []formatters.Field `json:"metadata"`
}

type stateResponse struct {
	Current    *assetResponse           `json:"current,omitempty"`
	Position   int                      `json:"position"`
	Length     int                      `json:"length"`
	EndOfQueue bool                     `json:"end_of_queue"`
	Cameras    []string                 `json:"cameras"`
	CanUndo    bool                     `json:"can_undo"`
	LastAction *controller.ActionRecord `json:"last_action,omitempty"`
}

type messageResponse struct {
	Notice string         `json:"notice,omitempty"`
	Error  string         `json:"error,omitempty"`
	State  *stateResponse `json:"state,omitempty"`
}

type filterRequest struct {
	Cameras []string `json:"cameras"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	d := s.diagnostics(r.Context())
	writeJSONResponse(w, map[string]any{
		"ok":     d.RemoteConnectedError == "",
		"immich": d,
	}, http.StatusOK)
}

func (s *Server) stateHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, s.state(), http.StatusOK)
}

func (s *Server) actionHandler(w http.ResponseWriter, r *http.Request) {
	kind, err := controller.ParseActionKind(mux.Vars(r)["kind"])
	if err != nil {
		writeJSONResponse(w, messageResponse{Error: err.Error()}, http.StatusBadRequest)
		return
	}
	if _, err := s.session.Act(r.Context(), kind); err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSONResponse(w, s.state(), http.StatusOK)
}

func (s *Server) undoHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := s.session.Undo(r.Context()); err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSONResponse(w, s.state(), http.StatusOK)
}

func (s *Server) camerasHandler(w http.ResponseWriter, r *http.Request) {
	models, err := s.session.CameraModels(r.Context())
	if err != nil {
		slog.Error("failed to get camera models", "error", err)
		writeJSONResponse(w, messageResponse{Error: err.Error()}, http.StatusBadGateway)
		return
	}
	if models == nil {
		models = []string{}
	}
	writeJSONResponse(w, map[string][]string{"cameras": models}, http.StatusOK)
}

func (s *Server) filterHandler(w http.ResponseWriter, r *http.Request) {
	var req filterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if handleMaxBytesError(w, r, err, FilterMaxBodySize) {
			return
		}
		slog.Error("failed to decode filter request", "error", err)
		writeJSONResponse(w, messageResponse{Error: "invalid request body"}, http.StatusBadRequest)
		return
	}
	if err := s.session.SetFilter(r.Context(), req.Cameras); err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSONResponse(w, s.state(), http.StatusOK)
}

func (s *Server) contentHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := immich.AssetID(vars["id"])
	size := immich.Size(vars["size"])
	if size != immich.SizeThumbnail && size != immich.SizeOriginal {
		writeJSONResponse(w, messageResponse{Error: fmt.Sprintf("unknown size %q", size)}, http.StatusBadRequest)
		return
	}
	content, err := s.session.Content(r.Context(), id, size)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	w.Header().Set("Content-Type", content.ContentType)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	if _, err := w.Write(content.Data); err != nil {
		slog.Debug("failed to write content", "id", id, "size", size, "error", err)
	}
}

// writeSessionError maps session errors to a status code. End of queue is
// not a failure and is reported with the new state.
func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	var (
		derr *immich.DispositionError
		uerr *controller.UndoError
		ferr *immich.FetchError
	)
	switch {
	case errors.Is(err, queue.ErrEndOfQueue), errors.Is(err, queue.ErrEmpty):
		state := s.state()
		writeJSONResponse(w, messageResponse{Notice: err.Error(), State: &state}, http.StatusOK)
	case errors.Is(err, controller.ErrNoActionToUndo):
		writeJSONResponse(w, messageResponse{Notice: err.Error()}, http.StatusConflict)
	case errors.Is(err, immich.ErrNotFound):
		state := s.state()
		writeJSONResponse(w, messageResponse{Error: err.Error(), State: &state}, http.StatusNotFound)
	case errors.As(err, &derr), errors.As(err, &uerr), errors.As(err, &ferr):
		writeJSONResponse(w, messageResponse{Error: err.Error()}, http.StatusBadGateway)
	case errors.Is(err, controller.ErrStopped), errors.Is(err, context.Canceled):
		writeJSONResponse(w, messageResponse{Error: err.Error()}, http.StatusServiceUnavailable)
	default:
		slog.Error("unexpected session error", "error", err)
		writeJSONResponse(w, messageResponse{Error: err.Error()}, http.StatusInternalServerError)
	}
}

func (s *Server) state() stateResponse {
	st := s.session.State()
	resp := stateResponse{
		Position:   st.Position,
		Length:     st.Length,
		EndOfQueue: st.EndOfQueue,
		Cameras:    st.Cameras,
		CanUndo:    st.CanUndo(),
		LastAction: st.LastAction,
	}
	if resp.Cameras == nil {
		resp.Cameras = []string{}
	}
	if e := st.Current; e != nil {
		ass := e.Asset
		resp.Current = &assetResponse{
			ID:           ass.ID,
			Type:         ass.Type,
			Name:         ass.Name,
			Disposition:  ass.Disposition(),
			LoadState:    e.State,
			ThumbnailURL: fmt.Sprintf("/api/assets/%s/%s", ass.ID, immich.SizeThumbnail),
			OriginalURL:  fmt.Sprintf("/api/assets/%s/%s", ass.ID, immich.SizeOriginal),
			Metadata:     formatters.Metadata(ass, s.conf.Metadata),
		}
	}
	return resp
}

// writeJSONResponse writes a JSON response with the given status code
func writeJSONResponse(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")

	serializedBody, err := json.Marshal(data)
	if err != nil {
		slog.Error("failed to marshal JSON", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(statusCode)

	if _, err := w.Write(serializedBody); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}
