package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/videocut/videocut-agent/internal/catalog"
	"github.com/videocut/videocut-agent/internal/media"
	"github.com/videocut/videocut-agent/internal/playback"
)

func listClipsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clips, err := cfg.CatalogService.ListClips(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list clips", "INTERNAL_ERROR")
			return
		}

		resp := ClipsResponse{Clips: make([]ClipResponse, len(clips))}
		for i, c := range clips {
			resp.Clips[i] = ClipToResponse(c)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func importClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ImportClipRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		if req.Path == "" {
			WriteError(w, http.StatusBadRequest, "path is required", "BAD_REQUEST")
			return
		}

		clip, err := cfg.CatalogService.ImportPath(r.Context(), req.Path, req.DisplayName)
		if err != nil {
			writeServiceError(w, err, http.StatusBadRequest)
			return
		}

		WriteJSON(w, http.StatusCreated, ClipToResponse(clip))
	}
}

// uploadClipHandler streams the "file" part of a multipart body straight
// into the uploads directory.
func uploadClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != "multipart/form-data" {
			WriteError(w, http.StatusBadRequest, "multipart/form-data body required", "BAD_REQUEST")
			return
		}

		mr, err := r.MultipartReader()
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid multipart body", "BAD_REQUEST")
			return
		}

		for {
			part, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				WriteError(w, http.StatusBadRequest, "invalid multipart body", "BAD_REQUEST")
				return
			}
			if part.FormName() != "file" || part.FileName() == "" {
				part.Close()
				continue
			}

			clip, err := cfg.CatalogService.ImportUpload(r.Context(), part.FileName(), part, cfg.MaxUploadBytes)
			part.Close()
			if err != nil {
				writeServiceError(w, err, http.StatusBadRequest)
				return
			}
			WriteJSON(w, http.StatusCreated, ClipToResponse(clip))
			return
		}

		WriteError(w, http.StatusBadRequest, "file part is required", "BAD_REQUEST")
	}
}

func getClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clip, ok := lookupClip(cfg, w, r)
		if !ok {
			return
		}
		WriteJSON(w, http.StatusOK, ClipToResponse(clip))
	}
}

func editClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req catalog.EditRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		clip, err := cfg.CatalogService.UpdateEdit(r.Context(), chi.URLParam(r, "id"), req)
		if err != nil {
			writeServiceError(w, err, http.StatusInternalServerError)
			return
		}
		WriteJSON(w, http.StatusOK, ClipToResponse(clip))
	}
}

func closeClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.CatalogService.CloseClip(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeServiceError(w, err, http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func previewClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clip, ok := lookupClip(cfg, w, r)
		if !ok {
			return
		}

		opts := playback.ServeOptions{ContentType: clip.MIMEType}
		if err := cfg.PlaybackServer.ServeFile(w, r, clip.Path, opts); err != nil {
			cfg.Logger.Error("preview error", "error", err, "clip_id", clip.ID)
		}
	}
}

func stillsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req StillsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		count := req.Count
		if count <= 0 || count > media.MaxStills {
			count = media.MaxStills
		}

		clip, ok := lookupClip(cfg, w, r)
		if !ok {
			return
		}

		stills, err := cfg.Stills.Sample(r.Context(), clip.Path, count)
		if err != nil {
			writeServiceError(w, err, http.StatusInternalServerError)
			return
		}
		WriteJSON(w, http.StatusOK, StillsResponse{Stills: stills})
	}
}

func analyzeHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clip, ok := lookupClip(cfg, w, r)
		if !ok {
			return
		}

		stills, err := cfg.Stills.Sample(r.Context(), clip.Path, media.MaxStills)
		if err != nil {
			writeServiceError(w, err, http.StatusInternalServerError)
			return
		}

		meta, err := cfg.Analyzer.Analyze(r.Context(), stills)
		if err != nil {
			writeServiceError(w, err, http.StatusInternalServerError)
			return
		}
		WriteJSON(w, http.StatusOK, AnalyzeResponse{Metadata: meta, StillsCount: len(stills)})
	}
}

// lookupClip resolves the {id} URL parameter, writing a 404 when the clip
// does not exist.
func lookupClip(cfg ServerConfig, w http.ResponseWriter, r *http.Request) (*catalog.Clip, bool) {
	id := chi.URLParam(r, "id")
	clip, err := cfg.CatalogService.GetClip(r.Context(), id)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		return nil, false
	}
	if clip == nil {
		WriteError(w, http.StatusNotFound, "clip not found", "NOT_FOUND")
		return nil, false
	}
	return clip, true
}
