package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/videocut/videocut-agent/internal/catalog"
	"github.com/videocut/videocut-agent/internal/playback"
)

const (
	defaultExportsLimit = 50
	maxExportsLimit     = 500
)

func createExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req catalog.ExportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		if req.ClipID == "" {
			WriteError(w, http.StatusBadRequest, "clip_id is required", "BAD_REQUEST")
			return
		}

		exp, err := cfg.CatalogService.CreateExport(r.Context(), req)
		if err != nil {
			writeServiceError(w, err, http.StatusBadRequest)
			return
		}

		WriteJSON(w, http.StatusAccepted, ExportToResponse(exp))
	}
}

func listExportsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultExportsLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				WriteError(w, http.StatusBadRequest, "limit must be a positive integer", "BAD_REQUEST")
				return
			}
			limit = min(n, maxExportsLimit)
		}

		exports, err := cfg.CatalogService.ListExports(r.Context(), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list exports", "INTERNAL_ERROR")
			return
		}

		resp := ExportsResponse{Exports: make([]ExportResponse, len(exports))}
		for i, e := range exports {
			resp.Exports[i] = ExportToResponse(e)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		exp, ok := lookupExport(cfg, w, r)
		if !ok {
			return
		}
		WriteJSON(w, http.StatusOK, ExportToResponse(exp))
	}
}

func cancelExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Runner == nil {
			WriteError(w, http.StatusServiceUnavailable, "export runner unavailable", "UNAVAILABLE")
			return
		}

		id := chi.URLParam(r, "id")
		if err := cfg.Runner.Cancel(r.Context(), id); err != nil {
			writeServiceError(w, err, http.StatusInternalServerError)
			return
		}

		exp, err := cfg.CatalogService.GetExport(r.Context(), id)
		if err != nil || exp == nil {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		WriteJSON(w, http.StatusAccepted, ExportToResponse(exp))
	}
}

func downloadExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		exp, ok := lookupExport(cfg, w, r)
		if !ok {
			return
		}
		if exp.Status != catalog.ExportStatusCompleted || exp.OutputPath == "" {
			WriteError(w, http.StatusConflict, "export is not complete", "NOT_READY")
			return
		}

		opts := playback.ServeOptions{
			ContentType:  exp.MIMEType,
			DownloadName: filepath.Base(exp.OutputPath),
		}
		if err := cfg.PlaybackServer.ServeFile(w, r, exp.OutputPath, opts); err != nil {
			cfg.Logger.Error("download error", "error", err, "export_id", exp.ID)
		}
	}
}

func lookupExport(cfg ServerConfig, w http.ResponseWriter, r *http.Request) (*catalog.Export, bool) {
	exp, err := cfg.CatalogService.GetExport(r.Context(), chi.URLParam(r, "id"))
	if err != nil && !errors.Is(err, catalog.ErrNotFound) {
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		return nil, false
	}
	if exp == nil {
		WriteError(w, http.StatusNotFound, "export not found", "NOT_FOUND")
		return nil, false
	}
	return exp, true
}
