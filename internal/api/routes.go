package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/videocut/videocut-agent/internal/catalog"
	"github.com/videocut/videocut-agent/internal/export"
	"github.com/videocut/videocut-agent/internal/insight"
	"github.com/videocut/videocut-agent/internal/render"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist())

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(LoopbackGuard())
		r.Use(AuthMiddleware(cfg.Config, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Get("/filters", filtersHandler(cfg))
		r.Post("/playback/rate", rateHandler(cfg))

		r.Get("/clips", listClipsHandler(cfg))
		r.Post("/clips", importClipHandler(cfg))
		r.Post("/clips/upload", uploadClipHandler(cfg))
		r.Get("/clips/{id}", getClipHandler(cfg))
		r.Put("/clips/{id}/edit", editClipHandler(cfg))
		r.Delete("/clips/{id}", closeClipHandler(cfg))
		r.Get("/clips/{id}/preview", previewClipHandler(cfg))
		r.Head("/clips/{id}/preview", previewClipHandler(cfg))
		r.Post("/clips/{id}/stills", stillsHandler(cfg))
		r.Post("/clips/{id}/analyze", analyzeHandler(cfg))

		r.Post("/exports", createExportHandler(cfg))
		r.Get("/exports", listExportsHandler(cfg))
		r.Get("/exports/{id}", getExportHandler(cfg))
		r.Post("/exports/{id}/cancel", cancelExportHandler(cfg))
		r.Get("/exports/{id}/download", downloadExportHandler(cfg))
		r.Head("/exports/{id}/download", downloadExportHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:   "ok",
			Version:  cfg.Version,
			UptimeS:  uptime,
			DeviceID: cfg.DeviceID,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		clips, _ := cfg.CatalogService.ListClips(ctx)
		exports, _ := cfg.CatalogService.ListExports(ctx, 50)

		state := "idle"
		queued := 0
		lastError := ""
		sawFinished := false
		var active *ExportResponse

		current := ""
		if cfg.Runner != nil {
			current = cfg.Runner.Current()
			if cfg.Runner.IsPaused() {
				state = "paused"
			}
		}

		for _, e := range exports {
			switch {
			case e.Status == catalog.ExportStatusPending:
				queued++
			case e.Status == catalog.ExportStatusRunning && (current == "" || e.ID == current):
				state = "exporting"
				resp := ExportToResponse(e)
				active = &resp
			case e.Finished() && !sawFinished:
				sawFinished = true
				if e.Status == catalog.ExportStatusFailed && e.ErrorKind != render.KindAborted {
					lastError = e.Error
				}
			}
		}

		if lastError != "" && state == "idle" {
			state = "error"
		}

		resp := StatusResponse{
			State:        state,
			LastError:    lastError,
			ClipsCount:   len(clips),
			ExportsQueue: queued,
			ActiveExport: active,
		}

		if cfg.Doctor != nil {
			if caps := cfg.Doctor.Peek(); caps != nil {
				resp.Encoder = EncoderToResponse(caps)
			}
		}
		if cfg.Resources != nil {
			if res, err := cfg.Resources.Snapshot(ctx, cfg.ExportsDir); err == nil {
				resp.Resources = ResourcesToResponse(res)
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func filtersHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		premium, _ := strconv.ParseBool(r.URL.Query().Get("premium"))
		ent := render.EntitlementState{Premium: premium}

		resp := FiltersResponse{Filters: make([]FilterResponse, len(render.Filters))}
		for i, f := range render.Filters {
			resp.Filters[i] = FilterResponse{
				Index:     i,
				Name:      f.Name,
				Transform: f.Transform,
				Locked:    !ent.FilterUnlocked(i),
			}
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func rateHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		rate := render.ClampRate(render.DefaultRate, req.Current)
		if req.Rate != nil {
			rate = render.ClampRate(rate, *req.Rate)
		}
		if req.Delta != nil {
			rate = render.StepRate(rate, *req.Delta)
		}

		WriteJSON(w, http.StatusOK, RateResponse{
			Rate: rate,
			Min:  render.MinRate,
			Max:  render.MaxRate,
			Step: render.RateStep,
		})
	}
}

// writeServiceError maps catalog and pipeline errors to HTTP responses.
// Anything unrecognized is reported with fallback.
func writeServiceError(w http.ResponseWriter, err error, fallback int) {
	var decodeErr *render.DecodeError
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		WriteError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
	case errors.Is(err, catalog.ErrUnsupportedMedia):
		WriteError(w, http.StatusUnsupportedMediaType, err.Error(), "UNSUPPORTED_MEDIA")
	case errors.Is(err, catalog.ErrTooLarge):
		WriteError(w, http.StatusRequestEntityTooLarge, err.Error(), "TOO_LARGE")
	case errors.Is(err, catalog.ErrClipBusy):
		WriteError(w, http.StatusConflict, err.Error(), "CLIP_BUSY")
	case errors.Is(err, catalog.ErrExportFinished):
		WriteError(w, http.StatusConflict, err.Error(), "EXPORT_FINISHED")
	case errors.Is(err, export.ErrInvalidOutputDir):
		WriteError(w, http.StatusBadRequest, err.Error(), "INVALID_OUTPUT_DIR")
	case errors.Is(err, insight.ErrNoStills):
		WriteError(w, http.StatusUnprocessableEntity, err.Error(), "NO_STILLS")
	case errors.As(err, &decodeErr):
		WriteError(w, http.StatusUnprocessableEntity, err.Error(), "DECODE_ERROR")
	case errors.Is(err, context.DeadlineExceeded):
		WriteError(w, http.StatusGatewayTimeout, err.Error(), "TIMEOUT")
	case fallback == http.StatusBadRequest:
		WriteError(w, fallback, err.Error(), "BAD_REQUEST")
	default:
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
	}
}
