package api

import (
	"time"

	"github.com/dustin/go-humanize"

	"github.com/videocut/videocut-agent/internal/catalog"
	"github.com/videocut/videocut-agent/internal/host"
	"github.com/videocut/videocut-agent/internal/insight"
	"github.com/videocut/videocut-agent/internal/media"
	"github.com/videocut/videocut-agent/internal/render"
)

type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	UptimeS  int64  `json:"uptime_s"`
	DeviceID string `json:"device_id"`
}

type StatusResponse struct {
	State        string             `json:"state"`
	LastError    string             `json:"last_error,omitempty"`
	ClipsCount   int                `json:"clips_count"`
	ExportsQueue int                `json:"exports_queued"`
	ActiveExport *ExportResponse    `json:"active_export,omitempty"`
	Encoder      *EncoderResponse   `json:"encoder,omitempty"`
	Resources    *ResourcesResponse `json:"resources,omitempty"`
}

type EncoderResponse struct {
	Version           string `json:"version"`
	HasProbe          bool   `json:"has_probe"`
	HasVP9            bool   `json:"has_vp9"`
	HasOpus           bool   `json:"has_opus"`
	HasX264           bool   `json:"has_x264"`
	HasAAC            bool   `json:"has_aac"`
	PitchPreservation bool   `json:"pitch_preservation"`
	OutputFormat      string `json:"output_format,omitempty"`
	LastProbeAt       string `json:"last_probe_at,omitempty"`
}

type ResourcesResponse struct {
	MemoryAvailable uint64 `json:"memory_available"`
	MemoryHuman     string `json:"memory_available_human"`
	DiskFree        uint64 `json:"disk_free"`
	DiskHuman       string `json:"disk_free_human"`
}

type FilterResponse struct {
	Index     int    `json:"index"`
	Name      string `json:"name"`
	Transform string `json:"transform"`
	Locked    bool   `json:"locked"`
}

type FiltersResponse struct {
	Filters []FilterResponse `json:"filters"`
}

// RateRequest sets or steps a playback rate. With neither Rate nor Delta the
// current value is only normalized.
type RateRequest struct {
	Current float64  `json:"current"`
	Rate    *float64 `json:"rate,omitempty"`
	Delta   *float64 `json:"delta,omitempty"`
}

type RateResponse struct {
	Rate float64 `json:"rate"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step"`
}

type ImportClipRequest struct {
	Path        string `json:"path"`
	DisplayName string `json:"display_name,omitempty"`
}

type ClipResponse struct {
	*catalog.Clip
	SizeHuman  string `json:"size_human"`
	FilterName string `json:"filter_name"`
}

type ClipsResponse struct {
	Clips []ClipResponse `json:"clips"`
}

type StillsRequest struct {
	Count int `json:"count,omitempty"`
}

type StillsResponse struct {
	Stills []media.Still `json:"stills"`
}

type AnalyzeResponse struct {
	*insight.Metadata
	StillsCount int `json:"stills_count"`
}

type ExportResponse struct {
	*catalog.Export
	OutputSizeHuman string `json:"output_size_human,omitempty"`
	DownloadURL     string `json:"download_url,omitempty"`
}

type ExportsResponse struct {
	Exports []ExportResponse `json:"exports"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func ClipToResponse(c *catalog.Clip) ClipResponse {
	name := render.NormalFilter().Name
	if c.Edit.FilterIndex >= 0 && c.Edit.FilterIndex < len(render.Filters) {
		name = render.Filters[c.Edit.FilterIndex].Name
	}
	return ClipResponse{
		Clip:       c,
		SizeHuman:  humanize.Bytes(uint64(c.Size)),
		FilterName: name,
	}
}

func ExportToResponse(e *catalog.Export) ExportResponse {
	resp := ExportResponse{Export: e}
	if e.Status == catalog.ExportStatusCompleted {
		resp.OutputSizeHuman = humanize.Bytes(uint64(e.OutputSize))
		resp.DownloadURL = "/exports/" + e.ID + "/download"
	}
	return resp
}

func EncoderToResponse(caps *host.Capabilities) *EncoderResponse {
	resp := &EncoderResponse{
		Version:           caps.Version,
		HasProbe:          caps.HasProbe,
		HasVP9:            caps.HasVP9,
		HasOpus:           caps.HasOpus,
		HasX264:           caps.HasX264,
		HasAAC:            caps.HasAAC,
		PitchPreservation: caps.PitchPreservation,
	}
	if f, err := media.PickFormat(caps); err == nil {
		resp.OutputFormat = f.MIMEType
	}
	if !caps.ProbedAt.IsZero() {
		resp.LastProbeAt = caps.ProbedAt.Format(time.RFC3339)
	}
	return resp
}

func ResourcesToResponse(r *host.Resources) *ResourcesResponse {
	return &ResourcesResponse{
		MemoryAvailable: r.MemoryAvailable,
		MemoryHuman:     humanize.Bytes(r.MemoryAvailable),
		DiskFree:        r.DiskFree,
		DiskHuman:       humanize.Bytes(r.DiskFree),
	}
}
