package catalog

import (
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/videocut/videocut-agent/internal/render"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrUnsupportedMedia = errors.New("unsupported media type")
	ErrTooLarge         = errors.New("upload exceeds size limit")
	ErrClipBusy         = errors.New("clip has an export in progress")
	ErrExportFinished   = errors.New("export already finished")
)

// Clip is an imported source video and its saved edit state.
type Clip struct {
	ID          string    `json:"id"`
	Path        string    `json:"path"`
	DisplayName string    `json:"display_name"`
	MIMEType    string    `json:"mime_type"`
	Size        int64     `json:"size"`
	Fingerprint string    `json:"fingerprint"`
	Duration    float64   `json:"duration"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	FPS         float64   `json:"fps"`
	HasAudio    bool      `json:"has_audio"`
	Owned       bool      `json:"owned"`
	Edit        EditState `json:"edit"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// EditState is what the editor last saved for a clip.
type EditState struct {
	TrimStart     float64 `json:"trim_start"`
	TrimEnd       float64 `json:"trim_end"`
	FilterIndex   int     `json:"filter_index"`
	Rate          float64 `json:"rate"`
	PreservePitch bool    `json:"preserve_pitch"`
}

func DefaultEdit(duration float64) EditState {
	return EditState{
		TrimEnd:       duration,
		Rate:          render.DefaultRate,
		PreservePitch: true,
	}
}

func (c *Clip) RenderClip() render.Clip {
	return render.Clip{
		ID:       c.ID,
		Path:     c.Path,
		Name:     c.DisplayName,
		MIMEType: c.MIMEType,
		Duration: c.Duration,
	}
}

func (c *Clip) Trim() render.TrimRange {
	return render.TrimRange{Start: c.Edit.TrimStart, End: c.Edit.TrimEnd}
}

func (c *Clip) Playback() render.PlaybackParams {
	return render.PlaybackParams{Rate: c.Edit.Rate, PreservePitch: c.Edit.PreservePitch}
}

const (
	ExportStatusPending   = "pending"
	ExportStatusRunning   = "running"
	ExportStatusCompleted = "completed"
	ExportStatusFailed    = "failed"
)

// Export is a queued or finished render of one clip. The edit fields are a
// snapshot taken when the export was requested.
type Export struct {
	ID               string    `json:"id"`
	ClipID           string    `json:"clip_id"`
	Status           string    `json:"status"`
	State            string    `json:"state"`
	Progress         int       `json:"progress"`
	TrimStart        float64   `json:"trim_start"`
	TrimEnd          float64   `json:"trim_end"`
	FilterIndex      int       `json:"filter_index"`
	FilterName       string    `json:"filter_applied"`
	FilterDowngraded bool      `json:"filter_downgraded"`
	Rate             float64   `json:"rate"`
	PreservePitch    bool      `json:"preserve_pitch"`
	Premium          bool      `json:"premium"`
	OutputDir        string    `json:"output_dir,omitempty"`
	WriteEDL         bool      `json:"write_edl"`
	OutputPath       string    `json:"output_path,omitempty"`
	MIMEType         string    `json:"mime_type,omitempty"`
	OutputSize       int64     `json:"output_size"`
	Frames           int       `json:"frames"`
	Duration         float64   `json:"duration"`
	Aborted          bool      `json:"aborted"`
	CopiedPath       string    `json:"copied_path,omitempty"`
	ErrorKind        string    `json:"error_kind,omitempty"`
	Error            string    `json:"error,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Finished reports whether the export reached a terminal status.
func (e *Export) Finished() bool {
	return e.Status == ExportStatusCompleted || e.Status == ExportStatusFailed
}

// Session rebuilds the render snapshot stored on the export.
func (e *Export) Session(clip *Clip) render.ExportSession {
	filter := render.NormalFilter()
	if e.FilterIndex >= 0 && e.FilterIndex < len(render.Filters) {
		filter = render.Filters[e.FilterIndex]
	}
	return render.ExportSession{
		Clip:             clip.RenderClip(),
		Trim:             render.TrimRange{Start: e.TrimStart, End: e.TrimEnd},
		Filter:           filter,
		FilterIndex:      e.FilterIndex,
		FilterDowngraded: e.FilterDowngraded,
		Playback:         render.PlaybackParams{Rate: e.Rate, PreservePitch: e.PreservePitch},
		Entitlement:      render.EntitlementState{Premium: e.Premium},
	}
}

var videoMIMETypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".avi":  "video/x-msvideo",
}

func NewID() string {
	return uuid.NewString()
}

func IsVideoFile(filename string) bool {
	_, ok := videoMIMETypes[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// MIMEType guesses a video MIME type from the file extension.
func MIMEType(filename string) string {
	if t, ok := videoMIMETypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return t
	}
	return "application/octet-stream"
}
