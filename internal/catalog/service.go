package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/videocut/videocut-agent/internal/export"
	"github.com/videocut/videocut-agent/internal/logging"
	"github.com/videocut/videocut-agent/internal/media"
	"github.com/videocut/videocut-agent/internal/render"
)

const fingerprintSize = 64 * 1024

// Prober reads stream properties of a clip.
type Prober interface {
	Probe(ctx context.Context, path string) (*media.ProbeResult, error)
}

type CatalogService interface {
	ImportPath(ctx context.Context, path, displayName string) (*Clip, error)
	ImportUpload(ctx context.Context, filename string, r io.Reader, limit int64) (*Clip, error)
	GetClip(ctx context.Context, id string) (*Clip, error)
	ListClips(ctx context.Context) ([]*Clip, error)
	UpdateEdit(ctx context.Context, id string, req EditRequest) (*Clip, error)
	CloseClip(ctx context.Context, id string) error
	CreateExport(ctx context.Context, req ExportRequest) (*Export, error)
	GetExport(ctx context.Context, id string) (*Export, error)
	ListExports(ctx context.Context, limit int) ([]*Export, error)
}

// EditRequest is a partial edit. Nil fields are left alone and values that
// fail validation are ignored.
type EditRequest struct {
	TrimStart     *float64 `json:"trim_start,omitempty"`
	TrimEnd       *float64 `json:"trim_end,omitempty"`
	FilterIndex   *int     `json:"filter_index,omitempty"`
	FilterName    *string  `json:"filter_name,omitempty"`
	Rate          *float64 `json:"rate,omitempty"`
	RateDelta     *float64 `json:"rate_delta,omitempty"`
	PreservePitch *bool    `json:"preserve_pitch,omitempty"`
}

// ExportRequest asks for a render of a clip's current edit state.
type ExportRequest struct {
	ClipID    string `json:"clip_id"`
	Premium   bool   `json:"premium"`
	OutputDir string `json:"output_dir,omitempty"`
	WriteEDL  bool   `json:"write_edl,omitempty"`
}

type Service struct {
	repo       Repository
	prober     Prober
	uploadsDir string
	logger     *slog.Logger
}

func NewService(repo Repository, prober Prober, uploadsDir string, logger *slog.Logger) *Service {
	return &Service{repo: repo, prober: prober, uploadsDir: uploadsDir, logger: logger}
}

// ImportPath registers a clip that already lives on disk. The agent never
// deletes it. Importing the same unchanged file twice returns the first clip.
func (s *Service) ImportPath(ctx context.Context, path, displayName string) (*Clip, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("path does not exist: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("path is a directory")
	}
	if !IsVideoFile(absPath) {
		return nil, ErrUnsupportedMedia
	}

	fingerprint, err := computeFingerprint(absPath)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.GetClipByPath(ctx, absPath)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Fingerprint == fingerprint && existing.Size == info.Size() {
		return existing, nil
	}

	if displayName == "" {
		displayName = filepath.Base(absPath)
	}

	clip, err := s.register(ctx, absPath, displayName, info.Size(), fingerprint, false)
	if err != nil {
		return nil, err
	}
	if s.logger != nil {
		logging.WithClipID(s.logger, clip.ID).Info("clip imported", "path", absPath, "duration", clip.Duration)
	}
	return clip, nil
}

// ImportUpload stores an uploaded clip in the uploads directory. The copy is
// owned by the agent and removed when the clip is closed.
func (s *Service) ImportUpload(ctx context.Context, filename string, r io.Reader, limit int64) (*Clip, error) {
	name := filepath.Base(filename)
	if !IsVideoFile(name) {
		return nil, ErrUnsupportedMedia
	}
	if err := os.MkdirAll(s.uploadsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create uploads dir: %w", err)
	}

	id := NewID()
	dst := filepath.Join(s.uploadsDir, id+filepath.Ext(name))
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload file: %w", err)
	}

	h := sha256.New()
	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	n, err := io.Copy(io.MultiWriter(f, &prefixHasher{h: h, left: fingerprintSize}), src)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(dst)
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}
	if limit > 0 && n > limit {
		os.Remove(dst)
		return nil, ErrTooLarge
	}

	clip, err := s.registerWithID(ctx, id, dst, name, n, hex.EncodeToString(h.Sum(nil)), true)
	if err != nil {
		os.Remove(dst)
		return nil, err
	}
	if s.logger != nil {
		logging.WithClipID(s.logger, clip.ID).Info("clip uploaded", "size", n, "duration", clip.Duration)
	}
	return clip, nil
}

func (s *Service) register(ctx context.Context, path, displayName string, size int64, fingerprint string, owned bool) (*Clip, error) {
	return s.registerWithID(ctx, NewID(), path, displayName, size, fingerprint, owned)
}

func (s *Service) registerWithID(ctx context.Context, id, path, displayName string, size int64, fingerprint string, owned bool) (*Clip, error) {
	probe, err := s.prober.Probe(ctx, path)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	clip := &Clip{
		ID:          id,
		Path:        path,
		DisplayName: displayName,
		MIMEType:    MIMEType(displayName),
		Size:        size,
		Fingerprint: fingerprint,
		Duration:    probe.Duration,
		Width:       probe.Width,
		Height:      probe.Height,
		FPS:         probe.FrameRate,
		HasAudio:    probe.HasAudio(),
		Owned:       owned,
		Edit:        DefaultEdit(probe.Duration),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateClip(ctx, clip); err != nil {
		return nil, err
	}
	return clip, nil
}

func (s *Service) GetClip(ctx context.Context, id string) (*Clip, error) {
	return s.repo.GetClip(ctx, id)
}

func (s *Service) ListClips(ctx context.Context) ([]*Clip, error) {
	return s.repo.ListClips(ctx)
}

// UpdateEdit applies req to the clip's saved edit state. Out-of-range values
// are clamped and invalid ones are ignored; it never fails on bad input.
func (s *Service) UpdateEdit(ctx context.Context, id string, req EditRequest) (*Clip, error) {
	clip, err := s.repo.GetClip(ctx, id)
	if err != nil {
		return nil, err
	}
	if clip == nil {
		return nil, ErrNotFound
	}

	edit := clip.Edit
	edit.TrimStart, edit.TrimEnd = applyTrim(edit, req, clip.Duration)

	if req.FilterName != nil {
		if _, idx, ok := render.FilterByName(*req.FilterName); ok {
			edit.FilterIndex = idx
		}
	} else if req.FilterIndex != nil && *req.FilterIndex >= 0 && *req.FilterIndex < len(render.Filters) {
		edit.FilterIndex = *req.FilterIndex
	}

	if req.Rate != nil {
		edit.Rate = render.ClampRate(edit.Rate, *req.Rate)
	}
	if req.RateDelta != nil {
		edit.Rate = render.StepRate(edit.Rate, *req.RateDelta)
	}
	if req.PreservePitch != nil {
		edit.PreservePitch = *req.PreservePitch
	}

	if err := s.repo.UpdateClipEdit(ctx, id, edit); err != nil {
		return nil, err
	}
	clip.Edit = edit
	clip.UpdatedAt = time.Now()
	return clip, nil
}

// applyTrim returns the new trim bounds, keeping the old ones when the
// request would leave an empty or inverted range.
func applyTrim(cur EditState, req EditRequest, duration float64) (float64, float64) {
	start, end := cur.TrimStart, cur.TrimEnd
	if req.TrimStart != nil {
		start = *req.TrimStart
	}
	if req.TrimEnd != nil {
		end = *req.TrimEnd
	}
	if math.IsNaN(start) || math.IsInf(start, 0) || math.IsNaN(end) || math.IsInf(end, 0) {
		return cur.TrimStart, cur.TrimEnd
	}
	if start < 0 {
		start = 0
	}
	if duration > 0 && end > duration {
		end = duration
	}
	if start >= end {
		return cur.TrimStart, cur.TrimEnd
	}
	return start, end
}

// CloseClip forgets a clip and its exports. Uploaded copies are deleted.
func (s *Service) CloseClip(ctx context.Context, id string) error {
	clip, err := s.repo.GetClip(ctx, id)
	if err != nil {
		return err
	}
	if clip == nil {
		return ErrNotFound
	}

	active, err := s.repo.CountActiveExports(ctx, id)
	if err != nil {
		return err
	}
	if active > 0 {
		return ErrClipBusy
	}

	if err := s.repo.DeleteClip(ctx, id); err != nil {
		return err
	}
	if clip.Owned {
		if err := os.Remove(clip.Path); err != nil && !os.IsNotExist(err) && s.logger != nil {
			s.logger.Warn("failed to remove uploaded clip", "clip_id", id, "error", err)
		}
	}
	if s.logger != nil {
		s.logger.Info("clip closed", "clip_id", id, "owned", clip.Owned)
	}
	return nil
}

// CreateExport snapshots the clip's edit state and queues a render. Later
// edits do not affect it.
func (s *Service) CreateExport(ctx context.Context, req ExportRequest) (*Export, error) {
	clip, err := s.repo.GetClip(ctx, req.ClipID)
	if err != nil {
		return nil, err
	}
	if clip == nil {
		return nil, ErrNotFound
	}
	if req.OutputDir != "" {
		if err := export.ValidateOutputDir(req.OutputDir); err != nil {
			return nil, err
		}
	}

	snap := render.NewExportSession(clip.RenderClip(), clip.Trim(), clip.Edit.FilterIndex, clip.Playback(),
		render.EntitlementState{Premium: req.Premium})

	now := time.Now()
	exp := &Export{
		ID:               NewID(),
		ClipID:           clip.ID,
		Status:           ExportStatusPending,
		State:            render.StateIdle.String(),
		TrimStart:        snap.Trim.Start,
		TrimEnd:          snap.Trim.End,
		FilterIndex:      snap.FilterIndex,
		FilterName:       snap.Filter.Name,
		FilterDowngraded: snap.FilterDowngraded,
		Rate:             snap.Playback.Rate,
		PreservePitch:    snap.Playback.PreservePitch,
		Premium:          req.Premium,
		OutputDir:        req.OutputDir,
		WriteEDL:         req.WriteEDL,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.CreateExport(ctx, exp); err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.Info("export queued",
			"export_id", exp.ID,
			"clip_id", clip.ID,
			"filter", exp.FilterName,
			"filter_downgraded", exp.FilterDowngraded,
			"rate", exp.Rate,
			"premium", exp.Premium,
		)
	}
	return exp, nil
}

func (s *Service) GetExport(ctx context.Context, id string) (*Export, error) {
	return s.repo.GetExport(ctx, id)
}

func (s *Service) ListExports(ctx context.Context, limit int) ([]*Export, error) {
	return s.repo.ListExports(ctx, limit)
}

func computeFingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	lr := io.LimitReader(f, fingerprintSize)
	if _, err := io.Copy(h, lr); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// prefixHasher hashes only the first left bytes written to it, matching
// computeFingerprint for streamed uploads.
type prefixHasher struct {
	h    io.Writer
	left int64
}

func (p *prefixHasher) Write(b []byte) (int, error) {
	if p.left > 0 {
		chunk := b
		if int64(len(chunk)) > p.left {
			chunk = chunk[:p.left]
		}
		p.h.Write(chunk)
		p.left -= int64(len(chunk))
	}
	return len(b), nil
}
