package catalog

import (
	"context"
	"database/sql"
	"time"

	"github.com/videocut/videocut-agent/internal/render"
)

type Repository interface {
	CreateClip(ctx context.Context, clip *Clip) error
	GetClip(ctx context.Context, id string) (*Clip, error)
	GetClipByPath(ctx context.Context, path string) (*Clip, error)
	ListClips(ctx context.Context) ([]*Clip, error)
	UpdateClipEdit(ctx context.Context, id string, edit EditState) error
	DeleteClip(ctx context.Context, id string) error

	CreateExport(ctx context.Context, exp *Export) error
	GetExport(ctx context.Context, id string) (*Export, error)
	ListExports(ctx context.Context, limit int) ([]*Export, error)
	ListPendingExports(ctx context.Context) ([]*Export, error)
	CountActiveExports(ctx context.Context, clipID string) (int, error)
	ClaimExport(ctx context.Context, id string) (bool, error)
	UpdateExportProgress(ctx context.Context, id, state string, progress int) error
	CompleteExport(ctx context.Context, id string, out *render.Output, copiedPath string) error
	FailExport(ctx context.Context, id, kind, msg string) error
	FailPendingExport(ctx context.Context, id, kind, msg string) (bool, error)

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const clipColumns = `id, path, display_name, mime_type, size, fingerprint, duration, width, height, fps,
	has_audio, owned, trim_start, trim_end, filter_index, rate, preserve_pitch, created_at, updated_at`

func (r *SQLiteRepository) CreateClip(ctx context.Context, c *Clip) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO clips (`+clipColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.Path, c.DisplayName, c.MIMEType, c.Size, c.Fingerprint, c.Duration, c.Width, c.Height, c.FPS,
		boolToInt(c.HasAudio), boolToInt(c.Owned), c.Edit.TrimStart, c.Edit.TrimEnd, c.Edit.FilterIndex,
		c.Edit.Rate, boolToInt(c.Edit.PreservePitch),
		c.CreatedAt.UTC().Format(time.RFC3339), c.UpdatedAt.UTC().Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetClip(ctx context.Context, id string) (*Clip, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+clipColumns+` FROM clips WHERE id = ?`, id)
	c, err := scanClip(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *SQLiteRepository) GetClipByPath(ctx context.Context, path string) (*Clip, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+clipColumns+` FROM clips WHERE path = ? ORDER BY created_at DESC LIMIT 1`, path)
	c, err := scanClip(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func scanClip(row scanner) (*Clip, error) {
	var c Clip
	var hasAudio, owned, preservePitch int
	var createdAt, updatedAt string

	err := row.Scan(&c.ID, &c.Path, &c.DisplayName, &c.MIMEType, &c.Size, &c.Fingerprint, &c.Duration,
		&c.Width, &c.Height, &c.FPS, &hasAudio, &owned, &c.Edit.TrimStart, &c.Edit.TrimEnd,
		&c.Edit.FilterIndex, &c.Edit.Rate, &preservePitch, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	c.HasAudio = hasAudio == 1
	c.Owned = owned == 1
	c.Edit.PreservePitch = preservePitch == 1
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	c.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &c, nil
}

func (r *SQLiteRepository) ListClips(ctx context.Context) ([]*Clip, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+clipColumns+` FROM clips ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clips []*Clip
	for rows.Next() {
		c, err := scanClip(rows)
		if err != nil {
			return nil, err
		}
		clips = append(clips, c)
	}
	return clips, rows.Err()
}

func (r *SQLiteRepository) UpdateClipEdit(ctx context.Context, id string, e EditState) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE clips SET trim_start = ?, trim_end = ?, filter_index = ?, rate = ?, preserve_pitch = ?, updated_at = ?
		WHERE id = ?
	`, e.TrimStart, e.TrimEnd, e.FilterIndex, e.Rate, boolToInt(e.PreservePitch), now(), id)
	return err
}

func (r *SQLiteRepository) DeleteClip(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM clips WHERE id = ?", id)
	return err
}

const exportColumns = `id, clip_id, status, state, progress, trim_start, trim_end, filter_index, filter_name,
	filter_downgraded, rate, preserve_pitch, premium, output_dir, write_edl, output_path, mime_type,
	output_size, frames, duration, aborted, copied_path, error_kind, error, created_at, updated_at`

func (r *SQLiteRepository) CreateExport(ctx context.Context, e *Export) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO exports (`+exportColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.ClipID, e.Status, e.State, e.Progress, e.TrimStart, e.TrimEnd, e.FilterIndex, e.FilterName,
		boolToInt(e.FilterDowngraded), e.Rate, boolToInt(e.PreservePitch), boolToInt(e.Premium),
		nullString(e.OutputDir), boolToInt(e.WriteEDL), nullString(e.OutputPath), nullString(e.MIMEType),
		e.OutputSize, e.Frames, e.Duration, boolToInt(e.Aborted), nullString(e.CopiedPath),
		nullString(e.ErrorKind), nullString(e.Error),
		e.CreatedAt.UTC().Format(time.RFC3339), e.UpdatedAt.UTC().Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetExport(ctx context.Context, id string) (*Export, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+exportColumns+` FROM exports WHERE id = ?`, id)
	e, err := scanExport(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func scanExport(row scanner) (*Export, error) {
	var e Export
	var downgraded, pitch, premium, writeEDL, aborted int
	var outputDir, outputPath, mimeType, copiedPath, errorKind, errMsg sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&e.ID, &e.ClipID, &e.Status, &e.State, &e.Progress, &e.TrimStart, &e.TrimEnd,
		&e.FilterIndex, &e.FilterName, &downgraded, &e.Rate, &pitch, &premium, &outputDir, &writeEDL,
		&outputPath, &mimeType, &e.OutputSize, &e.Frames, &e.Duration, &aborted, &copiedPath,
		&errorKind, &errMsg, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	e.FilterDowngraded = downgraded == 1
	e.PreservePitch = pitch == 1
	e.Premium = premium == 1
	e.WriteEDL = writeEDL == 1
	e.Aborted = aborted == 1
	e.OutputDir = outputDir.String
	e.OutputPath = outputPath.String
	e.MIMEType = mimeType.String
	e.CopiedPath = copiedPath.String
	e.ErrorKind = errorKind.String
	e.Error = errMsg.String
	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	e.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &e, nil
}

func (r *SQLiteRepository) ListExports(ctx context.Context, limit int) ([]*Export, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+exportColumns+` FROM exports ORDER BY created_at DESC, rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanExports(rows)
}

func (r *SQLiteRepository) ListPendingExports(ctx context.Context) ([]*Export, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+exportColumns+` FROM exports WHERE status = 'pending' ORDER BY created_at ASC, rowid ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanExports(rows)
}

func scanExports(rows *sql.Rows) ([]*Export, error) {
	var exports []*Export
	for rows.Next() {
		e, err := scanExport(rows)
		if err != nil {
			return nil, err
		}
		exports = append(exports, e)
	}
	return exports, rows.Err()
}

func (r *SQLiteRepository) CountActiveExports(ctx context.Context, clipID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM exports WHERE clip_id = ? AND status IN ('pending', 'running')", clipID).Scan(&count)
	return count, err
}

// ClaimExport moves a pending export to running. It reports false when the
// export is no longer pending.
func (r *SQLiteRepository) ClaimExport(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE exports SET status = 'running', state = 'PREPARING', updated_at = ?
		WHERE id = ? AND status = 'pending'
	`, now(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *SQLiteRepository) UpdateExportProgress(ctx context.Context, id, state string, progress int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE exports SET state = ?, progress = ?, updated_at = ? WHERE id = ?
	`, state, progress, now(), id)
	return err
}

func (r *SQLiteRepository) CompleteExport(ctx context.Context, id string, out *render.Output, copiedPath string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE exports SET status = 'completed', state = 'COMPLETE', progress = 100,
			output_path = ?, mime_type = ?, output_size = ?, frames = ?, duration = ?, aborted = ?,
			copied_path = ?, updated_at = ?
		WHERE id = ?
	`, out.Path, out.MIMEType, out.Size, out.Frames, out.Duration, boolToInt(out.Aborted),
		nullString(copiedPath), now(), id)
	return err
}

func (r *SQLiteRepository) FailExport(ctx context.Context, id, kind, msg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE exports SET status = 'failed', state = 'FAILED', error_kind = ?, error = ?, updated_at = ?
		WHERE id = ?
	`, nullString(kind), nullString(msg), now(), id)
	return err
}

// FailPendingExport fails an export only while it is still pending. It
// reports false when the runner claimed or finished it first.
func (r *SQLiteRepository) FailPendingExport(ctx context.Context, id, kind, msg string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE exports SET status = 'failed', state = 'FAILED', error_kind = ?, error = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'
	`, nullString(kind), nullString(msg), now(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
