// Package playback serves clip previews and finished exports over HTTP with
// byte-range support.
package playback

import (
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
)

type PlaybackService interface {
	ServeFile(w http.ResponseWriter, r *http.Request, filePath string, opts ServeOptions) error
}

// ServeOptions adjust how a file is presented to the client.
type ServeOptions struct {
	// ContentType overrides the extension-based guess.
	ContentType string
	// DownloadName, if set, asks the browser to save the file under this name.
	DownloadName string
}

type Server struct {
	logger *slog.Logger
}

func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{logger: logger}
}

func (s *Server) ServeFile(w http.ResponseWriter, r *http.Request, filePath string, opts ServeOptions) error {
	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "file not found", http.StatusNotFound)
			return nil
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	size := stat.Size()
	contentType := opts.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(filePath))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	etag := ETag(size, stat.ModTime())
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("ETag", etag)
	w.Header().Set("Last-Modified", stat.ModTime().UTC().Format(http.TimeFormat))
	if opts.DownloadName != "" {
		w.Header().Set("Content-Disposition", contentDisposition(opts.DownloadName))
	}

	rangeHeader := r.Header.Get("Range")
	if !IfRangeMatches(r.Header.Get("If-Range"), etag, stat.ModTime()) {
		rangeHeader = ""
	}

	parsedRange, err := ParseRange(rangeHeader, size)
	if err == ErrUnsatisfiable {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	}
	if err != nil && err != ErrInvalidRange {
		return err
	}

	if parsedRange == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodHead {
			return nil
		}
		if _, err := io.Copy(w, file); err != nil {
			s.logger.Debug("client stopped reading", "file", filepath.Base(filePath), "error", err)
		}
		return nil
	}

	w.Header().Set("Content-Length", strconv.FormatInt(parsedRange.ContentLength(), 10))
	w.Header().Set("Content-Range", parsedRange.ContentRange(size))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodHead {
		return nil
	}

	if _, err := file.Seek(parsedRange.Start, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}
	if _, err := io.CopyN(w, file, parsedRange.ContentLength()); err != nil {
		s.logger.Debug("client stopped reading", "file", filepath.Base(filePath), "error", err)
	}
	return nil
}

func contentDisposition(name string) string {
	return fmt.Sprintf(`attachment; filename=%q; filename*=UTF-8''%s`, asciiName(name), url.PathEscape(name))
}

// asciiName replaces non-ASCII runes for the legacy filename parameter.
func asciiName(name string) string {
	out := []rune(name)
	for i, r := range out {
		if r > 0x7e || r < 0x20 || r == '"' || r == '\\' {
			out[i] = '_'
		}
	}
	return string(out)
}
