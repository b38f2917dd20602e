package playback

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidRange  = errors.New("invalid range format")
	ErrUnsatisfiable = errors.New("range not satisfiable")
)

// Range is an inclusive byte window of a file.
type Range struct {
	Start int64
	End   int64
}

func (r Range) ContentLength() int64 {
	return r.End - r.Start + 1
}

func (r Range) ContentRange(total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, total)
}

// ParseRange reads a Range header against a file of size bytes. Only the
// first range of a multi-range request is honored; video players seek with
// one range at a time. A nil Range with a nil error means the whole file.
func ParseRange(header string, size int64) (*Range, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, nil
	}

	unit, spec, ok := strings.Cut(header, "=")
	if !ok || !strings.EqualFold(strings.TrimSpace(unit), "bytes") {
		return nil, ErrInvalidRange
	}

	spec, _, _ = strings.Cut(spec, ",")
	first, last, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok {
		return nil, ErrInvalidRange
	}
	first, last = strings.TrimSpace(first), strings.TrimSpace(last)

	var start, end int64
	if first == "" {
		suffixLen, err := strconv.ParseInt(last, 10, 64)
		if err != nil || suffixLen <= 0 {
			return nil, ErrInvalidRange
		}
		if size == 0 {
			return nil, ErrUnsatisfiable
		}
		start = max(size-suffixLen, 0)
		end = size - 1
	} else {
		var err error
		start, err = strconv.ParseInt(first, 10, 64)
		if err != nil || start < 0 {
			return nil, ErrInvalidRange
		}

		end = size - 1
		if last != "" {
			end, err = strconv.ParseInt(last, 10, 64)
			if err != nil || end < 0 {
				return nil, ErrInvalidRange
			}
		}
	}

	if start > end || start >= size {
		return nil, ErrUnsatisfiable
	}

	return &Range{Start: start, End: min(end, size-1)}, nil
}

// ETag is a validator built from the file's modification time and size.
func ETag(size int64, modTime time.Time) string {
	return fmt.Sprintf(`"%x-%x"`, modTime.UnixNano(), size)
}

// IfRangeMatches reports whether a Range request may be honored given its
// If-Range header. An empty header always matches. An entity tag must equal
// etag exactly and weak tags never match; otherwise the value is an HTTP date
// compared at second precision.
func IfRangeMatches(ifRange, etag string, modTime time.Time) bool {
	ifRange = strings.TrimSpace(ifRange)
	switch {
	case ifRange == "":
		return true
	case strings.HasPrefix(ifRange, "W/"):
		return false
	case strings.HasPrefix(ifRange, `"`):
		return ifRange == etag
	}
	t, err := http.ParseTime(ifRange)
	if err != nil {
		return false
	}
	return modTime.Truncate(time.Second).Equal(t)
}
