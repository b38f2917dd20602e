package playback

import (
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestParseRange(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		size      int64
		wantStart int64
		wantEnd   int64
		wantNil   bool
		wantErr   error
	}{
		{"empty header", "", 1000, 0, 0, true, nil},
		{"full range", "bytes=0-999", 1000, 0, 999, false, nil},
		{"partial start", "bytes=500-", 1000, 500, 999, false, nil},
		{"suffix range", "bytes=-500", 1000, 500, 999, false, nil},
		{"single byte", "bytes=0-0", 1000, 0, 0, false, nil},
		{"middle range", "bytes=100-199", 1000, 100, 199, false, nil},
		{"beyond size clamped", "bytes=0-2000", 1000, 0, 999, false, nil},
		{"suffix larger than file", "bytes=-2000", 500, 0, 499, false, nil},
		{"last byte", "bytes=999-", 1000, 999, 999, false, nil},
		{"multi range takes first", "bytes=0-99, 200-299", 1000, 0, 99, false, nil},
		{"unit is case insensitive", "Bytes=10-19", 1000, 10, 19, false, nil},
		{"whitespace around bounds", " bytes = 10 - 19 ", 1000, 10, 19, false, nil},
		{"whitespace only", "   ", 1000, 0, 0, true, nil},

		{"unsatisfiable start", "bytes=1000-", 1000, 0, 0, false, ErrUnsatisfiable},
		{"unsatisfiable beyond", "bytes=1500-2000", 1000, 0, 0, false, ErrUnsatisfiable},
		{"invalid format no bytes", "invalid", 1000, 0, 0, false, ErrInvalidRange},
		{"wrong unit", "chars=0-100", 1000, 0, 0, false, ErrInvalidRange},
		{"invalid start", "bytes=abc-100", 1000, 0, 0, false, ErrInvalidRange},
		{"invalid end", "bytes=0-abc", 1000, 0, 0, false, ErrInvalidRange},
		{"zero suffix", "bytes=-0", 1000, 0, 0, false, ErrInvalidRange},
		{"missing dash", "bytes=100", 1000, 0, 0, false, ErrInvalidRange},
		{"suffix on empty file", "bytes=-10", 0, 0, 0, false, ErrUnsatisfiable},
		{"start on empty file", "bytes=0-", 0, 0, 0, false, ErrUnsatisfiable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRange(tt.header, tt.size)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("ParseRange() error = %v, wantErr %v", err, tt.wantErr)
				}
				return
			}

			if err != nil {
				t.Errorf("ParseRange() unexpected error: %v", err)
				return
			}

			if tt.wantNil {
				if got != nil {
					t.Errorf("ParseRange() = %v, want nil", got)
				}
				return
			}

			if got == nil {
				t.Errorf("ParseRange() = nil, want non-nil")
				return
			}

			if got.Start != tt.wantStart || got.End != tt.wantEnd {
				t.Errorf("ParseRange() = {%d, %d}, want {%d, %d}", got.Start, got.End, tt.wantStart, tt.wantEnd)
			}
		})
	}
}

func TestRange_ContentLength(t *testing.T) {
	tests := []struct {
		start int64
		end   int64
		want  int64
	}{
		{0, 99, 100},
		{0, 0, 1},
		{500, 999, 500},
	}

	for _, tt := range tests {
		r := &Range{Start: tt.start, End: tt.end}
		if got := r.ContentLength(); got != tt.want {
			t.Errorf("ContentLength() = %d, want %d", got, tt.want)
		}
	}
}

func TestRange_ContentRange(t *testing.T) {
	tests := []struct {
		start int64
		end   int64
		total int64
		want  string
	}{
		{0, 99, 1000, "bytes 0-99/1000"},
		{500, 999, 1000, "bytes 500-999/1000"},
		{0, 0, 1, "bytes 0-0/1"},
	}

	for _, tt := range tests {
		r := &Range{Start: tt.start, End: tt.end}
		if got := r.ContentRange(tt.total); got != tt.want {
			t.Errorf("ContentRange() = %s, want %s", got, tt.want)
		}
	}
}

func TestETag(t *testing.T) {
	mod := time.Unix(1700000000, 0)

	tag := ETag(1024, mod)
	if tag[0] != '"' || tag[len(tag)-1] != '"' {
		t.Errorf("ETag() = %s, want a quoted strong tag", tag)
	}
	if ETag(1024, mod) != tag {
		t.Error("ETag() is not stable for the same file")
	}
	if ETag(1025, mod) == tag {
		t.Error("ETag() ignores size")
	}
	if ETag(1024, mod.Add(time.Second)) == tag {
		t.Error("ETag() ignores modification time")
	}
}

func TestIfRangeMatches(t *testing.T) {
	mod := time.Date(2026, 3, 1, 12, 0, 0, 500, time.UTC)
	etag := ETag(10, mod)

	tests := []struct {
		name    string
		ifRange string
		want    bool
	}{
		{"absent", "", true},
		{"same etag", etag, true},
		{"other etag", `"deadbeef-a"`, false},
		{"weak etag", "W/" + etag, false},
		{"same date", mod.Format(http.TimeFormat), true},
		{"later date", mod.Add(time.Hour).Format(http.TimeFormat), false},
		{"earlier date", mod.Add(-time.Hour).Format(http.TimeFormat), false},
		{"garbage", "yesterday", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IfRangeMatches(tt.ifRange, etag, mod); got != tt.want {
				t.Errorf("IfRangeMatches(%q) = %v, want %v", tt.ifRange, got, tt.want)
			}
		})
	}
}
