package media

import (
	"github.com/videocut/videocut-agent/internal/host"
	"github.com/videocut/videocut-agent/internal/render"
)

// Format is an output container and the codecs written into it.
type Format struct {
	Ext        string `json:"ext"`
	MIMEType   string `json:"mime_type"`
	VideoCodec string `json:"video_codec"`
	AudioCodec string `json:"audio_codec"`
}

var (
	FormatWebM = Format{Ext: ".webm", MIMEType: "video/webm", VideoCodec: "libvpx-vp9", AudioCodec: "libopus"}
	FormatMP4  = Format{Ext: ".mp4", MIMEType: "video/mp4", VideoCodec: "libx264", AudioCodec: "aac"}
)

// PickFormat prefers VP9 in WebM and falls back to H.264 in MP4.
func PickFormat(caps *host.Capabilities) (Format, error) {
	switch {
	case caps.HasEncoder("libvpx-vp9") && caps.HasEncoder("libopus"):
		return FormatWebM, nil
	case caps.HasEncoder("libvpx-vp9") && caps.HasEncoder("libvorbis"):
		f := FormatWebM
		f.AudioCodec = "libvorbis"
		return f, nil
	case caps.HasEncoder("libx264"):
		return FormatMP4, nil
	}
	return Format{}, &render.EncodingError{Op: "format", Err: render.ErrNoEncoder}
}
