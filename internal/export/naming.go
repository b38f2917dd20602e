package export

import (
	"strings"
)

const maxBaseNameLen = 100

// OutputName builds the download name of a finished export:
// "[watermarked_]edited_<base>.<ext>", where base is the source file name up
// to its first dot.
func OutputName(sourceName string, watermarked bool, ext string) string {
	base := sourceName
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.Index(base, "."); i >= 0 {
		base = base[:i]
	}
	base = SanitizeName(base, maxBaseNameLen)
	if base == "" {
		base = "clip"
	}

	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = "webm"
	}

	prefix := ""
	if watermarked {
		prefix = "watermarked_"
	}
	return prefix + "edited_" + base + "." + ext
}

// EDLName is the sidecar name written next to an exported file.
func EDLName(outputName string) string {
	if i := strings.LastIndex(outputName, "."); i > 0 {
		outputName = outputName[:i]
	}
	return outputName + ".edl"
}
