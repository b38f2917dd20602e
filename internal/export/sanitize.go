package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// ErrInvalidOutputDir wraps every ValidateOutputDir failure.
var ErrInvalidOutputDir = errors.New("invalid output_dir")

// reservedNames cannot be used as file names on Windows, with or without an
// extension.
var reservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// SanitizeName makes s safe to use as a file name on any desktop OS. Control
// characters are dropped, anything outside letters, digits and a small set of
// punctuation becomes '_', and the result is cut to maxLen runes.
func SanitizeName(s string, maxLen int) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsControl(r) {
			continue
		}
		if isAllowedNameRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}

	cleaned := trimName(b.String())
	if maxLen > 0 {
		runes := []rune(cleaned)
		if len(runes) > maxLen {
			cleaned = trimName(string(runes[:maxLen]))
		}
	}

	stem, _, _ := strings.Cut(cleaned, ".")
	if reservedNames[strings.ToUpper(stem)] {
		cleaned = "_" + cleaned
	}
	return cleaned
}

// trimName drops surrounding spaces and trailing dots, which Windows
// silently strips.
func trimName(s string) string {
	return strings.TrimRight(strings.TrimSpace(s), ". ")
}

func isAllowedNameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case ' ', '-', '_', '.', ',', '(', ')':
		return true
	default:
		return false
	}
}

// ValidateOutputDir checks that dir is an absolute, clean path to an
// existing directory the agent can write into.
func ValidateOutputDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("%w: path is required", ErrInvalidOutputDir)
	}

	for _, part := range strings.Split(filepath.ToSlash(dir), "/") {
		if part == ".." {
			return fmt.Errorf("%w: path traversal is not allowed", ErrInvalidOutputDir)
		}
	}

	if !filepath.IsAbs(dir) {
		return fmt.Errorf("%w: path must be absolute", ErrInvalidOutputDir)
	}

	if filepath.Clean(dir) != dir {
		return fmt.Errorf("%w: path must be clean", ErrInvalidOutputDir)
	}

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: directory does not exist", ErrInvalidOutputDir)
		}
		return fmt.Errorf("%w: %v", ErrInvalidOutputDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: not a directory", ErrInvalidOutputDir)
	}

	probe, err := os.CreateTemp(dir, ".videocut-write-*")
	if err != nil {
		return fmt.Errorf("%w: directory is not writable", ErrInvalidOutputDir)
	}
	probe.Close()
	os.Remove(probe.Name())

	return nil
}
