package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Delivery is what Deliver wrote into the caller's directory.
type Delivery struct {
	Path    string `json:"path"`
	EDLPath string `json:"edl_path,omitempty"`
}

// Deliver copies a finished export into outputDir under name and, when edl
// is non-empty, writes it as a sidecar. A file that already exists is not
// overwritten; a numeric suffix is added instead.
func Deliver(src, outputDir, name, edl string) (*Delivery, error) {
	if err := ValidateOutputDir(outputDir); err != nil {
		return nil, err
	}

	dst := uniquePath(filepath.Join(outputDir, name))
	if err := copyFile(src, dst); err != nil {
		return nil, err
	}

	d := &Delivery{Path: dst}
	if edl != "" {
		edlPath := uniquePath(filepath.Join(outputDir, EDLName(filepath.Base(dst))))
		if err := os.WriteFile(edlPath, []byte(edl), 0o644); err != nil {
			return d, fmt.Errorf("failed to write edl: %w", err)
		}
		d.EDLPath = edlPath
	}
	return d, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open export: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(dst), err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("failed to copy export: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("failed to copy export: %w", err)
	}
	return nil
}

// uniquePath turns "dir/a.webm" into "dir/a (1).webm" while the name is taken.
func uniquePath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(path)
	stem := path[:len(path)-len(ext)]
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s (%d)%s", stem, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
