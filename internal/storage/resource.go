package storage

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// ArtifactWriter writes generated documentation files to disk.
type ArtifactWriter struct {
	baseDir string
}

func NewArtifactWriter(baseDir string) *ArtifactWriter {
	return &ArtifactWriter{baseDir: baseDir}
}

// Write saves each file under baseDir/subDir and returns the written paths
// in name order.
func (w *ArtifactWriter) Write(subDir string, files map[string][]byte) ([]string, error) {
	dir := filepath.Join(w.baseDir, subDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	written := make([]string, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, filepath.Base(name))
		if err := os.WriteFile(path, files[name], 0o644); err != nil {
			return written, err
		}
		slog.Debug("Artifact written", "path", path, "size", len(files[name]))
		written = append(written, path)
	}
	return written, nil
}
