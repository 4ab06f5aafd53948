package storage

import (
	"log/slog"
	"sync"

	"github.com/dgnsrekt/apiscope/internal/types"
)

// CallArchive keeps one JSONL writer per proxy so every captured call is
// also appended to <base>/<date>/<proxy>/calls/<proxy>.jsonl.
type CallArchive struct {
	baseDir    string
	maxSizeMB  int
	bufferSize int

	writers map[string]*JSONLWriter
	mu      sync.RWMutex
}

func NewCallArchive(baseDir string, bufferSize, maxSizeMB int) *CallArchive {
	return &CallArchive{
		baseDir:    baseDir,
		maxSizeMB:  maxSizeMB,
		bufferSize: bufferSize,
		writers:    make(map[string]*JSONLWriter),
	}
}

// Writer returns (or creates) the writer for a proxy.
func (a *CallArchive) Writer(proxyID string) *JSONLWriter {
	a.mu.RLock()
	if w, ok := a.writers[proxyID]; ok {
		a.mu.RUnlock()
		return w
	}
	a.mu.RUnlock()

	a.mu.Lock()
	defer a.mu.Unlock()
	if w, ok := a.writers[proxyID]; ok {
		return w
	}

	segment := SanitizeSegment(proxyID)
	w := NewJSONLWriter(a.baseDir, segment+"/calls", segment, a.bufferSize, a.maxSizeMB)
	a.writers[proxyID] = w
	slog.Info("Created capture archive writer", "proxy_id", proxyID)
	return w
}

// Archive appends call to its proxy's archive. Failures are logged.
func (a *CallArchive) Archive(call *types.CapturedCall) {
	if err := a.Writer(call.ProxyID).Write(call); err != nil {
		slog.Warn("Failed to archive captured call", "proxy_id", call.ProxyID, "call_id", call.ID, "error", err)
	}
}

// CloseProxy closes and forgets a single proxy's writer.
func (a *CallArchive) CloseProxy(proxyID string) {
	a.mu.Lock()
	w, ok := a.writers[proxyID]
	delete(a.writers, proxyID)
	a.mu.Unlock()
	if ok {
		if err := w.Close(); err != nil {
			slog.Error("Failed to close archive writer", "proxy_id", proxyID, "error", err)
		}
	}
}

// Close closes all writers.
func (a *CallArchive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var lastErr error
	for proxyID, w := range a.writers {
		if err := w.Close(); err != nil {
			slog.Error("Failed to close archive writer", "proxy_id", proxyID, "error", err)
			lastErr = err
		}
	}
	a.writers = make(map[string]*JSONLWriter)
	return lastErr
}
