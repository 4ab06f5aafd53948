package api

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/go-json-experiment/json"

	"github.com/dgnsrekt/apiscope/internal/capture"
)

const (
	ingressPath     = "/api/v1/capture/log"
	maxIngressBytes = 1 << 20
)

var ingressOK = []byte(`{"success":true}`)

// ingressHandler accepts capture logs from the injected page script. It
// answers success for every POST so the page never retries.
func ingressHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		defer func() {
			if _, err := w.Write(ingressOK); err != nil {
				slog.Debug("ingress response write failed", "error", err)
			}
		}()

		data, err := io.ReadAll(io.LimitReader(r.Body, maxIngressBytes))
		if err != nil {
			slog.Debug("Client capture log unreadable", "error", err)
			return
		}
		var log capture.ClientLog
		if err := json.Unmarshal(data, &log); err != nil {
			slog.Debug("Client capture log malformed", "error", err, "bytes", len(data))
			svc.IngestClientLog(r.Context(), capture.ClientLog{})
			return
		}
		verdict := svc.IngestClientLog(r.Context(), log)
		slog.Debug("Client capture log", "proxy_id", log.ProxyID, "method", log.Method, "verdict", verdict)
	}
}
