// Package web serves the plain HTTP endpoints: QR codes, health and metrics.
package web

import (
	"net/http"
	"strconv"
	"strings"

	zlog "github.com/rs/zerolog/log"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/osa030/speakerq/internal/app/session"
	"github.com/osa030/speakerq/internal/infra/config"
	"github.com/osa030/speakerq/internal/infra/metrics"
)

const (
	defaultQRSize = 256
	minQRSize     = 64
	maxQRSize     = 1024
)

// Register mounts the endpoints on mux.
func Register(mux *http.ServeMux, mgr *session.Manager, cfg *config.Config) {
	mux.HandleFunc("GET /healthz", healthz)
	mux.HandleFunc("GET /sessions/{id}/qr.png", qrHandler(mgr))
	if !cfg.Metrics.Disabled {
		mux.Handle("GET "+cfg.Metrics.Path, metrics.Handler())
	}
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// qrHandler renders the participant link, or the public display link with
// ?link=public, as a PNG.
func qrHandler(mgr *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := strings.TrimSpace(r.PathValue("id"))
		if sessionID == "" {
			http.Error(w, "session id is required", http.StatusBadRequest)
			return
		}

		size := defaultQRSize
		if v := r.URL.Query().Get("size"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < minQRSize || n > maxQRSize {
				http.Error(w, "size must be between 64 and 1024", http.StatusBadRequest)
				return
			}
			size = n
		}

		links := mgr.Links(sessionID, r.Header.Get("Origin"))
		content := links.Participant
		switch r.URL.Query().Get("link") {
		case "", "participant":
		case "public":
			content = links.Public
		default:
			http.Error(w, "link must be participant or public", http.StatusBadRequest)
			return
		}

		png, err := qrcode.Encode(content, qrcode.Medium, size)
		if err != nil {
			zlog.Error().Msgf("failed to encode qr code: session_id=%s err=%v", sessionID, err)
			http.Error(w, "failed to encode qr code", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(png)
	}
}
