package web

import (
	"bytes"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/speakerq/internal/app/session"
	"github.com/osa030/speakerq/internal/infra/config"
)

func newMux(t *testing.T, mutate ...func(*config.Config)) *http.ServeMux {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)
	for _, fn := range mutate {
		fn(cfg)
	}
	mgr, err := session.NewManager(cfg)
	require.NoError(t, err)

	mux := http.NewServeMux()
	Register(mux, mgr, cfg)
	return mux
}

func serve(mux http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	rec := serve(newMux(t), http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestQRCode(t *testing.T) {
	mux := newMux(t)

	tests := []struct {
		name     string
		target   string
		wantCode int
		wantSize int
	}{
		{name: "participant link", target: "/sessions/ROOM/qr.png", wantCode: http.StatusOK, wantSize: 256},
		{name: "public link sized", target: "/sessions/ROOM/qr.png?link=public&size=512", wantCode: http.StatusOK, wantSize: 512},
		{name: "size too small", target: "/sessions/ROOM/qr.png?size=10", wantCode: http.StatusBadRequest},
		{name: "size not a number", target: "/sessions/ROOM/qr.png?size=big", wantCode: http.StatusBadRequest},
		{name: "moderator link refused", target: "/sessions/ROOM/qr.png?link=moderator", wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(mux, http.MethodGet, tt.target)
			require.Equal(t, tt.wantCode, rec.Code)
			if tt.wantCode != http.StatusOK {
				return
			}
			assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
			img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
			require.NoError(t, err)
			assert.Equal(t, tt.wantSize, img.Bounds().Dx())
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	rec := serve(newMux(t), http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "speakerq_sessions")

	disabled := newMux(t, func(c *config.Config) { c.Metrics.Disabled = true })
	rec = serve(disabled, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
