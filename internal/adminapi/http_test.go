// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package adminapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nishisan-dev/mediadriver/internal/counters"
	"github.com/nishisan-dev/mediadriver/internal/image"
	"github.com/nishisan-dev/mediadriver/internal/logbuffer"
	"github.com/nishisan-dev/mediadriver/internal/lossdetect"
	"github.com/nishisan-dev/mediadriver/internal/protocol"
)

type discardEndpoint struct{}

func (discardEndpoint) SendStatusMessage(protocol.StatusMessage) {}
func (discardEndpoint) SendNakMessage(protocol.NakMessage)       {}
func (discardEndpoint) RemovePublicationImage(img *image.Image)  {}
func (discardEndpoint) OriginalURIString() string                { return "udp://239.1.1.1:40001" }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, nil))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestImage(sessionID, streamID int32) *image.Image {
	cfg := image.Config{
		CorrelationID: 42,
		SessionID:     sessionID,
		StreamID:      streamID,
		InitialTermID: 7,
		TermLength:    65536,
	}
	log := logbuffer.NewLogBuffers(cfg.TermLength)
	scanner := lossdetect.NewScanner(0)
	img := image.NewImage(cfg, discardEndpoint{}, log, counters.NewRegistry(), scanner, discardLogger())
	img.Activate()
	return img
}

type fakeImageSource struct{ images []*image.Image }

func (f fakeImageSource) Images() []*image.Image { return f.images }

func TestHandleHealth(t *testing.T) {
	acl := NewACL(parseCIDRs(t, "127.0.0.1/32"))
	router := NewRouter(nil, acl, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("expected status ok, got %q", resp.Status)
	}
}

func TestHandleMetricsAggregatesImages(t *testing.T) {
	src := fakeImageSource{images: []*image.Image{newTestImage(1, 10), newTestImage(2, 20)}}
	acl := NewACL(parseCIDRs(t, "127.0.0.1/32"))
	router := NewRouter([]ImageSource{src}, acl, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp MetricsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.ImageCount != 2 {
		t.Errorf("expected 2 images, got %d", resp.ImageCount)
	}
}

func TestHandlePrometheusExposesSessionSeries(t *testing.T) {
	src := fakeImageSource{images: []*image.Image{newTestImage(5, 50)}}
	acl := NewACL(parseCIDRs(t, "127.0.0.1/32"))
	router := NewRouter([]ImageSource{src}, acl, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics/prometheus", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `session_id=\"5\"`) && !strings.Contains(body, `session_id="5"`) {
		t.Errorf("expected series for session 5, got: %s", body)
	}
	if !strings.Contains(body, "mediadriver_images_tracked 1") {
		t.Errorf("expected tracked count of 1, got: %s", body)
	}
}

func TestRouterDeniesForbiddenRemote(t *testing.T) {
	acl := NewACL(parseCIDRs(t, "127.0.0.1/32"))
	router := NewRouter(nil, acl, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}
