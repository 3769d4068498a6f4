// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package adminapi

// HealthResponse é retornado por GET /health.
type HealthResponse struct {
	Status  string       `json:"status"`
	Uptime  string       `json:"uptime"`
	Version string       `json:"version"`
	Go      string       `json:"go"`
	Stats   *RuntimeStats `json:"stats,omitempty"`
}

// RuntimeStats contém métricas de runtime do processo do driver.
type RuntimeStats struct {
	GoRoutines  int     `json:"goroutines"`
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	HeapSysMB   float64 `json:"heap_sys_mb"`
	GCPauseMs   float64 `json:"gc_pause_ms"`
	GCCycles    uint32  `json:"gc_cycles"`
	CPUCores    int     `json:"cpu_cores"`
}

// MetricsResponse é retornado por GET /metrics.
type MetricsResponse struct {
	ImageCount int          `json:"image_count"`
	Images     []ImageState `json:"images"`
	Host       *HostStats   `json:"host,omitempty"`
}

// ImageState é o snapshot administrativo de uma imagem de publicação
// rastreada por um Driver, exposto em GET /metrics e GET /images.
type ImageState struct {
	SessionID       int32  `json:"session_id"`
	StreamID        int32  `json:"stream_id"`
	CorrelationID   int64  `json:"correlation_id"`
	InitialTermID   int32  `json:"initial_term_id"`
	Status          string `json:"status"`
	HwmPosition     int64  `json:"hwm_position"`
	RebuildPosition int64  `json:"rebuild_position"`
	BytesPending    int64  `json:"bytes_pending"`
	SubscriberCount int    `json:"subscriber_count"`
	ControlAddress  string `json:"control_address,omitempty"`
	SourceAddress   string `json:"source_address,omitempty"`
}
