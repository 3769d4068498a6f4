// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package adminapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/nishisan-dev/mediadriver/internal/image"
)

// startTime registra quando o processo iniciou, para cálculo de uptime em
// /health.
var startTime = time.Now()

// Version é preenchida via ldflags no build (-X ...Version=x.y.z).
var Version = "dev"

// ImageSource expõe as imagens de publicação rastreadas por um canal de
// recepção. Implementado por internal/driver.Driver; um processo tipicamente
// registra um ImageSource por canal de recepção configurado.
type ImageSource interface {
	Images() []*image.Image
}

// NewRouter cria o http.Handler da superfície de administração do driver,
// agregando o estado de todos os canais de recepção informados. Aplica o
// middleware ACL em todas as rotas — deny-by-default, ver internal/config.
func NewRouter(sources []ImageSource, acl *ACL, hostMonitor *HostMonitor) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", handleHealth)
	mux.HandleFunc("/metrics", makeMetricsHandler(sources, hostMonitor))
	mux.HandleFunc("/metrics/prometheus", makePrometheusHandler(sources, hostMonitor))
	mux.HandleFunc("/images", makeImagesHandler(sources))

	return acl.Middleware(mux)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(startTime)

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	var lastPauseMs float64
	if mem.NumGC > 0 {
		lastPauseMs = float64(mem.PauseNs[(mem.NumGC+255)%256]) / 1e6
	}

	resp := HealthResponse{
		Status:  "ok",
		Uptime:  uptime.String(),
		Version: Version,
		Go:      runtime.Version(),
		Stats: &RuntimeStats{
			GoRoutines:  runtime.NumGoroutine(),
			HeapAllocMB: float64(mem.HeapAlloc) / (1024 * 1024),
			HeapSysMB:   float64(mem.HeapSys) / (1024 * 1024),
			GCPauseMs:   lastPauseMs,
			GCCycles:    mem.NumGC,
			CPUCores:    runtime.NumCPU(),
		},
	}
	writeJSON(w, http.StatusOK, resp)
}

func collectImageStates(sources []ImageSource) []ImageState {
	var out []ImageState
	for _, src := range sources {
		for _, img := range src.Images() {
			hwm := img.HwmPosition().Get()
			rebuild := img.RebuildPosition().Get()

			var controlAddr, sourceAddr string
			if img.ControlAddress != nil {
				controlAddr = img.ControlAddress.String()
			}
			if img.SourceAddress != nil {
				sourceAddr = img.SourceAddress.String()
			}

			out = append(out, ImageState{
				SessionID:       img.SessionID,
				StreamID:        img.StreamID,
				CorrelationID:   img.CorrelationID,
				InitialTermID:   img.InitialTermID,
				Status:          img.Status().String(),
				HwmPosition:     hwm,
				RebuildPosition: rebuild,
				BytesPending:    hwm - rebuild,
				SubscriberCount: img.SubscriberCount(),
				ControlAddress:  controlAddr,
				SourceAddress:   sourceAddr,
			})
		}
	}
	if out == nil {
		out = []ImageState{}
	}
	return out
}

func makeImagesHandler(sources []ImageSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, collectImageStates(sources))
	}
}

func makeMetricsHandler(sources []ImageSource, hostMonitor *HostMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		images := collectImageStates(sources)
		resp := MetricsResponse{
			ImageCount: len(images),
			Images:     images,
		}
		if hostMonitor != nil {
			stats := hostMonitor.Stats()
			resp.Host = &stats
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// makePrometheusHandler expõe as mesmas métricas em formato texto compatível
// com Prometheus, escrito à mão — o punhado de gauges daqui não justifica
// uma dependência em client_golang.
func makePrometheusHandler(sources []ImageSource, hostMonitor *HostMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		images := collectImageStates(sources)

		var active, inactive, linger, initState int
		var subscribers int
		for _, img := range images {
			switch img.Status {
			case "ACTIVE":
				active++
			case "INACTIVE":
				inactive++
			case "LINGER":
				linger++
			default:
				initState++
			}
			subscribers += img.SubscriberCount
		}

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		fmt.Fprintf(w, "# HELP mediadriver_images_tracked Publication images currently tracked.\n")
		fmt.Fprintf(w, "# TYPE mediadriver_images_tracked gauge\n")
		fmt.Fprintf(w, "mediadriver_images_tracked %d\n", len(images))

		fmt.Fprintf(w, "# HELP mediadriver_images_by_status Publication images tracked, split by lifecycle status.\n")
		fmt.Fprintf(w, "# TYPE mediadriver_images_by_status gauge\n")
		fmt.Fprintf(w, "mediadriver_images_by_status{status=\"init\"} %d\n", initState)
		fmt.Fprintf(w, "mediadriver_images_by_status{status=\"active\"} %d\n", active)
		fmt.Fprintf(w, "mediadriver_images_by_status{status=\"inactive\"} %d\n", inactive)
		fmt.Fprintf(w, "mediadriver_images_by_status{status=\"linger\"} %d\n", linger)

		fmt.Fprintf(w, "# HELP mediadriver_subscribers_total Subscribers currently attached across all tracked images.\n")
		fmt.Fprintf(w, "# TYPE mediadriver_subscribers_total gauge\n")
		fmt.Fprintf(w, "mediadriver_subscribers_total %d\n", subscribers)

		for _, img := range images {
			fmt.Fprintf(w, "mediadriver_image_bytes_pending{session_id=\"%d\",stream_id=\"%d\"} %d\n",
				img.SessionID, img.StreamID, img.BytesPending)
		}

		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)

		fmt.Fprintf(w, "# HELP mediadriver_runtime_goroutines Number of live goroutines.\n")
		fmt.Fprintf(w, "# TYPE mediadriver_runtime_goroutines gauge\n")
		fmt.Fprintf(w, "mediadriver_runtime_goroutines %d\n", runtime.NumGoroutine())

		fmt.Fprintf(w, "# HELP mediadriver_runtime_heap_alloc_bytes Bytes of allocated heap objects.\n")
		fmt.Fprintf(w, "# TYPE mediadriver_runtime_heap_alloc_bytes gauge\n")
		fmt.Fprintf(w, "mediadriver_runtime_heap_alloc_bytes %d\n", mem.HeapAlloc)

		if hostMonitor != nil {
			stats := hostMonitor.Stats()
			fmt.Fprintf(w, "# HELP mediadriver_host_cpu_percent Host CPU utilization percentage.\n")
			fmt.Fprintf(w, "# TYPE mediadriver_host_cpu_percent gauge\n")
			fmt.Fprintf(w, "mediadriver_host_cpu_percent %g\n", stats.CPUPercent)

			fmt.Fprintf(w, "# HELP mediadriver_host_memory_percent Host memory utilization percentage.\n")
			fmt.Fprintf(w, "# TYPE mediadriver_host_memory_percent gauge\n")
			fmt.Fprintf(w, "mediadriver_host_memory_percent %g\n", stats.MemoryPercent)

			fmt.Fprintf(w, "# HELP mediadriver_host_load1 Host 1-minute load average.\n")
			fmt.Fprintf(w, "# TYPE mediadriver_host_load1 gauge\n")
			fmt.Fprintf(w, "mediadriver_host_load1 %g\n", stats.LoadAverage1)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
