// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package adminapi

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostStats contém as métricas de sistema do host coletadas periodicamente,
// expostas junto às métricas do driver em /metrics e /metrics/prometheus.
type HostStats struct {
	CPUPercent    float64
	MemoryPercent float64
	LoadAverage1  float64
}

// HostMonitor coleta HostStats em segundo plano a um intervalo fixo,
// publicando um snapshot protegido por mutex — o mesmo desenho do
// SystemMonitor do agente de backup, aqui sem a leitura de disco (um driver
// de mídia não possui storage de destino a inspecionar).
type HostMonitor struct {
	logger *slog.Logger
	close  chan struct{}
	wg     sync.WaitGroup

	mu    sync.RWMutex
	stats HostStats
}

// NewHostMonitor cria um HostMonitor parado; chame Start para iniciar a
// coleta periódica.
func NewHostMonitor(logger *slog.Logger) *HostMonitor {
	return &HostMonitor{
		logger: logger.With("component", "host_monitor"),
		close:  make(chan struct{}),
	}
}

// Start inicia a goroutine de coleta periódica.
func (hm *HostMonitor) Start() {
	hm.wg.Add(1)
	go hm.run()
}

// Stop encerra a coleta e aguarda a goroutine terminar.
func (hm *HostMonitor) Stop() {
	close(hm.close)
	hm.wg.Wait()
}

// Stats retorna o último snapshot coletado.
func (hm *HostMonitor) Stats() HostStats {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	return hm.stats
}

func (hm *HostMonitor) run() {
	defer hm.wg.Done()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	hm.collect()
	for {
		select {
		case <-hm.close:
			return
		case <-ticker.C:
			hm.collect()
		}
	}
}

func (hm *HostMonitor) collect() {
	var stats HostStats

	if percentages, err := cpu.Percent(0, false); err == nil && len(percentages) > 0 {
		stats.CPUPercent = percentages[0]
	} else {
		hm.logger.Debug("failed to collect cpu stats", "error", err)
	}

	if v, err := mem.VirtualMemory(); err == nil {
		stats.MemoryPercent = v.UsedPercent
	} else {
		hm.logger.Debug("failed to collect memory stats", "error", err)
	}

	if l, err := load.Avg(); err == nil {
		stats.LoadAverage1 = l.Load1
	} else {
		hm.logger.Debug("failed to collect load stats", "error", err)
	}

	hm.mu.Lock()
	hm.stats = stats
	hm.mu.Unlock()
}
