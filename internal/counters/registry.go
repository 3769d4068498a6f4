// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package counters

import "sync/atomic"

// Registry agrega os contadores de sistema compartilhados por todas as
// imagens de publicação de um driver. Cada campo é incrementado por ordered
// increment a partir de qualquer thread (receiver ou conductor); não há
// leitor exclusivo.
type Registry struct {
	heartbeatsReceived    atomic.Int64
	statusMessagesSent    atomic.Int64
	nakMessagesSent       atomic.Int64
	flowControlUnderRuns  atomic.Int64
	flowControlOverRuns   atomic.Int64
}

// NewRegistry cria um Registry zerado.
func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) IncHeartbeatsReceived()   { r.heartbeatsReceived.Add(1) }
func (r *Registry) IncStatusMessagesSent()   { r.statusMessagesSent.Add(1) }
func (r *Registry) IncNakMessagesSent()      { r.nakMessagesSent.Add(1) }
func (r *Registry) IncFlowControlUnderRuns() { r.flowControlUnderRuns.Add(1) }
func (r *Registry) IncFlowControlOverRuns()  { r.flowControlOverRuns.Add(1) }

// Snapshot é uma cópia ponto-no-tempo dos contadores do sistema.
type Snapshot struct {
	HeartbeatsReceived   int64
	StatusMessagesSent   int64
	NakMessagesSent      int64
	FlowControlUnderRuns int64
	FlowControlOverRuns  int64
}

// Snapshot lê todos os contadores sem travar escritores concorrentes.
func (r *Registry) Snapshot() Snapshot {
	return Snapshot{
		HeartbeatsReceived:   r.heartbeatsReceived.Load(),
		StatusMessagesSent:   r.statusMessagesSent.Load(),
		NakMessagesSent:      r.nakMessagesSent.Load(),
		FlowControlUnderRuns: r.flowControlUnderRuns.Load(),
		FlowControlOverRuns:  r.flowControlOverRuns.Load(),
	}
}
