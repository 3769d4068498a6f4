// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package image

// Status é o estado do ciclo de vida de uma imagem de publicação.
type Status int32

const (
	// StatusInit é o estado inicial, antes da primeira confirmação de setup.
	StatusInit Status = iota
	// StatusActive indica uma imagem recebendo tráfego normalmente.
	StatusActive
	// StatusInactive indica ausência de tráfego por mais que o tempo de vida
	// configurado; a imagem ainda é visível aos assinantes existentes.
	StatusInactive
	// StatusLinger é o estado final antes da coleta: a imagem permanece
	// endereçável por um período de graça para assinantes em transição.
	StatusLinger
)

// String satisfaz fmt.Stringer para logging e a superfície de administração.
func (s Status) String() string {
	switch s {
	case StatusInit:
		return "INIT"
	case StatusActive:
		return "ACTIVE"
	case StatusInactive:
		return "INACTIVE"
	case StatusLinger:
		return "LINGER"
	default:
		return "UNKNOWN"
	}
}

// Status retorna o estado atual do ciclo de vida.
func (img *Image) Status() Status {
	return Status(img.status.Load())
}

// SetStatus força uma transição de estado, registrando o instante da
// mudança. Os caminhos normais (Activate, IfActiveGoInactive, OnTimeEvent)
// já transicionam sozinhos; isto existe para o conductor de alto nível
// poder encerrar uma imagem administrativamente.
func (img *Image) SetStatus(s Status) {
	img.transitionTo(s)
}

// TimeOfLastStateChange é um setter reservado na interface externa da
// imagem. Preservado intencionalmente como no-op: as transições de estado
// já registram o instante internamente em transitionTo, e nenhum colaborador
// externo tem motivo legítimo para sobrescrever esse relógio. Mantido para
// compatibilidade de interface com versões futuras do protocolo de
// administração.
func (img *Image) TimeOfLastStateChange(nanos int64) {}

// HasReachedEndOfLife indica que a imagem completou LINGER e pode ser
// removida do registro do driver e ter seus recursos liberados.
func (img *Image) HasReachedEndOfLife() bool {
	return img.reachedEndOfLife.Load()
}

// Close libera os recursos da imagem. Idempotente.
func (img *Image) Close() {
	img.closeOnce.Do(func() {
		img.hwmPosition.Close()
		img.rebuildPosition.Close()
		for _, sub := range img.loadSubscribers() {
			sub.Close()
		}
		img.log.Close()
	})
}
