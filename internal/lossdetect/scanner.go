// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package lossdetect implementa o detector de perdas padrão consumido pelo
// conductor de uma imagem de publicação (trackRebuild): uma varredura de
// cabeçalhos de frame dentro de um term buffer que distingue gap transiente
// (reordenação tolerada por um atraso de feedback) de gap persistente
// (elegível a NAK).
package lossdetect

import (
	"sync"
	"time"

	"github.com/nishisan-dev/mediadriver/internal/logbuffer"
	"github.com/nishisan-dev/mediadriver/internal/protocol"
)

// GapHandler é chamado exatamente uma vez por gap recém-detectado (ou
// re-detectado após RearmGap), com as coordenadas do range perdido.
type GapHandler func(termID, termOffset, length int32)

// Scanner varre um term buffer a partir da posição de rebuild em busca do
// maior prefixo contíguo de frames válidos, e dispara GapHandler quando um
// gap persiste além do feedbackDelay configurado.
//
// Um único Scanner é compartilhado por uma imagem de publicação ao longo de
// sua vida; a varredura é chamada repetidamente pelo tick do conductor
// (trackRebuild), nunca concorrentemente (thread única do conductor), mas o
// mutex interno protege o estado de gaps contra leitura externa via
// PendingGaps.
type Scanner struct {
	feedbackDelay time.Duration

	mu        sync.Mutex
	firstSeen map[int64]time.Time // posição global do gap -> quando foi visto pela 1a vez
	notified  map[int64]bool
}

// NewScanner cria um Scanner com o atraso de feedback informado: o tempo
// mínimo que um gap deve persistir através de varreduras sucessivas antes de
// ser reportado via GapHandler.
func NewScanner(feedbackDelay time.Duration) *Scanner {
	return &Scanner{
		feedbackDelay: feedbackDelay,
		firstSeen:     make(map[int64]time.Time),
		notified:      make(map[int64]bool),
	}
}

// alignUp arredonda value para cima até o próximo múltiplo de alignment.
func alignUp(value, alignment int32) int32 {
	return (value + alignment - 1) &^ (alignment - 1)
}

// Scan varre term a partir de rebuildPos em busca do maior prefixo contíguo
// de frames publicados, sem ultrapassar hwmPos nem o limite do term buffer.
// Retorna o novo offset de rebuild dentro do term (não uma posição absoluta —
// cabe ao chamador somar o início do term) e quantas chamadas de GapHandler
// foram disparadas nesta varredura.
//
// Um gap é a ausência de um comprimento de frame publicado em um offset que
// já deveria ter sido preenchido, isto é, cuja posição global é menor que
// hwmPos (um pacote mais à frente já chegou, confirmando que este não é
// simplesmente "ainda não chegou na ordem natural"). Gaps que persistem por
// menos que feedbackDelay são tolerados como reordenação transiente.
func (s *Scanner) Scan(
	term []byte,
	rebuildPos, hwmPos int64,
	now time.Time,
	termLengthMask int64,
	shift uint32,
	initialTermID int32,
	onLoss GapHandler,
) (newRebuildOffset int32, workCount int32) {
	offset := logbuffer.ComputeTermOffset(rebuildPos, termLengthMask)
	termStart := rebuildPos - int64(offset)
	termLen := int32(len(term))

	limit := termLen
	if hwmLimit := hwmPos - termStart; hwmLimit < int64(limit) {
		limit = int32(hwmLimit)
	}

	for offset < limit {
		frameLength := logbuffer.FrameLengthVolatile(term, offset)
		if frameLength == 0 {
			position := termStart + int64(offset)
			gapLength := gapExtent(term, offset, limit)
			workCount += s.recordGap(position, now, offset, gapLength, shift, initialTermID, onLoss)
			break
		}

		s.resolveGap(termStart + int64(offset))
		offset += alignUp(frameLength, protocol.FrameAlignment)
	}

	return offset, workCount
}

// gapExtent mede o comprimento de um gap iniciado em offset: avança em passos
// de FrameAlignment até encontrar o próximo frame publicado ou o limite da
// varredura (hwm ou fim do term). O NAK resultante pede exatamente a faixa
// faltante, não o restante do term.
func gapExtent(term []byte, offset, limit int32) int32 {
	end := offset + protocol.FrameAlignment
	for end < limit {
		if logbuffer.FrameLengthVolatile(term, end) != 0 {
			break
		}
		end += protocol.FrameAlignment
	}
	if end > limit {
		end = limit
	}
	return end - offset
}

// recordGap atualiza o estado de um gap detectado em position e, se ele já
// persiste além de feedbackDelay e ainda não foi notificado, invoca onLoss
// exatamente uma vez.
func (s *Scanner) recordGap(position int64, now time.Time, offset, length int32, shift uint32, initialTermID int32, onLoss GapHandler) int32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	first, seen := s.firstSeen[position]
	if !seen {
		s.firstSeen[position] = now
		return 0
	}
	if s.notified[position] {
		return 0
	}
	if now.Sub(first) < s.feedbackDelay {
		return 0
	}

	s.notified[position] = true
	if onLoss != nil {
		termID := logbuffer.ComputeTermID(position, initialTermID, shift)
		onLoss(termID, offset, length)
	}
	return 1
}

// resolveGap limpa o estado de um gap cuja posição acabou de produzir um
// frame válido (chegou fora de ordem, ou a retransmissão foi aplicada).
func (s *Scanner) resolveGap(position int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.firstSeen, position)
	delete(s.notified, position)
}

// RearmGap reabre a janela de espera de um gap após uma retransmissão que
// não surtiu efeito, permitindo um novo NAK após outro feedbackDelay.
func (s *Scanner) RearmGap(position int64, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.firstSeen[position] = now
	delete(s.notified, position)
}

// PendingGaps retorna o número de gaps atualmente rastreados, notificados ou não.
func (s *Scanner) PendingGaps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.firstSeen)
}
