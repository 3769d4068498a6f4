// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package image

import (
	"time"

	"github.com/nishisan-dev/mediadriver/internal/counters"
	"github.com/nishisan-dev/mediadriver/internal/logbuffer"
)

// TrackRebuild avança a posição de reconstrução contígua da imagem e, ao
// ganhar terreno suficiente, a posição anunciada aos publicadores e o
// ponteiro de limpeza do buffer. Delega a varredura de gaps ao Scanner
// injetado na construção, que dispara onLossDetected para qualquer gap que
// persista além de seu atraso de feedback configurado.
//
// Chamado em todo tick pela thread do conductor.
func (img *Image) TrackRebuild() int32 {
	subs := img.loadSubscribers()
	minSub, maxSub, any := foldPositions(subs)

	if any {
		threshold := img.newStatusMessagePosition.Load() + int64(img.CurrentGain)
		if minSub > threshold {
			img.newStatusMessagePosition.Store(minSub)
			img.cleanBufferTo(minSub - int64(img.log.TermLength()))
		}
	}

	rebuildPosition := img.rebuildPosition.Get()
	if any && maxSub > rebuildPosition {
		rebuildPosition = maxSub
	}

	hwm := img.hwmPosition.GetVolatile()
	termOffset := logbuffer.ComputeTermOffset(rebuildPosition, img.TermLengthMask)
	termStart := rebuildPosition - int64(termOffset)
	term := img.log.Term(logbuffer.IndexOf(rebuildPosition, img.shift))

	newOffset, workCount := img.scanner.Scan(
		term, rebuildPosition, hwm, time.Now(),
		img.TermLengthMask, img.shift, img.InitialTermID,
		img.onLossDetected,
	)

	img.rebuildPosition.ProposeMaxOrdered(termStart + int64(newOffset))
	return workCount
}

// cleanBufferTo zera o term buffer entre a posição de limpeza corrente e
// target, nunca ultrapassando o fim do term em que a limpeza está
// atualmente posicionada. Isso mantém o trabalho por chamada limitado: o
// avanço através de múltiplos terms acontece ao longo de chamadas
// sucessivas de trackRebuild, nunca em uma única passada.
func (img *Image) cleanBufferTo(target int64) {
	if target < 0 {
		target = 0
	}

	clean := img.cleanPosition.Load()
	if target <= clean {
		return
	}

	termOffset := logbuffer.ComputeTermOffset(clean, img.TermLengthMask)
	termBegin := clean - int64(termOffset)
	termEnd := termBegin + int64(img.log.TermLength())

	upper := target
	if upper > termEnd {
		upper = termEnd
	}
	if upper <= clean {
		return
	}

	term := img.log.Term(logbuffer.IndexOf(clean, img.shift))
	logbuffer.ZeroRange(term, termOffset, int32(upper-termBegin))
	img.cleanPosition.Store(upper)
}

// onLossDetected é o GapHandler passado ao Scanner. Publica a faixa perdida
// para o receiver através do protocolo de handoff de perda: a versão
// beginLossChange avança primeiro, depois o payload em memória comum é
// escrito, e só então endLossChange é publicado igual a beginLossChange —
// um leitor que observe endLossChange == beginLossChange sabe que o payload
// que acabou de ler é consistente com essa versão.
func (img *Image) onLossDetected(termID, termOffset, length int32) {
	changeNumber := img.beginLossChange.Load() + 1
	img.beginLossChange.Store(changeNumber)

	img.lossTermID = termID
	img.lossTermOffset = termOffset
	img.lossLength = length

	img.endLossChange.Store(changeNumber)
}

// OnTimeEvent avança o estado do ciclo de vida da imagem conforme o tempo
// decorrido desde a última transição: de INACTIVE para LINGER quando todos
// os assinantes drenaram o buffer reconstruído ou o tempo de vida expirou, e
// de LINGER ao fim de vida quando o período de graça também expira.
//
// Chamado em todo tick pela thread do conductor.
func (img *Image) OnTimeEvent() {
	now := time.Now()
	switch img.Status() {
	case StatusInactive:
		if img.IsDrained() || now.Sub(img.lastStateChangeTime()) > img.ImageLivenessTimeout {
			img.transitionTo(StatusLinger)
		}
	case StatusLinger:
		if now.Sub(img.lastStateChangeTime()) > img.ImageLivenessTimeout && !img.reachedEndOfLife.Load() {
			img.reachedEndOfLife.Store(true)
			img.logger.Info("image reached end of life")
		}
	}
}

// IsDrained reporta se todos os assinantes consumiram até a posição de
// reconstrução corrente. Uma imagem sem assinantes é considerada drenada
// vacuamente — não há ninguém para esperar.
func (img *Image) IsDrained() bool {
	subs := img.loadSubscribers()
	if len(subs) == 0 {
		return true
	}

	rebuildPosition := img.rebuildPosition.Get()
	for _, sub := range subs {
		if sub.GetVolatile() < rebuildPosition {
			return false
		}
	}
	return true
}

func foldPositions(subs []*counters.Position) (min, max int64, any bool) {
	if len(subs) == 0 {
		return 0, 0, false
	}
	min = subs[0].GetVolatile()
	max = min
	for _, sub := range subs[1:] {
		v := sub.GetVolatile()
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max, true
}
