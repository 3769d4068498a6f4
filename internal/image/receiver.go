// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package image

import (
	"time"

	"github.com/nishisan-dev/mediadriver/internal/logbuffer"
	"github.com/nishisan-dev/mediadriver/internal/protocol"
)

// InsertPacket aplica um datagrama recebido da rede ao term buffer correto,
// após validar que sua posição cai dentro da janela de recepção corrente.
// Retorna o número de bytes consumidos do datagrama (sempre length — um
// datagrama fora da janela é descartado, não parcialmente aplicado).
//
// Chamado exclusivamente pela thread do receiver.
func (img *Image) InsertPacket(termID, termOffset int32, src []byte, length int32) int32 {
	packetPosition := logbuffer.ComputePosition(termID, termOffset, img.InitialTermID, img.shift)
	heartbeat := protocol.IsHeartbeat(src, length)

	proposedPosition := packetPosition + int64(length)
	if heartbeat {
		proposedPosition = packetPosition
	}

	windowPosition := img.lastStatusMessagePosition.Load()
	if packetPosition < windowPosition {
		img.counters.IncFlowControlUnderRuns()
		return length
	}
	if proposedPosition > windowPosition+int64(img.CurrentWindowLength) {
		img.counters.IncFlowControlOverRuns()
		return length
	}

	if heartbeat {
		img.counters.IncHeartbeatsReceived()
	} else {
		term := img.log.Term(logbuffer.IndexOf(packetPosition, img.shift))
		logbuffer.Insert(term, termOffset, src, length)
	}

	img.lastPacketTimestamp.Store(time.Now().UnixNano())
	img.hwmPosition.ProposeMaxOrdered(proposedPosition)
	return length
}

// SendPendingStatusMessage emite uma Status Message ao publicador se a
// posição anunciada avançou desde a última emissão, ou se smTimeout decorreu
// sem nenhuma emissão (keep-alive). Retorna 1 se uma mensagem foi enviada, 0
// caso contrário. Não faz nada enquanto a imagem não estiver ACTIVE.
//
// Chamado periodicamente pela thread do receiver.
func (img *Image) SendPendingStatusMessage(smTimeout time.Duration) int32 {
	if img.Status() != StatusActive {
		return 0
	}

	now := time.Now()
	smPosition := img.newStatusMessagePosition.Load()
	lastPosition := img.lastStatusMessagePosition.Load()
	lastTimestamp := img.lastStatusMessageTimestamp.Load()

	if smPosition == lastPosition && now.UnixNano() <= lastTimestamp+int64(smTimeout) {
		return 0
	}

	img.endpoint.SendStatusMessage(protocol.StatusMessage{
		SessionID:            img.SessionID,
		StreamID:             img.StreamID,
		TermID:               logbuffer.ComputeTermID(smPosition, img.InitialTermID, img.shift),
		TermOffset:           logbuffer.ComputeTermOffset(smPosition, img.TermLengthMask),
		ReceiverWindowLength: img.CurrentWindowLength,
	})

	img.lastStatusMessageTimestamp.Store(now.UnixNano())
	img.lastStatusMessagePosition.Store(smPosition)
	img.counters.IncStatusMessagesSent()
	return 1
}

// ProcessPendingLoss verifica se o conductor publicou uma nova faixa de
// perda desde a última verificação e, em caso afirmativo, envia o NAK
// correspondente. Lê o payload protegido pelo seqlock de handoff de perda
// (beginLossChange/endLossChange) somente depois de confirmar que a versão
// não mudou no meio da leitura — se mudou, o conductor está no meio de outra
// atualização e esta chamada tenta novamente no próximo ciclo. Retorna 1 se
// um NAK foi enviado, 0 caso contrário.
//
// Chamado periodicamente pela thread do receiver.
func (img *Image) ProcessPendingLoss() int32 {
	changeNumber := img.endLossChange.Load()
	if changeNumber == img.lastChangeNumber {
		return 0
	}

	termID := img.lossTermID
	termOffset := img.lossTermOffset
	length := img.lossLength

	if img.beginLossChange.Load() != changeNumber {
		return 0
	}

	img.endpoint.SendNakMessage(protocol.NakMessage{
		SessionID:  img.SessionID,
		StreamID:   img.StreamID,
		TermID:     termID,
		TermOffset: termOffset,
		Length:     length,
	})

	img.lastChangeNumber = changeNumber
	img.counters.IncNakMessagesSent()
	img.logger.Debug("nak sent", "termId", termID, "termOffset", termOffset, "length", length)
	return 1
}

// CheckForActivity reporta se um pacote ou heartbeat chegou dentro do
// tempo de vida configurado da imagem.
func (img *Image) CheckForActivity() bool {
	lastPacket := time.Unix(0, img.lastPacketTimestamp.Load())
	return time.Since(lastPacket) <= img.ImageLivenessTimeout
}

// IfActiveGoInactive move a imagem de ACTIVE para INACTIVE se o tráfego
// cessou por mais que o tempo de vida configurado.
//
// Chamado periodicamente pela thread do receiver.
func (img *Image) IfActiveGoInactive() {
	if img.Status() == StatusActive && !img.CheckForActivity() {
		img.transitionTo(StatusInactive)
	}
}
