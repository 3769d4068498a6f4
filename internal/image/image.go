// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package image implementa o estado do lado receptor de uma imagem de
// publicação: a reconstrução de um stream de bytes ordenado a partir de
// datagramas não confiáveis, o rastreio da janela de controle de fluxo por
// assinante, a detecção e pedido de retransmissão de faixas perdidas, a
// emissão periódica de status e o ciclo de vida do primeiro pacote até a
// coleta.
//
// Três atores concorrentes operam sobre uma Image sem locks: o receiver
// (ingresso de rede e feedback periódico), o conductor (ciclo de vida,
// despacho de perda, limpeza de buffer) e os subscribers (consumidores que
// apenas avançam sua própria posição de leitura). Os campos são agrupados
// por ator que os escreve, cada grupo isolado em sua própria cacheline.
package image

import (
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nishisan-dev/mediadriver/internal/counters"
	"github.com/nishisan-dev/mediadriver/internal/flowcontrol"
	"github.com/nishisan-dev/mediadriver/internal/logbuffer"
	"github.com/nishisan-dev/mediadriver/internal/lossdetect"
	"github.com/nishisan-dev/mediadriver/internal/protocol"
)

// cachePad isola os campos quentes de um grupo dos de um grupo vizinho,
// evitando false sharing entre threads com papéis diferentes escrevendo
// campos adjacentes na mesma linha de cache.
type cachePad [7]int64

// ChannelEndpoint é o colaborador externo usado para enviar feedback ao
// publicador e desconectar a imagem do fan-out de recepção. Implementado por
// internal/channelendpoint; a interface vive aqui para que este pacote não
// dependa de um transporte concreto.
type ChannelEndpoint interface {
	SendStatusMessage(sm protocol.StatusMessage)
	SendNakMessage(nak protocol.NakMessage)
	RemovePublicationImage(img *Image)
	OriginalURIString() string
}

// Config contém os parâmetros imutáveis de identidade de uma imagem de
// publicação, fixados na construção.
type Config struct {
	CorrelationID          int64
	SessionID              int32
	StreamID               int32
	InitialTermID          int32
	InitialTermOffset      int32
	TermLength             int32
	ConfiguredWindowLength int32
	ImageLivenessTimeout   time.Duration
	ControlAddress         *net.UDPAddr
	SourceAddress          *net.UDPAddr
}

// Image é o estado do lado receptor de um fluxo (channel, session, stream).
type Image struct {
	// Identidade, imutável após a construção.
	CorrelationID        int64
	SessionID            int32
	StreamID             int32
	InitialTermID        int32
	TermLengthMask       int64
	CurrentWindowLength  int32
	CurrentGain          int32
	ImageLivenessTimeout time.Duration
	ControlAddress       *net.UDPAddr
	SourceAddress        *net.UDPAddr

	shift    uint32
	endpoint ChannelEndpoint
	log      *logbuffer.LogBuffers
	counters *counters.Registry
	scanner  *lossdetect.Scanner
	logger   *slog.Logger

	_ cachePad
	// Receiver-hot: escrito apenas pela thread do receiver.
	lastPacketTimestamp        atomic.Int64
	lastStatusMessageTimestamp atomic.Int64
	lastStatusMessagePosition  atomic.Int64
	_                          cachePad

	// Conductor-hot: escrito apenas pela thread do conductor.
	_             cachePad
	cleanPosition atomic.Int64
	_             cachePad

	// Publicado entre threads: escrito pelo conductor, lido pelo receiver.
	_                        cachePad
	newStatusMessagePosition atomic.Int64
	_                        cachePad

	// Protocolo de handoff de perda (seqlock): versões atômicas guardando
	// um payload em memória comum. Apenas o conductor escreve o payload;
	// apenas o receiver o lê, e só após confirmar a versão via endLossChange
	// e beginLossChange (ver processPendingLoss em receiver.go).
	_               cachePad
	beginLossChange atomic.Int64
	endLossChange   atomic.Int64
	lossTermID      int32
	lossTermOffset  int32
	lossLength      int32
	_               cachePad

	// lastChangeNumber é local ao receiver: nenhuma outra thread o acessa.
	lastChangeNumber int64

	hwmPosition     *counters.Position
	rebuildPosition *counters.Position

	status                 atomic.Int32
	timeOfLastStatusChange atomic.Int64
	reachedEndOfLife       atomic.Bool
	closeOnce              sync.Once

	subscribers atomic.Pointer[[]*counters.Position]
}

// NewImage constrói uma Image em estado INIT. A precondição de term length
// ser potência de dois é responsabilidade do chamador (e verificada, em
// pânico, por logbuffer.NewLogBuffers); se a janela configurada não couber
// no term, ela é silenciosamente ajustada para termLength/2 por
// flowcontrol.WindowLength.
func NewImage(cfg Config, endpoint ChannelEndpoint, log *logbuffer.LogBuffers, reg *counters.Registry, scanner *lossdetect.Scanner, logger *slog.Logger) *Image {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	shift := logbuffer.PositionBitsToShift(cfg.TermLength)
	mask := logbuffer.TermLengthMask(cfg.TermLength)
	windowLength := flowcontrol.WindowLength(cfg.TermLength, cfg.ConfiguredWindowLength)
	gain := flowcontrol.Gain(windowLength)
	initialPosition := logbuffer.ComputePosition(cfg.InitialTermID, cfg.InitialTermOffset, cfg.InitialTermID, shift)

	img := &Image{
		CorrelationID:        cfg.CorrelationID,
		SessionID:            cfg.SessionID,
		StreamID:             cfg.StreamID,
		InitialTermID:        cfg.InitialTermID,
		TermLengthMask:       mask,
		CurrentWindowLength:  windowLength,
		CurrentGain:          gain,
		ImageLivenessTimeout: cfg.ImageLivenessTimeout,
		ControlAddress:       cfg.ControlAddress,
		SourceAddress:        cfg.SourceAddress,
		shift:                shift,
		endpoint:             endpoint,
		log:                  log,
		counters:             reg,
		scanner:              scanner,
		logger:               logger,
		lastChangeNumber:     -1,
	}

	now := time.Now()
	img.lastPacketTimestamp.Store(now.UnixNano())
	img.lastStatusMessagePosition.Store(initialPosition)
	// A primeira mensagem de status, antes do primeiro tick do conductor,
	// anuncia initialPosition-gain-1 (uma janela recém-inicializada, ainda
	// sem nenhum passo de gain consumido).
	img.newStatusMessagePosition.Store(initialPosition - int64(gain) - 1)
	img.cleanPosition.Store(initialPosition)
	img.beginLossChange.Store(-1)
	img.endLossChange.Store(-1)
	img.hwmPosition = counters.NewPosition(initialPosition)
	img.rebuildPosition = counters.NewPosition(initialPosition)
	img.status.Store(int32(StatusInit))
	img.timeOfLastStatusChange.Store(now.UnixNano())

	return img
}

// HwmPosition retorna o contador de posição de alto nível observado.
func (img *Image) HwmPosition() *counters.Position { return img.hwmPosition }

// RebuildPosition retorna o contador de posição contígua reconstruída.
func (img *Image) RebuildPosition() *counters.Position { return img.rebuildPosition }

// Activate promove a imagem de INIT para ACTIVE. Chamado pelo receiver ao
// concluir a configuração inicial da conexão (primeiro frame válido).
func (img *Image) Activate() {
	img.transitionTo(StatusActive)
}

func (img *Image) transitionTo(s Status) {
	from := Status(img.status.Load())
	img.status.Store(int32(s))
	img.timeOfLastStatusChange.Store(time.Now().UnixNano())
	img.logger.Debug("image status change", "from", from.String(), "to", s.String())
}

func (img *Image) lastStateChangeTime() time.Time {
	return time.Unix(0, img.timeOfLastStatusChange.Load())
}

// OnRttMeasurement é um hook reservado para uma futura política de controle
// de congestionamento. No-op.
func (img *Image) OnRttMeasurement(rttNanos int64, receiverID int64) {}
