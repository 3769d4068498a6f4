// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package driver implementa o condutor de alto nível de um canal de
// recepção: o registro de imagens de publicação por (sessionId, streamId),
// as duas goroutines de tick não-bloqueantes (receiver e conductor) e o
// reaper que fecha uma imagem exatamente uma vez ao atingir fim de vida.
package driver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nishisan-dev/mediadriver/internal/channelendpoint"
	"github.com/nishisan-dev/mediadriver/internal/counters"
	"github.com/nishisan-dev/mediadriver/internal/image"
	"github.com/nishisan-dev/mediadriver/internal/logbuffer"
	"github.com/nishisan-dev/mediadriver/internal/logging"
	"github.com/nishisan-dev/mediadriver/internal/lossdetect"
	"github.com/nishisan-dev/mediadriver/internal/protocol"
)

// imageKey identifica uma imagem de publicação por sessão e stream dentro de
// um canal; o canal em si é implícito no Driver que a possui (um Driver por
// canal de recepção).
type imageKey struct {
	sessionID int32
	streamID  int32
}

// Tuning agrupa os parâmetros de tick e feedback que não pertencem à
// identidade de uma imagem individual — vindos de internal/config.DriverConfig.
type Tuning struct {
	ReceiverTickInterval   time.Duration
	ConductorTickInterval  time.Duration
	StatusMessageTimeout   time.Duration
	LossFeedbackDelay      time.Duration
	TermLength             int32
	ConfiguredWindowLength int32
	ImageLivenessTimeout   time.Duration
}

// Driver possui o registro de imagens de publicação de um canal de recepção
// e as duas goroutines de tick que as avançam. Não há terceira goroutine para
// subscribers: eles são externos ao Driver e só avançam sua própria posição.
type Driver struct {
	tuning   Tuning
	counters *counters.Registry
	logger   *slog.Logger
	endpoint *channelendpoint.Endpoint

	mu     sync.RWMutex
	images map[imageKey]*trackedImage

	correlationSeq atomic.Int64
}

type trackedImage struct {
	img      *image.Image
	imageEnd *channelendpoint.ImageEndpoint
}

// New cria um Driver vazio para um canal já vinculado ao endpoint de envio
// informado. O endpoint é compartilhado por todas as imagens criadas por este
// Driver — ver channelendpoint.Endpoint.
func New(endpoint *channelendpoint.Endpoint, reg *counters.Registry, tuning Tuning, logger *slog.Logger) *Driver {
	return &Driver{
		tuning:   tuning,
		counters: reg,
		logger:   logger,
		endpoint: endpoint,
		images:   make(map[imageKey]*trackedImage),
	}
}

// GetOrCreateImage retorna a imagem existente para (sessionID, streamID) ou
// cria uma nova a partir do primeiro frame observado dessa sessão, já
// promovida a ACTIVE — a chegada do primeiro frame válido é a confirmação de
// setup que inicia o fluxo.
func (d *Driver) GetOrCreateImage(sessionID, streamID, initialTermID, initialTermOffset int32, controlAddr, sourceAddr *net.UDPAddr, correlationID int64) *image.Image {
	key := imageKey{sessionID, streamID}

	d.mu.RLock()
	existing, ok := d.images[key]
	d.mu.RUnlock()
	if ok {
		return existing.img
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.images[key]; ok {
		return existing.img
	}

	cfg := image.Config{
		CorrelationID:          correlationID,
		SessionID:              sessionID,
		StreamID:               streamID,
		InitialTermID:          initialTermID,
		InitialTermOffset:      initialTermOffset,
		TermLength:             d.tuning.TermLength,
		ConfiguredWindowLength: d.tuning.ConfiguredWindowLength,
		ImageLivenessTimeout:   d.tuning.ImageLivenessTimeout,
		ControlAddress:         controlAddr,
		SourceAddress:          sourceAddr,
	}

	imgEnd := d.endpoint.NewImageEndpoint(controlAddr, sessionID, streamID, removeImageAdapter{d})
	log := logbuffer.NewLogBuffers(d.tuning.TermLength)
	scanner := lossdetect.NewScanner(d.tuning.LossFeedbackDelay)
	imgLogger := logging.ForImage(d.logger, sessionID, streamID, correlationID)

	img := image.NewImage(cfg, imgEnd, log, d.counters, scanner, imgLogger)
	img.Activate()

	d.images[key] = &trackedImage{img: img, imageEnd: imgEnd}
	imgLogger.Info("publication image created", "initialTermId", initialTermID)

	return img
}

// removeImageAdapter satisfaz channelendpoint.Dispatcher delegando ao Driver
// que a criou — usado como o Dispatcher repassado a cada ImageEndpoint.
type removeImageAdapter struct{ d *Driver }

func (a removeImageAdapter) RemoveImage(sessionID, streamID int32) {
	a.d.RemoveImage(sessionID, streamID)
}

// RemoveImage tira uma imagem do registro sem fechá-la — fechar é
// responsabilidade do reaper, que só o faz depois de HasReachedEndOfLife.
// Exposta separadamente porque o channel endpoint a chama, via Dispatcher,
// quando reap desconecta a imagem do fan-out de recepção.
func (d *Driver) RemoveImage(sessionID, streamID int32) {
	d.mu.Lock()
	delete(d.images, imageKey{sessionID, streamID})
	d.mu.Unlock()
}

// snapshotImages retorna uma cópia estável da lista de imagens rastreadas
// para iteração pelas goroutines de tick, sem segurar o lock do registro
// durante o tick de cada imagem.
func (d *Driver) snapshotImages() []*trackedImage {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*trackedImage, 0, len(d.images))
	for _, ti := range d.images {
		out = append(out, ti)
	}
	return out
}

// ImageCount retorna o número de imagens atualmente rastreadas.
func (d *Driver) ImageCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.images)
}

// Images retorna as imagens atualmente rastreadas, para consumo pela
// superfície de administração.
func (d *Driver) Images() []*image.Image {
	snap := d.snapshotImages()
	out := make([]*image.Image, len(snap))
	for i, ti := range snap {
		out[i] = ti.img
	}
	return out
}

// HandlePacket decodifica o cabeçalho de frame de dados de buf e aplica o
// frame à imagem correspondente, criando-a se for o primeiro frame dessa
// (sessionID, streamID). Chamado pela goroutine de ingestão de rede (ver
// cmd/imaged) a cada datagrama de dados recebido no socket de recepção do
// canal, não por RunReceiver.
//
// O comprimento repassado a InsertPacket é o do datagrama recebido, não o
// campo de comprimento do cabeçalho: em um heartbeat esse campo é zero
// mesmo com o datagrama ocupando um cabeçalho inteiro.
//
// Uma imagem nova é ancorada na posição do primeiro frame observado — um
// receptor que entra tarde em um stream multicast já em andamento vê seu
// primeiro frame em um offset qualquer do term, e o prefixo nunca enviado a
// esta sessão não pode ser tratado como perda a pedir de volta.
func (d *Driver) HandlePacket(buf []byte, sourceAddr, controlAddr *net.UDPAddr, initialTermID int32) error {
	_, _, _, _, termOffset, sessionID, streamID, termID, _, err := protocol.DecodeDataFrameHeader(buf)
	if err != nil {
		return fmt.Errorf("driver: decoding frame header: %w", err)
	}

	img := d.GetOrCreateImage(sessionID, streamID, initialTermID, termOffset, controlAddr, sourceAddr, d.correlationSeq.Add(1))
	img.InsertPacket(termID, termOffset, buf, int32(len(buf)))
	return nil
}

// RunReceiver executa o tick não-bloqueante do receiver de todas as imagens
// do canal a cada ReceiverTickInterval, até que ctx seja cancelado: emissão
// de status pendente, processamento de perda pendente e verificação de
// atividade. A leitura de pacotes de rede em si é conduzida por um caller
// externo via HandlePacket — RunReceiver só governa os ticks periódicos que
// não dependem da chegada de um datagrama.
func (d *Driver) RunReceiver(ctx context.Context) {
	ticker := time.NewTicker(d.tuning.ReceiverTickInterval)
	defer ticker.Stop()

	d.logger.Info("receiver tick loop started", "interval", d.tuning.ReceiverTickInterval)
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("receiver tick loop stopped")
			return
		case <-ticker.C:
			for _, ti := range d.snapshotImages() {
				ti.img.SendPendingStatusMessage(d.tuning.StatusMessageTimeout)
				ti.img.ProcessPendingLoss()
				ti.img.IfActiveGoInactive()
			}
		}
	}
}

// RunConductor executa o tick não-bloqueante do conductor de todas as
// imagens do canal a cada ConductorTickInterval, até que ctx seja cancelado:
// avanço de reconstrução, transições de ciclo de vida e reaping de imagens
// que atingiram fim de vida.
func (d *Driver) RunConductor(ctx context.Context) {
	ticker := time.NewTicker(d.tuning.ConductorTickInterval)
	defer ticker.Stop()

	d.logger.Info("conductor tick loop started", "interval", d.tuning.ConductorTickInterval)
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("conductor tick loop stopped")
			return
		case <-ticker.C:
			d.conductorTick()
		}
	}
}

func (d *Driver) conductorTick() {
	for _, ti := range d.snapshotImages() {
		ti.img.TrackRebuild()
		ti.img.OnTimeEvent()

		if ti.img.HasReachedEndOfLife() {
			d.reap(ti)
		}
	}
}

// reap remove uma imagem do fan-out (se ainda não removida) e fecha seus
// recursos exatamente uma vez — Image.Close já é idempotente, mas reap só é
// chamado uma única vez por imagem porque RemoveImage já a retirou do
// registro que conductorTick percorre.
func (d *Driver) reap(ti *trackedImage) {
	d.logger.Info("image reached end of life, reaping",
		"sessionId", ti.img.SessionID, "streamId", ti.img.StreamID)
	ti.imageEnd.RemovePublicationImage(ti.img)
	ti.img.Close()
}
