// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package channelendpoint implementa o transporte de um canal de recepção:
// o endpoint UDP (unicast ou multicast) que envia feedback ao publicador e
// desconecta uma imagem do fan-out de recepção do driver quando ela atinge
// fim de vida.
package channelendpoint

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"

	"github.com/nishisan-dev/mediadriver/internal/flowcontrol"
	"github.com/nishisan-dev/mediadriver/internal/image"
	"github.com/nishisan-dev/mediadriver/internal/protocol"
)

// Dispatcher é chamado por ImageEndpoint.RemovePublicationImage quando uma
// imagem deve ser removida do fan-out de recepção (fim de vida alcançado).
// Implementado por internal/driver; a interface vive aqui para que este
// pacote não dependa do driver de alto nível.
type Dispatcher interface {
	RemoveImage(sessionID, streamID int32)
}

// Endpoint possui o socket UDP de envio de um canal (unicast ou multicast) e
// fabrica um ImageEndpoint por imagem, já que cada imagem tem seu próprio
// endereço de controle de publicador mas todas compartilham o mesmo socket
// de saída.
type Endpoint struct {
	uriString string
	conn      *net.UDPConn
	logger    *slog.Logger

	// feedbackBytesPerSec limita o tráfego de feedback (Status Messages e
	// NAKs) de todas as imagens do canal; 0 desabilita o pacing. Vem de
	// config.FlowControlConfig.FeedbackRateLimitRaw.
	feedbackBytesPerSec int64
}

// NewUnicastEndpoint cria um Endpoint cujo socket UDP recebe dados no
// endereço local informado e envia feedback sem se vincular a nenhum
// endereço remoto fixo — cada datagrama de feedback é endereçado
// individualmente pelo ImageEndpoint que o envia.
func NewUnicastEndpoint(uriString string, feedbackBytesPerSec int64, logger *slog.Logger) (*Endpoint, error) {
	laddr, err := net.ResolveUDPAddr("udp", strings.TrimPrefix(uriString, "udp://"))
	if err != nil {
		return nil, fmt.Errorf("channelendpoint: resolving unicast listen address %q: %w", uriString, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("channelendpoint: opening unicast socket: %w", err)
	}
	return &Endpoint{uriString: uriString, conn: conn, logger: logger, feedbackBytesPerSec: feedbackBytesPerSec}, nil
}

// NewMulticastEndpoint cria um Endpoint cujo socket de envio está associado a
// uma interface multicast específica (ifaceName vazio usa a interface padrão
// do sistema) — necessário quando o canal é um grupo multicast e o feedback
// de status/NAK precisa sair pela mesma interface física por onde os dados
// chegam.
func NewMulticastEndpoint(uriString string, group *net.UDPAddr, ifaceName string, feedbackBytesPerSec int64, logger *slog.Logger) (*Endpoint, error) {
	var iface *net.Interface
	if ifaceName != "" {
		found, err := net.InterfaceByName(ifaceName)
		if err != nil {
			return nil, fmt.Errorf("channelendpoint: resolving multicast interface %q: %w", ifaceName, err)
		}
		iface = found
	}

	conn, err := net.ListenMulticastUDP("udp", iface, group)
	if err != nil {
		return nil, fmt.Errorf("channelendpoint: opening multicast socket: %w", err)
	}
	return &Endpoint{uriString: uriString, conn: conn, logger: logger, feedbackBytesPerSec: feedbackBytesPerSec}, nil
}

// OriginalURIString retorna a string de URI do canal tal como configurada
// pelo operador.
func (e *Endpoint) OriginalURIString() string {
	return e.uriString
}

// Close libera o socket UDP subjacente. Compartilhado por todas as imagens
// do canal; fechado pelo driver ao desligar o canal inteiro, não por imagem
// individual.
func (e *Endpoint) Close() error {
	return e.conn.Close()
}

// ReadPacket lê um datagrama do socket de recepção deste canal, bloqueando
// até a chegada de um pacote ou o fechamento do socket. Chamado pela
// goroutine de ingestão de rede do processo, que repassa o resultado a
// internal/driver.Driver.HandlePacket.
func (e *Endpoint) ReadPacket(buf []byte) (int, *net.UDPAddr, error) {
	return e.conn.ReadFromUDP(buf)
}

// NewImageEndpoint vincula este Endpoint compartilhado ao endereço de
// controle e identidade (sessionID, streamID) de uma imagem específica,
// satisfazendo internal/image.ChannelEndpoint para essa imagem. O caminho de
// envio de feedback passa por um ThrottledSender quando o canal tem um
// limite de taxa de feedback configurado (bypass quando não tem).
func (e *Endpoint) NewImageEndpoint(controlAddr *net.UDPAddr, sessionID, streamID int32, dispatcher Dispatcher) *ImageEndpoint {
	sender := flowcontrol.NewThrottledSender(context.Background(),
		udpAddrWriter{conn: e.conn, addr: controlAddr}, e.feedbackBytesPerSec)
	return &ImageEndpoint{
		endpoint:    e,
		controlAddr: controlAddr,
		sessionID:   sessionID,
		streamID:    streamID,
		dispatcher:  dispatcher,
		sender:      sender,
	}
}

// udpAddrWriter adapta o socket compartilhado do canal a um io.Writer fixado
// no endereço de controle de um publicador, para composição com
// flowcontrol.ThrottledSender.
type udpAddrWriter struct {
	conn *net.UDPConn
	addr *net.UDPAddr
}

func (w udpAddrWriter) Write(p []byte) (int, error) {
	return w.conn.WriteToUDP(p, w.addr)
}

// ImageEndpoint adapta o Endpoint de canal compartilhado à interface
// image.ChannelEndpoint de uma imagem específica: conhece o endereço de
// controle do publicador dessa imagem e a identidade a repassar ao
// Dispatcher na remoção.
type ImageEndpoint struct {
	endpoint    *Endpoint
	controlAddr *net.UDPAddr
	sessionID   int32
	streamID    int32
	dispatcher  Dispatcher
	sender      io.Writer
}

// SendStatusMessage envia uma Status Message UDP ao endereço de controle do
// publicador desta imagem. Falhas de envio são logadas e engolidas: o
// transporte trata suas próprias falhas e a imagem não toma ação de
// recuperação.
func (ie *ImageEndpoint) SendStatusMessage(sm protocol.StatusMessage) {
	var buf bytes.Buffer
	buf.Grow(protocol.StatusMessageLength)
	if err := protocol.WriteStatusMessage(&buf, sm); err != nil {
		ie.endpoint.logger.Error("encoding status message", "error", err)
		return
	}
	if _, err := ie.sender.Write(buf.Bytes()); err != nil {
		ie.endpoint.logger.Debug("sending status message", "error", err, "addr", ie.controlAddr)
	}
}

// SendNakMessage envia um datagrama NAK UDP ao endereço de controle do
// publicador desta imagem.
func (ie *ImageEndpoint) SendNakMessage(nak protocol.NakMessage) {
	var buf bytes.Buffer
	buf.Grow(protocol.NakMessageLength)
	if err := protocol.WriteNakMessage(&buf, nak); err != nil {
		ie.endpoint.logger.Error("encoding nak message", "error", err)
		return
	}
	if _, err := ie.sender.Write(buf.Bytes()); err != nil {
		ie.endpoint.logger.Debug("sending nak message", "error", err, "addr", ie.controlAddr)
	}
}

// RemovePublicationImage desconecta img do fan-out de recepção do driver.
// Chamado pelo conductor, uma única vez, depois que a imagem atinge fim de
// vida — ver internal/image.Image.HasReachedEndOfLife. img não é usado
// diretamente: a identidade (sessionID, streamID) já capturada na construção
// do ImageEndpoint é o que o Dispatcher precisa para localizar a imagem em
// seu próprio registro.
func (ie *ImageEndpoint) RemovePublicationImage(img *image.Image) {
	if ie.dispatcher != nil {
		ie.dispatcher.RemoveImage(ie.sessionID, ie.streamID)
	}
}

// OriginalURIString delega ao Endpoint de canal compartilhado.
func (ie *ImageEndpoint) OriginalURIString() string {
	return ie.endpoint.OriginalURIString()
}
