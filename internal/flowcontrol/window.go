// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package flowcontrol calcula a janela de controle de fluxo de uma imagem de
// publicação e fornece o escritor com limitação de taxa (ThrottledSender)
// que o channel endpoint usa para espaçar o tráfego de feedback quando um
// limite é configurado.
package flowcontrol

// WindowLength calcula o tamanho efetivo da janela de recepção: o menor
// entre metade do term length e a janela configurada pelo operador. Limitar
// a metade do term garante que o publicador nunca precise escrever além do
// term em que o receptor ainda está lendo.
func WindowLength(termLength, configuredWindow int32) int32 {
	half := termLength / 2
	if configuredWindow < half {
		return configuredWindow
	}
	return half
}

// Gain é o limiar de histerese das mensagens de status: a posição anunciada
// só avança depois que o assinante mais lento ganhar este tanto de bytes.
func Gain(windowLength int32) int32 {
	return windowLength / 4
}
