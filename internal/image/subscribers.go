// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package image

import "github.com/nishisan-dev/mediadriver/internal/counters"

// AddSubscriber registra um novo consumidor, identificado por sua posição de
// leitura, para esta imagem. A lista de assinantes é copy-on-write: leituras
// concorrentes (trackRebuild, isDrained) nunca observam uma lista parcial.
//
// Chamado exclusivamente pela thread do conductor.
func (img *Image) AddSubscriber(pos *counters.Position) {
	old := img.loadSubscribers()
	next := make([]*counters.Position, len(old)+1)
	copy(next, old)
	next[len(old)] = pos
	img.subscribers.Store(&next)
}

// RemoveSubscriber remove um consumidor da lista de assinantes desta imagem.
// Não faz nada se pos não estiver presente.
//
// Chamado exclusivamente pela thread do conductor.
func (img *Image) RemoveSubscriber(pos *counters.Position) {
	old := img.loadSubscribers()
	next := make([]*counters.Position, 0, len(old))
	for _, sub := range old {
		if sub != pos {
			next = append(next, sub)
		}
	}
	img.subscribers.Store(&next)
}

// SubscriberCount retorna o número de assinantes ativos desta imagem.
func (img *Image) SubscriberCount() int {
	return len(img.loadSubscribers())
}

func (img *Image) loadSubscribers() []*counters.Position {
	p := img.subscribers.Load()
	if p == nil {
		return nil
	}
	return *p
}
