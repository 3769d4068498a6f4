// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package logbuffer

import (
	"sync/atomic"
	"unsafe"

	"github.com/nishisan-dev/mediadriver/internal/protocol"
)

// Insert copia um frame recebido (cabeçalho + payload, já validado pelo
// receiver) para a posição termOffset do term buffer informado, publicando o
// campo de comprimento de frame por último com semântica de release.
//
// Isso garante que um leitor concorrente que observe FrameLengthVolatile != 0
// em termOffset sempre enxergue um payload completo: todo o resto do frame
// (versão, flags, tipo, offsets, payload) é escrito antes da publicação do
// comprimento.
func Insert(term []byte, termOffset int32, src []byte, length int32) {
	copy(term[int(termOffset)+protocol.VersionFieldOffset:int(termOffset)+int(length)],
		src[protocol.VersionFieldOffset:length])
	FrameLengthOrdered(term, termOffset, length)
}

// FrameLengthOrdered publica o comprimento de um frame com semântica de
// release (ordered store): escritas anteriores ao payload tornam-se visíveis
// a qualquer leitor que observe este comprimento via FrameLengthVolatile.
func FrameLengthOrdered(term []byte, termOffset int32, frameLength int32) {
	ptr := (*int32)(unsafe.Pointer(&term[int(termOffset)+protocol.FrameLengthFieldOffset]))
	atomic.StoreInt32(ptr, frameLength)
}

// FrameLengthVolatile lê o comprimento de um frame com semântica de acquire.
// Um valor zero indica que nenhum frame foi publicado ainda nesse offset.
func FrameLengthVolatile(term []byte, termOffset int32) int32 {
	ptr := (*int32)(unsafe.Pointer(&term[int(termOffset)+protocol.FrameLengthFieldOffset]))
	return atomic.LoadInt32(ptr)
}

// ZeroRange zera term[from:to), usado pelo conductor para manter os term
// buffers em branco à frente do ponteiro de escrita (ver internal/image
// cleanBufferTo): um frame válido é distinguido de espaço não escrito pelo
// comprimento de frame não-zero em seu cabeçalho.
func ZeroRange(term []byte, from, to int32) {
	if to > int32(len(term)) {
		to = int32(len(term))
	}
	if from >= to {
		return
	}
	clear(term[from:to])
}
