// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package logbuffer

import "math/bits"

// PartitionCount é o número de term buffers que compõem o log rotativo.
const PartitionCount = 3

// PositionBitsToShift calcula o deslocamento de bits necessário para separar
// term index e term offset de uma posição, a partir do tamanho do term
// (que deve ser uma potência de dois).
func PositionBitsToShift(termLength int32) uint32 {
	return uint32(bits.TrailingZeros32(uint32(termLength)))
}

// ComputePosition converte (termId, termOffset) em uma posição de stream de
// 64 bits relativa a initialTermId.
func ComputePosition(termID, termOffset, initialTermID int32, shift uint32) int64 {
	termCount := int64(termID - initialTermID)
	return (termCount << shift) + int64(termOffset)
}

// ComputeTermOffset extrai o term offset de uma posição.
func ComputeTermOffset(position int64, termLengthMask int64) int32 {
	return int32(position & termLengthMask)
}

// ComputeTermID extrai o term id de uma posição, relativo a initialTermId.
func ComputeTermID(position int64, initialTermID int32, shift uint32) int32 {
	return initialTermID + int32(position>>shift)
}

// IndexOf calcula o índice (0, 1 ou 2) do term buffer responsável por uma
// dada posição dentro do trio rotativo.
func IndexOf(position int64, shift uint32) int {
	termCount := position >> shift
	idx := termCount % PartitionCount
	if idx < 0 {
		idx += PartitionCount
	}
	return int(idx)
}

// TermLengthMask retorna a máscara de bits usada para extrair o term offset
// de uma posição, a partir do tamanho do term.
func TermLengthMask(termLength int32) int64 {
	return int64(termLength) - 1
}
