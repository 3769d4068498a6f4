// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ReadStatusMessage lê um datagrama Status Message previamente escrito por
// WriteStatusMessage.
func ReadStatusMessage(r io.Reader) (StatusMessage, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return StatusMessage{}, fmt.Errorf("reading status message magic: %w", err)
	}
	if magic != MagicStatusMessage {
		return StatusMessage{}, ErrInvalidMagic
	}

	var sm StatusMessage
	fields := []*int32{&sm.SessionID, &sm.StreamID, &sm.TermID, &sm.TermOffset, &sm.ReceiverWindowLength}
	for _, f := range fields {
		if err := binary.Read(r, binary.BigEndian, f); err != nil {
			return StatusMessage{}, fmt.Errorf("reading status message field: %w", err)
		}
	}

	var flags [1]byte
	if _, err := io.ReadFull(r, flags[:]); err != nil {
		return StatusMessage{}, fmt.Errorf("reading status message flags: %w", err)
	}
	sm.Flags = flags[0]

	return sm, nil
}

// ReadNakMessage lê um datagrama NAK previamente escrito por WriteNakMessage.
func ReadNakMessage(r io.Reader) (NakMessage, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return NakMessage{}, fmt.Errorf("reading nak magic: %w", err)
	}
	if magic != MagicNak {
		return NakMessage{}, ErrInvalidMagic
	}

	var nak NakMessage
	fields := []*int32{&nak.SessionID, &nak.StreamID, &nak.TermID, &nak.TermOffset, &nak.Length}
	for _, f := range fields {
		if err := binary.Read(r, binary.BigEndian, f); err != nil {
			return NakMessage{}, fmt.Errorf("reading nak field: %w", err)
		}
	}

	return nak, nil
}

// DecodeDataFrameHeader lê os campos do cabeçalho de frame de dados a partir
// de um slice que contém pelo menos HeaderLength bytes. Não copia o payload.
func DecodeDataFrameHeader(buf []byte) (frameLength int32, version byte, flags byte, frameType uint16, termOffset, sessionID, streamID, termID int32, reservedValue int64, err error) {
	if len(buf) < HeaderLength {
		err = ErrTruncatedMessage
		return
	}
	frameLength = int32(binary.BigEndian.Uint32(buf[FrameLengthFieldOffset:]))
	version = buf[VersionFieldOffset]
	flags = buf[FlagsFieldOffset]
	frameType = binary.BigEndian.Uint16(buf[TypeFieldOffset:])
	termOffset = int32(binary.BigEndian.Uint32(buf[TermOffsetFieldOffset:]))
	sessionID = int32(binary.BigEndian.Uint32(buf[SessionIDFieldOffset:]))
	streamID = int32(binary.BigEndian.Uint32(buf[StreamIDFieldOffset:]))
	termID = int32(binary.BigEndian.Uint32(buf[TermIDFieldOffset:]))
	reservedValue = int64(binary.BigEndian.Uint64(buf[ReservedValueFieldOffset:]))
	return
}
