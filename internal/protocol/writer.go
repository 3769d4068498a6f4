// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// WriteStatusMessage escreve um datagrama Status Message.
// Formato: [Magic "SM01" 4B] [SessionID int32] [StreamID int32] [TermID int32]
// [TermOffset int32] [ReceiverWindowLength int32] [Flags 1B]
func WriteStatusMessage(w io.Writer, sm StatusMessage) error {
	if _, err := w.Write(MagicStatusMessage[:]); err != nil {
		return fmt.Errorf("writing status message magic: %w", err)
	}
	fields := []int32{sm.SessionID, sm.StreamID, sm.TermID, sm.TermOffset, sm.ReceiverWindowLength}
	for _, f := range fields {
		if err := binary.Write(w, binary.BigEndian, f); err != nil {
			return fmt.Errorf("writing status message field: %w", err)
		}
	}
	if _, err := w.Write([]byte{sm.Flags}); err != nil {
		return fmt.Errorf("writing status message flags: %w", err)
	}
	return nil
}

// WriteNakMessage escreve um datagrama NAK.
// Formato: [Magic "NAK1" 4B] [SessionID int32] [StreamID int32] [TermID int32]
// [TermOffset int32] [Length int32]
func WriteNakMessage(w io.Writer, nak NakMessage) error {
	if _, err := w.Write(MagicNak[:]); err != nil {
		return fmt.Errorf("writing nak magic: %w", err)
	}
	fields := []int32{nak.SessionID, nak.StreamID, nak.TermID, nak.TermOffset, nak.Length}
	for _, f := range fields {
		if err := binary.Write(w, binary.BigEndian, f); err != nil {
			return fmt.Errorf("writing nak field: %w", err)
		}
	}
	return nil
}
