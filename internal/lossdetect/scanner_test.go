// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package lossdetect

import (
	"testing"
	"time"

	"github.com/nishisan-dev/mediadriver/internal/logbuffer"
)

const testTermLength = 1024

func writeFrame(term []byte, offset, length int32) {
	logbuffer.FrameLengthOrdered(term, offset, length)
}

func TestScanner_ContiguousNoGap(t *testing.T) {
	term := make([]byte, testTermLength)
	writeFrame(term, 0, 32)
	writeFrame(term, 32, 32)
	writeFrame(term, 64, 32)

	s := NewScanner(50 * time.Millisecond)
	offset, work := s.Scan(term, 0, 96, time.Now(), testTermLength-1, 10, 0, nil)

	if offset != 96 {
		t.Errorf("expected rebuild offset 96, got %d", offset)
	}
	if work != 0 {
		t.Errorf("expected 0 work for contiguous scan, got %d", work)
	}
}

func TestScanner_TransientGapNotReported(t *testing.T) {
	term := make([]byte, testTermLength)
	writeFrame(term, 0, 32)
	// gap em 32: ainda não escrito

	s := NewScanner(50 * time.Millisecond)
	var calls int
	onLoss := func(termID, termOffset, length int32) { calls++ }

	offset, work := s.Scan(term, 0, 128, time.Now(), testTermLength-1, 10, 0, onLoss)
	if offset != 32 {
		t.Errorf("expected rebuild offset stuck at 32, got %d", offset)
	}
	if work != 0 || calls != 0 {
		t.Errorf("expected no gap handler call on first sighting, got work=%d calls=%d", work, calls)
	}
}

func TestScanner_PersistentGapReportedOnce(t *testing.T) {
	term := make([]byte, testTermLength)
	writeFrame(term, 0, 32)

	s := NewScanner(20 * time.Millisecond)
	var calls int
	onLoss := func(termID, termOffset, length int32) { calls++ }

	start := time.Now()
	s.Scan(term, 0, 128, start, testTermLength-1, 10, 0, onLoss)

	// o mesmo gap re-observado depois que o atraso de feedback decorre
	_, work := s.Scan(term, 0, 128, start.Add(30*time.Millisecond), testTermLength-1, 10, 0, onLoss)
	if work != 1 || calls != 1 {
		t.Fatalf("expected exactly one gap notification, got work=%d calls=%d", work, calls)
	}

	// uma terceira varredura sem detecção nova não deve notificar de novo
	_, work = s.Scan(term, 0, 128, start.Add(60*time.Millisecond), testTermLength-1, 10, 0, onLoss)
	if work != 0 || calls != 1 {
		t.Fatalf("expected idempotent notification, got work=%d calls=%d", work, calls)
	}
}

func TestScanner_GapResolvedByLateArrival(t *testing.T) {
	term := make([]byte, testTermLength)
	writeFrame(term, 0, 32)

	s := NewScanner(10 * time.Millisecond)
	start := time.Now()
	s.Scan(term, 0, 64, start, testTermLength-1, 10, 0, nil)

	// o frame faltante chega antes do atraso de feedback decorrer
	writeFrame(term, 32, 32)
	offset, work := s.Scan(term, 0, 64, start.Add(5*time.Millisecond), testTermLength-1, 10, 0, nil)

	if offset != 64 {
		t.Errorf("expected rebuild offset to advance past the resolved gap, got %d", offset)
	}
	if work != 0 {
		t.Errorf("expected no gap notification for a resolved gap, got %d", work)
	}
	if s.PendingGaps() != 0 {
		t.Errorf("expected 0 pending gaps after resolution, got %d", s.PendingGaps())
	}
}

func TestScanner_DoesNotScanPastHighWaterMark(t *testing.T) {
	term := make([]byte, testTermLength)
	// nada escrito e hwm 0: o escritor simplesmente ainda não produziu nada
	s := NewScanner(10 * time.Millisecond)
	offset, work := s.Scan(term, 0, 0, time.Now(), testTermLength-1, 10, 0, nil)
	if offset != 0 || work != 0 {
		t.Errorf("expected no scan progress ahead of hwm, got offset=%d work=%d", offset, work)
	}
}
