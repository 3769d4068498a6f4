// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package flowcontrol

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// maxBurstSize é o tamanho máximo de rajada aceito pelo limitador, alinhado
// ao tamanho típico de uma rajada de retransmissão (256KB).
const maxBurstSize = 256 * 1024

// ThrottledSender é um io.Writer com limitação de taxa baseada em token
// bucket. O channel endpoint envolve com ele o caminho de envio de feedback
// (Status Messages e NAKs) quando o operador configura
// flow_control.feedback_rate_limit: uma tempestade de perda gera rajadas de
// NAK, e o pacing evita que o feedback dispute o link com os próprios dados
// retransmitidos.
type ThrottledSender struct {
	w       io.Writer
	limiter *rate.Limiter
	ctx     context.Context
}

// NewThrottledSender cria um ThrottledSender limitado a bytesPerSec
// bytes/segundo. Se bytesPerSec <= 0, retorna w sem wrapper (bypass).
func NewThrottledSender(ctx context.Context, w io.Writer, bytesPerSec int64) io.Writer {
	if bytesPerSec <= 0 {
		return w
	}

	burst := int(bytesPerSec)
	if burst > maxBurstSize {
		burst = maxBurstSize
	}

	return &ThrottledSender{
		w:       w,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst),
		ctx:     ctx,
	}
}

// Write implementa io.Writer com limitação de taxa, dividindo escritas
// maiores que o burst em pedaços para consumir tokens gradualmente.
func (ts *ThrottledSender) Write(p []byte) (int, error) {
	totalWritten := 0

	for len(p) > 0 {
		chunk := len(p)
		if chunk > ts.limiter.Burst() {
			chunk = ts.limiter.Burst()
		}

		if err := ts.limiter.WaitN(ts.ctx, chunk); err != nil {
			return totalWritten, err
		}

		n, err := ts.w.Write(p[:chunk])
		totalWritten += n
		if err != nil {
			return totalWritten, err
		}

		p = p[n:]
	}

	return totalWritten, nil
}
