// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package logging fabrica o slog.Logger estruturado compartilhado pelas
// goroutines do driver (receiver, conductor, ingestão e admin). Transições
// de estado, envio de NAK e fim de vida são registrados com campos
// (sessionId, streamId, correlationId) em vez de strings formatadas.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

var levelNames = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// NewLogger cria um logger com o nível e formato informados.
// Formatos suportados: "json" (default) e "text".
// Níveis suportados: "debug", "info" (default), "warn", "error".
// Se filePath não for vazio, os logs vão para stdout e para o arquivo — útil
// para correlacionar o log do driver com uma captura de pacotes do mesmo
// intervalo. O io.Closer retornado fecha o arquivo no shutdown; com filePath
// vazio ele é no-op.
func NewLogger(level, format, filePath string) (*slog.Logger, io.Closer) {
	out, closer := openOutput(filePath)

	lvl, ok := levelNames[strings.ToLower(level)]
	if !ok {
		// Qualquer valor não reconhecido — inclusive string vazia — cai em
		// Info, o mesmo default de internal/config quando o campo é omitido.
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	return slog.New(handler), closer
}

// ForImage devolve um logger com a identidade de uma imagem de publicação já
// vinculada, para que receiver e conductor não repitam os mesmos três campos
// em cada chamada.
func ForImage(base *slog.Logger, sessionID, streamID int32, correlationID int64) *slog.Logger {
	return base.With(
		"sessionId", sessionID,
		"streamId", streamID,
		"correlationId", correlationID,
	)
}

// openOutput resolve o destino dos logs: stdout puro, ou stdout + arquivo
// quando filePath é informado. Falha ao abrir o arquivo não é fatal — o
// driver continua só com stdout e avisa em stderr.
func openOutput(filePath string) (io.Writer, io.Closer) {
	if filePath == "" {
		return os.Stdout, io.NopCloser(strings.NewReader(""))
	}

	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: could not open log file %q: %v (logging to stdout only)\n", filePath, err)
		return os.Stdout, io.NopCloser(strings.NewReader(""))
	}
	return io.MultiWriter(os.Stdout, f), f
}
