// Predictd - Prediction Service Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/predictd

package process

import (
	"bytes"

	"github.com/rs/zerolog"
)

// maxLineBytes caps a single logged line. Longer runs without a newline are
// emitted in pieces.
const maxLineBytes = 64 * 1024

// lineWriter turns a child's output stream into one log event per line.
// exec copies each stream from its own goroutine, so no locking is needed
// as long as a writer is attached to a single stream.
type lineWriter struct {
	logger zerolog.Logger
	buf    []byte
}

//nolint:gocritic // zerolog.Logger is designed to be passed by value
func newLineWriter(logger zerolog.Logger) *lineWriter {
	return &lineWriter{logger: logger}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)

	start := 0
	for {
		i := bytes.IndexByte(w.buf[start:], '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[start : start+i])
		start += i + 1
	}
	if len(w.buf)-start >= maxLineBytes {
		w.emit(w.buf[start:])
		start = len(w.buf)
	}

	w.buf = append(w.buf[:0], w.buf[start:]...)
	return len(p), nil
}

// Flush emits a trailing partial line.
func (w *lineWriter) Flush() {
	if len(w.buf) > 0 {
		w.emit(w.buf)
		w.buf = w.buf[:0]
	}
}

func (w *lineWriter) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 {
		return
	}
	w.logger.Info().Msg(string(line))
}
