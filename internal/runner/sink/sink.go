// Package sink writes worker output lines to the run's output stream: no
// transformation, flushed after every write.
package sink

import (
	"bufio"
	"io"
	"strings"
)

// New creates a Sink writing to w.
func New(w io.Writer) *Sink {
	return &Sink{w: bufio.NewWriter(w)}
}

// Sink writes each worker result line to the output stream, appending a
// trailing newline if absent.
type Sink struct {
	w *bufio.Writer
}

// Write emits line, ensuring a single trailing newline, and flushes.
func (s *Sink) Write(line string) error {
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	if _, err := s.w.WriteString(line); err != nil {
		return err
	}
	return s.w.Flush()
}
