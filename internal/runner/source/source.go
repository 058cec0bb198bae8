// Package source provides the lazy, single-pass, push-back-capable record
// sequence the supervisor pulls input lines from.
package source

import "bufio"

// New creates a Source reading lines from r.
func New(r *bufio.Scanner) *Source {
	return &Source{scanner: r}
}

// Source is a lazy sequence of input lines supporting a one-element
// push-back: if a freshly-pulled record fails to write to a worker's
// stdin, it is re-enqueued at the head and delivered to the next available
// worker instead.
type Source struct {
	scanner *bufio.Scanner
	pushed  []string
}

// Next returns the next line and true, or ("", false) once the underlying
// stream and any pushed-back line are exhausted.
func (s *Source) Next() (string, bool) {
	if n := len(s.pushed); n > 0 {
		line := s.pushed[n-1]
		s.pushed = s.pushed[:n-1]
		return line, true
	}

	if !s.scanner.Scan() {
		return "", false
	}
	return s.scanner.Text(), true
}

// PushBack re-enqueues line at the head of the sequence. At most one
// pushed-back line is ever outstanding at a time (the supervisor never
// pulls a second record before a failed write's record is consumed).
func (s *Source) PushBack(line string) {
	s.pushed = append(s.pushed, line)
}

// Err returns any non-EOF error encountered reading the underlying stream.
func (s *Source) Err() error {
	return s.scanner.Err()
}
