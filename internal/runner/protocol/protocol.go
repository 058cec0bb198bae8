// Package protocol implements the worker wire protocol: a text,
// line-delimited, UTF-8 exchange between the supervisor and a worker
// process. See the handshake (§4.B.1) and steady-state (§4.B.2) rules this
// package encodes.
package protocol

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	ierrors "github.com/tjper/multirunner/internal/errors"
)

// WriteLine writes line to w, appending a trailing newline if absent, and
// flushes if w supports it.
func WriteLine(w io.Writer, line string) error {
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	_, err := io.WriteString(w, line)
	if err != nil {
		return err
	}
	if f, ok := w.(flusher); ok {
		return f.Flush()
	}
	return nil
}

type flusher interface{ Flush() error }

// Handshake performs the worker startup exchange: it writes the
// JSON-serialized exec_info payload to stdin, then reads one line from
// stdout. A line of "OK" (case-insensitive, trimmed) indicates the worker
// is Ready. Otherwise the remainder of stdout and stderr (after that first
// line) is drained and classified into a Failure: decoded as {stack, when}
// when it parses as such, else kept raw, first line included, as the Stack.
func Handshake(stdin io.Writer, stdout *bufio.Reader, stderr io.Reader, payload []byte) (ok bool, failure *ierrors.Failure, err error) {
	if err := WriteLine(stdin, string(payload)); err != nil {
		return false, nil, err
	}

	line, err := stdout.ReadString('\n')
	if err != nil && line == "" {
		return false, nil, err
	}

	if strings.EqualFold(strings.TrimSpace(line), "OK") {
		return true, nil, nil
	}

	var remaining strings.Builder
	if rest, err := io.ReadAll(stdout); err == nil {
		remaining.Write(rest)
	}
	if rest, err := io.ReadAll(stderr); err == nil {
		remaining.Write(rest)
	}

	var decoded ierrors.Failure
	if jsonErr := json.Unmarshal([]byte(remaining.String()), &decoded); jsonErr == nil && decoded.Stack != "" {
		return false, &decoded, nil
	}

	return false, &ierrors.Failure{
		Stack: line + remaining.String(),
		When:  "decoding error (raw provided)",
	}, nil
}

// Result is the steady-state output envelope a worker writes once per
// input record.
type Result struct {
	Data   json.RawMessage `json:"data"`
	Exit   int             `json:"exit"`
	Stdout string          `json:"stdout"`
	Stderr string          `json:"stderr"`
}
