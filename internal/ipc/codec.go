package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// maxLineSize bounds a single JSON line; task results are expected to be
// small structured values, not blobs.
const maxLineSize = 4 * 1024 * 1024

// Encoder writes newline-delimited JSON envelopes to w, one Encode call per
// message. Safe for concurrent use: the daemon holds one Encoder per
// worker's stdin, and a worker process holds one for its own stdout.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder wraps w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode marshals v as a single JSON line terminated with \n.
func (e *Encoder) Encode(v any) error {
	b, err := Marshal(v)
	if err != nil {
		return fmt.Errorf("ipc: encode: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = e.w.Write(b)
	return err
}

// Decoder reads newline-delimited JSON envelopes from r. It is not safe for
// concurrent use; each worker's stdout is read by exactly one goroutine.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder wraps r with a scanner sized for maxLineSize lines.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Decoder{scanner: scanner}
}

// Next reads and unmarshals the next envelope, returning io.EOF when the
// underlying reader is closed (the worker process exited or its pipe was
// closed).
func (d *Decoder) Next() (Envelope, error) {
	if !d.scanner.Scan() {
		if err := d.scanner.Err(); err != nil {
			return Envelope{}, fmt.Errorf("ipc: decode: %w", err)
		}
		return Envelope{}, io.EOF
	}
	var env Envelope
	if err := json.Unmarshal(d.scanner.Bytes(), &env); err != nil {
		return Envelope{}, fmt.Errorf("ipc: decode: %w", err)
	}
	return env, nil
}

// NextCommand reads and unmarshals a single WorkerCommand line, the worker
// process's side of the protocol reading its own stdin.
func NextCommand(scanner *bufio.Scanner) (WorkerCommand, bool, error) {
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return WorkerCommand{}, false, fmt.Errorf("ipc: decode command: %w", err)
		}
		return WorkerCommand{}, false, nil
	}
	var cmd WorkerCommand
	if err := json.Unmarshal(scanner.Bytes(), &cmd); err != nil {
		return WorkerCommand{}, false, fmt.Errorf("ipc: decode command: %w", err)
	}
	return cmd, true, nil
}
