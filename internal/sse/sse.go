// Package sse encodes and decodes the relay's line oriented push protocol:
//
//	data: {"text":"..."}\n\n
//	data: {"error":"..."}\n\n
//	data: [DONE]\n\n
package sse

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
)

const (
	// Prefix starts every frame line.
	Prefix = "data: "
	// Sentinel is the payload of the terminal frame.
	Sentinel = "[DONE]"
)

// Frame is one decoded frame. Done marks the sentinel.
type Frame struct {
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
	Done  bool   `json:"-"`
}

// Encoder writes frames and flushes after each one when the underlying
// writer supports it.
type Encoder struct {
	w       io.Writer
	flusher http.Flusher
}

func NewEncoder(w io.Writer) *Encoder {
	f, _ := w.(http.Flusher)
	return &Encoder{w: w, flusher: f}
}

// Encode writes f as a single frame.
func (e *Encoder) Encode(f Frame) error {
	payload := Sentinel
	if !f.Done {
		b, err := json.Marshal(f)
		if err != nil {
			return err
		}
		payload = string(b)
	}
	if _, err := io.WriteString(e.w, Prefix+payload+"\n\n"); err != nil {
		return err
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}

func (e *Encoder) Text(s string) error { return e.Encode(Frame{Text: s}) }

func (e *Encoder) Error(msg string) error { return e.Encode(Frame{Error: msg}) }

func (e *Encoder) Done() error { return e.Encode(Frame{Done: true}) }

// Decoder reads frames from a stream. Lines are reassembled across read
// boundaries; lines without the prefix and payloads that are not valid JSON
// are skipped.
type Decoder struct {
	r *bufio.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next returns the next frame. It returns io.EOF when the stream ends
// without a sentinel, and any other read error as is.
func (d *Decoder) Next() (Frame, error) {
	for {
		line, err := d.r.ReadString('\n')
		if line != "" {
			if f, ok := parse(line); ok {
				return f, nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Frame{}, io.EOF
			}
			return Frame{}, err
		}
	}
}

func parse(line string) (Frame, bool) {
	line = strings.TrimRight(line, "\r\n")
	payload, ok := strings.CutPrefix(line, Prefix)
	if !ok {
		return Frame{}, false
	}
	payload = strings.TrimSpace(payload)
	if payload == Sentinel {
		return Frame{Done: true}, true
	}
	var f Frame
	if err := json.Unmarshal([]byte(payload), &f); err != nil {
		return Frame{}, false
	}
	if f.Text == "" && f.Error == "" {
		return Frame{}, false
	}
	return f, true
}
