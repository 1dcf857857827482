// Package sse implements the Streaming Response Parser: an incremental
// server-sent-events reader that turns a byte stream into discrete Event
// callbacks.
//
// Nothing upstream parses SSE directly (the surrounding streaming providers
// rely on the OpenAI/Anthropic SDKs' own stream readers); this is new code
// in the same idiom as the rest of the package — a small struct wrapping a
// bytes.Buffer, strings.Cut-based line splitting, and fmt.Errorf-wrapped
// sentinel errors. See DESIGN.md for why no third-party SSE library was
// reached for instead.
package sse

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// MaxBufferSize bounds the parser's internal buffer. Exceeding it is a
// fatal parser error (ErrBufferOverflow), not silent truncation.
const MaxBufferSize = 10 << 20 // 10 MiB

// ErrBufferOverflow is returned by [Parser.Feed] when accumulating an
// incomplete event would exceed [MaxBufferSize].
var ErrBufferOverflow = errors.New("sse: buffer overflow")

// Event is one complete server-sent event.
type Event struct {
	// Type is the event's "event:" field. Empty if the stream never sent one.
	Type string

	// Data is the event's accumulated "data:" lines, joined by "\n".
	Data string
}

// Parser incrementally parses an SSE byte stream. The zero value is ready
// to use.
type Parser struct {
	buf bytes.Buffer

	curType string
	curData []string
	haveAny bool // true once curType or curData has seen at least one field line
}

// Feed appends chunk to the internal buffer and invokes onEvent once for
// every complete event the new data completes, in order. onEvent must not
// retain the Event's string fields beyond the call (they are copies, so in
// practice it may, but the contract is ownership-transfers-to-caller-on-
// return, the same convention used elsewhere in this codebase).
//
// Returns [ErrBufferOverflow] if, after processing every complete line
// available, the buffer retains more than [MaxBufferSize] bytes of an
// in-progress event. Once that happens the parser must be discarded; the
// caller's contract is to close the upstream connection (SPEC_FULL.md §7:
// parser buffer-overflow is fatal for the specific stream).
func (p *Parser) Feed(chunk []byte, onEvent func(Event)) error {
	p.buf.Write(chunk)

	for {
		raw := p.buf.Bytes()
		idx := bytes.IndexByte(raw, '\n')
		if idx < 0 {
			break
		}
		line := raw[:idx]
		p.buf.Next(idx + 1)

		line = bytes.TrimSuffix(line, []byte("\r"))

		if len(line) == 0 {
			if p.haveAny {
				onEvent(Event{Type: p.curType, Data: strings.Join(p.curData, "\n")})
			}
			p.reset()
			continue
		}

		if line[0] == ':' {
			continue // comment line
		}

		field, value, _ := strings.Cut(string(line), ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			p.curType = value
			p.haveAny = true
		case "data":
			p.curData = append(p.curData, value)
			p.haveAny = true
		default:
			// unrecognized fields are ignored
		}
	}

	if p.buf.Len() > MaxBufferSize {
		return fmt.Errorf("%w: %d bytes pending with no complete line", ErrBufferOverflow, p.buf.Len())
	}
	return nil
}

// Reset discards all buffered bytes and any in-progress event.
func (p *Parser) Reset() {
	p.buf.Reset()
	p.reset()
}

func (p *Parser) reset() {
	p.curType = ""
	p.curData = nil
	p.haveAny = false
}
