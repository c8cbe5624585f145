package lsp

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// Transport frames JSON-RPC messages over a byte stream using the LSP base
// protocol: one or more CRLF-terminated header lines (at minimum
// Content-Length), a blank CRLF line, then exactly Content-Length bytes of
// UTF-8 JSON.
//
// Writing and reading are independent paths: WriteMessage is safe for
// concurrent use and never interleaves partial frames; ReadMessage must be
// driven by a single reader. A short read, unparsable header, or length
// mismatch means the stream is corrupt and is surfaced as a fatal error,
// never retried.
type Transport struct {
	reader *bufio.Reader

	writeMu sync.Mutex
	writer  io.Writer
}

// NewTransport creates a transport over the given streams, typically the
// subprocess's stdout (r) and stdin (w).
func NewTransport(r io.Reader, w io.Writer) *Transport {
	return &Transport{
		reader: bufio.NewReaderSize(r, 64*1024),
		writer: w,
	}
}

// WriteMessage writes one framed message. The header and body are written
// under a single lock so concurrent writers cannot interleave frames.
func (t *Transport) WriteMessage(body []byte) error {
	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(body))

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := io.WriteString(t.writer, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := t.writer.Write(body); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}

// ReadMessage reads the next framed message and returns its raw JSON body.
// io.EOF is returned as-is when the stream ends cleanly between messages;
// any other failure wraps ErrMalformedFrame since it indicates stream
// corruption the session cannot recover from.
func (t *Transport) ReadMessage() (json.RawMessage, error) {
	contentLength := -1
	first := true
	for {
		line, err := t.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF && first && line == "" {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("%w: read header: %v", ErrMalformedFrame, err)
		}
		first = false

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break // end of headers
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("%w: header line %q", ErrMalformedFrame, line)
		}
		if strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || n < 0 {
				return nil, fmt.Errorf("%w: bad Content-Length %q", ErrMalformedFrame, strings.TrimSpace(value))
			}
			contentLength = n
		}
		// Content-Type and other headers are ignored.
	}

	if contentLength < 0 {
		return nil, fmt.Errorf("%w: missing Content-Length header", ErrMalformedFrame)
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(t.reader, body); err != nil {
		return nil, fmt.Errorf("%w: short body read: %v", ErrMalformedFrame, err)
	}

	return body, nil
}
