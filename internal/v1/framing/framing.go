// Package framing implements the stream framing the wire protocol uses
// instead of a length prefix: every message is terminated by one of two
// literal marker strings appended to the JSON payload (spec.md §6).
package framing

import (
	"bytes"
	"errors"
	"io"
)

// Primary is the terminator every message should be written with.
const Primary = "END_OF_MESSAGE"

// Alternate is accepted on read for compatibility with older clients
// (spec.md §6, "Alternate terminator").
const Alternate = "ALT_TERMINATION"

var terminators = [][]byte{[]byte(Primary), []byte(Alternate)}

// ErrConnectionClosed is returned when the peer closes the connection
// before sending a terminated message, mirroring the source treating a
// zero-length recv as "no data" rather than an error.
var ErrConnectionClosed = errors.New("framing: connection closed without a terminated message")

const readChunk = 1024

// ReadMessage reads from r, accumulating bytes until one of the known
// terminators appears at the end of the stream, then returns the payload
// with the terminator stripped. It returns ErrConnectionClosed if r reaches
// EOF without ever seeing a terminator, matching the source's behavior of
// treating that as a closed connection rather than a protocol error.
func ReadMessage(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	chunk := make([]byte, readChunk)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if term, ok := trailingTerminator(buf.Bytes()); ok {
				return buf.Bytes()[:buf.Len()-len(term)], nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if buf.Len() == 0 {
					return nil, ErrConnectionClosed
				}
				return nil, ErrConnectionClosed
			}
			return nil, err
		}
	}
}

func trailingTerminator(data []byte) ([]byte, bool) {
	for _, term := range terminators {
		if len(data) >= len(term) && bytes.Equal(data[len(data)-len(term):], term) {
			return term, true
		}
	}
	return nil, false
}

// WriteMessage appends the primary terminator to payload and writes it to w
// in one call, matching the source always terminating outgoing messages
// with END_OF_MESSAGE regardless of which terminator it last received.
func WriteMessage(w io.Writer, payload []byte) error {
	framed := make([]byte, 0, len(payload)+len(Primary))
	framed = append(framed, payload...)
	framed = append(framed, Primary...)
	_, err := w.Write(framed)
	return err
}
