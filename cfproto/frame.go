// Package cfproto decodes the Crossfire server stream into map updates.
package cfproto

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxMessage is the largest payload the two byte length prefix can carry.
const MaxMessage = 0xffff

var (
	// ErrMalformed is returned for payloads that do not parse.
	ErrMalformed = errors.New("cfproto: malformed message")
	// ErrTooLarge is returned by WriteMessage for oversized payloads.
	ErrTooLarge = errors.New("cfproto: message too large")
)

// ReadMessage reads a single length-prefixed message.
func ReadMessage(r io.Reader) ([]byte, error) {
	var sizeBuf [2]byte
	if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
		return nil, err
	}
	sz := binary.BigEndian.Uint16(sizeBuf[:])
	buf := make([]byte, sz)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return buf, nil
}

// WriteMessage writes cmd and data as one length-prefixed message. data is
// separated from cmd by a space when present.
func WriteMessage(w io.Writer, cmd string, data []byte) error {
	n := len(cmd)
	if len(data) > 0 {
		n += 1 + len(data)
	}
	if n > MaxMessage {
		return fmt.Errorf("%s: %w", cmd, ErrTooLarge)
	}
	buf := make([]byte, 2, 2+n)
	binary.BigEndian.PutUint16(buf, uint16(n))
	buf = append(buf, cmd...)
	if len(data) > 0 {
		buf = append(buf, ' ')
		buf = append(buf, data...)
	}
	return writeAll(w, buf)
}

// WriteFrame writes an already assembled payload with its length prefix.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxMessage {
		return ErrTooLarge
	}
	var size [2]byte
	binary.BigEndian.PutUint16(size[:], uint16(len(payload)))
	if err := writeAll(w, size[:]); err != nil {
		return err
	}
	return writeAll(w, payload)
}

// writeAll writes the entirety of data to w, returning an error if the
// write fails or is short.
func writeAll(w io.Writer, data []byte) error {
	for len(data) > 0 {
		n, err := w.Write(data)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		data = data[n:]
	}
	return nil
}

// SplitCommand separates the command word from its data.
func SplitCommand(msg []byte) (string, []byte) {
	i := bytes.IndexByte(msg, ' ')
	if i < 0 {
		return string(msg), nil
	}
	return string(msg[:i]), msg[i+1:]
}
