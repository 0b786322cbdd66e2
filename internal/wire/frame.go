package wire

import (
	"encoding/binary"
	"errors"
	"io"
)

// ErrFrameTooLarge is returned when a frame's declared length exceeds
// maxFrameSize, before any payload bytes are read.
var ErrFrameTooLarge = errors.New("wire: frame exceeds maximum size")

// maxFrameSize bounds a single framed envelope. A sealed envelope is
// small (key material plus a handful of protocol fields); this is a
// generous ceiling against a corrupt or hostile length header.
const maxFrameSize = 1 << 20

// FrameReader reads length-prefixed frames off a stream transport
// (e.g. a Unix socket), each carrying one marshaled EnvelopeV1. This
// is deliberately the only framing the core needs: a transport only
// has to move one opaque byte string per call and never interprets
// envelope contents.
type FrameReader struct {
	r io.Reader
}

// NewFrameReader constructs a FrameReader over r.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r}
}

// ReadFrame reads one length-prefixed frame and returns its payload.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(fr.r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > maxFrameSize {
		return nil, ErrFrameTooLarge
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// FrameWriter writes length-prefixed frames to a stream transport.
type FrameWriter struct {
	w io.Writer
}

// NewFrameWriter constructs a FrameWriter over w.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// WriteFrame writes payload as one length-prefixed frame.
func (fw *FrameWriter) WriteFrame(payload []byte) error {
	if len(payload) > maxFrameSize {
		return ErrFrameTooLarge
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := fw.w.Write(header[:]); err != nil {
		return err
	}
	_, err := fw.w.Write(payload)
	return err
}
