package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	frameHeaderLen = 4
	MaxFrameSize   = 4 << 20
)

var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// WriteFrame writes a big-endian uint32 length prefix followed by b.
func WriteFrame(w io.Writer, b []byte) error {
	if len(b) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	buf := make([]byte, frameHeaderLen+len(b))
	binary.BigEndian.PutUint32(buf[:frameHeaderLen], uint32(len(b))) //nolint:gosec
	copy(buf[frameHeaderLen:], b)

	_, err := w.Write(buf)
	return err
}

func ReadFrame(r io.Reader) ([]byte, error) {
	var header [frameHeaderLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(header[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d", ErrFrameTooLarge, n)
	}

	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}
