package network

import (
	"encoding/binary"
	"io"

	cerrors "github.com/najoast/actormesh/errors"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	// FrameHeaderSize is the size of the big-endian length prefix.
	FrameHeaderSize = 4

	// MaxFrameSize bounds a single application frame.
	MaxFrameSize = 16 * 1024 * 1024
)

// WriteFrame writes len(payload) followed by payload.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return cerrors.ErrFrameTooLarge.GenWithStackByArgs(len(payload), MaxFrameSize)
	}
	buf := make([]byte, FrameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[:FrameHeaderSize], uint32(len(payload)))
	copy(buf[FrameHeaderSize:], payload)
	_, err := w.Write(buf)
	return cerrors.Trace(err)
}

// ReadFrame reads one frame written by WriteFrame.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [FrameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, cerrors.Trace(err)
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > MaxFrameSize {
		return nil, cerrors.ErrFrameTooLarge.GenWithStackByArgs(size, MaxFrameSize)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, cerrors.Trace(err)
	}
	return payload, nil
}

// WriteMsg msgpack-encodes v into one frame.
func WriteMsg(w io.Writer, v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return cerrors.ErrSerialization.GenWithStackByArgs(err.Error())
	}
	return WriteFrame(w, data)
}

// ReadMsg decodes one msgpack frame into v.
func ReadMsg(r io.Reader, v any) error {
	data, err := ReadFrame(r)
	if err != nil {
		return err
	}
	if err := msgpack.Unmarshal(data, v); err != nil {
		return cerrors.ErrSerialization.GenWithStackByArgs(err.Error())
	}
	return nil
}
