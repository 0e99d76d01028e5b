package network

import (
	"bytes"
	"encoding/binary"
	"testing"

	cerrors "github.com/najoast/actormesh/errors"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("hello")))
	require.NoError(t, WriteFrame(&buf, nil))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)

	got, err = ReadFrame(&buf)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestReadFrameRejectsOversize(t *testing.T) {
	var header [FrameHeaderSize]byte
	binary.BigEndian.PutUint32(header[:], MaxFrameSize+1)
	_, err := ReadFrame(bytes.NewReader(header[:]))
	require.True(t, cerrors.ErrFrameTooLarge.Equal(err))
}

func TestReadFrameTruncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("truncated")))
	_, err := ReadFrame(bytes.NewReader(buf.Bytes()[:buf.Len()-2]))
	require.Error(t, err)
}

func TestMsgRoundTrip(t *testing.T) {
	type payload struct {
		Name  string
		Count int
	}
	var buf bytes.Buffer
	require.NoError(t, WriteMsg(&buf, payload{Name: "svc", Count: 3}))

	var out payload
	require.NoError(t, ReadMsg(&buf, &out))
	require.Equal(t, payload{Name: "svc", Count: 3}, out)
}

func TestReadMsgBadPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte{0xc1}))
	var out struct{ A int }
	err := ReadMsg(&buf, &out)
	require.True(t, cerrors.ErrSerialization.Equal(err))
}
