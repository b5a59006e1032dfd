package frame_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/adred-codev/kvmesh/internal/frame"
)

func TestRoundTripAllCodecs(t *testing.T) {
	msg := bytes.Repeat([]byte("x"), 4096)
	for _, codec := range []frame.Codec{frame.CodecGzip, frame.CodecLZ4, frame.CodecZstd} {
		f, err := frame.EncodeFrame(msg, codec)
		require.NoError(t, err)
		got, err := frame.DecodeFrame(f)
		require.NoError(t, err)
		require.Equal(t, msg, got)
	}
}

func TestBelowThresholdStaysUncompressed(t *testing.T) {
	msg := bytes.Repeat([]byte("y"), 1436)
	f, err := frame.EncodeFrame(msg, frame.CodecGzip)
	require.NoError(t, err)

	var buf bytes.Buffer
	buf.Write(f)
	got, err := frame.ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, msg, got)

	// Tag bits of the header must be 0 (CodecNone) since payload == threshold.
	require.Equal(t, byte(0), f[0]>>6)
}

func TestAboveThresholdIsCompressed(t *testing.T) {
	msg := bytes.Repeat([]byte("z"), 1437)
	f, err := frame.EncodeFrame(msg, frame.CodecZstd)
	require.NoError(t, err)
	require.Equal(t, byte(frame.CodecZstd), f[0]>>6)

	got, err := frame.DecodeFrame(f)
	require.NoError(t, err)
	require.Equal(t, msg, got)
}

func TestReadFrameStreaming(t *testing.T) {
	msg := []byte("hello, kvmesh")
	f, err := frame.EncodeFrame(msg, frame.CodecNone)
	require.NoError(t, err)

	var buf bytes.Buffer
	buf.Write(f)
	buf.Write(f) // two frames back to back

	got1, err := frame.ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, msg, got1)

	got2, err := frame.ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, msg, got2)
}

func TestTruncatedFrameIsAnError(t *testing.T) {
	msg := []byte("short")
	f, err := frame.EncodeFrame(msg, frame.CodecNone)
	require.NoError(t, err)

	var buf bytes.Buffer
	buf.Write(f[:len(f)-1])
	_, err = frame.ReadFrame(&buf)
	require.Error(t, err)
}

func TestHeaderLengthBoundary(t *testing.T) {
	big := make([]byte, 1<<30+1)
	_, err := frame.EncodeFrame(big, frame.CodecNone)
	require.Error(t, err)
}
