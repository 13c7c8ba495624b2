package transport

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// oneByteReader forces the varint path to read byte-by-byte even when
// more data is buffered.
type oneByteReader struct {
	r io.Reader
}

func (o oneByteReader) Read(p []byte) (int, error) {
	if len(p) > 1 {
		p = p[:1]
	}
	return o.r.Read(p)
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello consensus")

	err := WriteFrame(&buf, Header{Service: "RaftService", Method: "AppendEntries"}, payload)
	require.NoError(t, err)

	h, got, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, "RaftService", h.Service)
	require.Equal(t, "AppendEntries", h.Method)
	require.Equal(t, uint32(len(payload)), h.ArgsLen)
	require.Equal(t, payload, got)
}

func TestFrameEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, Header{Service: HealthService, Method: PingMethod}, nil))

	h, payload, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, HealthService, h.Service)
	require.Empty(t, payload)
}

func TestFrameLargePayloadSplitReads(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte(strings.Repeat("0123456789abcdef", 8192))
	require.NoError(t, WriteFrame(&buf, Header{Service: "KvService", Method: "Get"}, payload))

	// Partial reads must be iterated to completion.
	h, got, err := ReadFrame(oneByteReader{&buf})
	require.NoError(t, err)
	require.Equal(t, payload, got)
	require.Equal(t, uint32(len(payload)), h.ArgsLen)
}

func TestFrameErrReply(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, Header{Service: "KvService", Method: "Get", Err: "unknown method"}, nil))

	h, _, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, "unknown method", h.Err)
}

func TestFrameSequence(t *testing.T) {
	var buf bytes.Buffer
	for i := 0; i < 10; i++ {
		require.NoError(t, WriteFrame(&buf, Header{Service: "S", Method: "M"}, []byte{byte(i)}))
	}
	for i := 0; i < 10; i++ {
		_, payload, err := ReadFrame(&buf)
		require.NoError(t, err)
		require.Equal(t, []byte{byte(i)}, payload)
	}
}

func TestFrameGarbageHeaderLength(t *testing.T) {
	// A giant varint prefix must be rejected, not allocated.
	buf := bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff, 0x7f})
	_, _, err := ReadFrame(buf)
	require.Error(t, err)
}

func TestFrameTruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, Header{Service: "S", Method: "M"}, []byte("full payload")))

	truncated := buf.Bytes()[:buf.Len()-4]
	_, _, err := ReadFrame(bytes.NewReader(truncated))
	require.Error(t, err)
}
