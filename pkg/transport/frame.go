// Package transport implements the framed-TCP RPC layer: a varint
// length-delimited wire format, long-lived channels with a
// Healthy/Probing/Disconnected health state machine, idle heartbeats,
// and a per-endpoint connection pool.
package transport

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// Header describes one message on the wire. Request frames carry the
// target service and method; reply frames echo them and may set Err
// when the handler failed before producing a payload.
type Header struct {
	Service string
	Method  string
	ArgsLen uint32
	Err     string
}

const (
	// maxVarintBytes bounds the length prefix; anything longer is a
	// malformed frame.
	maxVarintBytes = 10

	// maxHeaderLen guards against garbage length prefixes.
	maxHeaderLen = 4096

	// maxFrameLen bounds a payload (snapshots ride in frames).
	maxFrameLen = 256 * 1024 * 1024
)

// WriteFrame encodes header+payload and writes the whole frame. Short
// writes are iterated to completion.
func WriteFrame(w io.Writer, h Header, payload []byte) error {
	h.ArgsLen = uint32(len(payload))

	var hdr bytes.Buffer
	if err := gob.NewEncoder(&hdr).Encode(h); err != nil {
		return fmt.Errorf("encode frame header: %w", err)
	}
	if hdr.Len() > maxHeaderLen {
		return fmt.Errorf("frame header too large: %d", hdr.Len())
	}

	buf := protowire.AppendVarint(nil, uint64(hdr.Len()))
	buf = append(buf, hdr.Bytes()...)
	buf = append(buf, payload...)
	return writeFull(w, buf)
}

// ReadFrame reads one frame: the varint header length byte-by-byte
// (until the continuation bit clears), the header, then exactly
// ArgsLen payload bytes.
func ReadFrame(r io.Reader) (Header, []byte, error) {
	hdrLen, err := readUvarint(r)
	if err != nil {
		return Header{}, nil, err
	}
	if hdrLen == 0 || hdrLen > maxHeaderLen {
		return Header{}, nil, fmt.Errorf("%w: invalid frame header length %d", ErrProtocol, hdrLen)
	}

	hdrBuf := make([]byte, hdrLen)
	if _, err := io.ReadFull(r, hdrBuf); err != nil {
		return Header{}, nil, fmt.Errorf("read frame header: %w", err)
	}

	var h Header
	if err := gob.NewDecoder(bytes.NewReader(hdrBuf)).Decode(&h); err != nil {
		return Header{}, nil, fmt.Errorf("%w: decode frame header: %w", ErrProtocol, err)
	}
	if h.ArgsLen > maxFrameLen {
		return Header{}, nil, fmt.Errorf("%w: frame payload too large: %d", ErrProtocol, h.ArgsLen)
	}

	payload := make([]byte, h.ArgsLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Header{}, nil, fmt.Errorf("read frame payload: %w", err)
	}
	return h, payload, nil
}

// readUvarint consumes single bytes until the continuation bit clears,
// then lets protowire decode the collected prefix.
func readUvarint(r io.Reader) (uint64, error) {
	var raw []byte
	var one [1]byte
	for {
		if _, err := io.ReadFull(r, one[:]); err != nil {
			return 0, err
		}
		raw = append(raw, one[0])
		if one[0]&0x80 == 0 {
			break
		}
		if len(raw) >= maxVarintBytes {
			return 0, fmt.Errorf("%w: varint overflow", ErrProtocol)
		}
	}
	v, n := protowire.ConsumeVarint(raw)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return v, nil
}

func writeFull(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}
