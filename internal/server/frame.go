package server

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Wire format: every message is a frame of
//
//	4 bytes  big-endian payload length
//	1 byte   flags (bit 0: payload is gzip-compressed)
//	N bytes  JSON payload
//
// Requests from clients are never compressed; responses are compressed when
// they reach the server's configured minimum size.

const (
	flagGzip = 1 << 0

	// maxFrameSize bounds a single frame. Control payloads are small;
	// anything past this is a corrupt stream or a hostile peer.
	maxFrameSize = 16 << 20
)

type request struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type response struct {
	ID     uint64          `json:"id"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

func readFrame(r io.Reader) ([]byte, error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	size := binary.BigEndian.Uint32(header[:4])
	if size > maxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit", size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("failed to read frame payload: %w", err)
	}

	if header[4]&flagGzip != 0 {
		zr, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to open compressed frame: %w", err)
		}
		defer func() { _ = zr.Close() }()

		payload, err = io.ReadAll(io.LimitReader(zr, maxFrameSize+1))
		if err != nil {
			return nil, fmt.Errorf("failed to decompress frame: %w", err)
		}
		if len(payload) > maxFrameSize {
			return nil, fmt.Errorf("decompressed frame exceeds limit")
		}
	}
	return payload, nil
}

// writeFrame writes payload as one frame, compressing it when it is at
// least minCompressBytes long. minCompressBytes <= 0 disables compression.
func writeFrame(w io.Writer, payload []byte, minCompressBytes int) error {
	flags := byte(0)
	if minCompressBytes > 0 && len(payload) >= minCompressBytes {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(payload); err != nil {
			return fmt.Errorf("failed to compress frame: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("failed to compress frame: %w", err)
		}
		// Compression is advisory: keep the original if it came out larger.
		if buf.Len() < len(payload) {
			payload = buf.Bytes()
			flags |= flagGzip
		}
	}

	var header [5]byte
	binary.BigEndian.PutUint32(header[:4], uint32(len(payload)))
	header[4] = flags

	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
