// Package frame implements the length-delimited, opportunistically
// compressed wire framing of spec.md §4.3: a 4-byte big-endian header
// carrying a 2-bit compression tag and a 30-bit payload length, followed
// by the (possibly compressed) payload bytes.
package frame

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/adred-codev/kvmesh/internal/errs"
)

// Codec identifies a frame's compression algorithm.
type Codec uint8

const (
	CodecNone Codec = 0
	CodecGzip Codec = 1
	CodecLZ4  Codec = 2
	CodecZstd Codec = 3
)

const (
	// compressionThreshold is the payload size above which a frame is
	// compressed; chosen to stay under a typical path MTU (spec.md §4.3).
	compressionThreshold = 1436

	// maxFrameSize is the largest payload length the 30-bit length field
	// can carry: 2^30-1 bytes, one byte short of 1 GiB.
	maxFrameSize = 1<<30 - 1

	tagShift = 30
	lenMask  = (uint32(1) << tagShift) - 1
)

// EncodeFrame compresses payload if it exceeds the threshold using codec,
// then prepends the 4-byte header, returning the full frame.
func EncodeFrame(payload []byte, codec Codec) ([]byte, error) {
	if len(payload) <= compressionThreshold {
		return appendHeader(nil, CodecNone, payload)
	}
	compressed, err := compress(payload, codec)
	if err != nil {
		return nil, &errs.EncodeError{Detail: err.Error()}
	}
	return appendHeader(nil, codec, compressed)
}

func appendHeader(b []byte, codec Codec, payload []byte) ([]byte, error) {
	if len(payload) > maxFrameSize {
		return nil, &errs.FrameError{Detail: "payload exceeds the 30-bit length field"}
	}
	header := (uint32(codec) << tagShift) | (uint32(len(payload)) & lenMask)
	var hb [4]byte
	binary.BigEndian.PutUint32(hb[:], header)
	b = append(b, hb[:]...)
	b = append(b, payload...)
	return b, nil
}

// DecodeFrame splits a full frame (header + payload) into its
// decompressed message bytes.
func DecodeFrame(frameBytes []byte) ([]byte, error) {
	if len(frameBytes) < 4 {
		return nil, &errs.FrameError{Detail: "frame shorter than header"}
	}
	header := binary.BigEndian.Uint32(frameBytes[:4])
	codec := Codec(header >> tagShift)
	length := header & lenMask
	payload := frameBytes[4:]
	if uint32(len(payload)) != length {
		return nil, &errs.FrameError{Detail: "payload length mismatch"}
	}
	if codec == CodecNone {
		return payload, nil
	}
	out, err := decompress(payload, codec)
	if err != nil {
		return nil, &errs.DecodeError{Detail: err.Error()}
	}
	return out, nil
}

// ReadFrame reads one frame from r: 4 header bytes, then exactly
// payloadLength more, and returns the decoded message bytes.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hb [4]byte
	if _, err := io.ReadFull(r, hb[:]); err != nil {
		return nil, &errs.IOError{Detail: err.Error()}
	}
	header := binary.BigEndian.Uint32(hb[:])
	length := header & lenMask
	if length > maxFrameSize {
		return nil, &errs.FrameError{Detail: "payload exceeds 1 GiB"}
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, &errs.IOError{Detail: err.Error()}
	}
	codec := Codec(header >> tagShift)
	if codec == CodecNone {
		return payload, nil
	}
	out, err := decompress(payload, codec)
	if err != nil {
		return nil, &errs.DecodeError{Detail: err.Error()}
	}
	return out, nil
}

// WriteFrame encodes payload per EncodeFrame and writes it to w whole.
func WriteFrame(w io.Writer, payload []byte, codec Codec) error {
	f, err := EncodeFrame(payload, codec)
	if err != nil {
		return err
	}
	if _, err := w.Write(f); err != nil {
		return &errs.IOError{Detail: err.Error()}
	}
	return nil
}

func compress(payload []byte, codec Codec) ([]byte, error) {
	var buf bytes.Buffer
	switch codec {
	case CodecGzip:
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case CodecLZ4:
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case CodecZstd:
		w, err := zstd.NewWriter(&buf)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(payload); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	default:
		return payload, nil
	}
	return buf.Bytes(), nil
}

func decompress(payload []byte, codec Codec) ([]byte, error) {
	switch codec {
	case CodecGzip:
		r, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case CodecLZ4:
		r := lz4.NewReader(bytes.NewReader(payload))
		return io.ReadAll(r)
	case CodecZstd:
		r, err := zstd.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	default:
		return payload, nil
	}
}
