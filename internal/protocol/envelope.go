package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// Version is the protocol version carried by every message.
const Version = 1

// FrameMime is the only payload encoding producers may send.
const FrameMime = "image/jpeg"

// Decode error codes. Stable; surfaced to producers in error replies.
const (
	CodeShortBuffer    = "short_buffer"
	CodeBadLength      = "bad_length"
	CodeBadMetadata    = "bad_metadata"
	CodeSchemaMismatch = "schema_mismatch"
	CodeLengthMismatch = "length_mismatch"
)

// FrameEnvelope is one decoded binary frame. Immutable once decoded.
type FrameEnvelope struct {
	FrameID string
	TSMS    int64
	Width   int
	Height  int
	Mime    string
	Bytes   []byte
}

// DecodeError describes a malformed binary envelope. FrameID is set when the
// metadata parsed far enough to recover it.
type DecodeError struct {
	Code    string
	FrameID string
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode frame (%s): %v", e.Code, e.Err)
	}
	return fmt.Sprintf("decode frame (%s)", e.Code)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// frameMeta is the JSON header inside the binary envelope.
type frameMeta struct {
	Type       string `json:"type"`
	V          int    `json:"v"`
	FrameID    string `json:"frame_id"`
	TSMS       int64  `json:"ts_ms"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Mime       string `json:"mime"`
	ImageBytes int    `json:"image_bytes"`
}

// DecodeFrame parses a binary frame envelope: a 4-byte big-endian metadata
// length, the UTF-8 JSON metadata, then the raw image payload.
func DecodeFrame(buf []byte) (FrameEnvelope, error) {
	if len(buf) < 4 {
		return FrameEnvelope{}, &DecodeError{Code: CodeShortBuffer}
	}
	n := binary.BigEndian.Uint32(buf[:4])
	if int64(n) > int64(len(buf)-4) {
		return FrameEnvelope{}, &DecodeError{Code: CodeBadLength}
	}
	var meta frameMeta
	if err := json.Unmarshal(buf[4:4+n], &meta); err != nil {
		return FrameEnvelope{}, &DecodeError{Code: CodeBadMetadata, Err: err}
	}
	if meta.Type != "frame" || meta.V != Version || meta.FrameID == "" ||
		meta.TSMS <= 0 || meta.Width <= 0 || meta.Height <= 0 || meta.Mime != FrameMime {
		return FrameEnvelope{}, &DecodeError{Code: CodeSchemaMismatch, FrameID: meta.FrameID}
	}
	payload := buf[4+n:]
	if meta.ImageBytes != len(payload) {
		return FrameEnvelope{}, &DecodeError{
			Code:    CodeLengthMismatch,
			FrameID: meta.FrameID,
			Err:     fmt.Errorf("declared %d bytes, got %d", meta.ImageBytes, len(payload)),
		}
	}
	return FrameEnvelope{
		FrameID: meta.FrameID,
		TSMS:    meta.TSMS,
		Width:   meta.Width,
		Height:  meta.Height,
		Mime:    meta.Mime,
		Bytes:   payload,
	}, nil
}

// EncodeFrame is the byte-exact inverse of DecodeFrame.
func EncodeFrame(env FrameEnvelope) ([]byte, error) {
	meta := frameMeta{
		Type:       "frame",
		V:          Version,
		FrameID:    env.FrameID,
		TSMS:       env.TSMS,
		Width:      env.Width,
		Height:     env.Height,
		Mime:       env.Mime,
		ImageBytes: len(env.Bytes),
	}
	mb, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 4, 4+len(mb)+len(env.Bytes))
	binary.BigEndian.PutUint32(out, uint32(len(mb)))
	out = append(out, mb...)
	out = append(out, env.Bytes...)
	return out, nil
}
