package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	env := FrameEnvelope{
		FrameID: "f-1",
		TSMS:    1700000000123,
		Width:   1280,
		Height:  720,
		Mime:    FrameMime,
		Bytes:   []byte{0xff, 0xd8, 0xff, 0xd9},
	}
	buf, err := EncodeFrame(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeFrame(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.FrameID != env.FrameID || got.TSMS != env.TSMS || got.Width != env.Width ||
		got.Height != env.Height || got.Mime != env.Mime || !bytes.Equal(got.Bytes, env.Bytes) {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	buf2, err := EncodeFrame(got)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if !bytes.Equal(buf, buf2) {
		t.Fatalf("re-encoded envelope differs from original")
	}
}

func TestDecodeFrameShortBuffer(t *testing.T) {
	_, err := DecodeFrame([]byte{0x00, 0x01})
	var de *DecodeError
	if !errors.As(err, &de) || de.Code != CodeShortBuffer {
		t.Fatalf("expected %s, got %v", CodeShortBuffer, err)
	}
}

func TestDecodeFrameBadLength(t *testing.T) {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf, 100)
	_, err := DecodeFrame(buf)
	var de *DecodeError
	if !errors.As(err, &de) || de.Code != CodeBadLength {
		t.Fatalf("expected %s, got %v", CodeBadLength, err)
	}
}

func TestDecodeFrameBadMetadata(t *testing.T) {
	meta := []byte("not json")
	buf := make([]byte, 4, 4+len(meta))
	binary.BigEndian.PutUint32(buf, uint32(len(meta)))
	buf = append(buf, meta...)
	_, err := DecodeFrame(buf)
	var de *DecodeError
	if !errors.As(err, &de) || de.Code != CodeBadMetadata {
		t.Fatalf("expected %s, got %v", CodeBadMetadata, err)
	}
}

func TestDecodeFrameSchemaMismatch(t *testing.T) {
	env := FrameEnvelope{FrameID: "f-2", TSMS: 1, Width: 10, Height: 10, Mime: "image/png", Bytes: []byte{1}}
	buf, err := EncodeFrame(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	_, err = DecodeFrame(buf)
	var de *DecodeError
	if !errors.As(err, &de) || de.Code != CodeSchemaMismatch {
		t.Fatalf("expected %s, got %v", CodeSchemaMismatch, err)
	}
	if de.FrameID != "f-2" {
		t.Fatalf("expected frame id carried on recoverable error, got %q", de.FrameID)
	}
}

func TestDecodeFrameLengthMismatch(t *testing.T) {
	env := FrameEnvelope{FrameID: "f-3", TSMS: 1, Width: 10, Height: 10, Mime: FrameMime, Bytes: []byte{1, 2, 3}}
	buf, err := EncodeFrame(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// Truncate the payload so the declared image_bytes no longer matches.
	buf = buf[:len(buf)-1]
	_, err = DecodeFrame(buf)
	var de *DecodeError
	if !errors.As(err, &de) || de.Code != CodeLengthMismatch {
		t.Fatalf("expected %s, got %v", CodeLengthMismatch, err)
	}
	if de.FrameID != "f-3" {
		t.Fatalf("expected frame id on length mismatch, got %q", de.FrameID)
	}
}
