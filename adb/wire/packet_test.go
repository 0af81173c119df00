package wire

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	p := New(CmdWrte, 1, 7, []byte("hello"))
	buf := p.Encode(true)

	if len(buf) != HeaderSize+len("hello") {
		t.Fatalf("unexpected encoded length: got %d", len(buf))
	}

	got, err := Decode(bytes.NewReader(buf), DefaultMaxPayloadSize, true)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Command != CmdWrte || got.Arg0 != 1 || got.Arg1 != 7 {
		t.Fatalf("header mismatch: %+v", got)
	}
	if !bytes.Equal(got.Payload, []byte("hello")) {
		t.Fatalf("payload mismatch: got %q", got.Payload)
	}
}

func TestDecodeBadMagic(t *testing.T) {
	p := New(CmdOkay, 0, 0, nil)
	buf := p.Encode(false)
	buf[20] ^= 0xFF // corrupt magic

	if _, err := Decode(bytes.NewReader(buf), DefaultMaxPayloadSize, false); err == nil {
		t.Fatal("expected bad magic error")
	}
}

func TestDecodeBadChecksum(t *testing.T) {
	p := New(CmdWrte, 1, 2, []byte{1, 2, 3})
	buf := p.Encode(true)
	buf[HeaderSize] ^= 0xFF // corrupt payload after checksum computed

	if _, err := Decode(bytes.NewReader(buf), DefaultMaxPayloadSize, true); err == nil {
		t.Fatal("expected bad checksum error")
	}
}

func TestDecodePayloadTooLarge(t *testing.T) {
	p := New(CmdWrte, 1, 2, make([]byte, 100))
	buf := p.Encode(false)

	if _, err := Decode(bytes.NewReader(buf), 10, false); err == nil {
		t.Fatal("expected payload too large error")
	}
}

func TestDecodeShortRead(t *testing.T) {
	buf := []byte{1, 2, 3}
	if _, err := Decode(bytes.NewReader(buf), DefaultMaxPayloadSize, false); err == nil {
		t.Fatal("expected short read error")
	}
}

func TestChecksumRequired(t *testing.T) {
	if !ChecksumRequired(VersionMin) {
		t.Fatal("checksum should be required at VersionMin")
	}
	if ChecksumRequired(VersionSkipChecksum) {
		t.Fatal("checksum should not be required at VersionSkipChecksum")
	}
}

func TestByteSumChecksum(t *testing.T) {
	if got := byteSum([]byte{1, 2, 3}); got != 6 {
		t.Fatalf("byteSum: got %d want 6", got)
	}
	if got := byteSum(nil); got != 0 {
		t.Fatalf("byteSum(nil): got %d want 0", got)
	}
}
