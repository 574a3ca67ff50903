package wire

import (
	"bytes"
	"testing"
)

func TestHeaderLayout(t *testing.T) {
	h := Header{
		Type:   FlagRequest | FlagWrite,
		Status: 0,
		ID:     0x01020304,
		Length: 0x00000040,
		Offset: 0x000000f0,
	}

	var buf [HeaderSize]byte
	Marshal(&h, buf[:])

	want := []byte{
		0x09, 0x00, 0x00, 0x00, // type, status, reserved
		0x01, 0x02, 0x03, 0x04, // id, big-endian
		0x00, 0x00, 0x00, 0x40, // length
		0x00, 0x00, 0x00, 0xf0, // offset
	}
	if !bytes.Equal(buf[:], want) {
		t.Errorf("Marshal = % x, want % x", buf[:], want)
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	in := Header{
		Type:   FlagResponse | FlagWrite,
		Status: 5,
		ID:     96,
		Length: 1448,
		Offset: 4096,
	}

	var buf [HeaderSize]byte
	Marshal(&in, buf[:])

	var out Header
	if err := Unmarshal(buf[:], &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if out != in {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}

func TestHeaderShortBuffer(t *testing.T) {
	var h Header
	if err := Unmarshal(make([]byte, HeaderSize-1), &h); err == nil {
		t.Error("Unmarshal of short buffer should fail")
	}
}

func TestTypeFlags(t *testing.T) {
	tests := []struct {
		name     string
		typ      uint8
		request  bool
		response bool
		read     bool
		write    bool
	}{
		{"request write", FlagRequest | FlagWrite, true, false, false, true},
		{"request read", FlagRequest | FlagRead, true, false, true, false},
		{"response write", FlagResponse | FlagWrite, false, true, false, true},
		{"response read", FlagResponse | FlagRead, false, true, true, false},
	}

	for _, tt := range tests {
		h := Header{Type: tt.typ}
		if h.IsRequest() != tt.request {
			t.Errorf("%s: IsRequest = %v, want %v", tt.name, h.IsRequest(), tt.request)
		}
		if h.IsResponse() != tt.response {
			t.Errorf("%s: IsResponse = %v, want %v", tt.name, h.IsResponse(), tt.response)
		}
		if h.IsRead() != tt.read {
			t.Errorf("%s: IsRead = %v, want %v", tt.name, h.IsRead(), tt.read)
		}
		if h.IsWrite() != tt.write {
			t.Errorf("%s: IsWrite = %v, want %v", tt.name, h.IsWrite(), tt.write)
		}
	}
}
