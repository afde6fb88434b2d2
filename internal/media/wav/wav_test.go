package wav

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func buildWAV(t *testing.T, format, channels uint16, rate uint32, bits uint16, extra []byte, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	le := binary.LittleEndian
	fmtChunk := new(bytes.Buffer)
	_ = binary.Write(fmtChunk, le, format)
	_ = binary.Write(fmtChunk, le, channels)
	_ = binary.Write(fmtChunk, le, rate)
	_ = binary.Write(fmtChunk, le, rate*uint32(channels)*uint32(bits/8))
	_ = binary.Write(fmtChunk, le, channels*(bits/8))
	_ = binary.Write(fmtChunk, le, bits)

	body := new(bytes.Buffer)
	body.WriteString("WAVE")
	body.WriteString("fmt ")
	_ = binary.Write(body, le, uint32(fmtChunk.Len()))
	body.Write(fmtChunk.Bytes())
	body.Write(extra)
	body.WriteString("data")
	_ = binary.Write(body, le, uint32(len(data)))
	body.Write(data)

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, le, uint32(body.Len()))
	buf.Write(body.Bytes())
	return buf.Bytes()
}

func TestReadHeaderPCMMono16k(t *testing.T) {
	data := make([]byte, 32000) // one second
	raw := buildWAV(t, FormatPCM, 1, 16000, 16, nil, data)

	h, err := ReadHeader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("ReadHeader returned error: %v", err)
	}
	if !h.IsPCM16() || h.Channels != 1 || h.SampleRate != 16000 {
		t.Fatalf("unexpected header: %+v", h)
	}
	if h.Duration() != time.Second {
		t.Fatalf("expected 1s duration, got %s", h.Duration())
	}
}

func TestReadHeaderSkipsListChunk(t *testing.T) {
	list := []byte("LIST\x05\x00\x00\x00INFOx\x00")
	raw := buildWAV(t, FormatPCM, 1, 16000, 16, list, make([]byte, 64))

	h, err := ReadHeader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("ReadHeader returned error: %v", err)
	}
	if h.DataBytes != 64 {
		t.Fatalf("expected 64 data bytes, got %d", h.DataBytes)
	}
}

func TestReadHeaderRejectsNonWAV(t *testing.T) {
	if _, err := ReadHeader(bytes.NewReader([]byte("ID3\x04garbage-mp3-bytes"))); err == nil {
		t.Fatal("expected error for non-wav input")
	}
}

func TestReadHeaderRejectsTruncatedFile(t *testing.T) {
	raw := buildWAV(t, FormatPCM, 1, 16000, 16, nil, nil)
	if _, err := ReadHeader(bytes.NewReader(raw[:20])); err == nil {
		t.Fatal("expected error for truncated header")
	}
}

func TestInspectReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output_audio.wav")
	if err := os.WriteFile(path, buildWAV(t, FormatPCM, 2, 44100, 16, nil, make([]byte, 8)), 0o644); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	h, err := Inspect(path)
	if err != nil {
		t.Fatalf("Inspect returned error: %v", err)
	}
	if h.Channels != 2 || h.SampleRate != 44100 {
		t.Fatalf("unexpected header: %+v", h)
	}
}

func TestReadHeaderHugeFmtChunkFailsWithoutBuffering(t *testing.T) {
	raw := buildWAV(t, FormatPCM, 1, 16000, 16, nil, nil)
	// Claim a fmt chunk of almost 4 GiB; only 16 bytes follow.
	binary.LittleEndian.PutUint32(raw[16:20], 0xFFFFFFF0)

	allocs := testing.AllocsPerRun(5, func() {
		if _, err := ReadHeader(bytes.NewReader(raw)); err == nil {
			t.Fatal("expected error for truncated oversized fmt chunk")
		}
	})
	if allocs > 20 {
		t.Fatalf("oversized fmt chunk caused %v allocations", allocs)
	}
}

func TestReadHeaderExtensibleFormat(t *testing.T) {
	le := binary.LittleEndian
	fmtChunk := new(bytes.Buffer)
	_ = binary.Write(fmtChunk, le, formatExtensible)
	_ = binary.Write(fmtChunk, le, uint16(1))
	_ = binary.Write(fmtChunk, le, uint32(16000))
	_ = binary.Write(fmtChunk, le, uint32(32000))
	_ = binary.Write(fmtChunk, le, uint16(2))
	_ = binary.Write(fmtChunk, le, uint16(16))
	_ = binary.Write(fmtChunk, le, uint16(22)) // cbSize
	_ = binary.Write(fmtChunk, le, uint16(16)) // valid bits
	_ = binary.Write(fmtChunk, le, uint32(4))  // channel mask
	_ = binary.Write(fmtChunk, le, FormatPCM)  // sub-format GUID start
	fmtChunk.Write(make([]byte, 14))

	body := new(bytes.Buffer)
	body.WriteString("WAVE")
	body.WriteString("fmt ")
	_ = binary.Write(body, le, uint32(fmtChunk.Len()))
	body.Write(fmtChunk.Bytes())
	body.WriteString("data")
	_ = binary.Write(body, le, uint32(4))
	body.Write(make([]byte, 4))

	var raw bytes.Buffer
	raw.WriteString("RIFF")
	_ = binary.Write(&raw, le, uint32(body.Len()))
	raw.Write(body.Bytes())

	h, err := ReadHeader(bytes.NewReader(raw.Bytes()))
	if err != nil {
		t.Fatalf("ReadHeader returned error: %v", err)
	}
	if !h.IsPCM16() || h.DataBytes != 4 {
		t.Fatalf("unexpected header: %+v", h)
	}
}
