// Package wav reads RIFF/WAVE headers so extracted audio can be checked
// against the format the classifier expects.
package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

const (
	FormatPCM        uint16 = 0x0001
	formatExtensible uint16 = 0xFFFE

	// fmtExtensibleBytes covers the base fmt fields plus the start of the
	// WAVE_FORMAT_EXTENSIBLE sub-format GUID; later bytes are skipped.
	fmtExtensibleBytes = 26
)

// Header is the subset of the fmt and data chunks accentid cares about.
type Header struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	BitsPerSample uint16
	DataBytes     uint32
}

// Duration returns the playback length implied by the data chunk.
func (h Header) Duration() time.Duration {
	bytesPerSecond := uint64(h.SampleRate) * uint64(h.Channels) * uint64(h.BitsPerSample/8)
	if bytesPerSecond == 0 {
		return 0
	}
	return time.Duration(uint64(h.DataBytes) * uint64(time.Second) / bytesPerSecond)
}

// IsPCM16 reports whether the stream is signed 16-bit linear PCM.
func (h Header) IsPCM16() bool {
	return h.AudioFormat == FormatPCM && h.BitsPerSample == 16
}

// Inspect opens path and reads its header.
func Inspect(path string) (Header, error) {
	file, err := os.Open(path)
	if err != nil {
		return Header{}, err
	}
	defer file.Close()
	return ReadHeader(file)
}

// ReadHeader walks RIFF chunks until both fmt and data have been seen.
func ReadHeader(r io.Reader) (Header, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return Header{}, fmt.Errorf("read riff header: %w", err)
	}
	if !bytes.Equal(riff[0:4], []byte("RIFF")) || !bytes.Equal(riff[8:12], []byte("WAVE")) {
		return Header{}, errors.New("not a RIFF/WAVE file")
	}

	var (
		header  Header
		haveFmt bool
	)
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			if haveFmt {
				return Header{}, errors.New("missing data chunk")
			}
			return Header{}, errors.New("missing fmt chunk")
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			if size < 16 {
				return Header{}, fmt.Errorf("fmt chunk too short (%d bytes)", size)
			}
			var body [fmtExtensibleBytes]byte
			keep := min(size, fmtExtensibleBytes)
			if _, err := io.ReadFull(r, body[:keep]); err != nil {
				return Header{}, fmt.Errorf("read fmt chunk: %w", err)
			}
			header.AudioFormat = binary.LittleEndian.Uint16(body[0:2])
			header.Channels = binary.LittleEndian.Uint16(body[2:4])
			header.SampleRate = binary.LittleEndian.Uint32(body[4:8])
			header.BitsPerSample = binary.LittleEndian.Uint16(body[14:16])
			if header.AudioFormat == formatExtensible && keep >= fmtExtensibleBytes {
				// First two bytes of the sub-format GUID carry the real format code.
				header.AudioFormat = binary.LittleEndian.Uint16(body[24:26])
			}
			haveFmt = true
			rest := int64(size-keep) + int64(size%2)
			if _, err := io.CopyN(io.Discard, r, rest); err != nil {
				return Header{}, fmt.Errorf("read fmt chunk: %w", err)
			}
		case "data":
			if !haveFmt {
				return Header{}, errors.New("data chunk precedes fmt chunk")
			}
			header.DataBytes = size
			return header, nil
		default:
			skip := int64(size) + int64(size%2)
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				return Header{}, fmt.Errorf("skip %q chunk: %w", id, err)
			}
		}
	}
}
