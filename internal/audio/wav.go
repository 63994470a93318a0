// Package audio provides the minimal WAV input/output contract for the batch
// pipeline: validating that an upload is a mono 16-bit PCM waveform at the
// backend's sample rate, and assembling raw PCM back into a WAV file.
package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	// BitsPerSample is the only sample width the backend accepts.
	BitsPerSample = 16

	// Channels is the only channel count the backend accepts.
	Channels = 1

	riffHeaderSize  = 12
	chunkHeaderSize = 8
)

// PCM is a decoded waveform: raw little-endian 16-bit samples plus rate.
type PCM struct {
	SampleRate int
	Data       []byte
}

// Duration returns the waveform length in seconds.
func (p PCM) Duration() float64 {
	bytesPerSecond := p.SampleRate * Channels * BitsPerSample / 8
	if bytesPerSecond == 0 {
		return 0
	}
	return float64(len(p.Data)) / float64(bytesPerSecond)
}

// DecodeWAV parses b as a WAV file and validates it is single-channel 16-bit
// PCM at requiredRate. Any deviation is an error; nothing malformed is ever
// forwarded to the backend.
func DecodeWAV(b []byte, requiredRate int) (PCM, error) {
	if len(b) < riffHeaderSize {
		return PCM{}, fmt.Errorf("file too short to be a WAV")
	}
	if !bytes.Equal(b[0:4], []byte("RIFF")) || !bytes.Equal(b[8:12], []byte("WAVE")) {
		return PCM{}, fmt.Errorf("not a RIFF/WAVE file")
	}

	var (
		fmtSeen    bool
		audioFmt   uint16
		channels   uint16
		sampleRate uint32
		bits       uint16
		data       []byte
		dataSeen   bool
	)

	// Walk chunks; tolerate extras (LIST, fact) but require fmt before data.
	off := riffHeaderSize
	for off+chunkHeaderSize <= len(b) {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		body := off + chunkHeaderSize
		if size < 0 || body+size > len(b) {
			return PCM{}, fmt.Errorf("truncated %q chunk", id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return PCM{}, fmt.Errorf("fmt chunk too short")
			}
			audioFmt = binary.LittleEndian.Uint16(b[body : body+2])
			channels = binary.LittleEndian.Uint16(b[body+2 : body+4])
			sampleRate = binary.LittleEndian.Uint32(b[body+4 : body+8])
			bits = binary.LittleEndian.Uint16(b[body+14 : body+16])
			fmtSeen = true
		case "data":
			if !fmtSeen {
				return PCM{}, fmt.Errorf("data chunk before fmt chunk")
			}
			data = b[body : body+size]
			dataSeen = true
		}

		// Chunks are word-aligned.
		off = body + size
		if size%2 == 1 {
			off++
		}
	}

	if !fmtSeen || !dataSeen {
		return PCM{}, fmt.Errorf("missing fmt or data chunk")
	}
	if audioFmt != 1 {
		return PCM{}, fmt.Errorf("unsupported audio format %d, want PCM", audioFmt)
	}
	if channels != Channels {
		return PCM{}, fmt.Errorf("got %d channels, want mono", channels)
	}
	if bits != BitsPerSample {
		return PCM{}, fmt.Errorf("got %d bits per sample, want %d", bits, BitsPerSample)
	}
	if int(sampleRate) != requiredRate {
		return PCM{}, fmt.Errorf("got sample rate %d, want %d", sampleRate, requiredRate)
	}
	if len(data) == 0 {
		return PCM{}, fmt.Errorf("empty data chunk")
	}
	if len(data)%2 != 0 {
		return PCM{}, fmt.Errorf("data chunk not aligned to 16-bit samples")
	}

	return PCM{SampleRate: requiredRate, Data: data}, nil
}

// EncodeWAV builds a canonical mono 16-bit PCM WAV file from raw samples.
func EncodeWAV(pcm PCM) []byte {
	dataLen := len(pcm.Data)
	byteRate := pcm.SampleRate * Channels * BitsPerSample / 8
	blockAlign := Channels * BitsPerSample / 8

	buf := bytes.NewBuffer(make([]byte, 0, 44+dataLen))
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(Channels))
	binary.Write(buf, binary.LittleEndian, uint32(pcm.SampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(BitsPerSample))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataLen))
	buf.Write(pcm.Data)

	return buf.Bytes()
}
