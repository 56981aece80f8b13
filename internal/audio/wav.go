package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WriteWAV writes b to path as 16-bit PCM WAV.
func WriteWAV(path string, b *Buffer) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}
	if err := EncodeWAV(f, b); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	return f.Close()
}

// EncodeWAV streams b into w chunk by chunk.
func EncodeWAV(w io.WriteSeeker, b *Buffer) error {
	enc := wav.NewEncoder(w, b.SampleRate, 16, b.Channels, 1)
	format := &goaudio.Format{NumChannels: b.Channels, SampleRate: b.SampleRate}
	var ints []int
	for _, chunk := range b.Frames {
		ints = ints[:0]
		for _, v := range chunk {
			ints = append(ints, int(v))
		}
		buf := &goaudio.IntBuffer{Format: format, Data: ints, SourceBitDepth: 16}
		if err := enc.Write(buf); err != nil {
			_ = enc.Close()
			return fmt.Errorf("wav write: %w", err)
		}
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("wav close: %w", err)
	}
	return nil
}

// ReadWAV loads a WAV file into a single-chunk Buffer.
func ReadWAV(path string) (*Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeWAV(f)
}

// DecodeWAVBytes decodes an in-memory WAV file.
func DecodeWAVBytes(data []byte) (*Buffer, error) {
	return DecodeWAV(bytes.NewReader(data))
}

// DecodeWAV decodes PCM WAV data, rescaling other bit depths to 16-bit.
func DecodeWAV(r io.ReadSeeker) (*Buffer, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, errors.New("not a valid wav file")
	}
	pcm, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("wav decode: %w", err)
	}
	out := make([]int16, len(pcm.Data))
	for i, v := range pcm.Data {
		switch d.BitDepth {
		case 8:
			v = (v - 128) << 8
		case 24:
			v >>= 8
		case 32:
			v >>= 16
		}
		out[i] = int16(v)
	}
	b := NewBuffer(int(d.SampleRate), int(d.NumChans))
	b.Append(out)
	return b, nil
}
