// Package audio holds captured PCM audio, WAV I/O and the input device layer.
package audio

import "time"

// Buffer is 16-bit interleaved PCM as read from the device, one chunk per read.
type Buffer struct {
	Frames     [][]int16
	SampleRate int
	Channels   int
}

// NewBuffer returns an empty buffer for the given format.
func NewBuffer(sampleRate, channels int) *Buffer {
	if channels <= 0 {
		channels = 1
	}
	return &Buffer{SampleRate: sampleRate, Channels: channels}
}

// Append stores a copy of chunk.
func (b *Buffer) Append(chunk []int16) {
	if len(chunk) == 0 {
		return
	}
	b.Frames = append(b.Frames, append([]int16(nil), chunk...))
}

// Samples returns the total number of samples across all channels.
func (b *Buffer) Samples() int {
	n := 0
	for _, f := range b.Frames {
		n += len(f)
	}
	return n
}

// Duration is derived from the sample count on every call.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 || b.Channels <= 0 {
		return 0
	}
	perChannel := b.Samples() / b.Channels
	return time.Duration(perChannel) * time.Second / time.Duration(b.SampleRate)
}

// PCM flattens the chunks into one slice.
func (b *Buffer) PCM() []int16 {
	out := make([]int16, 0, b.Samples())
	for _, f := range b.Frames {
		out = append(out, f...)
	}
	return out
}
