package audio

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"
)

// ErrDeviceUnavailable is returned when no input device can be opened.
var ErrDeviceUnavailable = errors.New("audio device unavailable")

// ErrInputOverflow reports dropped input samples. Capture continues after it.
var ErrInputOverflow = errors.New("input overflowed")

// DeviceSelector picks an input device. Index < 0 means unset.
type DeviceSelector struct {
	Name  string
	Index int
}

// Stream is an opened input device.
type Stream interface {
	Start() error
	// Read fills dst with the next interleaved frames.
	Read(dst []int16) error
	Stop() error
	Close() error
}

// Source opens input streams.
type Source interface {
	Open(sel DeviceSelector, sampleRate, channels, framesPerBuffer int) (Stream, error)
}

// Device describes an input-capable device.
type Device struct {
	Index    int
	Name     string
	Channels int
}

// resolveDevice applies name, then index, then default, then the first input.
// ok is false when the device picked is not the one asked for: a requested
// name or index was missing, or there is no default input.
func resolveDevice(devs []Device, defaultIndex int, sel DeviceSelector) (dev Device, ok bool, err error) {
	inputs := devs[:0:0]
	for _, d := range devs {
		if d.Channels > 0 {
			inputs = append(inputs, d)
		}
	}
	want := strings.ToLower(strings.TrimSpace(sel.Name))
	if want != "" {
		for _, d := range inputs {
			if strings.ToLower(d.Name) == want {
				return d, true, nil
			}
		}
		for _, d := range inputs {
			if strings.Contains(strings.ToLower(d.Name), want) {
				return d, true, nil
			}
		}
	}
	if sel.Index >= 0 {
		for _, d := range inputs {
			if d.Index == sel.Index {
				return d, true, nil
			}
		}
	}
	requested := want != "" || sel.Index >= 0
	for _, d := range inputs {
		if d.Index == defaultIndex {
			return d, !requested, nil
		}
	}
	if len(inputs) > 0 {
		return inputs[0], false, nil
	}
	return Device{}, false, fmt.Errorf("%w: no input device", ErrDeviceUnavailable)
}

// PortAudioSource opens devices through PortAudio.
type PortAudioSource struct {
	log zerolog.Logger
}

// NewPortAudioSource returns a Source backed by PortAudio.
func NewPortAudioSource(log zerolog.Logger) *PortAudioSource {
	return &PortAudioSource{log: log}
}

// Devices lists the input devices PortAudio knows about.
func (s *PortAudioSource) Devices() ([]Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: portaudio init: %v", ErrDeviceUnavailable, err)
	}
	defer portaudio.Terminate()
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: list devices: %v", ErrDeviceUnavailable, err)
	}
	var out []Device
	for _, d := range infos {
		if d.MaxInputChannels > 0 {
			out = append(out, Device{Index: d.Index, Name: d.Name, Channels: d.MaxInputChannels})
		}
	}
	return out, nil
}

// Open resolves sel and opens a blocking input stream.
func (s *PortAudioSource) Open(sel DeviceSelector, sampleRate, channels, framesPerBuffer int) (Stream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: portaudio init: %v", ErrDeviceUnavailable, err)
	}
	st, err := s.open(sel, sampleRate, channels, framesPerBuffer)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, err
	}
	return st, nil
}

func (s *PortAudioSource) open(sel DeviceSelector, sampleRate, channels, framesPerBuffer int) (Stream, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: list devices: %v", ErrDeviceUnavailable, err)
	}
	defIndex := -1
	if def, err := portaudio.DefaultInputDevice(); err == nil && def != nil {
		defIndex = def.Index
	}
	devs := make([]Device, 0, len(infos))
	byIndex := make(map[int]*portaudio.DeviceInfo, len(infos))
	for _, d := range infos {
		devs = append(devs, Device{Index: d.Index, Name: d.Name, Channels: d.MaxInputChannels})
		byIndex[d.Index] = d
	}

	dev, ok, err := resolveDevice(devs, defIndex, sel)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.log.Warn().Str("device", sel.Name).Int("index", sel.Index).Int("default", defIndex).Str("using", dev.Name).
			Msg("input device not available as configured; using fallback")
	}
	s.log.Debug().Str("device", dev.Name).Int("index", dev.Index).Int("rate", sampleRate).Msg("opening input")

	p := portaudio.HighLatencyParameters(byIndex[dev.Index], nil)
	p.Input.Channels = channels
	p.SampleRate = float64(sampleRate)
	p.FramesPerBuffer = framesPerBuffer

	buf := make([]int16, framesPerBuffer*channels)
	stream, err := portaudio.OpenStream(p, buf)
	if err != nil {
		return nil, fmt.Errorf("%w: open %q: %v", ErrDeviceUnavailable, dev.Name, err)
	}
	return &paStream{s: stream, buf: buf}, nil
}

type paStream struct {
	s   *portaudio.Stream
	buf []int16
}

func (p *paStream) Start() error {
	if err := p.s.Start(); err != nil {
		return fmt.Errorf("%w: start: %v", ErrDeviceUnavailable, err)
	}
	return nil
}

func (p *paStream) Read(dst []int16) error {
	err := p.s.Read()
	copy(dst, p.buf)
	if errors.Is(err, portaudio.InputOverflowed) {
		return ErrInputOverflow
	}
	return err
}

func (p *paStream) Stop() error { return p.s.Stop() }

// Close releases the stream and the PortAudio reference taken by Open.
func (p *paStream) Close() error {
	err := p.s.Close()
	_ = portaudio.Terminate()
	return err
}
