package transcribe

import (
	"math"
	"time"

	"github.com/skquievreux/Speechering/internal/audio"
)

// SpeechOptions tune DetectSpeech.
type SpeechOptions struct {
	Window    time.Duration
	MinVoiced time.Duration
	// Threshold is the RMS level on the int16 scale above which a window counts as voiced.
	Threshold float64
}

// DefaultSpeechOptions uses 30 ms windows and needs 250 ms of voiced audio.
var DefaultSpeechOptions = SpeechOptions{
	Window:    30 * time.Millisecond,
	MinVoiced: 250 * time.Millisecond,
	Threshold: 500,
}

// DetectSpeech reports whether buf holds enough energetic audio to be worth
// transcribing. Channels are averaged.
func DetectSpeech(buf *audio.Buffer, opts SpeechOptions) bool {
	if buf == nil || buf.SampleRate <= 0 {
		return false
	}
	ch := buf.Channels
	if ch <= 0 {
		ch = 1
	}
	pcm := buf.PCM()
	window := int(opts.Window.Seconds() * float64(buf.SampleRate))
	if window <= 0 {
		window = 1
	}
	need := int(math.Ceil(float64(opts.MinVoiced) / float64(opts.Window)))

	voiced := 0
	frames := len(pcm) / ch
	for start := 0; start+window <= frames; start += window {
		var sum float64
		for i := start; i < start+window; i++ {
			var mono float64
			for c := 0; c < ch; c++ {
				mono += float64(pcm[i*ch+c])
			}
			mono /= float64(ch)
			sum += mono * mono
		}
		if math.Sqrt(sum/float64(window)) >= opts.Threshold {
			voiced++
			if voiced >= need {
				return true
			}
		}
	}
	return false
}
