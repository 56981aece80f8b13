package pipeline

// State is the orchestrator's position in a dictation cycle.
type State int

const (
	Idle State = iota
	Capturing
	Stopping
	Encoding
	Transcribing
	PostProcessing
	Injecting
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	case Stopping:
		return "stopping"
	case Encoding:
		return "encoding"
	case Transcribing:
		return "transcribing"
	case PostProcessing:
		return "post-processing"
	case Injecting:
		return "injecting"
	case Error:
		return "error"
	}
	return "unknown"
}

// Short user-facing messages. Details go to the log and audit sink.
const (
	MsgMicUnavailable    = "microphone unavailable"
	MsgRecognitionFailed = "recognition failed"
	MsgClipboardFallback = "text copied to clipboard instead"
	MsgUnexpected        = "something went wrong"
	MsgInserted          = "text inserted"
)
