// Package events carries state transitions of the voice core to subscribers.
package events

// Kind names an event stream.
type Kind string

const (
	KindStateChange     Kind = "stateChange"
	KindTranscript      Kind = "transcript"
	KindTTSStateChange  Kind = "ttsStateChange"
	KindSettingsChanged Kind = "ttsSettingsChanged"
	KindError           Kind = "error"
)

func (k Kind) String() string {
	return string(k)
}

// AllKinds lists every kind emitted by the core.
func AllKinds() []Kind {
	return []Kind{KindStateChange, KindTranscript, KindTTSStateChange, KindSettingsChanged, KindError}
}

// Event is a payload published on the bus.
type Event interface {
	Kind() Kind
}

// RecordingState reports a recording session transition.
type RecordingState struct {
	IsRecording bool `json:"isRecording"`
}

func (RecordingState) Kind() Kind { return KindStateChange }

// Transcript is one recognition result, interim or final.
type Transcript struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"isFinal"`
}

func (Transcript) Kind() Kind { return KindTranscript }

// TTSState is derived from the enabled flag and the playback queue.
type TTSState struct {
	Enabled     bool `json:"enabled"`
	IsPlaying   bool `json:"isPlaying"`
	QueueLength int  `json:"queueLength"`
}

func (TTSState) Kind() Kind { return KindTTSStateChange }

// Failure announces an error that was absorbed by a component.
type Failure struct {
	Cause error `json:"-"`
}

func (Failure) Kind() Kind { return KindError }

// Message returns the cause text, or an empty string.
func (f Failure) Message() string {
	if f.Cause == nil {
		return ""
	}
	return f.Cause.Error()
}
