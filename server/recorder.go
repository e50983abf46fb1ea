package server

import (
	"fmt"
	"sync"
	"time"

	"github.com/viewsync/viewsync/protocol"
)

type RecordedFrame struct {
	// seconds from the start of the recording
	T     float64 `cbor:"t"`
	Frame []byte  `cbor:"frame"`
}

// Recording is a serialized scene timeline that can be played back by a viewer without a server.
type Recording struct {
	DurationSeconds float64          `cbor:"durationSeconds"`
	Messages        []*RecordedFrame `cbor:"messages"`
}

func LoadRecording(data []byte) (*Recording, error) {
	var recording Recording
	if err := protocol.UnmarshalCbor(data, &recording); err != nil {
		return nil, fmt.Errorf("recording: %w", err)
	}
	return &recording, nil
}

// Decode returns the recorded messages with their offsets.
func (self *Recording) Decode() ([]protocol.Message, []float64, error) {
	messages := make([]protocol.Message, 0, len(self.Messages))
	offsets := make([]float64, 0, len(self.Messages))
	for _, recorded := range self.Messages {
		message, err := protocol.DecodeFrame(recorded.Frame)
		if err != nil {
			return nil, nil, err
		}
		messages = append(messages, message)
		offsets = append(offsets, recorded.T)
	}
	return messages, offsets, nil
}

// Recorder captures every broadcast on a timeline advanced by `InsertSleep`.
// It starts from the current state of the store.
type Recorder struct {
	stateLock sync.Mutex

	t        float64
	messages []*RecordedFrame
	stopped  bool

	unsubscribe func()
}

func NewRecorder(store *Store, dispatcher *Dispatcher) *Recorder {
	recorder := &Recorder{
		messages: []*RecordedFrame{},
	}
	store.WithSnapshot(func(snapshot []protocol.Message) {
		for _, message := range snapshot {
			recorder.Enqueue(message)
		}
		recorder.unsubscribe = dispatcher.AddSink(recorder)
	})
	return recorder
}

// MessageSink implementation
func (self *Recorder) Enqueue(message protocol.Message) error {
	frame, err := protocol.EncodeFrame(message)
	if err != nil {
		return err
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.stopped {
		return nil
	}
	self.messages = append(self.messages, &RecordedFrame{
		T:     self.t,
		Frame: frame,
	})
	return nil
}

func (self *Recorder) InsertSleep(duration time.Duration) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.t += duration.Seconds()
}

// Stop detaches the recorder from broadcasts.
func (self *Recorder) Stop() {
	self.stateLock.Lock()
	self.stopped = true
	self.stateLock.Unlock()

	if self.unsubscribe != nil {
		self.unsubscribe()
	}
}

func (self *Recorder) Serialize() ([]byte, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return protocol.MarshalCbor(&Recording{
		DurationSeconds: self.t,
		Messages:        self.messages,
	})
}
