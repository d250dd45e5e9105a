// Package media records voice notes. A Recorder drives one microphone through
// idle -> recording -> stopped and produces a Recording ready to send.
package media

import (
	"encoding/base64"
	"sync"
	"time"

	"github.com/pkg/errors"

	"schoolchat/internal/apperr"
)

const DefaultMimeType = "audio/webm"

var ErrNotRecording = errors.New("not recording")

type State int

const (
	StateIdle State = iota
	StateRecording
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRecording:
		return "recording"
	case StateStopped:
		return "stopped"
	}
	return "idle"
}

// Audio is what a capture yields when finished. SampleDuration is zero when
// the device cannot tell how much audio it captured.
type Audio struct {
	Data           []byte
	MimeType       string
	SampleDuration time.Duration
}

// Capture is an open microphone. Exactly one of Finish or Close is called,
// and either releases the device.
type Capture interface {
	Finish() (Audio, error)
	Close() error
}

// Microphone grants captures. Open fails when access is refused or no device
// is available.
type Microphone interface {
	Open() (Capture, error)
}

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type Recording struct {
	Data     []byte
	MimeType string
	// Duration in whole seconds.
	Duration int
}

// DataURL encodes the audio as a data: URL, the form the backend stores.
func (r Recording) DataURL() string {
	mime := r.MimeType
	if mime == "" {
		mime = DefaultMimeType
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(r.Data)
}

type Recorder struct {
	mic   Microphone
	clock Clock

	mu      sync.Mutex
	state   State
	capture Capture
	started time.Time
	ready   Recording
}

// NewRecorder returns an idle recorder. clock may be nil for the wall clock.
func NewRecorder(mic Microphone, clock Clock) *Recorder {
	if clock == nil {
		clock = systemClock{}
	}
	return &Recorder{mic: mic, clock: clock}
}

func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start opens the microphone. It does nothing while already recording, and
// drops a stopped recording that was never taken.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateRecording {
		return nil
	}

	capture, err := r.mic.Open()
	if err != nil {
		return apperr.Wrap(apperr.PermissionDenied, err, "Microphone access denied")
	}
	r.capture = capture
	r.started = r.clock.Now()
	r.ready = Recording{}
	r.state = StateRecording
	return nil
}

// Stop finalizes the capture and releases the device. The duration comes from
// the captured samples when the device reports them, otherwise from the clock.
func (r *Recorder) Stop() (Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRecording {
		return Recording{}, ErrNotRecording
	}

	elapsed := r.clock.Now().Sub(r.started)
	audio, err := r.capture.Finish()
	r.capture = nil
	if err != nil {
		r.state = StateIdle
		return Recording{}, errors.Wrap(err, "finish capture")
	}

	d := elapsed
	if audio.SampleDuration > 0 {
		d = audio.SampleDuration
	}
	seconds := int(d / time.Second)
	if seconds < 0 {
		seconds = 0
	}

	mime := audio.MimeType
	if mime == "" {
		mime = DefaultMimeType
	}
	r.ready = Recording{Data: audio.Data, MimeType: mime, Duration: seconds}
	r.state = StateStopped
	return r.ready, nil
}

// Take hands over the stopped recording and returns the recorder to idle.
func (r *Recorder) Take() (Recording, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateStopped {
		return Recording{}, false
	}
	rec := r.ready
	r.ready = Recording{}
	r.state = StateIdle
	return rec, true
}

// Discard drops the current recording, releasing the microphone if it is
// still open.
func (r *Recorder) Discard() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	if r.state == StateRecording && r.capture != nil {
		err = r.capture.Close()
	}
	r.capture = nil
	r.ready = Recording{}
	r.state = StateIdle
	return errors.Wrap(err, "release microphone")
}
