package media

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolchat/internal/apperr"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

type fakeMic struct {
	deny     bool
	opened   int
	released int
	audio    Audio
}

type fakeCapture struct{ mic *fakeMic }

func (m *fakeMic) Open() (Capture, error) {
	if m.deny {
		return nil, errors.New("NotAllowedError")
	}
	m.opened++
	return &fakeCapture{mic: m}, nil
}

func (c *fakeCapture) Finish() (Audio, error) {
	c.mic.released++
	return c.mic.audio, nil
}

func (c *fakeCapture) Close() error {
	c.mic.released++
	return nil
}

func TestDurationFromClock(t *testing.T) {
	tests := []struct {
		elapsed time.Duration
		want    int
	}{
		{0, 0},
		{900 * time.Millisecond, 0},
		{3 * time.Second, 3},
		{7*time.Second + 999*time.Millisecond, 7},
	}
	for _, tt := range tests {
		clock := newClock()
		mic := &fakeMic{audio: Audio{Data: []byte("abc")}}
		r := NewRecorder(mic, clock)

		require.NoError(t, r.Start())
		assert.Equal(t, StateRecording, r.State())
		clock.Advance(tt.elapsed)

		rec, err := r.Stop()
		require.NoError(t, err)
		assert.Equal(t, tt.want, rec.Duration, tt.elapsed.String())
		assert.Equal(t, DefaultMimeType, rec.MimeType)
		assert.Equal(t, StateStopped, r.State())
		assert.Equal(t, 1, mic.released)
	}
}

func TestClockGoingBackwardsNeverNegative(t *testing.T) {
	clock := newClock()
	r := NewRecorder(&fakeMic{}, clock)
	require.NoError(t, r.Start())
	clock.Advance(-5 * time.Second)
	rec, err := r.Stop()
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Duration)
}

func TestSampleDurationWins(t *testing.T) {
	clock := newClock()
	mic := &fakeMic{audio: Audio{Data: []byte("abc"), SampleDuration: 4500 * time.Millisecond}}
	r := NewRecorder(mic, clock)
	require.NoError(t, r.Start())
	// the process was suspended; wall clock drifted far past the audio
	clock.Advance(30 * time.Second)

	rec, err := r.Stop()
	require.NoError(t, err)
	assert.Equal(t, 4, rec.Duration)
}

func TestPermissionDenied(t *testing.T) {
	r := NewRecorder(&fakeMic{deny: true}, newClock())
	err := r.Start()
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.PermissionDenied))
	assert.Equal(t, "Microphone access denied", apperr.Message(err))
	assert.Equal(t, StateIdle, r.State())
}

func TestStartWhileRecordingIsNoop(t *testing.T) {
	mic := &fakeMic{}
	r := NewRecorder(mic, newClock())
	require.NoError(t, r.Start())
	require.NoError(t, r.Start())
	assert.Equal(t, 1, mic.opened)
}

func TestStopWhenIdle(t *testing.T) {
	r := NewRecorder(&fakeMic{}, newClock())
	_, err := r.Stop()
	assert.Equal(t, ErrNotRecording, err)
}

func TestDiscardReleasesDevice(t *testing.T) {
	mic := &fakeMic{}
	r := NewRecorder(mic, newClock())
	require.NoError(t, r.Start())
	require.NoError(t, r.Discard())
	assert.Equal(t, StateIdle, r.State())
	assert.Equal(t, 1, mic.released)

	// discarding a stopped recording drops it
	require.NoError(t, r.Start())
	_, err := r.Stop()
	require.NoError(t, err)
	require.NoError(t, r.Discard())
	_, ok := r.Take()
	assert.False(t, ok)
	assert.Equal(t, 2, mic.released)
}

func TestTake(t *testing.T) {
	clock := newClock()
	r := NewRecorder(&fakeMic{audio: Audio{Data: []byte{1, 2, 3}, MimeType: "audio/ogg"}}, clock)
	require.NoError(t, r.Start())
	clock.Advance(2 * time.Second)
	_, err := r.Stop()
	require.NoError(t, err)

	rec, ok := r.Take()
	require.True(t, ok)
	assert.Equal(t, 2, rec.Duration)
	assert.Equal(t, "data:audio/ogg;base64,AQID", rec.DataURL())
	assert.Equal(t, StateIdle, r.State())
}

func wav(t *testing.T, byteRate uint32, samples int) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := func(v interface{}) { require.NoError(t, binary.Write(&buf, binary.LittleEndian, v)) }
	buf.WriteString("RIFF")
	w(uint32(36 + samples))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	w(uint32(16))
	w(uint16(1)) // PCM
	w(uint16(1)) // mono
	w(byteRate)  // sample rate at 8 bit mono
	w(byteRate)  // byte rate
	w(uint16(1)) // block align
	w(uint16(8)) // bits per sample
	buf.WriteString("data")
	w(uint32(samples))
	buf.Write(make([]byte, samples))
	return buf.Bytes()
}

func TestReaderMicrophone(t *testing.T) {
	data := wav(t, 8000, 8000*3+100)
	mic := ReaderMicrophone{Source: func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}}
	r := NewRecorder(mic, newClock())
	require.NoError(t, r.Start())
	rec, err := r.Stop()
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Duration)
	assert.Equal(t, "audio/wav", rec.MimeType)
	assert.Len(t, rec.Data, len(data))
}

func TestReaderMicrophoneRawRate(t *testing.T) {
	mic := ReaderMicrophone{
		MimeType:       "audio/webm",
		BytesPerSecond: 10,
		Source: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(strings.Repeat("x", 55))), nil
		},
	}
	r := NewRecorder(mic, newClock())
	require.NoError(t, r.Start())
	rec, err := r.Stop()
	require.NoError(t, err)
	assert.Equal(t, 5, rec.Duration)
	assert.Equal(t, "audio/webm", rec.MimeType)
}

func TestReaderMicrophoneDenied(t *testing.T) {
	mic := ReaderMicrophone{Source: func() (io.ReadCloser, error) { return nil, errors.New("no device") }}
	err := NewRecorder(mic, nil).Start()
	assert.True(t, apperr.Is(err, apperr.PermissionDenied))
}
