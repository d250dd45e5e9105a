package media

import (
	"bytes"
	"encoding/binary"
	"io"
	"time"

	"github.com/pkg/errors"
)

// ReaderMicrophone turns any byte source (a file, a pipe from an external
// recorder) into a Microphone. The source is drained when the capture is
// finished.
type ReaderMicrophone struct {
	Source   func() (io.ReadCloser, error)
	MimeType string
	// BytesPerSecond sets the sample duration for raw streams. WAV data
	// carries its own rate and ignores it.
	BytesPerSecond int
}

func (m ReaderMicrophone) Open() (Capture, error) {
	rc, err := m.Source()
	if err != nil {
		return nil, errors.Wrap(err, "open audio source")
	}
	return &readerCapture{rc: rc, mic: m}, nil
}

type readerCapture struct {
	rc  io.ReadCloser
	mic ReaderMicrophone
}

func (c *readerCapture) Finish() (Audio, error) {
	defer c.rc.Close()
	data, err := io.ReadAll(c.rc)
	if err != nil {
		return Audio{}, errors.Wrap(err, "read audio source")
	}

	audio := Audio{Data: data, MimeType: c.mic.MimeType}
	if d, ok := wavDuration(data); ok {
		audio.SampleDuration = d
		if audio.MimeType == "" {
			audio.MimeType = "audio/wav"
		}
	} else if c.mic.BytesPerSecond > 0 {
		audio.SampleDuration = time.Duration(len(data)) * time.Second / time.Duration(c.mic.BytesPerSecond)
	}
	return audio, nil
}

func (c *readerCapture) Close() error {
	return c.rc.Close()
}

// wavDuration reads the byte rate and data chunk size of a RIFF/WAVE file.
func wavDuration(data []byte) (time.Duration, bool) {
	if len(data) < 12 || !bytes.Equal(data[0:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		return 0, false
	}

	var byteRate uint32
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		switch id {
		case "fmt ":
			if body+12 > len(data) {
				return 0, false
			}
			byteRate = binary.LittleEndian.Uint32(data[body+8 : body+12])
		case "data":
			if byteRate == 0 {
				return 0, false
			}
			if body+size > len(data) {
				size = len(data) - body
			}
			return time.Duration(size) * time.Second / time.Duration(byteRate), true
		}
		off = body + size + size%2
	}
	return 0, false
}
