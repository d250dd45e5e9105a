package logger

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/rollbar/rollbar-go"
	"github.com/stretchr/testify/assert"
)

func TestLevelsAndPrefix(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "TEST")

	l.Info("hello %s", "world")
	l.Warn("careful")
	l.Error(errors.New("boom"), "send %d failed", 3)

	out := buf.String()
	assert.Contains(t, out, "[TEST] ")
	assert.Contains(t, out, "INFO hello world")
	assert.Contains(t, out, "WARN careful")
	assert.Contains(t, out, "ERROR send 3 failed: boom")
	assert.Contains(t, out, "logger_test.go")
}

func TestDiscard(t *testing.T) {
	l := Discard()
	l.Info("nothing")
	l.Printf("nothing %d", 1)
}

func TestPlainMessagesKeepPercent(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "TEST")

	var reported []string
	reportWarning = func(args ...interface{}) { reported = append(reported, fmt.Sprint(args...)) }
	reporting.Store(true)
	t.Cleanup(func() {
		reporting.Store(false)
		reportWarning = rollbar.Warning
	})

	l.Warn("upload 100% done")
	l.Warn("%d%% done", 50)
	reporting.Store(false)
	l.Error(errors.New("boom"), "quota at 100%")

	out := buf.String()
	assert.Contains(t, out, "WARN upload 100% done")
	assert.Contains(t, out, "WARN 50% done")
	assert.Contains(t, out, "ERROR quota at 100%: boom")
	assert.NotContains(t, out, "%!")
	assert.Equal(t, []string{"upload 100% done", "50% done"}, reported)
}

func TestStdSharesOutput(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "TEST")
	l.Std().Print("http: TLS handshake error")
	assert.Contains(t, buf.String(), "[TEST] ")
	assert.Contains(t, buf.String(), "TLS handshake error")
}
