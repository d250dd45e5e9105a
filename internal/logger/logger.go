package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync/atomic"

	"github.com/rollbar/rollbar-go"
)

var (
	reporting atomic.Bool

	reportWarning = rollbar.Warning // mockable
)

// EnableRollbar turns on error reporting for every Logger. The returned func
// flushes pending reports and should be deferred by main.
func EnableRollbar(token, env, host, version string) func() {
	rollbar.SetToken(token)
	rollbar.SetEnvironment(env)
	rollbar.SetServerHost(host)
	rollbar.SetCodeVersion(version)
	rollbar.SetEnabled(true)
	reporting.Store(true)
	return func() {
		rollbar.Wait()
		rollbar.Close()
		reporting.Store(false)
	}
}

type Logger struct {
	std *log.Logger
}

// New returns a stdout logger tagged "[PREFIX] ".
func New(prefix string) *Logger {
	return NewWithWriter(os.Stdout, prefix)
}

func NewWithWriter(w io.Writer, prefix string) *Logger {
	return &Logger{std: log.New(w, "["+prefix+"] ", log.LstdFlags|log.Lshortfile)}
}

// Discard drops everything. Used by tests and library callers without a logger.
func Discard() *Logger {
	return NewWithWriter(io.Discard, "")
}

// format treats msg as a format string only when there are args, so a
// literal "%" in a plain message survives.
func format(msg string, args []interface{}) string {
	if len(args) == 0 {
		return msg
	}
	return fmt.Sprintf(msg, args...)
}

func (l *Logger) output(level, line string) {
	_ = l.std.Output(3, level+" "+line)
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.output("DEBUG", format(msg, args)) }

func (l *Logger) Info(msg string, args ...interface{}) { l.output("INFO", format(msg, args)) }

func (l *Logger) Warn(msg string, args ...interface{}) {
	line := format(msg, args)
	l.output("WARN", line)
	if reporting.Load() {
		reportWarning(line)
	}
}

// Error logs and, when enabled, reports err to rollbar with the message as
// extra context.
func (l *Logger) Error(err error, msg string, args ...interface{}) {
	text := format(msg, args)
	l.output("ERROR", fmt.Sprintf("%s: %+v", text, err))
	if reporting.Load() {
		rollbar.Error(err, map[string]interface{}{"message": text})
	}
}

func (l *Logger) Fatal(err error, msg string, args ...interface{}) {
	text := format(msg, args)
	l.output("FATAL", fmt.Sprintf("%s: %v", text, err))
	if reporting.Load() {
		rollbar.Critical(err, map[string]interface{}{"message": text})
		rollbar.Wait()
	}
	os.Exit(1)
}

// Printf keeps the plain log.Logger call shape for request logging.
func (l *Logger) Printf(format string, args ...interface{}) {
	_ = l.std.Output(2, fmt.Sprintf(format, args...))
}

// Std exposes the underlying logger for APIs that want a *log.Logger, such
// as http.Server.ErrorLog.
func (l *Logger) Std() *log.Logger { return l.std }
