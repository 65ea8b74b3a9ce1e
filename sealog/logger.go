package sealog

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/seamux/seamux/datastruct"
)

const (
	// NumLatestEntries is the number of most recent log entries memorised in
	// memory.
	NumLatestEntries = 128
	// MaxMessageLen is the maximum length memorised for a single log entry.
	MaxMessageLen = 2048

	timestampLayout = "2006-01-02 15:04:05 "
)

var (
	// LatestEntries keeps a small number of the most recent log messages in
	// memory for retrieval and inspection.
	LatestEntries = datastruct.NewRing(NumLatestEntries)

	// LatestWarnings keeps the most recent warning messages in memory. An
	// actor only contributes its first warning until it ages out of
	// warningActors, which keeps a flood of identical warnings from pushing
	// everything else out of the buffer.
	LatestWarnings = datastruct.NewRing(NumLatestEntries)

	warningActors = datastruct.NewRecentKeys(NumLatestEntries / 4)

	// benignErrorMarkers identify errors that merely report an
	// already-closed connection and are not worth a log entry.
	benignErrorMarkers = []string{"closed", "broken"}

	verbosity int64
)

// SetVerbosity sets the global debug verbosity. Debug messages carry a level;
// only those at or below the global verbosity are printed.
func SetVerbosity(level int) {
	atomic.StoreInt64(&verbosity, int64(level))
}

// IDField is one key-value pair of a logger's component ID, giving a log
// entry a clue as to which component instance produced it.
type IDField struct {
	Key   string
	Value interface{}
}

// Logger writes log messages in a regular format:
// ComponentName[IDKey1=IDVal1;IDKey2=IDVal2].FunctionName(actorName): Error "..." - message
type Logger struct {
	ComponentName string
	ComponentID   []IDField
}

// origin assembles the message prefix locating the log call: component name,
// ID fields, function and actor. Any part may be absent.
func (logger *Logger) origin(functionName, actorName string) string {
	var b strings.Builder
	b.WriteString(logger.ComponentName)
	if len(logger.ComponentID) > 0 {
		b.WriteByte('[')
		for i, field := range logger.ComponentID {
			if i > 0 {
				b.WriteByte(';')
			}
			fmt.Fprintf(&b, "%s=%v", field.Key, field.Value)
		}
		b.WriteByte(']')
	}
	if functionName != "" {
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(functionName)
	}
	if actorName != "" {
		fmt.Fprintf(&b, "(%s)", actorName)
	}
	return b.String()
}

// Format renders a log message without printing it.
func (logger *Logger) Format(functionName, actorName string, err error, template string, values ...interface{}) string {
	body := fmt.Sprintf(template, values...)
	if err != nil {
		switch body {
		case "":
			body = fmt.Sprintf("Error %q", err)
		default:
			body = fmt.Sprintf("Error %q - %s", err, body)
		}
	}
	msg := body
	if origin := logger.origin(functionName, actorName); origin != "" {
		msg = origin + ": " + body
	}
	if len(msg) > MaxMessageLen {
		msg = msg[:MaxMessageLen]
	}
	return msg
}

// emit prints the rendered message and files it into the in-memory buffers.
// Warnings additionally land in the warning buffer, deduplicated by actor.
func (logger *Logger) emit(warning bool, functionName, actorName string, err error, template string, values ...interface{}) {
	msg := logger.Format(functionName, actorName, err, template, values...)
	log.Print(msg)
	stamped := time.Now().Format(timestampLayout) + msg
	LatestEntries.Push(stamped)
	if warning && !warningActors.Touch(functionName+actorName) {
		LatestWarnings.Push(stamped)
	}
}

// Info prints a log message and keeps it in the latest-entries buffer. A
// message carrying an error is upgraded to a warning.
func (logger *Logger) Info(functionName, actorName string, err error, template string, values ...interface{}) {
	logger.emit(err != nil, functionName, actorName, err, template, values...)
}

// Warning prints a log message and keeps it in both the latest-entries and
// the warnings buffer.
func (logger *Logger) Warning(functionName, actorName string, err error, template string, values ...interface{}) {
	logger.emit(true, functionName, actorName, err, template, values...)
}

// Debug prints a log message only when the global verbosity is at or above
// the given level. Debug messages are not memorised.
func (logger *Logger) Debug(level int, functionName, actorName string, template string, values ...interface{}) {
	if int64(level) > atomic.LoadInt64(&verbosity) {
		return
	}
	log.Print(logger.Format(functionName, actorName, nil, template, values...))
}

// Abort prints a log message and terminates the program.
func (logger *Logger) Abort(functionName, actorName string, err error, template string, values ...interface{}) {
	log.Fatal(logger.Format(functionName, actorName, err, template, values...))
}

// MaybeMinorError logs the input error in an info message, unless it is one
// of the benign closure errors.
func (logger *Logger) MaybeMinorError(err error) {
	if err == nil {
		return
	}
	text := err.Error()
	for _, marker := range benignErrorMarkers {
		if strings.Contains(text, marker) {
			return
		}
	}
	logger.Info("", "", nil, "minor error - %s", text)
}

// DefaultLogger is used when a more dedicated logger is not available.
var DefaultLogger = &Logger{ComponentName: "default", ComponentID: []IDField{{"PID", os.Getpid()}}}
