/*************************************************************************
 * HORACE - host-observation capture and forward pipeline.
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 *************************************************************************/

// Package horacelog provides structured RFC5424 logging for the
// capture and forward processes, with per-component key-value fields.
package horacelog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/crewjam/rfc5424"
	"github.com/google/uuid"
)

// Level is a logging severity, ordered least to most severe.
type Level int

const (
	OFF Level = iota
	DEBUG
	INFO
	WARN
	ERROR
	CRITICAL
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case CRITICAL:
		return "CRITICAL"
	default:
		return "OFF"
	}
}

func (l Level) priority() rfc5424.Priority {
	switch l {
	case DEBUG:
		return rfc5424.Debug
	case INFO:
		return rfc5424.Info
	case WARN:
		return rfc5424.Warning
	case ERROR:
		return rfc5424.Error
	case CRITICAL:
		return rfc5424.Crit
	default:
		return rfc5424.Info
	}
}

// ErrNotOpen is returned by logging calls made after Close.
var ErrNotOpen = errors.New("logger is not open")

// Logger writes leveled, structured log lines to one or more writers.
type Logger struct {
	mtx      sync.Mutex
	wtrs     []io.Writer
	lvl      Level
	hostname string
	appname  string
	runID    string
	closed   bool
}

// New constructs a Logger at level INFO writing to wtr. Each Logger
// instance is tagged with a fresh run ID, carried as structured data
// on every line, so log lines from concurrent capture/forward
// processes on the same host can be told apart after the fact.
func New(wtr io.Writer) *Logger {
	host, _ := os.Hostname()
	l := &Logger{
		wtrs:     []io.Writer{wtr},
		lvl:      INFO,
		hostname: host,
		appname:  "horace",
		runID:    uuid.NewString(),
	}
	return l
}

// SetAppname overrides the RFC5424 app-name field (default "horace").
func (l *Logger) SetAppname(name string) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.appname = name
}

// SetLevel sets the minimum level that will be emitted.
func (l *Logger) SetLevel(lvl Level) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.lvl = lvl
}

// AddWriter adds an additional destination for every subsequent line.
func (l *Logger) AddWriter(wtr io.Writer) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.wtrs = append(l.wtrs, wtr)
}

// Close marks the logger closed; further calls return ErrNotOpen.
func (l *Logger) Close() error {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.closed = true
	return nil
}

func (l *Logger) output(lvl Level, msgid, msg string, sds ...rfc5424.SDParam) error {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if l.closed {
		return ErrNotOpen
	}
	if l.lvl == OFF || lvl < l.lvl {
		return nil
	}
	m := rfc5424.Message{
		Priority:  lvl.priority(),
		Timestamp: time.Now(),
		Hostname:  l.hostname,
		AppName:   l.appname,
		MessageID: msgid,
		Message:   []byte(msg),
	}
	params := append([]rfc5424.SDParam{{Name: "run", Value: l.runID}}, sds...)
	m.StructuredData = []rfc5424.StructuredData{{
		ID:         "horace@1",
		Parameters: params,
	}}
	b, err := m.MarshalBinary()
	if err != nil {
		return err
	}
	line := strings.TrimRight(string(b), "\n\t\r")
	var werr error
	for _, w := range l.wtrs {
		if _, e := io.WriteString(w, line+"\n"); e != nil {
			werr = e
		}
	}
	return werr
}

func (l *Logger) Debug(msgid, msg string, sds ...rfc5424.SDParam) error {
	return l.output(DEBUG, msgid, msg, sds...)
}
func (l *Logger) Info(msgid, msg string, sds ...rfc5424.SDParam) error {
	return l.output(INFO, msgid, msg, sds...)
}
func (l *Logger) Warn(msgid, msg string, sds ...rfc5424.SDParam) error {
	return l.output(WARN, msgid, msg, sds...)
}
func (l *Logger) Error(msgid, msg string, sds ...rfc5424.SDParam) error {
	return l.output(ERROR, msgid, msg, sds...)
}
func (l *Logger) Critical(msgid, msg string, sds ...rfc5424.SDParam) error {
	return l.output(CRITICAL, msgid, msg, sds...)
}

// Errorf formats msg with args and logs it at ERROR.
func (l *Logger) Errorf(msgid, f string, args ...interface{}) error {
	return l.output(ERROR, msgid, fmt.Sprintf(f, args...))
}

// Infof formats msg with args and logs it at INFO.
func (l *Logger) Infof(msgid, f string, args ...interface{}) error {
	return l.output(INFO, msgid, fmt.Sprintf(f, args...))
}

// KV builds an rfc5424.SDParam for use in a structured call.
func KV(name, value string) rfc5424.SDParam {
	return rfc5424.SDParam{Name: name, Value: value}
}
