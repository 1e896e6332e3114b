// Package logger provides the component-tagged file logger shared by every
// part of the trader. All rejections, resets and watchdog repairs are
// observable only through these lines, so the format stays machine-parsable:
// LEVEL,component,message.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"
)

type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
)

type Logger struct {
	l     *log.Logger
	level Level
	f     *os.File
}

// New writes to the given writer. Used by tests and for stderr logging.
func New(w io.Writer, level Level) *Logger {
	return &Logger{l: log.New(w, "", log.LstdFlags|log.Lmicroseconds), level: level}
}

// NewFile opens (or creates) a dated log file under dir.
func NewFile(dir string, level Level) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	name := filepath.Join(dir, fmt.Sprintf("trader_%s.log", time.Now().Format("2006-01-02")))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &Logger{l: log.New(f, "", log.LstdFlags|log.Lmicroseconds), level: level, f: f}, nil
}

func (lg *Logger) Info(component, format string, args ...any) {
	if lg.level >= LevelInfo {
		lg.l.Printf("INFO,%s,%s", component, fmt.Sprintf(format, args...))
	}
}

func (lg *Logger) Warn(component, format string, args ...any) {
	if lg.level >= LevelWarn {
		lg.l.Printf("WARN,%s,%s", component, fmt.Sprintf(format, args...))
	}
}

func (lg *Logger) Error(component, format string, args ...any) {
	lg.l.Printf("ERROR,%s,%s", component, fmt.Sprintf(format, args...))
}

// Close flushes the underlying file, if any.
func (lg *Logger) Close() error {
	if lg.f != nil {
		return lg.f.Close()
	}
	return nil
}
