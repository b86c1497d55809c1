package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger writes JSON lines to stdout and to a rotating file under dir.
type Logger struct {
	*logrus.Entry
	file *lumberjack.Logger
}

func New(dir, level string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create logs folder failed: %w", err)
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}

	file := &lumberjack.Logger{
		Filename:   filepath.Join(dir, "gateway.log"),
		MaxSize:    50, // megabytes
		MaxBackups: 7,
		MaxAge:     30, // days
		Compress:   true,
	}

	base := logrus.New()
	base.SetFormatter(&logrus.JSONFormatter{})
	base.SetLevel(lvl)
	base.SetOutput(io.MultiWriter(os.Stdout, file))

	return &Logger{Entry: logrus.NewEntry(base), file: file}, nil
}

// NewNop returns a Logger that discards everything. Used by tests and the CLI.
func NewNop() *Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return &Logger{Entry: logrus.NewEntry(base)}
}

// NewConsole logs plain text to w without a log file; the CLI uses it with
// --verbose.
func NewConsole(w io.Writer, level string) *Logger {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	base := logrus.New()
	base.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	base.SetLevel(lvl)
	base.SetOutput(w)
	return &Logger{Entry: logrus.NewEntry(base)}
}

// With returns a child logger carrying the given fields.
func (l *Logger) With(fields logrus.Fields) *Logger {
	return &Logger{Entry: l.Entry.WithFields(fields), file: l.file}
}

func (l *Logger) Close() {
	if l.file == nil {
		return
	}
	if err := l.file.Close(); err != nil {
		return
	}
}
