// Package logging builds the zerolog loggers used by widgetree components.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const (
	permission = 0664
)

// Build collects logger options before Make is called.
type Build struct {
	writer io.Writer
	path   string
	level  zerolog.Level
	json   bool
}

// Data is a constructed logger together with the file it may own.
type Data struct {
	LogFile *os.File
	Logger  zerolog.Logger
}

// New starts a logger build writing console output to stderr at info level.
func New() *Build {
	return &Build{writer: os.Stderr, level: zerolog.InfoLevel}
}

// FromPath appends JSON log lines to the file at path.
func (b *Build) FromPath(path string) *Build {
	b.path = path
	return b
}

// FromWriter sends output to w.
func (b *Build) FromWriter(w io.Writer) *Build {
	b.writer = w
	return b
}

// Level sets the minimum level from its name; unknown names keep the current level.
func (b *Build) Level(name string) *Build {
	if lvl, err := zerolog.ParseLevel(strings.ToLower(name)); err == nil && name != "" {
		b.level = lvl
	}
	return b
}

// JSON switches the writer output from console formatting to JSON lines.
func (b *Build) JSON(enabled bool) *Build {
	b.json = enabled
	return b
}

// Make constructs the logger.
func (b *Build) Make() (*Data, error) {
	data := new(Data)
	w := b.writer
	if b.path != "" {
		f, err := os.OpenFile(b.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
		if err != nil {
			return nil, err
		}
		data.LogFile = f
		w = zerolog.SyncWriter(f)
	} else if !b.json {
		w = zerolog.ConsoleWriter{Out: w, NoColor: true}
	}
	data.Logger = zerolog.New(w).Level(b.level).With().Timestamp().Logger()
	return data, nil
}

// Close releases the log file, if any.
func (d *Data) Close() error {
	if d.LogFile == nil {
		return nil
	}
	return d.LogFile.Close()
}

// Nop returns a logger that discards everything.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
