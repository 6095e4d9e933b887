// Package logger configures the global zerolog logger.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	fileTimeFormat = "2006-01-02_15-04-05"
	// MaxLogFiles is how many run logs are kept in the log directory.
	MaxLogFiles = 10
)

type Options struct {
	Level string
	// Dir receives one log file per run, named after the start time.
	Dir string
	// Console defaults to stderr.
	Console io.Writer
}

// Init points the global logger at the console and, when a directory is set,
// a timestamped file in it. The returned file (nil without Dir) must be closed
// by the caller.
func Init(opts Options) (*os.File, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	writers := []io.Writer{zerolog.ConsoleWriter{Out: console, TimeFormat: "15:04:05.000"}}

	var file *os.File
	if opts.Dir != "" {
		file, err = openLogFile(opts.Dir, time.Now())
		if err != nil {
			log.Logger = zerolog.New(writers[0]).With().Timestamp().Logger()
			return nil, err
		}
		writers = append(writers, file)
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	if file != nil {
		log.Info().Str("module", "logger").Str("path", file.Name()).Msg("logging to file")
		prune(opts.Dir, MaxLogFiles)
	}
	return file, nil
}

func openLogFile(dir string, now time.Time) (*os.File, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "create log directory")
	}
	path := filepath.Join(dir, now.Format(fileTimeFormat)+".log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "open log file")
	}
	return file, nil
}

// prune removes the oldest run logs beyond keep. File names sort by time.
func prune(dir string, keep int) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.log"))
	if err != nil || len(matches) <= keep {
		return
	}
	sort.Strings(matches)
	for _, old := range matches[:len(matches)-keep] {
		if err := os.Remove(old); err != nil {
			log.Debug().Str("module", "logger").Str("path", old).Err(err).Msg("remove old log")
		}
	}
}
