package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init writes human-readable logs to stderr and, when path is set, JSON lines to path.
// The returned closer releases the log file.
func Init(level zerolog.Level, path string) (io.Closer, error) {
	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime}}

	var closer io.Closer = nopCloser{}
	if path != "" {
		logFile, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, logFile)
		closer = logFile
	}

	multi := zerolog.MultiLevelWriter(writers...)

	logger := zerolog.New(multi).Level(level).With().Timestamp().Logger()
	log.Logger = logger

	if level == zerolog.DebugLevel {
		log.Debug().Msg("Log level set to DEBUG")
	}
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
