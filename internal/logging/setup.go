package logging

import (
	"io"
	"log"
	"os"
)

// DefaultMaxBytes caps a single log file before same-day rollover.
const DefaultMaxBytes = 50 * 1024 * 1024

// Setup builds the process logger. With a file path the logger writes to a
// rotating file and stderr; without one it writes to stderr only. The
// returned closer is nil when no file is used.
func Setup(prefix, filePath string) (*log.Logger, io.Closer, error) {
	flags := log.LstdFlags | log.Lmicroseconds
	if filePath == "" {
		return log.New(os.Stderr, prefix, flags), nil, nil
	}
	w, err := NewRotatingWriter(filePath, DefaultMaxBytes)
	if err != nil {
		return nil, nil, err
	}
	return log.New(io.MultiWriter(os.Stderr, w), prefix, flags), w, nil
}
